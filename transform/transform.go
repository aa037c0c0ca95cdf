// Package transform applies the reversal strategies to one page at a time.
package transform

import (
	"context"
	"fmt"
	"image"

	"github.com/lyricwulf/pdf-ruiner/classify"
	"github.com/lyricwulf/pdf-ruiner/ir/semantic"
	"github.com/lyricwulf/pdf-ruiner/observability"
	"github.com/lyricwulf/pdf-ruiner/scripting"
	"github.com/lyricwulf/pdf-ruiner/strategy"
)

// AnnotationPolicy overrides the built-in per-kind annotation decision.
type AnnotationPolicy interface {
	Decide(ctx context.Context, a scripting.Annotation) (scripting.Decision, error)
}

// Options configures a Transformer. The zero value uses the built-in rules,
// keeps stroke colours and logs nothing.
type Options struct {
	Logger observability.Logger
	Policy AnnotationPolicy
	// StrokeColor, when set, is given to every converted rectangle.
	StrokeColor *Color
}

// Outcome counts what one Page call changed.
type Outcome struct {
	RectsStripped    int
	ImagesBlanked    int
	AnnotsSuppressed int
	AnnotsReported   int
}

// Changed reports whether the page was mutated. Reported annotations are
// left as they were.
func (o Outcome) Changed() bool {
	return o.RectsStripped+o.ImagesBlanked+o.AnnotsSuppressed > 0
}

// Add accumulates another outcome.
func (o *Outcome) Add(other Outcome) {
	o.RectsStripped += other.RectsStripped
	o.ImagesBlanked += other.ImagesBlanked
	o.AnnotsSuppressed += other.AnnotsSuppressed
	o.AnnotsReported += other.AnnotsReported
}

// Transformer mutates pages in place. It keeps a cache of near-uniform
// verdicts across pages and documents and must not be shared between
// goroutines.
type Transformer struct {
	opts     Options
	logger   observability.Logger
	verdicts *verdictCache
}

func New(opts Options) *Transformer {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Transformer{opts: opts, logger: logger, verdicts: newVerdictCache()}
}

// Page applies the strategies in set to page. source names the input file in
// audit lines. When anything changed the content stream is regenerated once
// before returning.
func (t *Transformer) Page(ctx context.Context, page *semantic.Page, set strategy.Set, source string) (Outcome, error) {
	var out Outcome
	log := t.logger.With(observability.String("file", source), observability.Int("page", page.Index()+1))

	if set.GeometryStrip() || set.ImageBlank() {
		for _, obj := range page.Objects() {
			switch o := obj.(type) {
			case *semantic.PathObject:
				if !set.GeometryStrip() {
					continue
				}
				stripped, err := t.stripRectangle(o)
				if err != nil {
					return out, fmt.Errorf("page %d: %w", page.Index()+1, err)
				}
				if stripped {
					out.RectsStripped++
				}
			case *semantic.ImageObject:
				if !set.ImageBlank() {
					continue
				}
				blanked, err := t.blankImage(o, log)
				if err != nil {
					return out, fmt.Errorf("page %d: %w", page.Index()+1, err)
				}
				if blanked {
					out.ImagesBlanked++
				}
			case *semantic.OtherObject:
			default:
				log.Warn("unrecognized object kind", observability.String("type", fmt.Sprintf("%T", obj)))
			}
		}
	}

	if set.AnnotationSuppress() {
		if err := t.annotations(ctx, page, log, &out); err != nil {
			return out, fmt.Errorf("page %d: %w", page.Index()+1, err)
		}
	}

	if out.Changed() {
		if err := page.Regenerate(); err != nil {
			return out, fmt.Errorf("page %d: regenerate: %w", page.Index()+1, err)
		}
	}
	return out, nil
}

// stripRectangle turns a filled redaction rectangle into an outline.
func (t *Transformer) stripRectangle(p *semantic.PathObject) (bool, error) {
	if p.FillMode() == semantic.FillNone || !classify.IsRedactionRectangle(p) {
		return false, nil
	}
	if err := p.SetFillAndStroke(semantic.FillNone, true); err != nil {
		return false, err
	}
	if c := t.opts.StrokeColor; c != nil {
		if err := p.SetStrokeColor(c.R, c.G, c.B); err != nil {
			return false, err
		}
	}
	return true, nil
}

// blankImage replaces a near-uniform image with a white one of the same size
// and pixel format. Images that are already entirely white are left alone.
func (t *Transformer) blankImage(o *semantic.ImageObject, log observability.Logger) (bool, error) {
	img, err := o.Bitmap()
	if err != nil {
		// JPX, JBIG2 and broken streams stay as they are.
		log.Debug("image not decodable", observability.String("name", o.Name()), observability.Error("error", err))
		return false, nil
	}
	v := t.verdicts.lookup(img)
	if !v.nearUniform || v.blank {
		return false, nil
	}
	blank := blankLike(img)
	if blank == nil {
		return false, nil
	}
	if err := o.SetBitmap(blank); err != nil {
		return false, err
	}
	return true, nil
}

// blankValue is the grey level of a blanked image.
const blankValue = 0xFF

func blankLike(img image.Image) image.Image {
	b := img.Bounds()
	switch img.(type) {
	case *image.Gray:
		out := image.NewGray(b)
		fill(out.Pix, blankValue)
		return out
	case *image.RGBA:
		out := image.NewRGBA(b)
		fill(out.Pix, blankValue)
		return out
	case *image.CMYK:
		// no ink
		return image.NewCMYK(b)
	}
	return nil
}

func fill(pix []byte, v byte) {
	for i := range pix {
		pix[i] = v
	}
}

func (t *Transformer) annotations(ctx context.Context, page *semantic.Page, log observability.Logger, out *Outcome) error {
	for _, a := range page.Annotations() {
		if a.Hidden() || !a.Printed() {
			continue
		}
		rect := a.Rect()
		kind := a.Kind()
		decision := defaultDecision(kind)
		if t.opts.Policy != nil {
			d, err := t.opts.Policy.Decide(ctx, scripting.Annotation{
				Kind:     kind.String(),
				Width:    rect.Width(),
				Height:   rect.Height(),
				Page:     page.Index() + 1,
				Contents: a.Contents(),
			})
			if err != nil {
				return err
			}
			decision = d
		}

		switch decision {
		case scripting.Suppress:
			a.SetHidden(true)
			a.SetPrinted(false)
			a.SetRect(semantic.Rectangle{})
			out.AnnotsSuppressed++
			log.Info("annotation suppressed", observability.Stringer("kind", kind))
		case scripting.Report:
			fields := []observability.Field{
				observability.Stringer("kind", kind),
				observability.Float64("width", rect.Width()),
				observability.Float64("height", rect.Height()),
			}
			if kind == semantic.AnnotFreeText || kind == semantic.AnnotText {
				fields = append(fields, observability.String("contents", a.Contents()))
			}
			log.Info("annotation", fields...)
			out.AnnotsReported++
		default:
			log.Debug("annotation skipped", observability.Stringer("kind", kind))
		}
	}
	return nil
}

// defaultDecision is the built-in rule per annotation kind.
func defaultDecision(kind semantic.AnnotationKind) scripting.Decision {
	switch kind {
	case semantic.AnnotPopup, semantic.AnnotStamp:
		return scripting.Suppress
	case semantic.AnnotUnsupported, semantic.AnnotWidget, semantic.AnnotLink:
		return scripting.Skip
	}
	return scripting.Report
}
