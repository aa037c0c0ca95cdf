// Package ruin drives one document through the reversal strategies and the
// difference scorer.
package ruin

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/lyricwulf/pdf-ruiner/ir/semantic"
	"github.com/lyricwulf/pdf-ruiner/observability"
	"github.com/lyricwulf/pdf-ruiner/optical"
	"github.com/lyricwulf/pdf-ruiner/render"
	"github.com/lyricwulf/pdf-ruiner/security"
	"github.com/lyricwulf/pdf-ruiner/strategy"
	"github.com/lyricwulf/pdf-ruiner/transform"
)

// DefaultMinAverage is the lowest page score that counts as a change.
const DefaultMinAverage = 0.0001

// Result describes one processed file.
type Result struct {
	FileName      string
	MaxDifference float64
	// DiffPages lists the qualifying 1-based page numbers, comma-joined.
	DiffPages   string
	ModifyTime  time.Duration
	AnalyzeTime time.Duration

	Pages            int
	PagesChanged     int
	RectsStripped    int
	AnnotsSuppressed int
	AnnotsReported   int
	ImagesBlanked    int
	Bytes            int64
	InputHash        uint64
}

// Options configures a Ruiner. Zero values select the defaults.
type Options struct {
	Render render.Config
	// MinAverage is the lowest qualifying page score. Nil selects
	// DefaultMinAverage; zero lets every page with a surviving difference
	// qualify.
	MinAverage *float64
	Password   string
	Limits     security.Limits
	Logger     observability.Logger
	// Tracer times the phases of a pass. Defaults to a tracer that logs
	// span durations at debug level.
	Tracer observability.Tracer
	Policy transform.AnnotationPolicy
	// StrokeColor is applied to converted rectangles when set.
	StrokeColor *transform.Color
}

// Ruiner processes files one at a time. It owns a renderer and a transformer
// and must not be used concurrently.
type Ruiner struct {
	opts        Options
	minAverage  float64
	logger      observability.Logger
	tracer      observability.Tracer
	transformer *transform.Transformer
	scorer      *optical.Scorer
}

func New(opts Options) *Ruiner {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.LogTracer(opts.Logger)
	}
	minAverage := DefaultMinAverage
	if opts.MinAverage != nil {
		minAverage = *opts.MinAverage
	}
	return &Ruiner{
		opts:       opts,
		minAverage: minAverage,
		logger:     opts.Logger,
		tracer:     opts.Tracer,
		transformer: transform.New(transform.Options{
			Logger:      opts.Logger,
			Policy:      opts.Policy,
			StrokeColor: opts.StrokeColor,
		}),
		scorer: optical.NewScorer(render.New(opts.Render, opts.Logger), opts.Logger),
	}
}

// RuinFile runs with default options.
func RuinFile(inputPath, outputPath string, set strategy.Set) (Result, error) {
	return New(Options{}).RuinFile(context.Background(), inputPath, outputPath, set)
}

// RuinFile applies set to every page of the file at inputPath, scores the
// pages that changed and writes the modified document to outputPath.
//
// Two documents are opened from the same bytes: the original is only
// rendered, the copy is mutated and saved. When no page changes, scoring is
// skipped and the output is a byte-for-byte copy of the input.
func (r *Ruiner) RuinFile(ctx context.Context, inputPath, outputPath string, set strategy.Set) (Result, error) {
	res := Result{FileName: inputPath}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", inputPath, err)
	}
	res.Bytes = int64(len(data))
	res.InputHash = xxhash.Sum64(data)
	log := r.logger.With(observability.String("file", inputPath))

	modifyStart := time.Now()
	original, modified, err := r.open(ctx, inputPath, data)
	if err != nil {
		return res, err
	}
	defer original.Close()
	defer modified.Close()
	res.Pages = modified.PageCount()

	changed, total, err := r.transform(ctx, modified, set, inputPath)
	if err != nil {
		return res, err
	}
	res.ModifyTime = time.Since(modifyStart)
	res.PagesChanged = len(changed)
	res.RectsStripped = total.RectsStripped
	res.AnnotsSuppressed = total.AnnotsSuppressed
	res.AnnotsReported = total.AnnotsReported
	res.ImagesBlanked = total.ImagesBlanked

	if len(changed) > 0 {
		analyzeStart := time.Now()
		_, span := r.tracer.StartSpan(ctx, observability.SpanScore)
		span.SetTag("pages", len(changed))
		res.MaxDifference, res.DiffPages, err = r.scorer.Score(ctx, original, modified, changed, r.minAverage)
		span.SetError(err)
		span.Finish()
		if err != nil {
			return res, fmt.Errorf("score %s: %w", inputPath, err)
		}
		res.AnalyzeTime = time.Since(analyzeStart)
	} else {
		log.Debug("no page changed, scoring skipped")
	}

	_, span := r.tracer.StartSpan(ctx, observability.SpanWrite)
	err = modified.SaveFile(ctx, outputPath)
	span.SetError(err)
	span.Finish()
	if err != nil {
		return res, fmt.Errorf("write %s: %w", outputPath, err)
	}
	log.Info("file ruined",
		observability.Int("pages_changed", res.PagesChanged),
		observability.Float64("max_difference", res.MaxDifference),
		observability.String("diff_pages", res.DiffPages),
		observability.Duration("modify_time", res.ModifyTime),
		observability.Duration("analyze_time", res.AnalyzeTime),
	)
	return res, nil
}

// open loads the two handles. Both come from the same bytes so page indices
// and object numbers line up; only the second one is ever mutated.
func (r *Ruiner) open(ctx context.Context, inputPath string, data []byte) (*semantic.Document, *semantic.Document, error) {
	_, span := r.tracer.StartSpan(ctx, observability.SpanParse)
	defer span.Finish()
	opts := semantic.Options{Password: r.opts.Password, Limits: r.opts.Limits, Logger: r.opts.Logger}
	original, err := semantic.Open(ctx, data, opts)
	if err != nil {
		span.SetError(err)
		return nil, nil, fmt.Errorf("open %s: %w", inputPath, err)
	}
	modified, err := semantic.Open(ctx, data, opts)
	if err != nil {
		original.Close()
		span.SetError(err)
		return nil, nil, fmt.Errorf("open %s: %w", inputPath, err)
	}
	return original, modified, nil
}

// transform applies set to every page of doc and returns the zero-based
// indices of the pages that changed.
func (r *Ruiner) transform(ctx context.Context, doc *semantic.Document, set strategy.Set, source string) ([]int, transform.Outcome, error) {
	_, span := r.tracer.StartSpan(ctx, observability.SpanTransform)
	defer span.Finish()
	var changed []int
	var total transform.Outcome
	for i, page := range doc.Pages() {
		if err := ctx.Err(); err != nil {
			span.SetError(err)
			return nil, total, err
		}
		page.SetRegenerationMode(semantic.RegenManual)
		out, err := r.transformer.Page(ctx, page, set, source)
		if err != nil {
			span.SetError(err)
			return nil, total, fmt.Errorf("%s: %w", source, err)
		}
		total.Add(out)
		if out.Changed() {
			changed = append(changed, i)
		}
	}
	span.SetTag("pages_changed", len(changed))
	return changed, total, nil
}
