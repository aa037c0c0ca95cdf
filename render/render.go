// Package render rasterizes pages to 8-bit greyscale bitmaps.
//
// The renderer covers what the difference scorer needs to see: paths,
// images, text outlines, Form XObjects and annotation appearances. Colours are
// reduced to luma as they are painted. Clipping paths clip to their bounding
// box, shadings are skipped and soft masks are ignored.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/vector"

	"github.com/lyricwulf/pdf-ruiner/contentstream"
	"github.com/lyricwulf/pdf-ruiner/coords"
	"github.com/lyricwulf/pdf-ruiner/fonts"
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/ir/semantic"
	"github.com/lyricwulf/pdf-ruiner/observability"
)

// DefaultDPI renders one pixel per point.
const DefaultDPI = 72

// maxSide bounds either raster dimension.
const maxSide = 20000

var (
	ErrInvalidDPI   = errors.New("render: invalid resolution")
	ErrPageTooLarge = errors.New("render: page raster too large")
)

// Config selects the raster resolution and what gets drawn.
type Config struct {
	DPI float64
	// SkipAnnotations leaves annotation appearances out of the raster.
	SkipAnnotations bool
}

// Renderer draws pages. It keeps a font cache for the document it last
// rendered and must not be used from several goroutines.
type Renderer struct {
	cfg    Config
	logger observability.Logger

	doc   *semantic.Document
	fonts map[*raw.DictObj]*fonts.Font
	z     vector.Rasterizer
}

func New(cfg Config, logger observability.Logger) *Renderer {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Renderer{cfg: cfg, logger: logger}
}

// RenderPage rasterizes the page's current content, honouring its crop box
// and rotation.
func (r *Renderer) RenderPage(ctx context.Context, page *semantic.Page) (*image.Gray, error) {
	dpi := r.cfg.DPI
	if dpi == 0 {
		dpi = DefaultDPI
	}
	if dpi < 0 || math.IsNaN(dpi) || math.IsInf(dpi, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDPI, dpi)
	}
	doc := page.Document()
	if doc != r.doc {
		r.doc = doc
		r.fonts = make(map[*raw.DictObj]*fonts.Font)
	}

	box := page.CropBox
	if box.Empty() {
		box = page.MediaBox
	}
	scale := dpi / 72
	w, h := box.Width()*scale, box.Height()*scale
	if page.Rotate == 90 || page.Rotate == 270 {
		w, h = h, w
	}
	pw, ph := pixels(w), pixels(h)
	if pw > maxSide || ph > maxSide {
		return nil, fmt.Errorf("%w: %dx%d", ErrPageTooLarge, pw, ph)
	}
	canvas := image.NewGray(image.Rect(0, 0, pw, ph))
	for i := range canvas.Pix {
		canvas.Pix[i] = 0xFF
	}

	rn := r.newRun(ctx, doc, canvas)
	base := pageMatrix(box, page.Rotate, scale)
	rn.gs = newState(base, canvas.Bounds())
	if err := rn.execute(page.Operations(), page.Resources()); err != nil {
		return nil, fmt.Errorf("render page %d: %w", page.Index()+1, err)
	}
	if !r.cfg.SkipAnnotations {
		if err := rn.annotations(page, base); err != nil {
			return nil, fmt.Errorf("render page %d annotations: %w", page.Index()+1, err)
		}
	}
	return canvas, nil
}

func pixels(v float64) int {
	n := int(math.Ceil(v - 1e-6))
	if n < 1 {
		n = 1
	}
	return n
}

// pageMatrix maps default user space to device pixels: origin at the top
// left of the rotated crop box, y down.
func pageMatrix(box coords.Rect, rotate int, scale float64) coords.Matrix {
	w, h := box.Width()*scale, box.Height()*scale
	var m coords.Matrix
	switch rotate {
	case 90:
		m = coords.Matrix{0, scale, scale, 0, 0, 0}
	case 180:
		m = coords.Matrix{-scale, 0, 0, scale, w, 0}
	case 270:
		m = coords.Matrix{0, -scale, -scale, 0, h, w}
	default:
		m = coords.Matrix{scale, 0, 0, -scale, 0, h}
	}
	return coords.Translate(-box.LLX, -box.LLY).Multiply(m)
}

// gstate is the part of the graphics state the renderer tracks.
type gstate struct {
	ctm  coords.Matrix
	clip image.Rectangle

	fillCS, strokeCS     *semantic.ColorSpace
	fillGray, strokeGray float64
	fillAlpha            float64
	strokeAlpha          float64

	lineWidth float64
	lineCap   contentstream.LineCap
	lineJoin  contentstream.LineJoin
	dash      []float64
	dashPhase float64

	font       *fonts.Font
	fontSize   float64
	charSpace  float64
	wordSpace  float64
	hscale     float64
	leading    float64
	rise       float64
	renderMode contentstream.TextRenderMode
}

func newState(ctm coords.Matrix, clip image.Rectangle) *gstate {
	return &gstate{
		ctm:         ctm,
		clip:        clip,
		fillCS:      semantic.DeviceGray,
		strokeCS:    semantic.DeviceGray,
		fillAlpha:   1,
		strokeAlpha: 1,
		lineWidth:   1,
		hscale:      1,
	}
}

func (g *gstate) clone() *gstate {
	c := *g
	return &c
}

// run is one page rendering pass.
type run struct {
	r      *Renderer
	ctx    context.Context
	doc    *semantic.Document
	raw    *raw.Document
	canvas *image.Gray
	proc   contentstream.Processor

	gs    *gstate
	stack []*gstate
	res   *raw.DictObj
	depth int

	path        pathBuilder
	pendingClip bool

	tm, tlm coords.Matrix
}

func (r *Renderer) newRun(ctx context.Context, doc *semantic.Document, canvas *image.Gray) *run {
	rn := &run{r: r, ctx: ctx, doc: doc, raw: doc.Raw(), canvas: canvas}
	rn.proc = contentstream.NewProcessor()
	rn.registerGraphics()
	rn.registerText()
	rn.proc.RegisterHandler("Do", contentstream.HandlerFunc(rn.doXObject))
	rn.proc.RegisterHandler("BI", contentstream.HandlerFunc(rn.inlineImage))
	return rn
}

// execute runs ops against res. Unbalanced q operators inside ops are
// unwound before returning.
func (rn *run) execute(ops []contentstream.Operation, res *raw.DictObj) error {
	savedRes, savedDepth := rn.res, len(rn.stack)
	rn.res = res
	err := rn.proc.Process(rn.ctx, ops)
	rn.res = savedRes
	if len(rn.stack) > savedDepth {
		rn.gs = rn.stack[savedDepth]
		rn.stack = rn.stack[:savedDepth]
	}
	return err
}

func (rn *run) save() {
	rn.stack = append(rn.stack, rn.gs)
	rn.gs = rn.gs.clone()
}

func (rn *run) restore() {
	if n := len(rn.stack); n > 0 {
		rn.gs = rn.stack[n-1]
		rn.stack = rn.stack[:n-1]
	}
}

func (rn *run) registerGraphics() {
	h := func(op string, fn func(op contentstream.Operation, nums []float64)) {
		rn.proc.RegisterHandler(op, contentstream.HandlerFunc(func(_ context.Context, o contentstream.Operation) error {
			nums, _ := o.Numbers()
			fn(o, nums)
			return nil
		}))
	}
	h("q", func(contentstream.Operation, []float64) { rn.save() })
	h("Q", func(contentstream.Operation, []float64) { rn.restore() })
	h("cm", func(_ contentstream.Operation, n []float64) {
		if len(n) == 6 {
			rn.gs.ctm = coords.Matrix{n[0], n[1], n[2], n[3], n[4], n[5]}.Multiply(rn.gs.ctm)
		}
	})
	h("w", func(_ contentstream.Operation, n []float64) {
		if len(n) == 1 {
			rn.gs.lineWidth = n[0]
		}
	})
	h("J", func(_ contentstream.Operation, n []float64) {
		if len(n) == 1 {
			rn.gs.lineCap = contentstream.LineCap(n[0])
		}
	})
	h("j", func(_ contentstream.Operation, n []float64) {
		if len(n) == 1 {
			rn.gs.lineJoin = contentstream.LineJoin(n[0])
		}
	})
	h("d", func(o contentstream.Operation, _ []float64) {
		if len(o.Operands) != 2 {
			return
		}
		if arr, ok := o.Operands[0].(*raw.ArrayObj); ok {
			rn.gs.dash = arr.Floats()
		}
		if n, ok := o.Operands[1].(raw.NumberObj); ok {
			rn.gs.dashPhase = n.Float()
		}
	})
	h("gs", func(o contentstream.Operation, _ []float64) {
		if name, ok := o.Name(0); ok {
			rn.extGState(name)
		}
	})

	// colour
	h("g", func(_ contentstream.Operation, n []float64) { rn.setFill(semantic.DeviceGray, n) })
	h("G", func(_ contentstream.Operation, n []float64) { rn.setStroke(semantic.DeviceGray, n) })
	h("rg", func(_ contentstream.Operation, n []float64) { rn.setFill(semantic.DeviceRGB, n) })
	h("RG", func(_ contentstream.Operation, n []float64) { rn.setStroke(semantic.DeviceRGB, n) })
	h("k", func(_ contentstream.Operation, n []float64) { rn.setFill(semantic.DeviceCMYK, n) })
	h("K", func(_ contentstream.Operation, n []float64) { rn.setStroke(semantic.DeviceCMYK, n) })
	h("cs", func(o contentstream.Operation, _ []float64) {
		if len(o.Operands) == 1 {
			cs := rn.doc.ColorSpace(o.Operands[0], rn.res)
			rn.setFill(cs, cs.InitialColor())
		}
	})
	h("CS", func(o contentstream.Operation, _ []float64) {
		if len(o.Operands) == 1 {
			cs := rn.doc.ColorSpace(o.Operands[0], rn.res)
			rn.setStroke(cs, cs.InitialColor())
		}
	})
	for _, op := range []string{"sc", "scn"} {
		h(op, func(o contentstream.Operation, _ []float64) { rn.setFill(rn.gs.fillCS, leadingNumbers(o)) })
	}
	for _, op := range []string{"SC", "SCN"} {
		h(op, func(o contentstream.Operation, _ []float64) { rn.setStroke(rn.gs.strokeCS, leadingNumbers(o)) })
	}

	// path construction
	h("m", func(_ contentstream.Operation, n []float64) {
		if len(n) == 2 {
			rn.path.moveTo(devPoint(rn.gs.ctm, n[0], n[1]))
		}
	})
	h("l", func(_ contentstream.Operation, n []float64) {
		if len(n) == 2 {
			rn.path.lineTo(devPoint(rn.gs.ctm, n[0], n[1]))
		}
	})
	h("c", func(_ contentstream.Operation, n []float64) {
		if len(n) == 6 {
			m := rn.gs.ctm
			rn.path.cubeTo(devPoint(m, n[0], n[1]), devPoint(m, n[2], n[3]), devPoint(m, n[4], n[5]))
		}
	})
	h("v", func(_ contentstream.Operation, n []float64) {
		if len(n) == 4 {
			m := rn.gs.ctm
			rn.path.cubeTo(rn.path.cur, devPoint(m, n[0], n[1]), devPoint(m, n[2], n[3]))
		}
	})
	h("y", func(_ contentstream.Operation, n []float64) {
		if len(n) == 4 {
			m := rn.gs.ctm
			end := devPoint(m, n[2], n[3])
			rn.path.cubeTo(devPoint(m, n[0], n[1]), end, end)
		}
	})
	h("h", func(contentstream.Operation, []float64) { rn.path.closePath() })
	h("re", func(_ contentstream.Operation, n []float64) {
		if len(n) == 4 {
			rn.path.rect(rn.gs.ctm, n[0], n[1], n[2], n[3])
		}
	})
	h("W", func(contentstream.Operation, []float64) { rn.pendingClip = true })
	h("W*", func(contentstream.Operation, []float64) { rn.pendingClip = true })

	// painting
	paint := func(op string, close, fill, evenOdd, stroke bool) {
		h(op, func(contentstream.Operation, []float64) {
			if close {
				rn.path.closePath()
			}
			rn.paintPath(fill, evenOdd, stroke)
		})
	}
	paint("S", false, false, false, true)
	paint("s", true, false, false, true)
	paint("f", false, true, false, false)
	paint("F", false, true, false, false)
	paint("f*", false, true, true, false)
	paint("B", false, true, false, true)
	paint("B*", false, true, true, true)
	paint("b", true, true, false, true)
	paint("b*", true, true, true, true)
	paint("n", false, false, false, false)
}

// leadingNumbers returns the numeric operands before a trailing pattern name.
func leadingNumbers(o contentstream.Operation) []float64 {
	var out []float64
	for _, v := range o.Operands {
		n, ok := v.(raw.NumberObj)
		if !ok {
			break
		}
		out = append(out, n.Float())
	}
	return out
}

func (rn *run) setFill(cs *semantic.ColorSpace, comps []float64) {
	rn.gs.fillCS = cs
	rn.gs.fillGray = cs.Gray(comps)
}

func (rn *run) setStroke(cs *semantic.ColorSpace, comps []float64) {
	rn.gs.strokeCS = cs
	rn.gs.strokeGray = cs.Gray(comps)
}

func (rn *run) extGState(name string) {
	states := rn.raw.Dict(rn.res.Value("ExtGState"))
	if states == nil {
		return
	}
	d := rn.raw.Dict(states.Value(name))
	if d == nil {
		return
	}
	num := func(key string) (float64, bool) {
		n, ok := rn.raw.Resolve(d.Value(key)).(raw.NumberObj)
		return n.Float(), ok
	}
	if v, ok := num("LW"); ok {
		rn.gs.lineWidth = v
	}
	if v, ok := num("LC"); ok {
		rn.gs.lineCap = contentstream.LineCap(v)
	}
	if v, ok := num("LJ"); ok {
		rn.gs.lineJoin = contentstream.LineJoin(v)
	}
	if v, ok := num("CA"); ok {
		rn.gs.strokeAlpha = clamp01(v)
	}
	if v, ok := num("ca"); ok {
		rn.gs.fillAlpha = clamp01(v)
	}
}

// paintPath paints and then consumes the current path, applying a pending
// clip as the intersection with the path's bounding box.
func (rn *run) paintPath(fill, evenOdd, stroke bool) {
	subs := rn.path.subs
	if fill {
		rn.fill(subs, evenOdd, paintSource(rn.gs.fillGray, rn.gs.fillAlpha))
	}
	if stroke {
		rn.strokePath(subs, rn.gs.ctm)
	}
	if rn.pendingClip {
		rn.gs.clip = rn.gs.clip.Intersect(bounds(subs))
		rn.pendingClip = false
	}
	rn.path = pathBuilder{}
}

// strokePath strokes device space subpaths using the line state in user
// space units scaled by m.
func (rn *run) strokePath(subs []subpath, m coords.Matrix) {
	scale := m.ScaleFactor()
	hw := rn.gs.lineWidth * scale / 2
	if hw < 0.5 {
		hw = 0.5
	}
	if len(rn.gs.dash) > 0 {
		pattern := make([]float64, len(rn.gs.dash))
		for i, v := range rn.gs.dash {
			pattern[i] = v * scale
		}
		subs = dashed(subs, pattern, rn.gs.dashPhase*scale)
	}
	outline := strokeOutline(subs, hw, rn.gs.lineCap, rn.gs.lineJoin)
	rn.fill(outline, false, paintSource(rn.gs.strokeGray, rn.gs.strokeAlpha))
}

func paintSource(gray, alpha float64) image.Image {
	v := uint8(clamp01(gray)*255 + 0.5)
	if alpha >= 1 {
		return image.NewUniform(color.Gray{Y: v})
	}
	return image.NewUniform(color.NRGBA{R: v, G: v, B: v, A: uint8(clamp01(alpha)*255 + 0.5)})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (rn *run) maxDepth() int {
	if d := rn.doc.Limits().MaxXObjectDepth; d > 0 {
		return d
	}
	return 32
}

// doXObject draws an image or runs a Form XObject.
func (rn *run) doXObject(_ context.Context, op contentstream.Operation) error {
	name, ok := op.Name(0)
	if !ok {
		return nil
	}
	xobjects := rn.raw.Dict(rn.res.Value("XObject"))
	if xobjects == nil {
		return nil
	}
	s := rn.raw.Stream(xobjects.Value(name))
	if s == nil {
		return nil
	}
	switch sub, _ := s.Dict.NameValue("Subtype"); sub {
	case "Image":
		img, err := rn.doc.DecodeImage(rn.ctx, s, rn.res)
		if err != nil {
			rn.r.logger.Debug("image skipped", observability.String("name", name), observability.Error("error", err))
			return nil
		}
		rn.drawImage(img, isMask(rn.raw, s.Dict, "ImageMask"))
	case "Form":
		return rn.form(s, coords.Identity(), nil)
	}
	return nil
}

// form runs a Form XObject. extra is applied on top of the form's own
// Matrix; clipTo, when set, replaces the BBox clip with a device rectangle.
func (rn *run) form(s *raw.StreamObj, extra coords.Matrix, clipTo *image.Rectangle) error {
	if rn.depth >= rn.maxDepth() {
		rn.r.logger.Debug("form nesting too deep", observability.Int("depth", rn.depth))
		return nil
	}
	data, err := rn.doc.DecodeStream(rn.ctx, s)
	if err != nil {
		rn.r.logger.Debug("form skipped", observability.Error("error", err))
		return nil
	}
	ops, err := contentstream.Parse(data)
	if err != nil {
		rn.r.logger.Debug("form content damaged", observability.Error("error", err))
	}
	m := coords.Identity()
	if arr := rn.raw.Array(s.Dict.Value("Matrix")); arr != nil {
		if v := arr.Floats(); len(v) == 6 {
			m = coords.Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
		}
	}
	res := rn.raw.Dict(s.Dict.Value("Resources"))
	if res == nil {
		res = rn.res
	}

	rn.save()
	defer rn.restore()
	rn.gs.ctm = m.Multiply(extra).Multiply(rn.gs.ctm)
	if clipTo != nil {
		rn.gs.clip = rn.gs.clip.Intersect(*clipTo)
	} else if arr := rn.raw.Array(s.Dict.Value("BBox")); arr != nil {
		if bbox, ok := coords.RectFromArray(arr.Floats()); ok {
			var b pathBuilder
			b.rect(rn.gs.ctm, bbox.LLX, bbox.LLY, bbox.Width(), bbox.Height())
			rn.gs.clip = rn.gs.clip.Intersect(bounds(b.subs))
		}
	}
	savedPath, savedTm, savedTlm := rn.path, rn.tm, rn.tlm
	rn.path = pathBuilder{}
	rn.depth++
	err = rn.execute(ops, res)
	rn.depth--
	rn.path, rn.tm, rn.tlm = savedPath, savedTm, savedTlm
	return err
}

// annotations draws the normal appearance of every visible, printable
// annotation.
func (rn *run) annotations(page *semantic.Page, base coords.Matrix) error {
	for _, a := range page.Annotations() {
		if a.Hidden() || !a.Printed() || a.Flags()&semantic.FlagInvisible != 0 {
			continue
		}
		ap := rn.appearance(a.Dict())
		if ap == nil {
			continue
		}
		rect := a.Rect()
		if rect.Empty() {
			continue
		}
		m := coords.Identity()
		if arr := rn.raw.Array(ap.Dict.Value("Matrix")); arr != nil {
			if v := arr.Floats(); len(v) == 6 {
				m = coords.Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
			}
		}
		bbox := rect
		if arr := rn.raw.Array(ap.Dict.Value("BBox")); arr != nil {
			if b, ok := coords.RectFromArray(arr.Floats()); ok {
				bbox = b
			}
		}
		// Map the transformed BBox onto Rect.
		tb := m.TransformRect(bbox)
		if tb.Width() <= 0 || tb.Height() <= 0 {
			continue
		}
		fit := coords.Translate(-tb.LLX, -tb.LLY).
			Multiply(coords.Scale(rect.Width()/tb.Width(), rect.Height()/tb.Height())).
			Multiply(coords.Translate(rect.LLX, rect.LLY))
		var b pathBuilder
		b.rect(base, rect.LLX, rect.LLY, rect.Width(), rect.Height())
		clip := bounds(b.subs)

		rn.gs = newState(base, rn.canvas.Bounds())
		rn.stack = rn.stack[:0]
		if err := rn.form(ap, fit, &clip); err != nil {
			return err
		}
	}
	return nil
}

// appearance resolves /AP /N, selecting the /AS state when N is a
// dictionary of states.
func (rn *run) appearance(annot *raw.DictObj) *raw.StreamObj {
	ap := rn.raw.Dict(annot.Value("AP"))
	if ap == nil {
		return nil
	}
	n := ap.Value("N")
	if s := rn.raw.Stream(n); s != nil {
		return s
	}
	states := rn.raw.Dict(n)
	if states == nil {
		return nil
	}
	as, _ := annot.NameValue("AS")
	return rn.raw.Stream(states.Value(as))
}
