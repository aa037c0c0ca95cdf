package render

import (
	"context"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/lyricwulf/pdf-ruiner/contentstream"
	"github.com/lyricwulf/pdf-ruiner/coords"
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/observability"
)

// isMask reports whether an image dictionary declares a stencil mask under
// any of keys.
func isMask(r *raw.Document, d *raw.DictObj, keys ...string) bool {
	for _, k := range keys {
		if b, ok := r.Resolve(d.Value(k)).(raw.BoolObj); ok {
			return b.V
		}
	}
	return false
}

func (rn *run) inlineImage(_ context.Context, op contentstream.Operation) error {
	img, err := rn.doc.DecodeInlineImage(rn.ctx, op, rn.res)
	if err != nil {
		rn.r.logger.Debug("inline image skipped", observability.Error("error", err))
		return nil
	}
	var mask bool
	if len(op.Operands) > 0 {
		if d, ok := op.Operands[0].(*raw.DictObj); ok {
			mask = isMask(rn.raw, d, "IM", "ImageMask")
		}
	}
	rn.drawImage(img, mask)
	return nil
}

// drawImage maps the unit square of user space, with the image's first row
// at the top, onto the canvas. Stencil masks paint the fill colour where
// their samples are zero.
func (rn *run) drawImage(img image.Image, stencil bool) {
	b := img.Bounds()
	if b.Empty() {
		return
	}
	m := coords.Matrix{1 / float64(b.Dx()), 0, 0, -1 / float64(b.Dy()), 0, 1}.Multiply(rn.gs.ctm)
	if det := m[0]*m[3] - m[1]*m[2]; math.Abs(det) < 1e-12 || math.IsNaN(det) {
		return
	}
	area := rn.gs.clip.Intersect(rn.canvas.Bounds())
	if area.Empty() {
		return
	}
	src := img
	if stencil {
		src = stencilImage(img, rn.gs.fillGray, rn.gs.fillAlpha)
	}
	dst, ok := rn.canvas.SubImage(area).(*image.Gray)
	if !ok {
		return
	}
	s2d := f64.Aff3{m[0], m[2], m[4] - float64(b.Min.X)*m[0] - float64(b.Min.Y)*m[2],
		m[1], m[3], m[5] - float64(b.Min.X)*m[1] - float64(b.Min.Y)*m[3]}
	draw.NearestNeighbor.Transform(dst, s2d, src, b, draw.Over, nil)
}

func stencilImage(img image.Image, gray, alpha float64) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(b)
	v := uint8(clamp01(gray)*255 + 0.5)
	a := uint8(clamp01(alpha)*255 + 0.5)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y == 0 {
				out.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: a})
			}
		}
	}
	return out
}
