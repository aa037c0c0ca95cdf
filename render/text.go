package render

import (
	"context"

	"github.com/lyricwulf/pdf-ruiner/contentstream"
	"github.com/lyricwulf/pdf-ruiner/coords"
	"github.com/lyricwulf/pdf-ruiner/fonts"
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/observability"
)

func (rn *run) registerText() {
	h := func(op string, fn func(op contentstream.Operation, nums []float64)) {
		rn.proc.RegisterHandler(op, contentstream.HandlerFunc(func(_ context.Context, o contentstream.Operation) error {
			nums, _ := o.Numbers()
			fn(o, nums)
			return nil
		}))
	}
	one := func(op string, set func(v float64)) {
		h(op, func(_ contentstream.Operation, n []float64) {
			if len(n) == 1 {
				set(n[0])
			}
		})
	}

	h("BT", func(contentstream.Operation, []float64) {
		rn.tm, rn.tlm = coords.Identity(), coords.Identity()
	})
	h("ET", func(contentstream.Operation, []float64) {})
	h("Tf", func(o contentstream.Operation, _ []float64) {
		if len(o.Operands) != 2 {
			return
		}
		if name, ok := o.Name(0); ok {
			rn.gs.font = rn.font(name)
		}
		if n, ok := o.Operands[1].(raw.NumberObj); ok {
			rn.gs.fontSize = n.Float()
		}
	})
	one("Tc", func(v float64) { rn.gs.charSpace = v })
	one("Tw", func(v float64) { rn.gs.wordSpace = v })
	one("Tz", func(v float64) { rn.gs.hscale = v / 100 })
	one("TL", func(v float64) { rn.gs.leading = v })
	one("Ts", func(v float64) { rn.gs.rise = v })
	one("Tr", func(v float64) { rn.gs.renderMode = contentstream.TextRenderMode(v) })
	h("Td", func(_ contentstream.Operation, n []float64) {
		if len(n) == 2 {
			rn.nextLine(n[0], n[1])
		}
	})
	h("TD", func(_ contentstream.Operation, n []float64) {
		if len(n) == 2 {
			rn.gs.leading = -n[1]
			rn.nextLine(n[0], n[1])
		}
	})
	h("Tm", func(_ contentstream.Operation, n []float64) {
		if len(n) == 6 {
			rn.tm = coords.Matrix{n[0], n[1], n[2], n[3], n[4], n[5]}
			rn.tlm = rn.tm
		}
	})
	h("T*", func(contentstream.Operation, []float64) { rn.nextLine(0, -rn.gs.leading) })
	h("Tj", func(o contentstream.Operation, _ []float64) {
		if len(o.Operands) == 1 {
			rn.showString(o.Operands[0])
		}
	})
	h("'", func(o contentstream.Operation, _ []float64) {
		rn.nextLine(0, -rn.gs.leading)
		if len(o.Operands) == 1 {
			rn.showString(o.Operands[0])
		}
	})
	h(`"`, func(o contentstream.Operation, _ []float64) {
		if len(o.Operands) != 3 {
			return
		}
		if n, ok := o.Operands[0].(raw.NumberObj); ok {
			rn.gs.wordSpace = n.Float()
		}
		if n, ok := o.Operands[1].(raw.NumberObj); ok {
			rn.gs.charSpace = n.Float()
		}
		rn.nextLine(0, -rn.gs.leading)
		rn.showString(o.Operands[2])
	})
	h("TJ", func(o contentstream.Operation, _ []float64) {
		if len(o.Operands) != 1 {
			return
		}
		arr, ok := o.Operands[0].(*raw.ArrayObj)
		if !ok {
			return
		}
		for _, item := range arr.Items {
			switch v := item.(type) {
			case raw.StringObj:
				rn.showString(v)
			case raw.NumberObj:
				tx := -v.Float() / 1000 * rn.gs.fontSize * rn.gs.hscale
				rn.tm = coords.Translate(tx, 0).Multiply(rn.tm)
			}
		}
	})
}

func (rn *run) nextLine(tx, ty float64) {
	rn.tlm = coords.Translate(tx, ty).Multiply(rn.tlm)
	rn.tm = rn.tlm
}

// font returns the cached font for a Font resource name. Missing resources
// get the fallback face.
func (rn *run) font(name string) *fonts.Font {
	dicts := rn.raw.Dict(rn.res.Value("Font"))
	obj := dicts.Value(name)
	d := rn.raw.Dict(obj)
	if d == nil {
		rn.r.logger.Debug("font resource missing", observability.String("font", name))
		return fonts.Fallback(rn.r.logger)
	}
	if f, ok := rn.r.fonts[d]; ok {
		return f
	}
	f := fonts.Load(rn.ctx, rn.doc, obj)
	rn.r.fonts[d] = f
	return f
}

// showString paints the glyphs of one string operand and advances the text
// matrix past them.
func (rn *run) showString(obj raw.Object) {
	s, ok := obj.(raw.StringObj)
	if !ok {
		return
	}
	gs := rn.gs
	if gs.font == nil {
		gs.font = fonts.Fallback(rn.r.logger)
	}
	mode := gs.renderMode
	fill := mode == 0 || mode == 2 || mode == 4 || mode == 6
	stroke := mode == 1 || mode == 2 || mode == 5 || mode == 6

	for _, g := range gs.font.Glyphs(s.Bytes) {
		// text space to device space for this glyph
		trm := coords.Matrix{gs.fontSize * gs.hscale, 0, 0, gs.fontSize, 0, gs.rise}.
			Multiply(rn.tm).Multiply(gs.ctm)
		switch {
		case g.Proc != nil:
			if fill || stroke {
				rn.type3Glyph(gs.font, g, trm)
			}
		case len(g.Outline) > 0 && (fill || stroke):
			rn.glyphOutline(g.Outline, gs.font.Matrix().Multiply(trm), fill, stroke)
		}

		adv := g.Width*gs.fontSize + gs.charSpace
		if g.Space {
			adv += gs.wordSpace
		}
		rn.tm = coords.Translate(adv*gs.hscale, 0).Multiply(rn.tm)
	}
}

func (rn *run) glyphOutline(outline []fonts.Segment, m coords.Matrix, fill, stroke bool) {
	var b pathBuilder
	for _, seg := range outline {
		p := seg.Pts
		switch seg.Op {
		case fonts.MoveTo:
			b.moveTo(devPoint(m, p[0].X, p[0].Y))
		case fonts.LineTo:
			b.lineTo(devPoint(m, p[0].X, p[0].Y))
		case fonts.QuadTo:
			b.quadTo(devPoint(m, p[0].X, p[0].Y), devPoint(m, p[1].X, p[1].Y))
		case fonts.CubeTo:
			b.cubeTo(devPoint(m, p[0].X, p[0].Y), devPoint(m, p[1].X, p[1].Y), devPoint(m, p[2].X, p[2].Y))
		}
	}
	for i := range b.subs {
		b.subs[i].closed = true
	}
	if fill {
		rn.fill(b.subs, false, paintSource(rn.gs.fillGray, rn.gs.fillAlpha))
	}
	if stroke {
		rn.strokePath(b.subs, rn.gs.ctm)
	}
}

// type3Glyph runs a glyph procedure with the font matrix mapped onto the
// current text position.
func (rn *run) type3Glyph(f *fonts.Font, g *fonts.Glyph, trm coords.Matrix) {
	if rn.depth >= rn.maxDepth() {
		return
	}
	data, err := rn.doc.DecodeStream(rn.ctx, g.Proc)
	if err != nil {
		rn.r.logger.Debug("glyph procedure skipped", observability.Error("error", err))
		return
	}
	ops, _ := contentstream.Parse(data)
	res := f.Resources()
	if res == nil {
		res = rn.res
	}
	savedPath, savedTm, savedTlm := rn.path, rn.tm, rn.tlm
	rn.save()
	rn.gs.ctm = f.Matrix().Multiply(trm)
	rn.path = pathBuilder{}
	rn.depth++
	if err := rn.execute(ops, res); err != nil {
		rn.r.logger.Debug("glyph procedure failed", observability.Error("error", err))
	}
	rn.depth--
	rn.restore()
	rn.path, rn.tm, rn.tlm = savedPath, savedTm, savedTlm
}
