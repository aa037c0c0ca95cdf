// Package fonts turns PDF font dictionaries into glyph outlines and advance
// widths for the rasterizer.
package fonts

import (
	"context"

	"github.com/lyricwulf/pdf-ruiner/coords"
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/ir/semantic"
	"github.com/lyricwulf/pdf-ruiner/observability"
)

// Kind is the broad font class, which decides how strings split into codes.
type Kind int

const (
	Simple Kind = iota
	Composite
	Type3
)

// descriptor flag bit for symbolic fonts
const flagSymbolic = 1 << 2

// Glyph is one character code of a shown string.
type Glyph struct {
	Code int
	// Width is the horizontal displacement in text space (before Tfs and Tz).
	Width float64
	// Space is set for the single-byte code 32, the only code Tw applies to.
	Space bool
	// Outline is in glyph space; transform it by Font.Matrix. Nil draws nothing.
	Outline []Segment
	// Proc is the glyph procedure of a Type 3 font.
	Proc *raw.StreamObj
}

// Font is a loaded font resource. It caches glyphs per code and is not safe
// for concurrent use.
type Font struct {
	Name string

	kind     Kind
	src      outlineSource
	embedded bool
	symbolic bool
	encoding *Encoding

	hasWidths bool
	firstChar int
	widths    []float64
	missing   float64

	defaultWidth float64
	cidWidths    map[int]float64
	cidToGID     []byte

	matrix    coords.Matrix
	procs     map[int]*raw.StreamObj
	resources *raw.DictObj

	cache map[int]*Glyph
}

// Load builds a Font from the font dictionary obj refers to. It never fails:
// unusable programs fall back to the built-in face or to glyph boxes, and a
// note is logged at debug level.
func Load(ctx context.Context, doc *semantic.Document, obj raw.Object) *Font {
	f := &Font{matrix: coords.Scale(0.001, 0.001), cache: make(map[int]*Glyph)}
	r := doc.Raw()
	dict := r.Dict(obj)
	if dict == nil {
		f.encoding = winAnsiEncoding
		f.src = fallback(doc.Logger())
		return f
	}
	f.Name, _ = dict.NameValue("BaseFont")
	sub, _ := dict.NameValue("Subtype")
	switch sub {
	case "Type0":
		f.loadComposite(ctx, doc, dict)
	case "Type3":
		f.loadType3(doc, dict)
	default:
		f.loadSimple(ctx, doc, dict, sub)
	}
	return f
}

// Fallback returns a font that draws with the built-in face and WinAnsi
// codes. The renderer uses it when a Tf names a missing resource.
func Fallback(logger observability.Logger) *Font {
	return &Font{
		matrix:   coords.Scale(0.001, 0.001),
		encoding: winAnsiEncoding,
		src:      fallback(logger),
		cache:    make(map[int]*Glyph),
	}
}

func fallback(logger observability.Logger) outlineSource {
	src, err := newFallbackSource()
	if err != nil {
		logger.Warn("fallback font unavailable", observability.Error("error", err))
		return nil
	}
	return src
}

func (f *Font) Kind() Kind { return f.kind }

// Embedded reports whether glyphs come from the document's own font program.
func (f *Font) Embedded() bool { return f.embedded }

// Matrix maps glyph space to text space.
func (f *Font) Matrix() coords.Matrix { return f.matrix }

// Resources returns the resources of a Type 3 font, or nil.
func (f *Font) Resources() *raw.DictObj { return f.resources }

// Glyphs splits a shown string into glyphs. Composite fonts use two-byte
// codes; a trailing odd byte is dropped.
func (f *Font) Glyphs(s []byte) []*Glyph {
	if f.kind == Composite {
		out := make([]*Glyph, 0, len(s)/2)
		for i := 0; i+1 < len(s); i += 2 {
			out = append(out, f.glyph(int(s[i])<<8|int(s[i+1])))
		}
		return out
	}
	out := make([]*Glyph, 0, len(s))
	for _, c := range s {
		out = append(out, f.glyph(int(c)))
	}
	return out
}

func (f *Font) glyph(code int) *Glyph {
	if g, ok := f.cache[code]; ok {
		return g
	}
	var g *Glyph
	switch f.kind {
	case Composite:
		g = f.compositeGlyph(code)
	case Type3:
		g = f.type3Glyph(code)
	default:
		g = f.simpleGlyph(code)
	}
	f.cache[code] = g
	return g
}

func (f *Font) loadSimple(ctx context.Context, doc *semantic.Document, dict *raw.DictObj, subtype string) {
	r := doc.Raw()
	desc := r.Dict(dict.Value("FontDescriptor"))
	if desc != nil {
		flags, _ := desc.IntValue("Flags")
		f.symbolic = flags&flagSymbolic != 0
		f.missing, _ = desc.NumberValue("MissingWidth")
		if src := embeddedSource(ctx, doc, desc); src != nil {
			f.src = src
			f.embedded = true
		}
	}
	if f.src == nil {
		f.src = fallback(doc.Logger())
	}
	f.readWidths(r, dict)

	base := defaultEncoding(subtype, f.Name, f.symbolic, f.embedded)
	switch enc := r.Resolve(dict.Value("Encoding")).(type) {
	case raw.NameObj:
		if e, ok := namedEncoding(enc.Val); ok {
			base = e
		}
	case *raw.DictObj:
		if name, ok := enc.NameValue("BaseEncoding"); ok {
			if e, ok := namedEncoding(name); ok {
				base = e
			}
		}
		if diffs := r.Array(enc.Value("Differences")); diffs != nil {
			if base == nil {
				std := Encoding(standardEncoding)
				base = &std
			}
			e := *base
			applyDifferences(r, diffs, func(code int, name string) {
				if rn, ok := GlyphRune(name); ok {
					e[code] = rn
				}
			})
			base = &e
		}
	}
	f.encoding = base
}

// defaultEncoding is the encoding of a simple font without an /Encoding
// entry. Embedded symbolic fonts use their built-in code mapping (nil).
func defaultEncoding(subtype, name string, symbolic, embedded bool) *Encoding {
	switch {
	case name == "Symbol" || name == "Symbol,Bold":
		e, _ := namedEncoding("SymbolEncoding")
		return e
	case symbolic && embedded:
		return nil
	case subtype == "TrueType":
		return winAnsiEncoding
	}
	e, _ := namedEncoding("StandardEncoding")
	return e
}

// applyDifferences walks a Differences array: a number sets the next code,
// each name is assigned to the current code which then advances.
func applyDifferences(r *raw.Document, diffs *raw.ArrayObj, set func(code int, name string)) {
	code := 0
	for _, item := range diffs.Items {
		switch v := r.Resolve(item).(type) {
		case raw.NumberObj:
			code = int(v.Int())
		case raw.NameObj:
			if code >= 0 && code < 256 {
				set(code, v.Val)
			}
			code++
		}
	}
}

func (f *Font) readWidths(r *raw.Document, dict *raw.DictObj) {
	arr := r.Array(dict.Value("Widths"))
	if arr == nil {
		return
	}
	f.hasWidths = true
	f.firstChar, _ = dict.IntValue("FirstChar")
	for _, item := range arr.Items {
		n, _ := r.Resolve(item).(raw.NumberObj)
		f.widths = append(f.widths, n.Float())
	}
}

// simpleWidth is the glyph space width of code, or -1 when the font does not
// say and the program should be asked.
func (f *Font) simpleWidth(code int) float64 {
	if !f.hasWidths {
		return -1
	}
	if i := code - f.firstChar; i >= 0 && i < len(f.widths) {
		return f.widths[i]
	}
	return f.missing
}

func (f *Font) simpleGlyph(code int) *Glyph {
	g := &Glyph{Code: code, Space: code == ' '}
	var rn rune
	if f.encoding != nil {
		rn = f.encoding[code]
	}
	gid, found := 0, false
	if f.src != nil {
		switch {
		case f.encoding == nil:
			gid, found = f.src.glyphIndex(0xF000 | rune(code))
			if !found {
				gid, found = f.src.glyphIndex(rune(code))
			}
		case rn != 0:
			gid, found = f.src.glyphIndex(rn)
			if !found && f.embedded {
				gid, found = f.src.glyphIndex(0xF000 | rune(code))
			}
		}
	}
	width := f.simpleWidth(code)
	if width < 0 {
		width = 0
		if found {
			width = f.src.advance(gid)
		}
		if width == 0 && !found {
			width = 500
		}
	}
	g.Width = width / 1000
	switch {
	case found:
		g.Outline = f.src.outline(gid)
	case rn != ' ' && rn != 0xA0 && code != ' ':
		g.Outline = boxOutline(width)
	}
	return g
}

func (f *Font) loadComposite(ctx context.Context, doc *semantic.Document, dict *raw.DictObj) {
	f.kind = Composite
	f.defaultWidth = 1000
	r := doc.Raw()
	desc := r.Array(dict.Value("DescendantFonts"))
	if desc == nil || len(desc.Items) == 0 {
		return
	}
	cid := r.Dict(desc.Items[0])
	if cid == nil {
		return
	}
	if dw, ok := cid.NumberValue("DW"); ok {
		f.defaultWidth = dw
	}
	f.cidWidths = readCIDWidths(r, r.Array(cid.Value("W")))
	if fd := r.Dict(cid.Value("FontDescriptor")); fd != nil {
		if src := embeddedSource(ctx, doc, fd); src != nil {
			f.src = src
			f.embedded = true
		}
	}
	if m := r.Stream(cid.Value("CIDToGIDMap")); m != nil {
		if data, err := doc.DecodeStream(ctx, m); err == nil {
			f.cidToGID = data
		}
	}
}

// readCIDWidths parses a W array: "c [w1 w2 ...]" and "cfirst clast w".
func readCIDWidths(r *raw.Document, arr *raw.ArrayObj) map[int]float64 {
	out := make(map[int]float64)
	if arr == nil {
		return out
	}
	items := arr.Items
	num := func(o raw.Object) (float64, bool) {
		n, ok := r.Resolve(o).(raw.NumberObj)
		return n.Float(), ok
	}
	for i := 0; i < len(items); {
		first, ok := num(items[i])
		if !ok || i+1 >= len(items) {
			break
		}
		if list := r.Array(items[i+1]); list != nil {
			for j, w := range list.Items {
				if v, ok := num(w); ok {
					out[int(first)+j] = v
				}
			}
			i += 2
			continue
		}
		if i+2 >= len(items) {
			break
		}
		last, ok1 := num(items[i+1])
		w, ok2 := num(items[i+2])
		if ok1 && ok2 && last-first < 65536 {
			for c := int(first); c <= int(last); c++ {
				out[c] = w
			}
		}
		i += 3
	}
	return out
}

func (f *Font) compositeGlyph(cid int) *Glyph {
	width, ok := f.cidWidths[cid]
	if !ok {
		width = f.defaultWidth
	}
	g := &Glyph{Code: cid, Width: width / 1000}
	if f.src == nil {
		g.Outline = boxOutline(width)
		return g
	}
	gid := cid
	if f.cidToGID != nil {
		if 2*cid+1 >= len(f.cidToGID) {
			return g
		}
		gid = int(f.cidToGID[2*cid])<<8 | int(f.cidToGID[2*cid+1])
	}
	if gid != 0 {
		g.Outline = f.src.outline(gid)
	}
	return g
}

func (f *Font) loadType3(doc *semantic.Document, dict *raw.DictObj) {
	f.kind = Type3
	r := doc.Raw()
	if m := r.Array(dict.Value("FontMatrix")); m != nil {
		if v := m.Floats(); len(v) == 6 {
			f.matrix = coords.Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
		}
	}
	f.resources = r.Dict(dict.Value("Resources"))
	f.readWidths(r, dict)
	f.procs = make(map[int]*raw.StreamObj)
	procs := r.Dict(dict.Value("CharProcs"))
	enc := r.Dict(dict.Value("Encoding"))
	if procs == nil || enc == nil {
		return
	}
	if diffs := r.Array(enc.Value("Differences")); diffs != nil {
		applyDifferences(r, diffs, func(code int, name string) {
			if s := r.Stream(procs.Value(name)); s != nil {
				f.procs[code] = s
			}
		})
	}
}

func (f *Font) type3Glyph(code int) *Glyph {
	w := f.simpleWidth(code)
	if w < 0 {
		w = 0
	}
	// Type 3 widths are in glyph space, scaled by the font matrix.
	return &Glyph{Code: code, Space: code == ' ', Width: w * f.matrix[0], Proc: f.procs[code]}
}

// embeddedSource parses FontFile2 or an OpenType FontFile3. Type 1 and bare
// CFF programs are not supported and yield nil.
func embeddedSource(ctx context.Context, doc *semantic.Document, desc *raw.DictObj) outlineSource {
	r := doc.Raw()
	for _, key := range []string{"FontFile2", "FontFile3"} {
		s := r.Stream(desc.Value(key))
		if s == nil {
			continue
		}
		if key == "FontFile3" {
			if sub, _ := s.Dict.NameValue("Subtype"); sub != "OpenType" {
				return nil
			}
		}
		data, err := doc.DecodeStream(ctx, s)
		if err != nil {
			doc.Logger().Debug("font program unreadable", observability.String("key", key), observability.Error("error", err))
			return nil
		}
		src, err := newFaceSource(data)
		if err != nil {
			doc.Logger().Debug("font program rejected", observability.String("key", key), observability.Error("error", err))
			return nil
		}
		return src
	}
	return nil
}
