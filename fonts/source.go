package fonts

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/go-text/typesetting/font"
	ot "github.com/go-text/typesetting/font/opentype"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/lyricwulf/pdf-ruiner/coords"
)

// SegmentOp is the kind of an outline segment.
type SegmentOp int

const (
	MoveTo SegmentOp = iota
	LineTo
	QuadTo
	CubeTo
)

// Segment is one outline command in glyph space (1000 units per em, y up).
// Only the first 1, 2 or 3 points are used for MoveTo/LineTo, QuadTo and
// CubeTo respectively; the last used point is the end point.
type Segment struct {
	Op  SegmentOp
	Pts [3]coords.Point
}

// outlineSource is a font program that can produce glyph outlines.
type outlineSource interface {
	// glyphIndex maps a rune through the font's cmap.
	glyphIndex(r rune) (int, bool)
	outline(gid int) []Segment
	// advance in glyph space
	advance(gid int) float64
}

// faceSource serves embedded TrueType and OpenType programs.
type faceSource struct {
	face  *font.Face
	scale float64
}

func newFaceSource(data []byte) (*faceSource, error) {
	face, err := font.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse font program: %w", err)
	}
	upem := float64(face.Upem())
	if upem <= 0 {
		upem = 1000
	}
	return &faceSource{face: face, scale: 1000 / upem}, nil
}

func (s *faceSource) glyphIndex(r rune) (int, bool) {
	gid, ok := s.face.NominalGlyph(r)
	if !ok || gid == 0 {
		return 0, false
	}
	return int(gid), true
}

func (s *faceSource) outline(gid int) []Segment {
	data, ok := s.face.GlyphData(font.GID(gid)).(font.GlyphOutline)
	if !ok {
		return nil
	}
	out := make([]Segment, 0, len(data.Segments))
	for _, seg := range data.Segments {
		var dst Segment
		switch seg.Op {
		case ot.SegmentOpMoveTo:
			dst.Op = MoveTo
		case ot.SegmentOpLineTo:
			dst.Op = LineTo
		case ot.SegmentOpQuadTo:
			dst.Op = QuadTo
		case ot.SegmentOpCubeTo:
			dst.Op = CubeTo
		default:
			continue
		}
		for i, p := range seg.Args {
			dst.Pts[i] = coords.Point{X: float64(p.X) * s.scale, Y: float64(p.Y) * s.scale}
		}
		out = append(out, dst)
	}
	return out
}

func (s *faceSource) advance(gid int) float64 {
	return float64(s.face.HorizontalAdvance(font.GID(gid))) * s.scale
}

// sfntSource serves the built-in fallback face used for fonts whose program
// is missing or cannot be parsed.
type sfntSource struct {
	f    *sfnt.Font
	buf  sfnt.Buffer
	ppem fixed.Int26_6
}

var (
	fallbackOnce sync.Once
	fallbackFont *sfnt.Font
	fallbackErr  error
)

func newFallbackSource() (*sfntSource, error) {
	fallbackOnce.Do(func() {
		fallbackFont, fallbackErr = sfnt.Parse(goregular.TTF)
	})
	if fallbackErr != nil {
		return nil, fmt.Errorf("parse fallback font: %w", fallbackErr)
	}
	// One pixel per glyph space unit.
	return &sfntSource{f: fallbackFont, ppem: fixed.I(1000)}, nil
}

func (s *sfntSource) glyphIndex(r rune) (int, bool) {
	x, err := s.f.GlyphIndex(&s.buf, r)
	if err != nil || x == 0 {
		return 0, false
	}
	return int(x), true
}

func (s *sfntSource) outline(gid int) []Segment {
	segs, err := s.f.LoadGlyph(&s.buf, sfnt.GlyphIndex(gid), s.ppem, nil)
	if err != nil {
		return nil
	}
	out := make([]Segment, 0, len(segs))
	for _, seg := range segs {
		dst := Segment{Op: SegmentOp(seg.Op)}
		for i, p := range seg.Args {
			// sfnt outlines grow downwards.
			dst.Pts[i] = coords.Point{X: unfix(p.X), Y: -unfix(p.Y)}
		}
		out = append(out, dst)
	}
	return out
}

func (s *sfntSource) advance(gid int) float64 {
	adv, err := s.f.GlyphAdvance(&s.buf, sfnt.GlyphIndex(gid), s.ppem, xfont.HintingNone)
	if err != nil {
		return 0
	}
	return unfix(adv)
}

func unfix(v fixed.Int26_6) float64 { return float64(v) / 64 }

// boxOutline is drawn for codes whose glyph cannot be found. It covers the
// advance width up to cap height so the text still darkens the page.
func boxOutline(width float64) []Segment {
	if width <= 0 {
		width = 500
	}
	x0, x1 := width*0.1, width*0.9
	y0, y1 := 0.0, 700.0
	return []Segment{
		{Op: MoveTo, Pts: [3]coords.Point{{X: x0, Y: y0}}},
		{Op: LineTo, Pts: [3]coords.Point{{X: x1, Y: y0}}},
		{Op: LineTo, Pts: [3]coords.Point{{X: x1, Y: y1}}},
		{Op: LineTo, Pts: [3]coords.Point{{X: x0, Y: y1}}},
		{Op: LineTo, Pts: [3]coords.Point{{X: x0, Y: y0}}},
	}
}
