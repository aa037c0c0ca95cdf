package fonts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/lyricwulf/pdf-ruiner/builder"
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/ir/semantic"
	"github.com/lyricwulf/pdf-ruiner/observability"
	"github.com/lyricwulf/pdf-ruiner/writer"
)

// docWithFont writes a one-page document whose resources hold the font made
// by mk as F1 and returns the reopened document together with the F1 entry.
func docWithFont(t *testing.T, mk func(doc *raw.Document) raw.Object) (*semantic.Document, raw.Object) {
	t.Helper()
	doc := raw.NewDocument("1.7")
	catalog := raw.Dict()
	catalog.Put("Type", raw.NameLiteral("Catalog"))
	catalogRef := doc.Add(catalog)
	pages := raw.Dict()
	pages.Put("Type", raw.NameLiteral("Pages"))
	pagesRef := doc.Add(pages)
	catalog.Put("Pages", pagesRef)

	fontRes := raw.Dict()
	fontRes.Put("F1", mk(doc))
	res := raw.Dict()
	res.Put("Font", fontRes)
	page := raw.Dict()
	page.Put("Type", raw.NameLiteral("Page"))
	page.Put("Parent", pagesRef)
	page.Put("MediaBox", raw.NumberArray(0, 0, 200, 200))
	page.Put("Resources", res)
	pageRef := doc.Add(page)
	pages.Put("Kids", raw.NewArray(pageRef))
	pages.Put("Count", raw.NumberInt(1))
	doc.Trailer.Put("Root", catalogRef)

	data, err := writer.Bytes(context.Background(), doc, writer.Config{})
	require.NoError(t, err)
	sdoc, err := semantic.Open(context.Background(), data, semantic.Options{})
	require.NoError(t, err)
	return sdoc, fontEntry(t, sdoc)
}

func fontEntry(t *testing.T, doc *semantic.Document) raw.Object {
	t.Helper()
	page, err := doc.Page(0)
	require.NoError(t, err)
	fonts := doc.Raw().Dict(page.Resources().Value("Font"))
	require.NotNil(t, fonts)
	for _, k := range fonts.Keys() {
		return fonts.Value(k.Value())
	}
	t.Fatal("no font resource")
	return nil
}

func TestEmbeddedTrueTypeOutlines(t *testing.T) {
	data, err := builder.NewBuilder().
		RegisterTrueTypeFont("GoRegular", goregular.TTF).
		NewPage(200, 200).
		DrawText("Ab", 10, 10, builder.TextOptions{Font: "GoRegular", FontSize: 12}).
		Finish().
		Bytes(context.Background())
	require.NoError(t, err)
	doc, err := semantic.Open(context.Background(), data, semantic.Options{})
	require.NoError(t, err)

	f := Load(context.Background(), doc, fontEntry(t, doc))
	assert.True(t, f.Embedded())
	assert.Equal(t, Simple, f.Kind())

	glyphs := f.Glyphs([]byte("A "))
	require.Len(t, glyphs, 2)
	assert.NotEmpty(t, glyphs[0].Outline)
	assert.Equal(t, MoveTo, glyphs[0].Outline[0].Op)
	assert.InDelta(t, 0.6, glyphs[0].Width, 0.15)
	assert.True(t, glyphs[1].Space)
	assert.Empty(t, glyphs[1].Outline)
	assert.Same(t, glyphs[0], f.Glyphs([]byte("A"))[0])
}

func TestStandardFontUsesFallbackFace(t *testing.T) {
	font := raw.Dict()
	font.Put("Type", raw.NameLiteral("Font"))
	font.Put("Subtype", raw.NameLiteral("Type1"))
	font.Put("BaseFont", raw.NameLiteral("Helvetica"))
	font.Put("Encoding", raw.NameLiteral("WinAnsiEncoding"))
	doc, entry := docWithFont(t, func(*raw.Document) raw.Object { return font })

	f := Load(context.Background(), doc, entry)
	assert.False(t, f.Embedded())
	g := f.Glyphs([]byte{'x', 0x80})
	assert.NotEmpty(t, g[0].Outline)
	assert.Greater(t, g[0].Width, 0.0)
	assert.NotEmpty(t, g[1].Outline, "euro sign")
}

func TestWidthsAndDifferences(t *testing.T) {
	enc := raw.Dict()
	enc.Put("Type", raw.NameLiteral("Encoding"))
	enc.Put("Differences", raw.NewArray(raw.NumberInt(65), raw.NameLiteral("eacute"), raw.NameLiteral("uni0416")))
	font := raw.Dict()
	font.Put("Type", raw.NameLiteral("Font"))
	font.Put("Subtype", raw.NameLiteral("Type1"))
	font.Put("BaseFont", raw.NameLiteral("Custom"))
	font.Put("FirstChar", raw.NumberInt(65))
	font.Put("Widths", raw.NumberArray(250, 750))
	font.Put("Encoding", enc)
	doc, entry := docWithFont(t, func(*raw.Document) raw.Object { return font })

	f := Load(context.Background(), doc, entry)
	assert.Equal(t, 'é', f.encoding['A'])
	assert.Equal(t, rune(0x416), f.encoding['B'])
	g := f.Glyphs([]byte("ABC"))
	assert.InDelta(t, 0.25, g[0].Width, 1e-9)
	assert.InDelta(t, 0.75, g[1].Width, 1e-9)
	assert.InDelta(t, 0, g[2].Width, 1e-9, "outside Widths falls to MissingWidth")
}

func TestCompositeFontWithoutProgramDrawsBoxes(t *testing.T) {
	cid := raw.Dict()
	cid.Put("Type", raw.NameLiteral("Font"))
	cid.Put("Subtype", raw.NameLiteral("CIDFontType2"))
	cid.Put("DW", raw.NumberInt(800))
	cid.Put("W", raw.NewArray(
		raw.NumberInt(1), raw.NumberArray(300, 400),
		raw.NumberInt(10), raw.NumberInt(12), raw.NumberInt(600),
	))
	font := raw.Dict()
	font.Put("Type", raw.NameLiteral("Font"))
	font.Put("Subtype", raw.NameLiteral("Type0"))
	font.Put("Encoding", raw.NameLiteral("Identity-H"))
	font.Put("DescendantFonts", raw.NewArray(cid))
	doc, entry := docWithFont(t, func(*raw.Document) raw.Object { return font })

	f := Load(context.Background(), doc, entry)
	require.Equal(t, Composite, f.Kind())
	g := f.Glyphs([]byte{0, 1, 0, 2, 0, 11, 0, 50, 7})
	require.Len(t, g, 4)
	widths := []float64{g[0].Width, g[1].Width, g[2].Width, g[3].Width}
	assert.InDeltaSlice(t, []float64{0.3, 0.4, 0.6, 0.8}, widths, 1e-9)
	assert.Len(t, g[0].Outline, 5)
	assert.False(t, g[0].Space)
}

func TestType3GlyphProcedures(t *testing.T) {
	procs := raw.Dict()
	enc := raw.Dict()
	enc.Put("Differences", raw.NewArray(raw.NumberInt(97), raw.NameLiteral("square")))
	font := raw.Dict()
	font.Put("Type", raw.NameLiteral("Font"))
	font.Put("Subtype", raw.NameLiteral("Type3"))
	font.Put("FontMatrix", raw.NumberArray(0.01, 0, 0, 0.01, 0, 0))
	font.Put("CharProcs", procs)
	font.Put("Encoding", enc)
	font.Put("FirstChar", raw.NumberInt(97))
	font.Put("Widths", raw.NumberArray(100))
	doc, entry := docWithFont(t, func(d *raw.Document) raw.Object {
		procs.Put("square", d.Add(raw.NewStream(raw.Dict(), []byte("0 0 1 1 re f"))))
		return font
	})

	f := Load(context.Background(), doc, entry)
	require.Equal(t, Type3, f.Kind())
	g := f.Glyphs([]byte("ab"))
	require.NotNil(t, g[0].Proc)
	assert.InDelta(t, 1.0, g[0].Width, 1e-9)
	assert.Nil(t, g[1].Proc)
	assert.InDelta(t, 0.01, f.Matrix()[0], 1e-12)
}

func TestGlyphRune(t *testing.T) {
	cases := map[string]rune{
		"A":          'A',
		"eacute":     'é',
		"Odieresis":  'Ö',
		"uni20AC":    '€',
		"u1F600":     0x1F600,
		"quoteright": '’',
		"a.sc":       'a',
	}
	for name, want := range cases {
		got, ok := GlyphRune(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := GlyphRune("g123")
	assert.False(t, ok)
}

func TestFallbackFont(t *testing.T) {
	f := Fallback(observability.NopLogger{})
	g := f.Glyphs([]byte("W"))
	assert.NotEmpty(t, g[0].Outline)
	assert.InDelta(t, 0.001, f.Matrix()[0], 1e-12)
}
