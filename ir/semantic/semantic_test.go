package semantic

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyricwulf/pdf-ruiner/builder"
	"github.com/lyricwulf/pdf-ruiner/coords"
	"github.com/lyricwulf/pdf-ruiner/filters"
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/writer"
)

func openBytes(t *testing.T, data []byte) *Document {
	t.Helper()
	doc, err := Open(context.Background(), data, Options{})
	require.NoError(t, err)
	return doc
}

func build(t *testing.T, b builder.PDFBuilder) []byte {
	t.Helper()
	data, err := b.Bytes(context.Background())
	require.NoError(t, err)
	return data
}

func saveAndReopen(t *testing.T, doc *Document) *Document {
	t.Helper()
	data, err := doc.Bytes(context.Background())
	require.NoError(t, err)
	return openBytes(t, data)
}

func TestPageTreeInheritance(t *testing.T) {
	doc := raw.NewDocument("1.4")
	res := raw.Dict()
	res.Put("ProcSet", raw.NewArray(raw.NameLiteral("PDF")))
	resRef := doc.Add(res)

	catalog := raw.Dict()
	catalog.Put("Type", raw.NameLiteral("Catalog"))
	catalogRef := doc.Add(catalog)
	root := raw.Dict()
	root.Put("Type", raw.NameLiteral("Pages"))
	root.Put("MediaBox", raw.NumberArray(0, 0, 300, 400))
	root.Put("Rotate", raw.NumberInt(-90))
	root.Put("Resources", resRef)
	rootRef := doc.Add(root)
	catalog.Put("Pages", rootRef)

	inner := raw.Dict()
	inner.Put("Type", raw.NameLiteral("Pages"))
	inner.Put("Parent", rootRef)
	inner.Put("CropBox", raw.NumberArray(10, 10, 500, 500))
	innerRef := doc.Add(inner)

	first := raw.Dict()
	first.Put("Type", raw.NameLiteral("Page"))
	first.Put("Parent", innerRef)
	firstRef := doc.Add(first)
	inner.Put("Kids", raw.NewArray(firstRef))
	inner.Put("Count", raw.NumberInt(1))

	second := raw.Dict()
	second.Put("Parent", rootRef)
	second.Put("MediaBox", raw.NumberArray(0, 0, 100, 100))
	second.Put("Rotate", raw.NumberInt(0))
	secondRef := doc.Add(second)

	root.Put("Kids", raw.NewArray(innerRef, secondRef))
	root.Put("Count", raw.NumberInt(2))
	doc.Trailer.Put("Root", catalogRef)

	data, err := writer.Bytes(context.Background(), doc, writer.Config{})
	require.NoError(t, err)
	sd := openBytes(t, data)
	require.Equal(t, 2, sd.PageCount())

	p0 := sd.Pages()[0]
	assert.Equal(t, Rectangle{URX: 300, URY: 400}, p0.MediaBox)
	assert.Equal(t, Rectangle{LLX: 10, LLY: 10, URX: 300, URY: 400}, p0.CropBox)
	assert.Equal(t, 270, p0.Rotate)
	assert.NotNil(t, p0.Resources().Value("ProcSet"))

	p1 := sd.Pages()[1]
	assert.Equal(t, Rectangle{URX: 100, URY: 100}, p1.MediaBox)
	assert.Equal(t, p1.MediaBox, p1.CropBox)
	assert.Equal(t, 0, p1.Rotate)
	assert.Equal(t, 1, p1.Index())

	_, err = sd.Page(2)
	assert.ErrorIs(t, err, ErrPageIndex)
}

func TestObjectsAreTyped(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	data := build(t, builder.NewBuilder().
		NewPage(200, 200).
		DrawRectangle(10, 10, 50, 20, builder.RectOptions{Fill: true}).
		DrawLine(0, 0, 100, 100, builder.LineOptions{}).
		DrawText("hi", 10, 100, builder.TextOptions{}).
		DrawImage(gray, 100, 100, 20, 20, builder.ImageOptions{}).
		DrawImage(gray, 150, 150, 20, 20, builder.ImageOptions{Inline: true}).
		Finish())
	doc := openBytes(t, data)
	objs := doc.Pages()[0].Objects()
	require.Len(t, objs, 5)

	rect, ok := objs[0].(*PathObject)
	require.True(t, ok)
	assert.Equal(t, 5, rect.SegmentCount())
	assert.Equal(t, FillNonZero, rect.FillMode())
	assert.False(t, rect.Stroked())
	assert.Equal(t, Rectangle{LLX: 10, LLY: 10, URX: 60, URY: 30}, rect.Bounds())

	line := objs[1].(*PathObject)
	assert.Equal(t, 2, line.SegmentCount())
	assert.Equal(t, FillNone, line.FillMode())
	assert.True(t, line.Stroked())

	assert.Equal(t, "text", objs[2].(*OtherObject).Kind())

	xobj := objs[3].(*ImageObject)
	assert.False(t, xobj.Inline())
	assert.Equal(t, 2, xobj.Width())
	assert.Equal(t, 2, xobj.Height())
	assert.InDelta(t, 20, xobj.Bounds().Width(), 1e-9)

	assert.True(t, objs[4].(*ImageObject).Inline())
}

func TestUnchangedDocumentIsByteIdentical(t *testing.T) {
	data := build(t, builder.NewBuilder().NewPage(100, 100).DrawRectangle(0, 0, 10, 10, builder.RectOptions{Fill: true}).Finish())
	doc := openBytes(t, data)
	_ = doc.Pages()[0].Objects()
	_ = doc.Pages()[0].Annotations()

	out, err := doc.Bytes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.False(t, doc.Dirty())

	out[0] = 'X'
	assert.Equal(t, byte('%'), data[0], "Bytes must not alias the source")
}

func TestManualRegenerationCoalesces(t *testing.T) {
	data := build(t, builder.NewBuilder().
		NewPage(100, 100).
		DrawRectangle(10, 10, 20, 20, builder.RectOptions{Fill: true}).
		DrawRectangle(40, 40, 20, 20, builder.RectOptions{Fill: true, EvenOdd: true}).
		Finish())
	doc := openBytes(t, data)
	page := doc.Pages()[0]
	page.SetRegenerationMode(RegenManual)
	contentsBefore := page.Dict().Value("Contents")

	for _, obj := range page.Objects() {
		require.NoError(t, obj.(*PathObject).SetFillAndStroke(FillNone, true))
	}
	assert.True(t, page.Pending())
	assert.False(t, doc.Dirty())
	assert.Equal(t, contentsBefore, page.Dict().Value("Contents"))

	objectsBefore := len(doc.Raw().Objects)
	require.NoError(t, page.Regenerate())
	assert.False(t, page.Pending())
	assert.True(t, doc.Dirty())
	assert.Equal(t, objectsBefore+1, len(doc.Raw().Objects), "one fresh content stream")

	again := saveAndReopen(t, doc)
	for _, obj := range again.Pages()[0].Objects() {
		path := obj.(*PathObject)
		assert.Equal(t, FillNone, path.FillMode())
		assert.True(t, path.Stroked())
	}
}

func TestAutomaticRegeneration(t *testing.T) {
	data := build(t, builder.NewBuilder().NewPage(100, 100).AppendContent("0 0 m 10 0 l 10 10 l b").Finish())
	doc := openBytes(t, data)
	page := doc.Pages()[0]
	path := page.Objects()[0].(*PathObject)
	assert.Equal(t, FillNonZero, path.FillMode())

	require.NoError(t, path.SetFillAndStroke(FillNone, true))
	assert.True(t, doc.Dirty())
	assert.False(t, page.Pending())

	ops := saveAndReopen(t, doc).Pages()[0].Operations()
	assert.Equal(t, "s", ops[len(ops)-1].Operator, "closing variant kept")
}

func TestPaintOperatorTable(t *testing.T) {
	cases := []struct {
		mode           FillMode
		stroke, closes bool
		want           string
	}{
		{FillNone, true, false, "S"},
		{FillNone, true, true, "s"},
		{FillNone, false, false, "n"},
		{FillNonZero, false, false, "f"},
		{FillNonZero, true, false, "B"},
		{FillNonZero, true, true, "b"},
		{FillEvenOdd, false, true, "f*"},
		{FillEvenOdd, true, false, "B*"},
		{FillEvenOdd, true, true, "b*"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, paintOperator(tc.mode, tc.stroke, tc.closes), "%v %v %v", tc.mode, tc.stroke, tc.closes)
	}
}

func TestSetStrokeColorScopesColour(t *testing.T) {
	data := build(t, builder.NewBuilder().NewPage(100, 100).AppendContent("10 10 20 20 re f 0 0 m 5 5 l S").Finish())
	doc := openBytes(t, data)
	page := doc.Pages()[0]
	page.SetRegenerationMode(RegenManual)
	rect := page.Objects()[0].(*PathObject)
	require.NoError(t, rect.SetFillAndStroke(FillNone, true))
	require.NoError(t, rect.SetStrokeColor(1, 0, 0))

	var names []string
	for _, op := range page.Operations() {
		names = append(names, op.Operator)
	}
	assert.Equal(t, []string{"q", "re", "RG", "S", "Q", "m", "l", "S"}, names)
}

func TestImageBitmapRoundTrip(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	copy(img.Pix, []uint8{0, 50, 100, 150, 200, 250})
	data := build(t, builder.NewBuilder().NewPage(100, 100).DrawImage(img, 0, 0, 30, 20, builder.ImageOptions{}).Finish())
	doc := openBytes(t, data)
	page := doc.Pages()[0]
	obj := page.Objects()[0].(*ImageObject)
	origRef := page.Resources().Value("XObject")

	bm, err := obj.Bitmap()
	require.NoError(t, err)
	assert.Equal(t, img.Pix, bm.(*image.Gray).Pix)

	err = obj.SetBitmap(image.NewRGBA(image.Rect(0, 0, 3, 2)))
	assert.ErrorIs(t, err, ErrBitmapMismatch)
	err = obj.SetBitmap(image.NewGray(image.Rect(0, 0, 4, 2)))
	assert.ErrorIs(t, err, ErrBitmapMismatch)

	blank := image.NewGray(image.Rect(0, 0, 3, 2))
	for i := range blank.Pix {
		blank.Pix[i] = 255
	}
	require.NoError(t, obj.SetBitmap(blank))
	assert.True(t, doc.Dirty())
	assert.NotEqual(t, origRef, page.Resources().Value("XObject"), "page got private resources")

	again := saveAndReopen(t, doc)
	bm, err = again.Pages()[0].Objects()[0].(*ImageObject).Bitmap()
	require.NoError(t, err)
	assert.Equal(t, blank.Pix, bm.(*image.Gray).Pix)
}

func TestInlineImageSetBitmap(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{B: 255, A: 255})
	data := build(t, builder.NewBuilder().NewPage(100, 100).DrawImage(img, 0, 0, 10, 10, builder.ImageOptions{Inline: true}).Finish())
	doc := openBytes(t, data)
	page := doc.Pages()[0]
	page.SetRegenerationMode(RegenManual)
	obj := page.Objects()[0].(*ImageObject)

	bm, err := obj.Bitmap()
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, bm.At(0, 0))

	white := image.NewRGBA(image.Rect(0, 0, 2, 1))
	for i := range white.Pix {
		white.Pix[i] = 255
	}
	require.NoError(t, obj.SetBitmap(white))
	assert.True(t, page.Pending())
	require.NoError(t, page.Regenerate())

	bm, err = saveAndReopen(t, doc).Pages()[0].Objects()[0].(*ImageObject).Bitmap()
	require.NoError(t, err)
	assert.Equal(t, white.Pix, bm.(*image.RGBA).Pix)
}

func TestJPEGImageDecodes(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	data := build(t, builder.NewBuilder().NewPage(100, 100).DrawImage(img, 0, 0, 8, 8, builder.ImageOptions{JPEG: true}).Finish())
	bm, err := openBytes(t, data).Pages()[0].Objects()[0].(*ImageObject).Bitmap()
	require.NoError(t, err)
	g, ok := bm.(*image.Gray)
	require.True(t, ok)
	assert.InDelta(t, 200, int(g.Pix[0]), 3)
}

func TestSamplesToImage(t *testing.T) {
	mask := imageInfo{width: 8, height: 1, bpc: 1, cs: DeviceGray, mask: true}
	img, err := samplesToImage([]byte{0xF0}, mask)
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 255, 255, 255, 0, 0, 0, 0}, img.(*image.Gray).Pix)

	mask.decode = []float64{1, 0}
	img, err = samplesToImage([]byte{0xF0}, mask)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 0, 0, 0, 255, 255, 255, 255}, img.(*image.Gray).Pix)

	twoBit := imageInfo{width: 4, height: 1, bpc: 2, cs: DeviceGray}
	img, err = samplesToImage([]byte{0x1B}, twoBit)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 85, 170, 255}, img.(*image.Gray).Pix)

	indexed := imageInfo{width: 2, height: 1, bpc: 8, cs: &ColorSpace{Family: "Indexed", N: 1, Base: DeviceRGB, HiVal: 1, Lookup: []byte{255, 0, 0, 0, 0, 255}}}
	img, err = samplesToImage([]byte{1, 0}, indexed)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 0, 255, 255, 255, 0, 0, 255}, img.(*image.RGBA).Pix)

	_, err = samplesToImage(nil, imageInfo{width: 1, height: 1, bpc: 3, cs: DeviceGray})
	assert.Error(t, err)
}

func TestColorSpaceConversion(t *testing.T) {
	r, g, b := DeviceCMYK.RGB([]float64{0, 1, 1, 0})
	assert.Equal(t, [3]float64{1, 0, 0}, [3]float64{r, g, b})
	sep := &ColorSpace{Family: "Separation", N: 1}
	assert.InDelta(t, 0.25, sep.Gray([]float64{0.75}), 1e-9)
	assert.InDelta(t, 1, DeviceRGB.Gray([]float64{1, 1, 1}), 1e-9)
	assert.Equal(t, []float64{0, 0, 0, 1}, DeviceCMYK.InitialColor())
}

func TestAnnotations(t *testing.T) {
	data := build(t, builder.NewBuilder().
		NewPage(200, 200).
		AddAnnotation(builder.Annotation{Subtype: "Popup", Rect: coords.Rect{LLX: 1, LLY: 2, URX: 30, URY: 40}, Flags: builder.FlagPrint}).
		AddAnnotation(builder.Annotation{Subtype: "FreeText", Rect: coords.Rect{URX: 10, URY: 10}, Contents: "secret"}).
		AddAnnotation(builder.Annotation{Subtype: "Redact", Rect: coords.Rect{URX: 10, URY: 10}}).
		AddAnnotation(builder.Annotation{Subtype: "Polygon", Rect: coords.Rect{URX: 10, URY: 10}}).
		Finish())
	doc := openBytes(t, data)
	annots := doc.Pages()[0].Annotations()
	require.Len(t, annots, 4)

	kinds := []AnnotationKind{AnnotPopup, AnnotFreeText, AnnotRedacted, AnnotUnsupported}
	for i, a := range annots {
		assert.Equal(t, kinds[i], a.Kind())
	}
	assert.Equal(t, "Polygon", annots[3].Subtype())
	assert.Equal(t, "secret", annots[1].Contents())

	popup := annots[0]
	assert.True(t, popup.Printed())
	assert.False(t, popup.Hidden())
	assert.Equal(t, Rectangle{LLX: 1, LLY: 2, URX: 30, URY: 40}, popup.Rect())

	popup.SetHidden(true)
	popup.SetPrinted(false)
	popup.SetRect(Rectangle{})
	assert.True(t, doc.Dirty())

	reopened := saveAndReopen(t, doc).Pages()[0].Annotations()[0]
	assert.True(t, reopened.Hidden())
	assert.False(t, reopened.Printed())
	assert.Equal(t, Rectangle{}, reopened.Rect())
	assert.Equal(t, FlagHidden, reopened.Flags())
}

func TestAnnotationKindString(t *testing.T) {
	assert.Equal(t, "StrikeOut", AnnotStrikeout.String())
	assert.Equal(t, "Unsupported", AnnotationKind(99).String())
}

func TestDecodeTextString(t *testing.T) {
	assert.Equal(t, "abc", DecodeTextString([]byte("abc")))
	assert.Equal(t, "é", DecodeTextString([]byte{0xFE, 0xFF, 0x00, 0xE9}))
	assert.Equal(t, "ü", DecodeTextString([]byte{0xEF, 0xBB, 0xBF, 0xC3, 0xBC}))
	assert.Equal(t, "•€", DecodeTextString([]byte{0x80, 0xA0}))
}

func TestDamagedContentIsOpaque(t *testing.T) {
	doc := raw.NewDocument("1.4")
	content := raw.NewStream(raw.Dict(), []byte("0 0 10 10 re f\nBT (never closed"))
	contentRef := doc.Add(content)
	page := raw.Dict()
	page.Put("Type", raw.NameLiteral("Page"))
	page.Put("Contents", contentRef)
	pageRef := doc.Add(page)
	pages := raw.Dict()
	pages.Put("Type", raw.NameLiteral("Pages"))
	pages.Put("Kids", raw.NewArray(pageRef))
	pages.Put("Count", raw.NumberInt(1))
	catalog := raw.Dict()
	catalog.Put("Type", raw.NameLiteral("Catalog"))
	catalog.Put("Pages", doc.Add(pages))
	doc.Trailer.Put("Root", doc.Add(catalog))
	data, err := writer.Bytes(context.Background(), doc, writer.Config{})
	require.NoError(t, err)

	sd := openBytes(t, data)
	p := sd.Pages()[0]
	assert.Equal(t, letter, p.MediaBox)
	assert.Empty(t, p.Objects())
	assert.Error(t, p.ContentErr())
	assert.ErrorIs(t, p.Regenerate(), ErrNotEditable)
	assert.NotEmpty(t, p.Operations(), "parsed prefix still renders")
}

func TestContentArrayIsConcatenated(t *testing.T) {
	doc := raw.NewDocument("1.4")
	enc, err := filters.Encode([]byte("0 0 m 10 0 l"))
	require.NoError(t, err)
	flate := raw.Dict()
	flate.Put("Filter", raw.NameLiteral("FlateDecode"))
	a := doc.Add(raw.NewStream(flate, enc))
	b := doc.Add(raw.NewStream(raw.Dict(), []byte("10 10 l S")))
	page := raw.Dict()
	page.Put("Type", raw.NameLiteral("Page"))
	page.Put("Contents", raw.NewArray(a, b))
	pageRef := doc.Add(page)
	pages := raw.Dict()
	pages.Put("Type", raw.NameLiteral("Pages"))
	pages.Put("Kids", raw.NewArray(pageRef))
	catalog := raw.Dict()
	catalog.Put("Pages", doc.Add(pages))
	doc.Trailer.Put("Root", doc.Add(catalog))
	data, err := writer.Bytes(context.Background(), doc, writer.Config{})
	require.NoError(t, err)

	objs := openBytes(t, data).Pages()[0].Objects()
	require.Len(t, objs, 1)
	assert.Equal(t, 3, objs[0].(*PathObject).SegmentCount())
}

func TestClosedDocument(t *testing.T) {
	data := build(t, builder.NewBuilder().NewPage(10, 10).Finish())
	doc := openBytes(t, data)
	doc.Close()
	_, err := doc.Bytes(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
