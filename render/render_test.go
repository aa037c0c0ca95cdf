package render

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyricwulf/pdf-ruiner/builder"
	"github.com/lyricwulf/pdf-ruiner/contentstream"
	"github.com/lyricwulf/pdf-ruiner/coords"
	"github.com/lyricwulf/pdf-ruiner/ir/semantic"
	"github.com/lyricwulf/pdf-ruiner/observability"
)

func renderFirst(t *testing.T, b builder.PDFBuilder, cfg Config) *image.Gray {
	t.Helper()
	data, err := b.Bytes(context.Background())
	require.NoError(t, err)
	doc, err := semantic.Open(context.Background(), data, semantic.Options{})
	require.NoError(t, err)
	page, err := doc.Page(0)
	require.NoError(t, err)
	img, err := New(cfg, observability.NopLogger{}).RenderPage(context.Background(), page)
	require.NoError(t, err)
	return img
}

func gray(img *image.Gray, x, y int) uint8 { return img.GrayAt(x, y).Y }

func darkPixels(img *image.Gray) int {
	n := 0
	for _, v := range img.Pix {
		if v < 128 {
			n++
		}
	}
	return n
}

func TestBlankPageIsWhite(t *testing.T) {
	img := renderFirst(t, builder.NewBuilder().NewPage(100, 50).Finish(), Config{})
	assert.Equal(t, image.Rect(0, 0, 100, 50), img.Bounds())
	assert.Zero(t, darkPixels(img))
}

func TestFilledRectangle(t *testing.T) {
	b := builder.NewBuilder().NewPage(100, 100).
		DrawRectangle(10, 10, 30, 20, builder.RectOptions{Fill: true, FillColor: builder.Black}).
		Finish()
	img := renderFirst(t, b, Config{})
	// y grows downwards: user y 10..30 is rows 70..90
	assert.Equal(t, uint8(0), gray(img, 20, 80))
	assert.Equal(t, uint8(255), gray(img, 20, 20))
	assert.Equal(t, uint8(255), gray(img, 50, 80))
	assert.InDelta(t, 600, darkPixels(img), 80)
}

func TestColourIsPaintedAsLuma(t *testing.T) {
	b := builder.NewBuilder().NewPage(20, 20).
		DrawRectangle(0, 0, 20, 20, builder.RectOptions{Fill: true, FillColor: builder.RGB(1, 0, 0)}).
		Finish()
	img := renderFirst(t, b, Config{})
	v := gray(img, 10, 10)
	assert.Greater(t, v, uint8(40))
	assert.Less(t, v, uint8(120))
}

func TestStrokedLine(t *testing.T) {
	b := builder.NewBuilder().NewPage(100, 100).
		DrawLine(10, 50, 90, 50, builder.LineOptions{StrokeColor: builder.Black, LineWidth: 4}).
		Finish()
	img := renderFirst(t, b, Config{})
	assert.Equal(t, uint8(0), gray(img, 50, 50))
	assert.Equal(t, uint8(255), gray(img, 50, 40))
	assert.Equal(t, uint8(255), gray(img, 95, 50))
}

func TestDashedLineLeavesGaps(t *testing.T) {
	solid := renderFirst(t, builder.NewBuilder().NewPage(100, 20).
		DrawLine(0, 10, 100, 10, builder.LineOptions{StrokeColor: builder.Black, LineWidth: 4}).
		Finish(), Config{})
	dashed := renderFirst(t, builder.NewBuilder().NewPage(100, 20).
		DrawLine(0, 10, 100, 10, builder.LineOptions{StrokeColor: builder.Black, LineWidth: 4, DashPattern: []float64{10}}).
		Finish(), Config{})
	assert.Less(t, darkPixels(dashed), darkPixels(solid)*3/4)
	assert.Greater(t, darkPixels(dashed), darkPixels(solid)/4)
}

func TestResolutionScales(t *testing.T) {
	b := builder.NewBuilder().NewPage(72, 36).
		DrawRectangle(0, 0, 36, 36, builder.RectOptions{Fill: true, FillColor: builder.Black}).
		Finish()
	img := renderFirst(t, b, Config{DPI: 144})
	assert.Equal(t, image.Rect(0, 0, 144, 72), img.Bounds())
	assert.Equal(t, uint8(0), gray(img, 70, 36))
	assert.Equal(t, uint8(255), gray(img, 74, 36))
}

func TestRotationSwapsAxes(t *testing.T) {
	b := builder.NewBuilder().NewPage(100, 50).
		DrawRectangle(0, 0, 10, 10, builder.RectOptions{Fill: true, FillColor: builder.Black}).
		SetRotation(90).
		Finish()
	img := renderFirst(t, b, Config{})
	require.Equal(t, image.Rect(0, 0, 50, 100), img.Bounds())
	// The lower left corner of the unrotated page lands top left.
	assert.Equal(t, uint8(0), gray(img, 5, 5))
	assert.Equal(t, uint8(255), gray(img, 45, 95))
}

func TestCropBoxOffsetsOrigin(t *testing.T) {
	b := builder.NewBuilder().NewPage(200, 200).
		SetCropBox(coords.NewRect(100, 100, 200, 200)).
		DrawRectangle(100, 100, 10, 10, builder.RectOptions{Fill: true, FillColor: builder.Black}).
		Finish()
	img := renderFirst(t, b, Config{})
	require.Equal(t, image.Rect(0, 0, 100, 100), img.Bounds())
	assert.Equal(t, uint8(0), gray(img, 5, 95))
}

func TestClipLimitsPainting(t *testing.T) {
	b := builder.NewBuilder().NewPage(100, 100).
		AppendContent("q 0 0 50 100 re W n 0 g 0 0 100 100 re f Q").
		Finish()
	img := renderFirst(t, b, Config{})
	assert.Equal(t, uint8(0), gray(img, 25, 50))
	assert.Equal(t, uint8(255), gray(img, 75, 50))
}

func TestGraphicsStateRestore(t *testing.T) {
	b := builder.NewBuilder().NewPage(100, 100).
		AppendContent("q 1 g Q 0 0 10 10 re f").
		Finish()
	img := renderFirst(t, b, Config{})
	assert.Equal(t, uint8(0), gray(img, 5, 95))
}

func TestPaintSourceCarriesAlpha(t *testing.T) {
	_, _, _, a := paintSource(0, 1).At(0, 0).RGBA()
	assert.Equal(t, uint32(0xFFFF), a)
	_, _, _, a = paintSource(0, 0.5).At(0, 0).RGBA()
	assert.InDelta(t, 0x8000, a, 0x200)
}

func TestEvenOddLeavesHole(t *testing.T) {
	b := builder.NewBuilder().NewPage(100, 100).
		AppendContent("0 g 10 10 80 80 re 30 30 40 40 re f*").
		Finish()
	img := renderFirst(t, b, Config{})
	assert.Equal(t, uint8(0), gray(img, 20, 50))
	assert.Equal(t, uint8(255), gray(img, 50, 50))
}

func TestTextDarkensPixels(t *testing.T) {
	b := builder.NewBuilder().NewPage(200, 50).
		DrawText("Hello", 10, 20, builder.TextOptions{FontSize: 24}).
		Finish()
	img := renderFirst(t, b, Config{})
	assert.Greater(t, darkPixels(img), 100)

	invisible := renderFirst(t, builder.NewBuilder().NewPage(200, 50).
		DrawText("Hello", 10, 20, builder.TextOptions{FontSize: 24, RenderMode: contentstream.TextInvisible}).
		Finish(), Config{})
	assert.Zero(t, darkPixels(invisible))
}

func TestImageIsDrawn(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = 0
	}
	for _, inline := range []bool{false, true} {
		b := builder.NewBuilder().NewPage(100, 100).
			DrawImage(src, 20, 20, 40, 40, builder.ImageOptions{Inline: inline}).
			Finish()
		img := renderFirst(t, b, Config{})
		assert.Equal(t, uint8(0), gray(img, 40, 60), "inline=%v", inline)
		assert.Equal(t, uint8(255), gray(img, 10, 10), "inline=%v", inline)
	}
}

func TestAnnotationAppearance(t *testing.T) {
	b := builder.NewBuilder().NewPage(100, 100).
		AddAnnotation(builder.Annotation{
			Subtype:    "Square",
			Rect:       coords.NewRect(50, 50, 70, 70),
			Flags:      builder.FlagPrint,
			Appearance: "0 g 0 0 20 20 re f",
		}).
		Finish()
	img := renderFirst(t, b, Config{})
	assert.Equal(t, uint8(0), gray(img, 60, 40))
	assert.Equal(t, uint8(255), gray(img, 20, 80))

	skipped := renderFirst(t, b, Config{SkipAnnotations: true})
	assert.Zero(t, darkPixels(skipped))
}

func TestHiddenAnnotationIsNotDrawn(t *testing.T) {
	b := builder.NewBuilder().NewPage(100, 100).
		AddAnnotation(builder.Annotation{
			Subtype:    "Square",
			Rect:       coords.NewRect(50, 50, 70, 70),
			Flags:      builder.FlagPrint | builder.FlagHidden,
			Appearance: "0 g 0 0 20 20 re f",
		}).
		Finish()
	assert.Zero(t, darkPixels(renderFirst(t, b, Config{})))
}

func TestFormXObject(t *testing.T) {
	// Annotation appearances exercise forms with BBox clipping: the
	// appearance paints beyond its box and is clipped to it.
	b := builder.NewBuilder().NewPage(100, 100).
		AddAnnotation(builder.Annotation{
			Subtype:    "Square",
			Rect:       coords.NewRect(10, 10, 30, 30),
			Flags:      builder.FlagPrint,
			Appearance: "0 g -50 -50 200 200 re f",
		}).
		Finish()
	img := renderFirst(t, b, Config{})
	assert.Equal(t, uint8(0), gray(img, 20, 80))
	assert.Equal(t, uint8(255), gray(img, 50, 50))
}

func TestInvalidDPI(t *testing.T) {
	data, err := builder.NewBuilder().NewPage(10, 10).Finish().Bytes(context.Background())
	require.NoError(t, err)
	doc, err := semantic.Open(context.Background(), data, semantic.Options{})
	require.NoError(t, err)
	page, _ := doc.Page(0)
	_, err = New(Config{DPI: -1}, nil).RenderPage(context.Background(), page)
	assert.ErrorIs(t, err, ErrInvalidDPI)
	_, err = New(Config{DPI: 72 * 3000}, nil).RenderPage(context.Background(), page)
	assert.ErrorIs(t, err, ErrPageTooLarge)
}

func TestPageMatrixCorners(t *testing.T) {
	box := coords.NewRect(0, 0, 100, 50)
	cases := map[int][2]coords.Point{
		0:   {{X: 0, Y: 50}, {X: 100, Y: 0}},
		90:  {{X: 0, Y: 0}, {X: 50, Y: 100}},
		180: {{X: 100, Y: 0}, {X: 0, Y: 50}},
		270: {{X: 50, Y: 100}, {X: 0, Y: 0}},
	}
	for rot, want := range cases {
		m := pageMatrix(box, rot, 1)
		ll := m.Transform(coords.Point{X: 0, Y: 0})
		ur := m.Transform(coords.Point{X: 100, Y: 50})
		assert.InDelta(t, want[0].X, ll.X, 1e-9, "rot %d", rot)
		assert.InDelta(t, want[0].Y, ll.Y, 1e-9, "rot %d", rot)
		assert.InDelta(t, want[1].X, ur.X, 1e-9, "rot %d", rot)
		assert.InDelta(t, want[1].Y, ur.Y, 1e-9, "rot %d", rot)
	}
}
