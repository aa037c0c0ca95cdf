// Package classify holds the predicates that decide whether a page object
// looks like a redaction artifact.
package classify

import (
	"image"
	"image/color"

	"github.com/lyricwulf/pdf-ruiner/coords"
)

const (
	// MinRectSize is the smallest width and height, in points, of a
	// redaction rectangle. Hairlines and rules fall below it.
	MinRectSize = 4.0
	// NearUniformRatio is the share of pixels the most common grey level
	// must reach for an image to count as blank.
	NearUniformRatio = 0.99
)

// Shape is the part of a path object the rectangle test looks at.
type Shape interface {
	SegmentCount() int
	Bounds() coords.Rect
}

// IsRedactionRectangle reports whether a path has the segment count of a
// rectangle (four or five, depending on an explicit close) and a bounding
// box at least MinRectSize in both directions. Angles are not checked.
func IsRedactionRectangle(s Shape) bool {
	n := s.SegmentCount()
	if n != 4 && n != 5 {
		return false
	}
	b := s.Bounds()
	return b.Width() >= MinRectSize && b.Height() >= MinRectSize
}

// Histogram counts the grey levels of img.
func Histogram(img image.Image) (hist [256]int, total int) {
	b := img.Bounds()
	switch v := img.(type) {
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := v.Pix[v.PixOffset(b.Min.X, y):v.PixOffset(b.Max.X, y)]
			for _, p := range row {
				hist[p]++
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				hist[color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y]++
			}
		}
	}
	return hist, b.Dx() * b.Dy()
}

// Dominant returns the most common grey level and the share of pixels that
// have it. An empty image yields (0, 0).
func Dominant(img image.Image) (level uint8, ratio float64) {
	hist, total := Histogram(img)
	if total <= 0 {
		return 0, 0
	}
	best := 0
	for i, n := range hist {
		if n > hist[best] {
			best = i
		}
	}
	return uint8(best), float64(hist[best]) / float64(total)
}

// DominantRatio is the share of the most common grey level.
func DominantRatio(img image.Image) float64 {
	_, r := Dominant(img)
	return r
}

// IsNearUniform reports whether one grey level covers at least
// NearUniformRatio of the image. Empty images are not near-uniform.
func IsNearUniform(img image.Image) bool {
	return DominantRatio(img) >= NearUniformRatio
}
