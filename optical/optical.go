// Package optical measures how much a page's rendered appearance changed.
//
// The score only counts pixels that got lighter (ink that was removed) and
// weights them by how densely changed their neighbourhood is, so scattered
// anti-aliasing noise scores near zero while a revealed block of content
// scores high.
package optical

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"strconv"
	"strings"

	"github.com/lyricwulf/pdf-ruiner/ir/semantic"
	"github.com/lyricwulf/pdf-ruiner/observability"
)

const (
	// DiffThreshold drops small per-pixel differences.
	DiffThreshold = 64
	// WeightedThreshold drops weighted differences in sparse areas.
	WeightedThreshold = 32
	// BlurRadius is the half width of the density window.
	BlurRadius = 2
)

// ErrDimensionMismatch is returned when two renders of a page differ in size.
var ErrDimensionMismatch = errors.New("rendered pages differ in size")

// Rasterizer renders one page to greyscale.
type Rasterizer interface {
	RenderPage(ctx context.Context, page *semantic.Page) (*image.Gray, error)
}

// PageScore is the score of one qualifying page.
type PageScore struct {
	Page  int // 1-based
	Value float64
}

// Scorer compares documents page by page.
type Scorer struct {
	r      Rasterizer
	logger observability.Logger
}

func NewScorer(r Rasterizer, logger observability.Logger) *Scorer {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Scorer{r: r, logger: logger}
}

// Score rasterizes the listed zero-based pages of both documents (every
// page when pages is nil) and returns the highest qualifying page score
// together with the qualifying 1-based page numbers, ascending and
// comma-joined. Pages scoring below minAverage do not qualify.
func (s *Scorer) Score(ctx context.Context, original, modified *semantic.Document, pages []int, minAverage float64) (float64, string, error) {
	scores, err := s.Pages(ctx, original, modified, pages, minAverage)
	if err != nil {
		return 0, "", err
	}
	max, list := Summarize(scores)
	return max, list, nil
}

// Pages returns the qualifying page scores in page order.
func (s *Scorer) Pages(ctx context.Context, original, modified *semantic.Document, pages []int, minAverage float64) ([]PageScore, error) {
	if pages == nil {
		pages = make([]int, modified.PageCount())
		for i := range pages {
			pages[i] = i
		}
	}
	var out []PageScore
	for _, idx := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, ok, err := s.page(ctx, original, modified, idx)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", idx+1, err)
		}
		if !ok {
			s.logger.Debug("page unchanged after threshold", observability.Int("page", idx+1))
			continue
		}
		if v < minAverage {
			s.logger.Debug("page below minimum", observability.Int("page", idx+1), observability.Float64("score", v))
			continue
		}
		out = append(out, PageScore{Page: idx + 1, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out, nil
}

func (s *Scorer) page(ctx context.Context, original, modified *semantic.Document, idx int) (float64, bool, error) {
	po, err := original.Page(idx)
	if err != nil {
		return 0, false, err
	}
	pm, err := modified.Page(idx)
	if err != nil {
		return 0, false, err
	}
	a, err := s.r.RenderPage(ctx, po)
	if err != nil {
		return 0, false, fmt.Errorf("render original: %w", err)
	}
	b, err := s.r.RenderPage(ctx, pm)
	if err != nil {
		return 0, false, fmt.Errorf("render modified: %w", err)
	}
	return ComparePage(a, b)
}

// Summarize returns the maximum score and the comma-joined page numbers.
func Summarize(scores []PageScore) (float64, string) {
	var max float64
	nums := make([]string, 0, len(scores))
	for _, s := range scores {
		if s.Value > max {
			max = s.Value
		}
		nums = append(nums, strconv.Itoa(s.Page))
	}
	return max, strings.Join(nums, ",")
}

// ComparePage scores one before/after pair. ok is false when no pixel
// survives the first threshold.
func ComparePage(original, modified *image.Gray) (score float64, ok bool, err error) {
	diff, err := Subtract(modified, original)
	if err != nil {
		return 0, false, err
	}
	Threshold(diff, DiffThreshold)
	if !HasNonZero(diff) {
		return 0, false, nil
	}
	density := BoxBlur(diff, BlurRadius)
	weighted, err := Multiply(diff, density)
	if err != nil {
		return 0, false, err
	}
	Threshold(weighted, WeightedThreshold)
	return Average(weighted) / 255, true, nil
}

func sameSize(a, b *image.Gray) error {
	if a.Bounds().Size() != b.Bounds().Size() {
		return fmt.Errorf("%w: %v vs %v", ErrDimensionMismatch, a.Bounds().Size(), b.Bounds().Size())
	}
	return nil
}

// Subtract returns max(0, a-b) per pixel.
func Subtract(a, b *image.Gray) (*image.Gray, error) {
	if err := sameSize(a, b); err != nil {
		return nil, err
	}
	return combine(a, b, func(x, y uint8) uint8 {
		if x > y {
			return x - y
		}
		return 0
	}), nil
}

// Multiply returns a*b/255 per pixel.
func Multiply(a, b *image.Gray) (*image.Gray, error) {
	if err := sameSize(a, b); err != nil {
		return nil, err
	}
	return combine(a, b, func(x, y uint8) uint8 {
		return uint8(uint16(x) * uint16(y) / 255)
	}), nil
}

func combine(a, b *image.Gray, fn func(x, y uint8) uint8) *image.Gray {
	size := a.Bounds().Size()
	out := image.NewGray(image.Rectangle{Max: size})
	for y := 0; y < size.Y; y++ {
		ra := a.Pix[a.PixOffset(a.Bounds().Min.X, a.Bounds().Min.Y+y):]
		rb := b.Pix[b.PixOffset(b.Bounds().Min.X, b.Bounds().Min.Y+y):]
		ro := out.Pix[y*out.Stride:]
		for x := 0; x < size.X; x++ {
			ro[x] = fn(ra[x], rb[x])
		}
	}
	return out
}

// Threshold zeroes every pixel below t, in place.
func Threshold(img *image.Gray, t uint8) {
	forEachRow(img, func(row []uint8) {
		for i, v := range row {
			if v < t {
				row[i] = 0
			}
		}
	})
}

// HasNonZero reports whether any pixel is set.
func HasNonZero(img *image.Gray) bool {
	found := false
	forEachRow(img, func(row []uint8) {
		for _, v := range row {
			if v != 0 {
				found = true
				return
			}
		}
	})
	return found
}

// Average is the mean pixel value, 0 for an empty image.
func Average(img *image.Gray) float64 {
	var sum uint64
	forEachRow(img, func(row []uint8) {
		for _, v := range row {
			sum += uint64(v)
		}
	})
	n := img.Bounds().Dx() * img.Bounds().Dy()
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

func forEachRow(img *image.Gray, fn func(row []uint8)) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		fn(img.Pix[off : off+b.Dx()])
	}
}

// BoxBlur returns the mean over a (2r+1)×(2r+1) window per pixel, clamping
// coordinates at the edges. It runs as two separable passes over running
// sums.
func BoxBlur(img *image.Gray, r int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}
	if r <= 0 {
		for y := 0; y < h; y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+w], img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return out
	}
	clamp := func(v, n int) int {
		if v < 0 {
			return 0
		}
		if v >= n {
			return n - 1
		}
		return v
	}
	span := 2*r + 1
	tmp := make([]uint32, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		var sum uint32
		for k := -r; k <= r; k++ {
			sum += uint32(row[clamp(k, w)])
		}
		for x := 0; x < w; x++ {
			tmp[y*w+x] = sum
			sum += uint32(row[clamp(x+r+1, w)])
			sum -= uint32(row[clamp(x-r, w)])
		}
	}
	area := uint32(span * span)
	for x := 0; x < w; x++ {
		var sum uint32
		for k := -r; k <= r; k++ {
			sum += tmp[clamp(k, h)*w+x]
		}
		for y := 0; y < h; y++ {
			out.Pix[y*out.Stride+x] = uint8((sum + area/2) / area)
			sum += tmp[clamp(y+r+1, h)*w+x]
			sum -= tmp[clamp(y-r, h)*w+x]
		}
	}
	return out
}
