package render

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/lyricwulf/pdf-ruiner/contentstream"
	"github.com/lyricwulf/pdf-ruiner/coords"
)

// pt is a device space point.
type pt struct{ x, y float64 }

// subpath is a flattened polyline in device space.
type subpath struct {
	pts    []pt
	closed bool
}

// pathBuilder collects the current path, flattening curves as they arrive.
type pathBuilder struct {
	subs  []subpath
	cur   pt
	start pt
	open  bool
}

func (b *pathBuilder) reset() {
	b.subs = b.subs[:0]
	b.open = false
}

func (b *pathBuilder) empty() bool { return len(b.subs) == 0 }

func (b *pathBuilder) moveTo(p pt) {
	b.subs = append(b.subs, subpath{pts: []pt{p}})
	b.cur, b.start, b.open = p, p, true
}

func (b *pathBuilder) lineTo(p pt) {
	if !b.open {
		b.moveTo(b.cur)
	}
	last := &b.subs[len(b.subs)-1]
	last.pts = append(last.pts, p)
	b.cur = p
}

func (b *pathBuilder) cubeTo(c1, c2, p pt) {
	if !b.open {
		b.moveTo(b.cur)
	}
	p0 := b.cur
	n := curveSteps(p0, c1, c2, p)
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		mt := 1 - t
		a, bb, c, d := mt*mt*mt, 3*mt*mt*t, 3*mt*t*t, t*t*t
		b.lineTo(pt{
			x: a*p0.x + bb*c1.x + c*c2.x + d*p.x,
			y: a*p0.y + bb*c1.y + c*c2.y + d*p.y,
		})
	}
}

func (b *pathBuilder) quadTo(c, p pt) {
	p0 := b.cur
	// Degree elevation keeps one flattening routine.
	c1 := pt{p0.x + 2.0/3*(c.x-p0.x), p0.y + 2.0/3*(c.y-p0.y)}
	c2 := pt{p.x + 2.0/3*(c.x-p.x), p.y + 2.0/3*(c.y-p.y)}
	b.cubeTo(c1, c2, p)
}

func (b *pathBuilder) closePath() {
	if !b.open || len(b.subs) == 0 {
		return
	}
	b.subs[len(b.subs)-1].closed = true
	b.cur = b.start
	b.open = false
}

// rect adds a closed rectangle given in user space.
func (b *pathBuilder) rect(m coords.Matrix, x, y, w, h float64) {
	b.moveTo(devPoint(m, x, y))
	b.lineTo(devPoint(m, x+w, y))
	b.lineTo(devPoint(m, x+w, y+h))
	b.lineTo(devPoint(m, x, y+h))
	b.closePath()
}

func devPoint(m coords.Matrix, x, y float64) pt {
	p := m.Transform(coords.Point{X: x, Y: y})
	return pt{p.X, p.Y}
}

// curveSteps picks a segment count from the control polygon length, aiming
// at roughly two device pixels per segment.
func curveSteps(p0, c1, c2, p3 pt) int {
	l := dist(p0, c1) + dist(c1, c2) + dist(c2, p3)
	n := int(math.Ceil(l / 2))
	if n < 2 {
		n = 2
	}
	if n > 64 {
		n = 64
	}
	return n
}

func dist(a, b pt) float64 { return math.Hypot(b.x-a.x, b.y-a.y) }

// bounds returns the pixel rectangle covering the subpaths.
func bounds(subs []subpath) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, s := range subs {
		for _, p := range s.pts {
			minX, maxX = math.Min(minX, p.x), math.Max(maxX, p.x)
			minY, maxY = math.Min(minY, p.y), math.Max(maxY, p.y)
		}
	}
	if minX > maxX {
		return image.Rectangle{}
	}
	// Keep far-away geometry from overflowing int conversion.
	const lim = 1 << 24
	clampF := func(v float64) float64 { return math.Max(-lim, math.Min(lim, v)) }
	return image.Rect(
		int(math.Floor(clampF(minX))), int(math.Floor(clampF(minY))),
		int(math.Ceil(clampF(maxX)))+1, int(math.Ceil(clampF(maxY)))+1,
	)
}

// fill paints subs onto the canvas through src, limited to clip. The
// rasterizer only implements the nonzero rule; even-odd fills are composed
// from per-subpath masks with an exclusive-or, which is exact for subpaths
// that do not intersect themselves.
func (rn *run) fill(subs []subpath, evenOdd bool, src image.Image) {
	area := bounds(subs).Intersect(rn.gs.clip)
	if area.Empty() {
		return
	}
	var mask *image.Alpha
	if evenOdd && len(subs) > 1 {
		for i := range subs {
			m := rn.rasterize(subs[i:i+1], area)
			if mask == nil {
				mask = m
				continue
			}
			for j, v := range m.Pix {
				a, b := int(mask.Pix[j]), int(v)
				mask.Pix[j] = uint8(a + b - 2*a*b/255)
			}
		}
	} else {
		mask = rn.rasterize(subs, area)
	}
	draw.DrawMask(rn.canvas, area, src, image.Point{}, mask, image.Point{}, draw.Over)
}

// rasterize draws subs into a coverage mask whose origin is frame.Min.
// Geometry is clipped to a margin around the frame first, so huge paths
// cost no more than the visible part.
func (rn *run) rasterize(subs []subpath, frame image.Rectangle) *image.Alpha {
	w, h := frame.Dx(), frame.Dy()
	z := &rn.r.z
	z.Reset(w, h)
	ox, oy := float64(frame.Min.X), float64(frame.Min.Y)
	win := [4]float64{ox - 2, oy - 2, float64(frame.Max.X) + 2, float64(frame.Max.Y) + 2}
	for _, s := range subs {
		pts := clipPolygon(s.pts, win)
		if len(pts) < 3 {
			continue
		}
		z.MoveTo(float32(pts[0].x-ox), float32(pts[0].y-oy))
		for _, p := range pts[1:] {
			z.LineTo(float32(p.x-ox), float32(p.y-oy))
		}
		z.ClosePath()
	}
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

// clipPolygon clips a closed polygon to the window {minX, minY, maxX, maxY}
// (Sutherland-Hodgman). Winding inside the window is preserved.
func clipPolygon(pts []pt, win [4]float64) []pt {
	inside := []func(p pt) bool{
		func(p pt) bool { return p.x >= win[0] },
		func(p pt) bool { return p.y >= win[1] },
		func(p pt) bool { return p.x <= win[2] },
		func(p pt) bool { return p.y <= win[3] },
	}
	cross := func(edge int, a, b pt) pt {
		var t float64
		switch edge {
		case 0:
			t = (win[0] - a.x) / (b.x - a.x)
		case 1:
			t = (win[1] - a.y) / (b.y - a.y)
		case 2:
			t = (win[2] - a.x) / (b.x - a.x)
		default:
			t = (win[3] - a.y) / (b.y - a.y)
		}
		return pt{a.x + (b.x-a.x)*t, a.y + (b.y-a.y)*t}
	}
	out := pts
	for edge, in := range inside {
		if len(out) == 0 {
			break
		}
		src := out
		out = make([]pt, 0, len(src)+4)
		prev := src[len(src)-1]
		for _, cur := range src {
			switch {
			case in(cur) && !in(prev):
				out = append(out, cross(edge, prev, cur), cur)
			case in(cur):
				out = append(out, cur)
			case in(prev):
				out = append(out, cross(edge, prev, cur))
			}
			prev = cur
		}
	}
	return out
}

// strokeOutline turns the subpaths into polygons covering the stroke. All
// polygons are wound counter-clockwise so the nonzero union has no holes.
func strokeOutline(subs []subpath, halfWidth float64, lineCap contentstream.LineCap, join contentstream.LineJoin) []subpath {
	var out []subpath
	add := func(pts ...pt) {
		if signedArea(pts) < 0 {
			for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
				pts[i], pts[j] = pts[j], pts[i]
			}
		}
		out = append(out, subpath{pts: pts, closed: true})
	}
	for _, s := range subs {
		pts := dedupe(s.pts)
		if s.closed && len(pts) > 1 && pts[0] == pts[len(pts)-1] {
			pts = pts[:len(pts)-1]
		}
		if len(pts) == 1 {
			// A lone point shows only with round or square caps.
			switch lineCap {
			case contentstream.LineCapRound:
				add(disc(pts[0], halfWidth)...)
			case contentstream.LineCapSquare:
				p := pts[0]
				add(pt{p.x - halfWidth, p.y - halfWidth}, pt{p.x + halfWidth, p.y - halfWidth},
					pt{p.x + halfWidth, p.y + halfWidth}, pt{p.x - halfWidth, p.y + halfWidth})
			}
			continue
		}
		n := len(pts)
		segs := n - 1
		if s.closed {
			segs = n
		}
		for i := 0; i < segs; i++ {
			a, b := pts[i], pts[(i+1)%n]
			nx, ny := normal(a, b, halfWidth)
			if !s.closed && lineCap == contentstream.LineCapSquare {
				dx, dy := ny, -nx
				if i == 0 {
					a = pt{a.x - dx, a.y - dy}
				}
				if i == segs-1 {
					b = pt{b.x + dx, b.y + dy}
				}
			}
			add(pt{a.x + nx, a.y + ny}, pt{b.x + nx, b.y + ny}, pt{b.x - nx, b.y - ny}, pt{a.x - nx, a.y - ny})
		}
		// joins at interior vertices, and at the start of closed subpaths
		for i := 0; i < n; i++ {
			if !s.closed && (i == 0 || i == n-1) {
				continue
			}
			prev, v, next := pts[(i-1+n)%n], pts[i], pts[(i+1)%n]
			if join == contentstream.LineJoinRound {
				add(disc(v, halfWidth)...)
				continue
			}
			n1x, n1y := normal(prev, v, halfWidth)
			n2x, n2y := normal(v, next, halfWidth)
			add(pt{v.x + n1x, v.y + n1y}, pt{v.x + n2x, v.y + n2y}, pt{v.x - n1x, v.y - n1y}, pt{v.x - n2x, v.y - n2y})
		}
		if !s.closed && lineCap == contentstream.LineCapRound {
			add(disc(pts[0], halfWidth)...)
			add(disc(pts[n-1], halfWidth)...)
		}
	}
	return out
}

func dedupe(pts []pt) []pt {
	out := make([]pt, 0, len(pts))
	for _, p := range pts {
		if len(out) > 0 && dist(out[len(out)-1], p) < 1e-9 {
			continue
		}
		out = append(out, p)
	}
	return out
}

// normal returns the left normal of a→b scaled to length hw.
func normal(a, b pt, hw float64) (float64, float64) {
	d := dist(a, b)
	if d == 0 {
		return 0, 0
	}
	return -(b.y - a.y) / d * hw, (b.x - a.x) / d * hw
}

func disc(c pt, r float64) []pt {
	const sides = 12
	out := make([]pt, sides)
	for i := range out {
		a := 2 * math.Pi * float64(i) / sides
		out[i] = pt{c.x + r*math.Cos(a), c.y + r*math.Sin(a)}
	}
	return out
}

func signedArea(pts []pt) float64 {
	s := 0.0
	for i := range pts {
		j := (i + 1) % len(pts)
		s += pts[i].x*pts[j].y - pts[j].x*pts[i].y
	}
	return s / 2
}

// dashed splits subpaths along the dash pattern, lengths in device units.
func dashed(subs []subpath, pattern []float64, phase float64) []subpath {
	total := 0.0
	for _, v := range pattern {
		if v < 0 {
			return subs
		}
		total += v
	}
	if len(pattern) == 0 || total <= 0 {
		return subs
	}
	if len(pattern)%2 == 1 {
		pattern = append(append([]float64(nil), pattern...), pattern...)
	}
	var out []subpath
	for _, s := range subs {
		pts := s.pts
		if s.closed && len(pts) > 0 {
			pts = append(append([]pt(nil), pts...), pts[0])
		}
		idx, left := 0, pattern[0]
		for ph := math.Mod(phase, total); ph > 0; {
			if ph < left {
				left -= ph
				break
			}
			ph -= left
			idx = (idx + 1) % len(pattern)
			left = pattern[idx]
		}
		on := idx%2 == 0
		var cur []pt
		if on && len(pts) > 0 {
			cur = []pt{pts[0]}
		}
		for i := 1; i < len(pts); i++ {
			a, b := pts[i-1], pts[i]
			seg := dist(a, b)
			pos := 0.0
			for seg-pos > left {
				pos += left
				t := pos / seg
				p := pt{a.x + (b.x-a.x)*t, a.y + (b.y-a.y)*t}
				if on {
					out = append(out, subpath{pts: append(cur, p)})
					cur = nil
				} else {
					cur = []pt{p}
				}
				on = !on
				idx = (idx + 1) % len(pattern)
				left = pattern[idx]
			}
			left -= seg - pos
			if on {
				cur = append(cur, b)
			}
		}
		if on && len(cur) > 1 {
			out = append(out, subpath{pts: cur})
		}
	}
	return out
}
