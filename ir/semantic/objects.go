package semantic

import (
	"github.com/lyricwulf/pdf-ruiner/contentstream"
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
)

// PageObject is one drawable element of a page: *PathObject, *ImageObject or
// *OtherObject.
type PageObject interface {
	// Bounds is the bounding box in default user space.
	Bounds() Rectangle
	// Page is the page the object is drawn on.
	Page() *Page
	pageObject()
}

// FillMode is the fill rule applied when a path is painted.
type FillMode int

const (
	FillNone FillMode = iota
	FillNonZero
	FillEvenOdd
)

func (m FillMode) String() string {
	switch m {
	case FillNone:
		return "none"
	case FillNonZero:
		return "nonzero"
	case FillEvenOdd:
		return "evenodd"
	}
	return "unknown"
}

// PathObject is a constructed path together with the operator painting it.
type PathObject struct {
	page  *Page
	trace contentstream.Traced
}

func (*PathObject) pageObject() {}

func (o *PathObject) Page() *Page { return o.page }

func (o *PathObject) Bounds() Rectangle { return o.trace.BBox }

// SegmentCount returns the number of path construction segments: one per m,
// l, c, v, y and h, five per re.
func (o *PathObject) SegmentCount() int { return o.trace.Segments }

// Path returns the segments in user space.
func (o *PathObject) Path() contentstream.Path { return o.trace.Path }

// Clip reports whether the path also sets the clipping path.
func (o *PathObject) Clip() bool { return o.trace.Clip }

func (o *PathObject) paintOperator() string { return o.page.ops[o.trace.End].Operator }

func (o *PathObject) FillMode() FillMode {
	switch o.paintOperator() {
	case "f", "F", "B", "b":
		return FillNonZero
	case "f*", "B*", "b*":
		return FillEvenOdd
	}
	return FillNone
}

func (o *PathObject) Stroked() bool {
	switch o.paintOperator() {
	case "S", "s", "B", "B*", "b", "b*":
		return true
	}
	return false
}

// SetFillAndStroke replaces the painting operator so that the path is filled
// with mode and stroked when stroke is set. Closing variants (s, b, b*) keep
// closing the path.
func (o *PathObject) SetFillAndStroke(mode FillMode, stroke bool) error {
	current := o.paintOperator()
	closing := current == "s" || current == "b" || current == "b*"
	next := paintOperator(mode, stroke, closing)
	if next == current {
		return nil
	}
	o.page.ops[o.trace.End] = contentstream.Operation{Operator: next}
	return o.page.contentChanged()
}

// SetStrokeColor strokes the path in the given RGB colour. The colour change
// is scoped with q/Q unless the path also clips, where Q would drop the clip.
func (o *PathObject) SetStrokeColor(r, g, b float64) error {
	end := o.page.insertAt(o.trace.End)
	end.before = []contentstream.Operation{{
		Operator: "RG",
		Operands: []raw.Object{raw.Number(r), raw.Number(g), raw.Number(b)},
	}}
	if !o.trace.Clip {
		o.page.insertAt(o.trace.Start).before = []contentstream.Operation{{Operator: "q"}}
		end.after = []contentstream.Operation{{Operator: "Q"}}
	}
	return o.page.contentChanged()
}

func paintOperator(mode FillMode, stroke, closing bool) string {
	switch {
	case mode == FillNone && stroke && closing:
		return "s"
	case mode == FillNone && stroke:
		return "S"
	case mode == FillNone:
		return "n"
	case mode == FillEvenOdd && stroke && closing:
		return "b*"
	case mode == FillEvenOdd && stroke:
		return "B*"
	case mode == FillEvenOdd:
		return "f*"
	case stroke && closing:
		return "b"
	case stroke:
		return "B"
	}
	return "f"
}

// OtherObject is text, a form XObject, a shading or anything else the
// redaction passes do not edit.
type OtherObject struct {
	page  *Page
	trace contentstream.Traced
	kind  string
}

func (*OtherObject) pageObject() {}

func (o *OtherObject) Page() *Page { return o.page }

func (o *OtherObject) Bounds() Rectangle { return o.trace.BBox }

// Kind names the object: "text", "form", "shading" or "xobject".
func (o *OtherObject) Kind() string { return o.kind }
