package contentstream

import (
	"github.com/lyricwulf/pdf-ruiner/coords"
)

// ObjectKind classifies a traced run of operations.
type ObjectKind int

const (
	KindPath ObjectKind = iota
	KindText
	KindXObject
	KindInlineImage
	KindShading
)

func (k ObjectKind) String() string {
	switch k {
	case KindPath:
		return "path"
	case KindText:
		return "text"
	case KindXObject:
		return "xobject"
	case KindInlineImage:
		return "inline-image"
	case KindShading:
		return "shading"
	}
	return "unknown"
}

// Traced is one page object found in an operation list. Start and End are
// inclusive operation indices; for paths End is the painting operator.
type Traced struct {
	Kind  ObjectKind
	Start int
	End   int
	CTM   coords.Matrix
	BBox  coords.Rect

	// paths only, in user space
	Path     Path
	Segments int
	Clip     bool

	// XObject resource name for Do
	Name string
}

// Tracer executes operations virtually, tracking the CTM, and reports the
// page objects they draw.
type Tracer struct{}

func NewTracer() *Tracer {
	return &Tracer{}
}

// Trace returns the objects in drawing order. Paths ended with n (clip only)
// draw nothing and are not reported.
func (t *Tracer) Trace(ops []Operation) []Traced {
	var out []Traced
	ctm := coords.Identity()
	var stack []coords.Matrix

	var path Path
	var cur *Subpath
	segments := 0
	pathStart := -1
	clip := false
	var start coords.Point // current subpath origin, user space
	var lastLocal coords.Point
	textStart := -1

	resetPath := func() {
		path = Path{}
		cur = nil
		segments = 0
		pathStart = -1
		clip = false
	}
	begin := func(i int) {
		if pathStart < 0 {
			pathStart = i
		}
	}
	addPoint := func(p PathPoint) {
		if cur == nil {
			path.Subpaths = append(path.Subpaths, Subpath{})
			cur = &path.Subpaths[len(path.Subpaths)-1]
		}
		cur.Points = append(cur.Points, p)
	}
	moveTo := func(x, y float64) {
		lastLocal = coords.Point{X: x, Y: y}
		start = ctm.Transform(lastLocal)
		path.Subpaths = append(path.Subpaths, Subpath{})
		cur = &path.Subpaths[len(path.Subpaths)-1]
		cur.Points = append(cur.Points, PathPoint{X: start.X, Y: start.Y, Type: PathMoveTo})
	}
	lineTo := func(x, y float64) {
		lastLocal = coords.Point{X: x, Y: y}
		p := ctm.Transform(lastLocal)
		addPoint(PathPoint{X: p.X, Y: p.Y, Type: PathLineTo})
	}
	curveTo := func(c1, c2, p coords.Point) {
		a, b := ctm.Transform(c1), ctm.Transform(c2)
		lastLocal = p
		end := ctm.Transform(p)
		addPoint(PathPoint{X: end.X, Y: end.Y, Type: PathCurveTo, Control1X: a.X, Control1Y: a.Y, Control2X: b.X, Control2Y: b.Y})
	}
	closePath := func() {
		if cur != nil {
			cur.Closed = true
			cur.Points = append(cur.Points, PathPoint{X: start.X, Y: start.Y, Type: PathClose})
			cur = nil
		}
	}

	for i, op := range ops {
		nums, numeric := op.Numbers()
		switch op.Operator {
		case "q":
			stack = append(stack, ctm)
		case "Q":
			if n := len(stack); n > 0 {
				ctm = stack[n-1]
				stack = stack[:n-1]
			}
		case "cm":
			if numeric && len(nums) == 6 {
				ctm = coords.Matrix{nums[0], nums[1], nums[2], nums[3], nums[4], nums[5]}.Multiply(ctm)
			}

		case "m":
			if numeric && len(nums) == 2 {
				begin(i)
				moveTo(nums[0], nums[1])
				segments++
			}
		case "l":
			if numeric && len(nums) == 2 {
				begin(i)
				lineTo(nums[0], nums[1])
				segments++
			}
		case "c":
			if numeric && len(nums) == 6 {
				begin(i)
				curveTo(coords.Point{X: nums[0], Y: nums[1]}, coords.Point{X: nums[2], Y: nums[3]}, coords.Point{X: nums[4], Y: nums[5]})
				segments++
			}
		case "v":
			if numeric && len(nums) == 4 {
				begin(i)
				curveTo(lastLocal, coords.Point{X: nums[0], Y: nums[1]}, coords.Point{X: nums[2], Y: nums[3]})
				segments++
			}
		case "y":
			if numeric && len(nums) == 4 {
				begin(i)
				end := coords.Point{X: nums[2], Y: nums[3]}
				curveTo(coords.Point{X: nums[0], Y: nums[1]}, end, end)
				segments++
			}
		case "h":
			begin(i)
			closePath()
			segments++
		case "re":
			if numeric && len(nums) == 4 {
				begin(i)
				x, y, w, h := nums[0], nums[1], nums[2], nums[3]
				moveTo(x, y)
				lineTo(x+w, y)
				lineTo(x+w, y+h)
				lineTo(x, y+h)
				closePath()
				segments += 5
			}
		case "W", "W*":
			clip = true

		case "S", "s", "f", "F", "f*", "B", "B*", "b", "b*":
			if op.Operator == "s" || op.Operator == "b" || op.Operator == "b*" {
				closePath()
			}
			if pathStart >= 0 {
				bbox, _ := path.Bounds()
				out = append(out, Traced{
					Kind: KindPath, Start: pathStart, End: i, CTM: ctm, BBox: bbox,
					Path: path, Segments: segments, Clip: clip,
				})
			}
			resetPath()
		case "n":
			resetPath()

		case "BT":
			textStart = i
		case "ET":
			if textStart >= 0 {
				out = append(out, Traced{Kind: KindText, Start: textStart, End: i, CTM: ctm})
				textStart = -1
			}

		case "Do":
			if name, ok := op.Name(0); ok {
				out = append(out, Traced{Kind: KindXObject, Start: i, End: i, CTM: ctm, BBox: unitSquare(ctm), Name: name})
			}
		case "BI":
			out = append(out, Traced{Kind: KindInlineImage, Start: i, End: i, CTM: ctm, BBox: unitSquare(ctm)})
		case "sh":
			if name, ok := op.Name(0); ok {
				out = append(out, Traced{Kind: KindShading, Start: i, End: i, CTM: ctm, Name: name})
			}
		}
	}
	return out
}

func unitSquare(m coords.Matrix) coords.Rect {
	return m.TransformRect(coords.Rect{LLX: 0, LLY: 0, URX: 1, URY: 1})
}
