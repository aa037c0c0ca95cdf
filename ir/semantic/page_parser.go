package semantic

import (
	"fmt"

	"github.com/lyricwulf/pdf-ruiner/coords"
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/observability"
)

// letter is the MediaBox of pages that do not specify one.
var letter = Rectangle{LLX: 0, LLY: 0, URX: 612, URY: 792}

// maxTreeDepth bounds page tree recursion on cyclic or hostile files.
const maxTreeDepth = 64

type inheritedPageProps struct {
	MediaBox  *Rectangle
	CropBox   *Rectangle
	Rotate    *int
	Resources raw.Object
}

func (d *Document) loadPages() error {
	root := d.raw.Root()
	if root == nil {
		return fmt.Errorf("catalog is not a dictionary")
	}
	visited := make(map[*raw.DictObj]bool)
	if err := d.parsePages(root.Value("Pages"), inheritedPageProps{}, visited, 0); err != nil {
		return err
	}
	return nil
}

// parsePages traverses the page tree depth first, appending leaf pages in order.
func (d *Document) parsePages(obj raw.Object, inherited inheritedPageProps, visited map[*raw.DictObj]bool, depth int) error {
	dict := d.raw.Dict(obj)
	if dict == nil {
		return fmt.Errorf("pages object is not a dictionary")
	}
	if depth > maxTreeDepth {
		return fmt.Errorf("page tree deeper than %d", maxTreeDepth)
	}
	if visited[dict] {
		d.logger.Warn("page tree cycle, node skipped", observability.Int("depth", depth))
		return nil
	}
	visited[dict] = true

	next := inherited
	if mb, ok := d.rectangle(dict.Value("MediaBox")); ok {
		next.MediaBox = &mb
	}
	if cb, ok := d.rectangle(dict.Value("CropBox")); ok {
		next.CropBox = &cb
	}
	if r, ok := d.raw.Resolve(dict.Value("Rotate")).(raw.NumberObj); ok {
		val := int(r.Int())
		next.Rotate = &val
	}
	if res := dict.Value("Resources"); res != nil {
		next.Resources = res
	}

	isPage := false
	if typ, ok := d.raw.Resolve(dict.Value("Type")).(raw.NameObj); ok {
		isPage = typ.Val == "Page"
	} else if dict.Value("Kids") == nil {
		isPage = true
	}
	if isPage {
		d.pages = append(d.pages, d.newPage(dict, next))
		return nil
	}

	kids := d.raw.Array(dict.Value("Kids"))
	if kids == nil {
		return nil
	}
	for _, kid := range kids.Items {
		if err := d.parsePages(kid, next, visited, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) newPage(dict *raw.DictObj, props inheritedPageProps) *Page {
	p := &Page{
		doc:      d,
		index:    len(d.pages),
		dict:     dict,
		MediaBox: letter,
		mode:     RegenAutomatic,
	}
	if props.MediaBox != nil {
		p.MediaBox = *props.MediaBox
	}
	p.CropBox = p.MediaBox
	if props.CropBox != nil {
		if crop := props.CropBox.Intersect(p.MediaBox); !crop.Empty() {
			p.CropBox = crop
		}
	}
	if props.Rotate != nil {
		p.Rotate = normalizeRotation(*props.Rotate)
	}
	p.resources = d.raw.Dict(props.Resources)
	if p.resources == nil {
		p.resources = raw.Dict()
	}
	return p
}

func (d *Document) rectangle(obj raw.Object) (Rectangle, bool) {
	arr := d.raw.Array(obj)
	if arr == nil {
		return Rectangle{}, false
	}
	vals := make([]float64, 0, 4)
	for _, item := range arr.Items {
		n, ok := d.raw.Resolve(item).(raw.NumberObj)
		if !ok {
			return Rectangle{}, false
		}
		vals = append(vals, n.Float())
	}
	r, ok := coords.RectFromArray(vals)
	if !ok || r.Empty() {
		return Rectangle{}, false
	}
	return r, true
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg - deg%90
}
