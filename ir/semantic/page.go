package semantic

import (
	"context"
	"fmt"

	"github.com/lyricwulf/pdf-ruiner/contentstream"
	"github.com/lyricwulf/pdf-ruiner/filters"
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/observability"
)

// RegenMode selects when the content stream is rebuilt from in-memory objects.
type RegenMode int

const (
	// RegenAutomatic rebuilds the content stream after every mutation.
	RegenAutomatic RegenMode = iota
	// RegenManual defers rebuilding until Regenerate is called, so several
	// mutations coalesce into one new content stream.
	RegenManual
)

func (m RegenMode) String() string {
	if m == RegenManual {
		return "manual"
	}
	return "automatic"
}

// Page models a single PDF page.
type Page struct {
	MediaBox Rectangle
	CropBox  Rectangle
	Rotate   int // degrees: 0/90/180/270

	doc       *Document
	index     int
	dict      *raw.DictObj
	resources *raw.DictObj
	ownRes    bool
	mode      RegenMode

	loaded     bool
	contentErr error
	ops        []contentstream.Operation
	inserts    map[int]*insertion
	objects    []PageObject
	annots     []*Annotation
	annotsRead bool
	pending    bool
}

// insertion holds operations emitted around an original operation.
type insertion struct {
	before []contentstream.Operation
	after  []contentstream.Operation
}

// Index returns the zero-based page number.
func (p *Page) Index() int { return p.index }

func (p *Page) Document() *Document { return p.doc }

// Dict returns the page dictionary.
func (p *Page) Dict() *raw.DictObj { return p.dict }

// Resources returns the effective resource dictionary, inherited if needed.
func (p *Page) Resources() *raw.DictObj { return p.resources }

func (p *Page) RegenerationMode() RegenMode { return p.mode }

func (p *Page) SetRegenerationMode(m RegenMode) { p.mode = m }

// Pending reports whether mutations are waiting for Regenerate.
func (p *Page) Pending() bool { return p.pending }

// ContentErr returns the error met while reading the content stream, if any.
// Such a page reports no objects and cannot be regenerated.
func (p *Page) ContentErr() error {
	p.load()
	return p.contentErr
}

func (p *Page) load() {
	if p.loaded {
		return
	}
	p.loaded = true
	data, err := p.doc.contentBytes(context.Background(), p.dict.Value("Contents"))
	if err != nil {
		p.contentErr = err
		p.doc.logger.Warn("page content unreadable", observability.Int("page", p.index+1), observability.Error("error", err))
		return
	}
	ops, err := contentstream.Parse(data)
	p.ops = ops
	if err != nil {
		p.contentErr = err
		p.doc.logger.Warn("page content damaged", observability.Int("page", p.index+1), observability.Error("error", err))
		return
	}
	for _, t := range contentstream.NewTracer().Trace(ops) {
		p.objects = append(p.objects, p.wrap(t))
	}
}

// contentBytes concatenates the decoded content streams of a page.
func (d *Document) contentBytes(ctx context.Context, contents raw.Object) ([]byte, error) {
	switch v := d.raw.Resolve(contents).(type) {
	case *raw.StreamObj:
		return d.decodeStream(ctx, v)
	case *raw.ArrayObj:
		var out []byte
		for i, item := range v.Items {
			s := d.raw.Stream(item)
			if s == nil {
				continue
			}
			data, err := d.decodeStream(ctx, s)
			if err != nil {
				return nil, fmt.Errorf("content stream %d: %w", i, err)
			}
			out = append(out, data...)
			out = append(out, '\n')
		}
		return out, nil
	case nil, raw.NullObj:
		return nil, nil
	default:
		return nil, fmt.Errorf("contents is a %s", v.Type())
	}
}

func (p *Page) wrap(t contentstream.Traced) PageObject {
	switch t.Kind {
	case contentstream.KindPath:
		return &PathObject{page: p, trace: t}
	case contentstream.KindInlineImage:
		return &ImageObject{page: p, trace: t, inline: true}
	case contentstream.KindXObject:
		xobj := p.doc.raw.Stream(p.xobject(t.Name))
		if xobj != nil {
			if sub, _ := xobj.Dict.NameValue("Subtype"); sub == "Image" {
				return &ImageObject{page: p, trace: t, name: t.Name}
			}
			if sub, _ := xobj.Dict.NameValue("Subtype"); sub == "Form" {
				return &OtherObject{page: p, trace: t, kind: "form"}
			}
		}
		return &OtherObject{page: p, trace: t, kind: "xobject"}
	case contentstream.KindText:
		return &OtherObject{page: p, trace: t, kind: "text"}
	case contentstream.KindShading:
		return &OtherObject{page: p, trace: t, kind: "shading"}
	}
	return &OtherObject{page: p, trace: t, kind: t.Kind.String()}
}

// xobject looks name up in the page's XObject resources.
func (p *Page) xobject(name string) raw.Object {
	xobjects := p.doc.raw.Dict(p.resources.Value("XObject"))
	if xobjects == nil {
		return nil
	}
	return xobjects.Value(name)
}

// Objects returns the page objects in drawing order. A page whose content
// stream cannot be read has none.
func (p *Page) Objects() []PageObject {
	p.load()
	if p.contentErr != nil {
		return nil
	}
	return p.objects
}

// Operations returns the current operation list, pending mutations included.
func (p *Page) Operations() []contentstream.Operation {
	p.load()
	if len(p.inserts) == 0 {
		return p.ops
	}
	out := make([]contentstream.Operation, 0, len(p.ops)+2*len(p.inserts))
	for i, op := range p.ops {
		ins := p.inserts[i]
		if ins != nil {
			out = append(out, ins.before...)
		}
		out = append(out, op)
		if ins != nil {
			out = append(out, ins.after...)
		}
	}
	return out
}

func (p *Page) insertAt(i int) *insertion {
	if p.inserts == nil {
		p.inserts = make(map[int]*insertion)
	}
	ins := p.inserts[i]
	if ins == nil {
		ins = &insertion{}
		p.inserts[i] = ins
	}
	return ins
}

// contentChanged records an in-memory mutation of the operation list.
func (p *Page) contentChanged() error {
	p.pending = true
	if p.mode == RegenAutomatic {
		return p.Regenerate()
	}
	return nil
}

// Regenerate serialises the current operations into a fresh, Flate-compressed
// content stream object and points /Contents at it.
func (p *Page) Regenerate() error {
	p.load()
	if p.contentErr != nil {
		return fmt.Errorf("page %d: %w: %v", p.index+1, ErrNotEditable, p.contentErr)
	}
	data, err := filters.Encode(contentstream.Serialize(p.Operations()))
	if err != nil {
		return fmt.Errorf("page %d: compress content: %w", p.index+1, err)
	}
	dict := raw.Dict()
	dict.Put("Filter", raw.NameLiteral("FlateDecode"))
	ref := p.doc.raw.Add(raw.NewStream(dict, data))
	p.dict.Put("Contents", ref)
	p.pending = false
	p.doc.markDirty()
	return nil
}

// ownResources gives the page a private copy of its resource dictionary and
// XObject subdictionary, so replacing an entry does not leak to pages that
// share or inherit them.
func (p *Page) ownResources() *raw.DictObj {
	if p.ownRes {
		return p.resources
	}
	res := cloneDict(p.resources)
	if xobjects := p.doc.raw.Dict(res.Value("XObject")); xobjects != nil {
		res.Put("XObject", cloneDict(xobjects))
	} else {
		res.Put("XObject", raw.Dict())
	}
	p.dict.Put("Resources", res)
	p.resources = res
	p.ownRes = true
	p.doc.markDirty()
	return res
}

func (p *Page) replaceXObject(name string, ref raw.RefObj) {
	res := p.ownResources()
	res.Value("XObject").(*raw.DictObj).Put(name, ref)
	p.doc.markDirty()
}

func cloneDict(d *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	if d == nil {
		return out
	}
	for k, v := range d.KV {
		out.KV[k] = v
	}
	return out
}
