package semantic

import (
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
)

// AnnotationKind is the annotation subtype as far as the redaction passes
// distinguish it.
type AnnotationKind int

const (
	AnnotUnsupported AnnotationKind = iota
	AnnotCircle
	AnnotFreeText
	AnnotHighlight
	AnnotInk
	AnnotLink
	AnnotPopup
	AnnotSquare
	AnnotSquiggly
	AnnotStamp
	AnnotStrikeout
	AnnotText
	AnnotUnderline
	AnnotWidget
	AnnotXfaWidget
	AnnotRedacted
)

var annotationNames = [...]string{
	AnnotUnsupported: "Unsupported",
	AnnotCircle:      "Circle",
	AnnotFreeText:    "FreeText",
	AnnotHighlight:   "Highlight",
	AnnotInk:         "Ink",
	AnnotLink:        "Link",
	AnnotPopup:       "Popup",
	AnnotSquare:      "Square",
	AnnotSquiggly:    "Squiggly",
	AnnotStamp:       "Stamp",
	AnnotStrikeout:   "StrikeOut",
	AnnotText:        "Text",
	AnnotUnderline:   "Underline",
	AnnotWidget:      "Widget",
	AnnotXfaWidget:   "XFAWidget",
	AnnotRedacted:    "Redact",
}

func (k AnnotationKind) String() string {
	if k < 0 || int(k) >= len(annotationNames) {
		return "Unsupported"
	}
	return annotationNames[k]
}

var subtypeKinds = map[string]AnnotationKind{
	"Circle":    AnnotCircle,
	"FreeText":  AnnotFreeText,
	"Highlight": AnnotHighlight,
	"Ink":       AnnotInk,
	"Link":      AnnotLink,
	"Popup":     AnnotPopup,
	"Square":    AnnotSquare,
	"Squiggly":  AnnotSquiggly,
	"Stamp":     AnnotStamp,
	"StrikeOut": AnnotStrikeout,
	"Text":      AnnotText,
	"Underline": AnnotUnderline,
	"Widget":    AnnotWidget,
	"Redact":    AnnotRedacted,
}

// Annotation flag bits (F entry).
const (
	FlagInvisible = 1 << 0
	FlagHidden    = 1 << 1
	FlagPrint     = 1 << 2
	FlagNoView    = 1 << 5
)

// Annotation is one entry of a page's /Annots array. Setters write through to
// the annotation dictionary.
type Annotation struct {
	page  *Page
	dict  *raw.DictObj
	kind  AnnotationKind
	index int
}

// Annotations returns the page annotations in /Annots order. Entries that are
// not dictionaries are skipped.
func (p *Page) Annotations() []*Annotation {
	if p.annotsRead {
		return p.annots
	}
	p.annotsRead = true
	arr := p.doc.raw.Array(p.dict.Value("Annots"))
	if arr == nil {
		return nil
	}
	for _, item := range arr.Items {
		d := p.doc.raw.Dict(item)
		if d == nil {
			continue
		}
		sub, _ := d.NameValue("Subtype")
		kind, ok := subtypeKinds[sub]
		if !ok {
			kind = AnnotUnsupported
		}
		if kind == AnnotWidget && p.doc.xfa {
			kind = AnnotXfaWidget
		}
		p.annots = append(p.annots, &Annotation{page: p, dict: d, kind: kind, index: len(p.annots)})
	}
	return p.annots
}

func (a *Annotation) Kind() AnnotationKind { return a.kind }

// Subtype returns the raw /Subtype name.
func (a *Annotation) Subtype() string {
	s, _ := a.dict.NameValue("Subtype")
	return s
}

func (a *Annotation) Page() *Page { return a.page }

// Index is the position in the page's annotation list.
func (a *Annotation) Index() int { return a.index }

// Dict returns the annotation dictionary.
func (a *Annotation) Dict() *raw.DictObj { return a.dict }

func (a *Annotation) Flags() int {
	n, _ := a.page.doc.raw.Resolve(a.dict.Value("F")).(raw.NumberObj)
	return int(n.Int())
}

func (a *Annotation) setFlag(bit int, on bool) {
	f := a.Flags()
	if on {
		f |= bit
	} else {
		f &^= bit
	}
	a.dict.Put("F", raw.NumberInt(int64(f)))
	a.page.doc.markDirty()
}

func (a *Annotation) Hidden() bool { return a.Flags()&FlagHidden != 0 }

func (a *Annotation) SetHidden(hidden bool) { a.setFlag(FlagHidden, hidden) }

func (a *Annotation) Printed() bool { return a.Flags()&FlagPrint != 0 }

func (a *Annotation) SetPrinted(printed bool) { a.setFlag(FlagPrint, printed) }

// Rect returns the annotation rectangle; a missing or malformed entry yields
// the zero rectangle.
func (a *Annotation) Rect() Rectangle {
	r, _ := a.page.doc.rectangle(a.dict.Value("Rect"))
	return r
}

func (a *Annotation) SetRect(r Rectangle) {
	a.dict.Put("Rect", raw.NumberArray(r.LLX, r.LLY, r.URX, r.URY))
	a.page.doc.markDirty()
}

// Contents returns the /Contents text string decoded to UTF-8.
func (a *Annotation) Contents() string {
	s, ok := a.page.doc.raw.Resolve(a.dict.Value("Contents")).(raw.StringObj)
	if !ok {
		return ""
	}
	return DecodeTextString(s.Bytes)
}
