package builder

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sort"
	"strconv"

	"github.com/lyricwulf/pdf-ruiner/contentstream"
	"github.com/lyricwulf/pdf-ruiner/coords"
	"github.com/lyricwulf/pdf-ruiner/filters"
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/security"
	"github.com/lyricwulf/pdf-ruiner/writer"
)

// PDFBuilder provides a fluent API for PDF construction.
type PDFBuilder interface {
	NewPage(width, height float64) PageBuilder
	SetInfo(title string) PDFBuilder
	SetCompression(on bool) PDFBuilder
	SetEncryption(method security.Method, userPassword, ownerPassword string) PDFBuilder
	RegisterTrueTypeFont(name string, data []byte) PDFBuilder
	Build() (*raw.Document, error)
	Bytes(ctx context.Context) ([]byte, error)
}

// PageBuilder provides a fluent API for page construction.
type PageBuilder interface {
	DrawText(text string, x, y float64, opts TextOptions) PageBuilder
	DrawPath(path *contentstream.Path, opts PathOptions) PageBuilder
	DrawImage(img image.Image, x, y, width, height float64, opts ImageOptions) PageBuilder
	DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder
	DrawLine(x1, y1, x2, y2 float64, opts LineOptions) PageBuilder
	AddAnnotation(ann Annotation) PageBuilder
	AppendContent(src string) PageBuilder
	SetMediaBox(box coords.Rect) PageBuilder
	SetCropBox(box coords.Rect) PageBuilder
	SetRotation(degrees int) PageBuilder
	Finish() PDFBuilder
}

// TextOptions configures text drawing.
type TextOptions struct {
	Font       string // registered TrueType font; empty selects Helvetica
	FontSize   float64
	Color      Color
	RenderMode contentstream.TextRenderMode
}

// PathOptions configures path drawing.
type PathOptions struct {
	StrokeColor Color
	FillColor   Color
	LineWidth   float64
	LineCap     contentstream.LineCap
	LineJoin    contentstream.LineJoin
	DashPattern []float64
	DashPhase   float64
	Fill        bool
	EvenOdd     bool
	Stroke      bool
}

// RectOptions configures rectangle drawing (defaults to stroke if neither fill nor stroke is set).
type RectOptions = PathOptions

// LineOptions configures line drawing.
type LineOptions struct {
	StrokeColor Color
	LineWidth   float64
	LineCap     contentstream.LineCap
	DashPattern []float64
	DashPhase   float64
}

// ImageOptions configures image drawing.
type ImageOptions struct {
	Inline bool // BI/ID/EI instead of an XObject
	JPEG   bool // DCTDecode; ignored for inline images
}

// Color is an RGB colour. The zero value leaves the current colour untouched;
// use Black for an explicit black.
type Color struct {
	R, G, B float64
	Set     bool
}

var (
	Black = Color{Set: true}
	White = Color{R: 1, G: 1, B: 1, Set: true}
)

// RGB returns an explicit colour.
func RGB(r, g, b float64) Color { return Color{R: r, G: g, B: b, Set: true} }

// Annotation describes an annotation dictionary. Appearance, when set, is the
// content of the normal appearance stream, drawn in a form whose BBox is the
// annotation size.
type Annotation struct {
	Subtype    string
	Rect       coords.Rect
	Contents   string
	Flags      int
	Appearance string
}

const (
	FlagHidden = 1 << 1
	FlagPrint  = 1 << 2
)

type fontResource struct {
	name string // resource name
	data []byte // TrueType program, nil for the standard Helvetica
}

type builderImpl struct {
	pages      []*pageBuilderImpl
	title      string
	compress   bool
	encrypt    bool
	method     security.Method
	userPwd    string
	ownerPwd   string
	fonts      map[string]fontResource
	imageCount int
	err        error
}

type pageBuilderImpl struct {
	parent    *builderImpl
	mediaBox  coords.Rect
	cropBox   *coords.Rect
	rotate    int
	ops       []contentstream.Operation
	fonts     map[string]string // resource name -> builder font key
	images    map[string]*raw.StreamObj
	annots    []Annotation
	useHelv   bool
	imageKeys []string
}

const (
	helveticaResource = "F1"
	defaultFontSize   = 12
)

// NewBuilder constructs a PDFBuilder. Content streams are Flate-compressed by default.
func NewBuilder() PDFBuilder {
	return &builderImpl{compress: true, fonts: make(map[string]fontResource)}
}

func (b *builderImpl) NewPage(w, h float64) PageBuilder {
	p := &pageBuilderImpl{
		parent:   b,
		mediaBox: coords.Rect{URX: w, URY: h},
		fonts:    make(map[string]string),
		images:   make(map[string]*raw.StreamObj),
	}
	b.pages = append(b.pages, p)
	return p
}

func (b *builderImpl) SetInfo(title string) PDFBuilder {
	b.title = title
	return b
}

func (b *builderImpl) SetCompression(on bool) PDFBuilder {
	b.compress = on
	return b
}

func (b *builderImpl) SetEncryption(method security.Method, userPassword, ownerPassword string) PDFBuilder {
	b.encrypt = true
	b.method = method
	b.userPwd = userPassword
	b.ownerPwd = ownerPassword
	return b
}

func (b *builderImpl) RegisterTrueTypeFont(name string, data []byte) PDFBuilder {
	if len(data) == 0 {
		b.err = fmt.Errorf("font %q: empty program", name)
		return b
	}
	b.fonts[name] = fontResource{name: fmt.Sprintf("TT%d", len(b.fonts)+1), data: data}
	return b
}

// Build assembles the raw document: catalog, page tree, pages with their
// content streams, resources and annotations.
func (b *builderImpl) Build() (*raw.Document, error) {
	if b.err != nil {
		return nil, b.err
	}
	doc := raw.NewDocument("1.7")
	catalog := raw.Dict()
	catalog.Put("Type", raw.NameLiteral("Catalog"))
	catalogRef := doc.Add(catalog)
	pages := raw.Dict()
	pages.Put("Type", raw.NameLiteral("Pages"))
	pagesRef := doc.Add(pages)
	catalog.Put("Pages", pagesRef)

	fontRefs := make(map[string]raw.RefObj)
	kids := raw.NewArray()
	for _, p := range b.pages {
		pageDict := raw.Dict()
		pageDict.Put("Type", raw.NameLiteral("Page"))
		pageDict.Put("Parent", pagesRef)
		pageDict.Put("MediaBox", rectArray(p.mediaBox))
		if p.cropBox != nil {
			pageDict.Put("CropBox", rectArray(*p.cropBox))
		}
		if p.rotate != 0 {
			pageDict.Put("Rotate", raw.NumberInt(int64(p.rotate)))
		}
		res, err := b.resources(doc, p, fontRefs)
		if err != nil {
			return nil, err
		}
		pageDict.Put("Resources", res)

		content, err := b.stream(raw.Dict(), contentstream.Serialize(p.ops))
		if err != nil {
			return nil, err
		}
		pageDict.Put("Contents", doc.Add(content))

		pageRef := doc.Add(pageDict)
		if len(p.annots) > 0 {
			annots := raw.NewArray()
			for _, a := range p.annots {
				ref, err := b.annotation(doc, a, pageRef)
				if err != nil {
					return nil, err
				}
				annots.Append(ref)
			}
			pageDict.Put("Annots", annots)
		}
		kids.Append(pageRef)
	}
	pages.Put("Kids", kids)
	pages.Put("Count", raw.NumberInt(int64(len(b.pages))))

	doc.Trailer.Put("Root", catalogRef)
	if b.title != "" {
		info := raw.Dict()
		info.Put("Title", raw.Str([]byte(b.title)))
		doc.Trailer.Put("Info", doc.Add(info))
	}
	return doc, nil
}

// Bytes builds the document and serialises it, encrypted when requested.
func (b *builderImpl) Bytes(ctx context.Context) ([]byte, error) {
	doc, err := b.Build()
	if err != nil {
		return nil, err
	}
	var cfg writer.Config
	if b.encrypt {
		sum := md5.Sum([]byte(b.title + strconv.Itoa(len(b.pages))))
		fileID := sum[:]
		dict, h, err := security.NewEncryption(b.method, b.userPwd, b.ownerPwd, fileID)
		if err != nil {
			return nil, err
		}
		cfg.Encryption = &writer.Encryption{Dict: dict, Handler: h, FileID: fileID}
	}
	return writer.Bytes(ctx, doc, cfg)
}

func (b *builderImpl) stream(dict *raw.DictObj, data []byte) (*raw.StreamObj, error) {
	if b.compress {
		enc, err := filters.Encode(data)
		if err != nil {
			return nil, err
		}
		dict.Put("Filter", raw.NameLiteral("FlateDecode"))
		data = enc
	}
	return raw.NewStream(dict, data), nil
}

func (b *builderImpl) resources(doc *raw.Document, p *pageBuilderImpl, fontRefs map[string]raw.RefObj) (*raw.DictObj, error) {
	res := raw.Dict()
	fonts := raw.Dict()
	if p.useHelv {
		ref, ok := fontRefs[""]
		if !ok {
			ref = doc.Add(helvetica())
			fontRefs[""] = ref
		}
		fonts.Put(helveticaResource, ref)
	}
	resNames := make([]string, 0, len(p.fonts))
	for resName := range p.fonts {
		resNames = append(resNames, resName)
	}
	sort.Strings(resNames)
	for _, resName := range resNames {
		key := p.fonts[resName]
		ref, ok := fontRefs[key]
		if !ok {
			fr := b.fonts[key]
			program, err := b.stream(raw.Dict(), fr.data)
			if err != nil {
				return nil, err
			}
			program.Dict.Put("Length1", raw.NumberInt(int64(len(fr.data))))
			ref = doc.Add(trueTypeFont(key, doc.Add(program)))
			fontRefs[key] = ref
		}
		fonts.Put(resName, ref)
	}
	if fonts.Len() > 0 {
		res.Put("Font", fonts)
	}
	if len(p.images) > 0 {
		xobjects := raw.Dict()
		for _, name := range p.imageKeys {
			xobjects.Put(name, doc.Add(p.images[name]))
		}
		res.Put("XObject", xobjects)
	}
	return res, nil
}

func (b *builderImpl) annotation(doc *raw.Document, a Annotation, pageRef raw.RefObj) (raw.RefObj, error) {
	d := raw.Dict()
	d.Put("Type", raw.NameLiteral("Annot"))
	d.Put("Subtype", raw.NameLiteral(a.Subtype))
	d.Put("Rect", rectArray(a.Rect))
	d.Put("P", pageRef)
	if a.Contents != "" {
		d.Put("Contents", raw.Str([]byte(a.Contents)))
	}
	if a.Flags != 0 {
		d.Put("F", raw.NumberInt(int64(a.Flags)))
	}
	if a.Appearance != "" {
		ops, err := contentstream.Parse([]byte(a.Appearance))
		if err != nil {
			return raw.RefObj{}, fmt.Errorf("annotation appearance: %w", err)
		}
		form := raw.Dict()
		form.Put("Type", raw.NameLiteral("XObject"))
		form.Put("Subtype", raw.NameLiteral("Form"))
		form.Put("BBox", raw.NumberArray(0, 0, a.Rect.Width(), a.Rect.Height()))
		s, err := b.stream(form, contentstream.Serialize(ops))
		if err != nil {
			return raw.RefObj{}, err
		}
		ap := raw.Dict()
		ap.Put("N", doc.Add(s))
		d.Put("AP", ap)
	}
	return doc.Add(d), nil
}

func (p *pageBuilderImpl) DrawText(text string, x, y float64, opts TextOptions) PageBuilder {
	resName := helveticaResource
	if opts.Font != "" {
		fr, ok := p.parent.fonts[opts.Font]
		if !ok {
			p.parent.err = fmt.Errorf("font %q not registered", opts.Font)
			return p
		}
		resName = fr.name
		p.fonts[resName] = opts.Font
	} else {
		p.useHelv = true
	}
	size := opts.FontSize
	if size <= 0 {
		size = defaultFontSize
	}
	p.ops = append(p.ops, contentstream.Operation{Operator: "BT"})
	p.ops = append(p.ops, op("Tf", raw.NameLiteral(resName), raw.Number(size)))
	if opts.RenderMode != contentstream.TextFill {
		p.ops = append(p.ops, nums("Tr", float64(opts.RenderMode)))
	}
	p.ops = append(p.ops, nums("Tm", 1, 0, 0, 1, x, y))
	if opts.Color.Set {
		p.appendColorOp(opts.Color, false)
		if isStrokeMode(opts.RenderMode) {
			p.appendColorOp(opts.Color, true)
		}
	}
	p.ops = append(p.ops, op("Tj", raw.Str(encodeWinAnsi(text))))
	p.ops = append(p.ops, contentstream.Operation{Operator: "ET"})
	return p
}

func (p *pageBuilderImpl) DrawPath(path *contentstream.Path, opts PathOptions) PageBuilder {
	if path == nil {
		return p
	}
	p.ops = append(p.ops, contentstream.Operation{Operator: "q"})
	p.applyPathState(opts)
	p.appendPathOps(path)
	p.ops = append(p.ops, contentstream.Operation{Operator: paintOperator(opts.Fill, opts.Stroke, opts.EvenOdd)})
	p.ops = append(p.ops, contentstream.Operation{Operator: "Q"})
	return p
}

// DrawImage places img in the rectangle (x, y, width, height). *image.Gray is
// written as DeviceGray, anything else as DeviceRGB.
func (p *pageBuilderImpl) DrawImage(img image.Image, x, y, width, height float64, opts ImageOptions) PageBuilder {
	if img == nil {
		return p
	}
	b := img.Bounds()
	dict := raw.Dict()
	var samples []byte
	cs := "DeviceGray"
	if g, ok := img.(*image.Gray); ok {
		for row := b.Min.Y; row < b.Max.Y; row++ {
			off := g.PixOffset(b.Min.X, row)
			samples = append(samples, g.Pix[off:off+b.Dx()]...)
		}
	} else {
		cs = "DeviceRGB"
		for row := b.Min.Y; row < b.Max.Y; row++ {
			for col := b.Min.X; col < b.Max.X; col++ {
				c := color.RGBAModel.Convert(img.At(col, row)).(color.RGBA)
				samples = append(samples, c.R, c.G, c.B)
			}
		}
	}

	p.ops = append(p.ops, contentstream.Operation{Operator: "q"})
	p.ops = append(p.ops, nums("cm", width, 0, 0, height, x, y))
	if opts.Inline {
		dict.Put("W", raw.NumberInt(int64(b.Dx())))
		dict.Put("H", raw.NumberInt(int64(b.Dy())))
		dict.Put("BPC", raw.NumberInt(8))
		if cs == "DeviceGray" {
			dict.Put("CS", raw.NameLiteral("G"))
		} else {
			dict.Put("CS", raw.NameLiteral("RGB"))
		}
		p.ops = append(p.ops, contentstream.Operation{Operator: "BI", Operands: []raw.Object{dict}, ImageData: samples})
	} else {
		dict.Put("Type", raw.NameLiteral("XObject"))
		dict.Put("Subtype", raw.NameLiteral("Image"))
		dict.Put("Width", raw.NumberInt(int64(b.Dx())))
		dict.Put("Height", raw.NumberInt(int64(b.Dy())))
		dict.Put("BitsPerComponent", raw.NumberInt(8))
		dict.Put("ColorSpace", raw.NameLiteral(cs))
		var stream *raw.StreamObj
		if opts.JPEG {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
				p.parent.err = fmt.Errorf("encode jpeg: %w", err)
				return p
			}
			dict.Put("Filter", raw.NameLiteral("DCTDecode"))
			stream = raw.NewStream(dict, buf.Bytes())
		} else {
			s, err := p.parent.stream(dict, samples)
			if err != nil {
				p.parent.err = err
				return p
			}
			stream = s
		}
		p.parent.imageCount++
		name := fmt.Sprintf("Im%d", p.parent.imageCount)
		p.images[name] = stream
		p.imageKeys = append(p.imageKeys, name)
		p.ops = append(p.ops, op("Do", raw.NameLiteral(name)))
	}
	p.ops = append(p.ops, contentstream.Operation{Operator: "Q"})
	return p
}

func (p *pageBuilderImpl) DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder {
	po := opts
	if !po.Stroke && !po.Fill {
		po.Stroke = true
	}
	p.ops = append(p.ops, contentstream.Operation{Operator: "q"})
	p.applyPathState(po)
	p.ops = append(p.ops, nums("re", x, y, width, height))
	p.ops = append(p.ops, contentstream.Operation{Operator: paintOperator(po.Fill, po.Stroke, po.EvenOdd)})
	p.ops = append(p.ops, contentstream.Operation{Operator: "Q"})
	return p
}

func (p *pageBuilderImpl) DrawLine(x1, y1, x2, y2 float64, opts LineOptions) PageBuilder {
	p.ops = append(p.ops, contentstream.Operation{Operator: "q"})
	p.applyPathState(PathOptions{
		StrokeColor: opts.StrokeColor,
		LineWidth:   opts.LineWidth,
		LineCap:     opts.LineCap,
		DashPattern: opts.DashPattern,
		DashPhase:   opts.DashPhase,
		Stroke:      true,
	})
	p.ops = append(p.ops, nums("m", x1, y1), nums("l", x2, y2))
	p.ops = append(p.ops, contentstream.Operation{Operator: "S"})
	p.ops = append(p.ops, contentstream.Operation{Operator: "Q"})
	return p
}

func (p *pageBuilderImpl) AddAnnotation(ann Annotation) PageBuilder {
	p.annots = append(p.annots, ann)
	return p
}

// AppendContent parses src as content stream operators and appends them verbatim.
func (p *pageBuilderImpl) AppendContent(src string) PageBuilder {
	ops, err := contentstream.Parse([]byte(src))
	if err != nil {
		p.parent.err = fmt.Errorf("append content: %w", err)
		return p
	}
	p.ops = append(p.ops, ops...)
	return p
}

func (p *pageBuilderImpl) SetMediaBox(box coords.Rect) PageBuilder {
	p.mediaBox = box
	return p
}

func (p *pageBuilderImpl) SetCropBox(box coords.Rect) PageBuilder {
	p.cropBox = &box
	return p
}

func (p *pageBuilderImpl) SetRotation(degrees int) PageBuilder {
	p.rotate = normalizeRotation(degrees)
	return p
}

func (p *pageBuilderImpl) Finish() PDFBuilder { return p.parent }

func (p *pageBuilderImpl) appendColorOp(c Color, stroking bool) {
	if !c.Set {
		return
	}
	name := "rg"
	if stroking {
		name = "RG"
	}
	p.ops = append(p.ops, nums(name, c.R, c.G, c.B))
}

func (p *pageBuilderImpl) applyPathState(opts PathOptions) {
	if opts.Fill {
		p.appendColorOp(opts.FillColor, false)
	}
	if opts.Stroke || (!opts.Fill && !opts.Stroke) {
		p.appendColorOp(opts.StrokeColor, true)
		if opts.LineWidth > 0 {
			p.ops = append(p.ops, nums("w", opts.LineWidth))
		}
		if opts.LineCap != 0 {
			p.ops = append(p.ops, nums("J", float64(opts.LineCap)))
		}
		if opts.LineJoin != 0 {
			p.ops = append(p.ops, nums("j", float64(opts.LineJoin)))
		}
		if len(opts.DashPattern) > 0 {
			p.ops = append(p.ops, op("d", raw.NumberArray(opts.DashPattern...), raw.Number(opts.DashPhase)))
		}
	}
}

func (p *pageBuilderImpl) appendPathOps(path *contentstream.Path) {
	for _, sp := range path.Subpaths {
		for _, point := range sp.Points {
			switch point.Type {
			case contentstream.PathMoveTo:
				p.ops = append(p.ops, nums("m", point.X, point.Y))
			case contentstream.PathLineTo:
				p.ops = append(p.ops, nums("l", point.X, point.Y))
			case contentstream.PathCurveTo:
				p.ops = append(p.ops, nums("c", point.Control1X, point.Control1Y, point.Control2X, point.Control2Y, point.X, point.Y))
			case contentstream.PathClose:
				p.ops = append(p.ops, contentstream.Operation{Operator: "h"})
			}
		}
		if sp.Closed && (len(sp.Points) == 0 || sp.Points[len(sp.Points)-1].Type != contentstream.PathClose) {
			p.ops = append(p.ops, contentstream.Operation{Operator: "h"})
		}
	}
}

func op(name string, operands ...raw.Object) contentstream.Operation {
	return contentstream.Operation{Operator: name, Operands: operands}
}

func nums(name string, vals ...float64) contentstream.Operation {
	operands := make([]raw.Object, len(vals))
	for i, v := range vals {
		operands[i] = raw.Number(v)
	}
	return contentstream.Operation{Operator: name, Operands: operands}
}

func paintOperator(fill, stroke, evenOdd bool) string {
	switch {
	case fill && stroke && evenOdd:
		return "B*"
	case fill && stroke:
		return "B"
	case fill && evenOdd:
		return "f*"
	case fill:
		return "f"
	default:
		return "S"
	}
}

func isStrokeMode(mode contentstream.TextRenderMode) bool {
	return mode == contentstream.TextStroke ||
		mode == contentstream.TextFillStroke ||
		mode == contentstream.TextStrokeClip ||
		mode == contentstream.TextFillStrokeClip
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

func rectArray(r coords.Rect) *raw.ArrayObj {
	return raw.NumberArray(r.LLX, r.LLY, r.URX, r.URY)
}

func helvetica() *raw.DictObj {
	d := raw.Dict()
	d.Put("Type", raw.NameLiteral("Font"))
	d.Put("Subtype", raw.NameLiteral("Type1"))
	d.Put("BaseFont", raw.NameLiteral("Helvetica"))
	d.Put("Encoding", raw.NameLiteral("WinAnsiEncoding"))
	return d
}

func trueTypeFont(name string, program raw.RefObj) *raw.DictObj {
	desc := raw.Dict()
	desc.Put("Type", raw.NameLiteral("FontDescriptor"))
	desc.Put("FontName", raw.NameLiteral(name))
	desc.Put("Flags", raw.NumberInt(32))
	desc.Put("FontBBox", raw.NumberArray(0, -200, 1000, 900))
	desc.Put("ItalicAngle", raw.NumberInt(0))
	desc.Put("Ascent", raw.NumberInt(900))
	desc.Put("Descent", raw.NumberInt(-200))
	desc.Put("CapHeight", raw.NumberInt(700))
	desc.Put("StemV", raw.NumberInt(80))
	desc.Put("FontFile2", program)

	d := raw.Dict()
	d.Put("Type", raw.NameLiteral("Font"))
	d.Put("Subtype", raw.NameLiteral("TrueType"))
	d.Put("BaseFont", raw.NameLiteral(name))
	d.Put("Encoding", raw.NameLiteral("WinAnsiEncoding"))
	d.Put("FontDescriptor", desc)
	return d
}

// encodeWinAnsi maps text to single-byte codes; runes outside Latin-1 become '?'.
func encodeWinAnsi(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		if r > 0xFF {
			r = '?'
		}
		out = append(out, byte(r))
	}
	return out
}
