package semantic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/lyricwulf/pdf-ruiner/contentstream"
	"github.com/lyricwulf/pdf-ruiner/filters"
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
)

var (
	// ErrUnsupportedImage is returned for image codecs without a decoder (JPX, JBIG2).
	ErrUnsupportedImage = errors.New("unsupported image encoding")
	// ErrBitmapMismatch is returned by SetBitmap for a bitmap of another size or pixel format.
	ErrBitmapMismatch = errors.New("bitmap dimensions or pixel format differ")
)

// ImageObject is an image XObject drawn with Do, or an inline image.
type ImageObject struct {
	page   *Page
	trace  contentstream.Traced
	name   string // XObject resource name; empty for inline images
	inline bool
}

func (*ImageObject) pageObject() {}

func (o *ImageObject) Page() *Page { return o.page }

func (o *ImageObject) Bounds() Rectangle { return o.trace.BBox }

func (o *ImageObject) Inline() bool { return o.inline }

// Name returns the XObject resource name, empty for inline images.
func (o *ImageObject) Name() string { return o.name }

// Width returns the width in samples.
func (o *ImageObject) Width() int { return o.info().width }

// Height returns the height in samples.
func (o *ImageObject) Height() int { return o.info().height }

// Bitmap decodes the image into *image.Gray (grey and stencil masks),
// *image.CMYK or *image.RGBA.
func (o *ImageObject) Bitmap() (image.Image, error) {
	if o.inline {
		op := o.page.ops[o.trace.Start]
		return o.page.doc.DecodeInlineImage(context.Background(), op, o.page.resources)
	}
	s := o.page.doc.raw.Stream(o.page.xobject(o.name))
	if s == nil {
		return nil, fmt.Errorf("image %s: not a stream", o.name)
	}
	return o.page.doc.DecodeImage(context.Background(), s, o.page.resources)
}

// SetBitmap replaces the image samples. img must have the dimensions and the
// Go image type Bitmap returns. XObject images are written to a fresh object
// referenced from this page only; inline images change the content stream.
func (o *ImageObject) SetBitmap(img image.Image) error {
	cur, err := o.Bitmap()
	if err != nil {
		return err
	}
	if img.Bounds().Size() != cur.Bounds().Size() || pixelFormat(img) != pixelFormat(cur) {
		return fmt.Errorf("%w: have %s %v, got %s %v", ErrBitmapMismatch,
			pixelFormat(cur), cur.Bounds().Size(), pixelFormat(img), img.Bounds().Size())
	}
	info := o.info()
	samples, cs, bpc := encodeSamples(img, info.mask)

	if o.inline {
		dict := raw.Dict()
		dict.Put("W", raw.NumberInt(int64(info.width)))
		dict.Put("H", raw.NumberInt(int64(info.height)))
		dict.Put("BPC", raw.NumberInt(int64(bpc)))
		if info.mask {
			dict.Put("IM", raw.Bool(true))
		} else {
			dict.Put("CS", raw.NameLiteral(abbreviatedSpace[cs]))
		}
		o.page.ops[o.trace.Start] = contentstream.Operation{Operator: "BI", Operands: []raw.Object{dict}, ImageData: samples}
		return o.page.contentChanged()
	}

	old := o.page.doc.raw.Stream(o.page.xobject(o.name))
	dict := cloneDict(old.Dict)
	for _, key := range []string{"Filter", "DecodeParms", "Decode", "ColorSpace", "BitsPerComponent", "Length", "ImageMask", "DL"} {
		dict.Delete(key)
	}
	if _, isArray := dict.Value("Mask").(*raw.ArrayObj); isArray {
		dict.Delete("Mask")
	}
	dict.Put("BitsPerComponent", raw.NumberInt(int64(bpc)))
	if info.mask {
		dict.Put("ImageMask", raw.Bool(true))
	} else {
		dict.Put("ColorSpace", raw.NameLiteral(cs))
	}
	data, err := filters.Encode(samples)
	if err != nil {
		return err
	}
	dict.Put("Filter", raw.NameLiteral("FlateDecode"))
	o.page.replaceXObject(o.name, o.page.doc.raw.Add(raw.NewStream(dict, data)))
	return nil
}

var abbreviatedSpace = map[string]string{"DeviceGray": "G", "DeviceRGB": "RGB", "DeviceCMYK": "CMYK"}

func (o *ImageObject) info() imageInfo {
	if o.inline {
		op := o.page.ops[o.trace.Start]
		if len(op.Operands) == 0 {
			return imageInfo{}
		}
		d, _ := op.Operands[0].(*raw.DictObj)
		return o.page.doc.imageInfo(expandInlineDict(d), o.page.resources)
	}
	s := o.page.doc.raw.Stream(o.page.xobject(o.name))
	if s == nil {
		return imageInfo{}
	}
	return o.page.doc.imageInfo(s.Dict, o.page.resources)
}

func pixelFormat(img image.Image) string {
	switch img.(type) {
	case *image.Gray:
		return "gray"
	case *image.RGBA:
		return "rgba"
	case *image.CMYK:
		return "cmyk"
	}
	return fmt.Sprintf("%T", img)
}

type imageInfo struct {
	width, height int
	bpc           int
	cs            *ColorSpace
	mask          bool
	decode        []float64
}

func (d *Document) imageInfo(dict *raw.DictObj, resources *raw.DictObj) imageInfo {
	info := imageInfo{bpc: 8, cs: DeviceGray}
	if dict == nil {
		return info
	}
	info.width, _ = intEntry(d, dict, "Width")
	info.height, _ = intEntry(d, dict, "Height")
	if bpc, ok := intEntry(d, dict, "BitsPerComponent"); ok {
		info.bpc = bpc
	}
	if m, ok := d.raw.Resolve(dict.Value("ImageMask")).(raw.BoolObj); ok && m.V {
		info.mask = true
		info.bpc = 1
	} else if csObj := dict.Value("ColorSpace"); csObj != nil {
		info.cs = d.ColorSpace(csObj, resources)
	}
	if arr := d.raw.Array(dict.Value("Decode")); arr != nil {
		info.decode = arr.Floats()
	}
	return info
}

func intEntry(d *Document, dict *raw.DictObj, key string) (int, bool) {
	n, ok := d.raw.Resolve(dict.Value(key)).(raw.NumberObj)
	if !ok {
		return 0, false
	}
	return int(n.Int()), true
}

// DecodeImage decodes an image XObject.
func (d *Document) DecodeImage(ctx context.Context, s *raw.StreamObj, resources *raw.DictObj) (image.Image, error) {
	return d.decodeImage(ctx, s.Dict, s.Data, resources)
}

// DecodeInlineImage decodes the image of a BI operation.
func (d *Document) DecodeInlineImage(ctx context.Context, op contentstream.Operation, resources *raw.DictObj) (image.Image, error) {
	if len(op.Operands) == 0 {
		return nil, fmt.Errorf("inline image without dictionary")
	}
	dict, ok := op.Operands[0].(*raw.DictObj)
	if !ok {
		return nil, fmt.Errorf("inline image without dictionary")
	}
	return d.decodeImage(ctx, expandInlineDict(dict), op.ImageData, resources)
}

func (d *Document) decodeImage(ctx context.Context, dict *raw.DictObj, data []byte, resources *raw.DictObj) (image.Image, error) {
	info := d.imageInfo(dict, resources)
	if info.width <= 0 || info.height <= 0 {
		return nil, fmt.Errorf("image size %dx%d", info.width, info.height)
	}
	if max := d.limits.MaxImageSide; max > 0 && (info.width > max || info.height > max) {
		return nil, fmt.Errorf("image size %dx%d exceeds %d", info.width, info.height, max)
	}
	names, params := filters.ExtractFilters(dict, d.raw.Resolve)
	payload, codec, err := d.pipeline.DecodeUntilImage(ctx, data, names, params)
	if err != nil {
		return nil, err
	}
	switch codec {
	case "":
		return samplesToImage(payload, info)
	case "DCTDecode":
		img, err := jpeg.Decode(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("DCTDecode: %w", err)
		}
		return normalizeJPEG(img), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, codec)
}

func normalizeJPEG(img image.Image) image.Image {
	switch v := img.(type) {
	case *image.Gray, *image.CMYK:
		return v
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x-b.Min.X, y-b.Min.Y, img.At(x, y))
		}
	}
	return out
}

// samplesToImage unpacks rows of bpc-bit samples, padded to whole bytes.
func samplesToImage(data []byte, info imageInfo) (image.Image, error) {
	w, h := info.width, info.height
	switch info.bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("unsupported BitsPerComponent %d", info.bpc)
	}
	n := info.cs.N
	if info.mask {
		n = 1
	}
	rowBytes := (w*n*info.bpc + 7) / 8
	if len(data) < rowBytes*h {
		// short streams are common; missing rows read as zero
		data = append(data, make([]byte, rowBytes*h-len(data))...)
	}
	decode := info.decode
	if len(decode) < 2*n {
		if info.mask {
			decode = []float64{0, 1}
		} else {
			decode = info.cs.DefaultDecode(info.bpc)
		}
	}
	maxVal := float64(int(1)<<info.bpc - 1)
	sample := func(row []byte, i int) float64 {
		switch info.bpc {
		case 8:
			return float64(row[i])
		case 16:
			return float64(int(row[2*i])<<8|int(row[2*i+1])) / 257
		}
		bit := i * info.bpc
		shift := 8 - info.bpc - bit%8
		return float64(int(row[bit/8]>>shift) & (int(1)<<info.bpc - 1))
	}
	if info.bpc == 16 {
		maxVal = 255
	}
	comp := func(s float64, c int) float64 {
		return decode[2*c] + s*(decode[2*c+1]-decode[2*c])/maxVal
	}

	rect := image.Rect(0, 0, w, h)
	switch {
	case info.mask:
		// sample value 0 (after Decode) marks painted pixels
		out := image.NewGray(rect)
		for y := 0; y < h; y++ {
			row := data[y*rowBytes:]
			for x := 0; x < w; x++ {
				if comp(sample(row, x), 0) < 0.5 {
					out.Pix[y*out.Stride+x] = 0
				} else {
					out.Pix[y*out.Stride+x] = 255
				}
			}
		}
		return out, nil
	case info.cs.Family == "DeviceGray":
		out := image.NewGray(rect)
		for y := 0; y < h; y++ {
			row := data[y*rowBytes:]
			for x := 0; x < w; x++ {
				out.Pix[y*out.Stride+x] = to8(clamp01(comp(sample(row, x), 0)))
			}
		}
		return out, nil
	case info.cs.Family == "DeviceCMYK":
		out := image.NewCMYK(rect)
		for y := 0; y < h; y++ {
			row := data[y*rowBytes:]
			for x := 0; x < w; x++ {
				off := y*out.Stride + 4*x
				for c := 0; c < 4; c++ {
					out.Pix[off+c] = to8(clamp01(comp(sample(row, 4*x+c), c)))
				}
			}
		}
		return out, nil
	}
	out := image.NewRGBA(rect)
	comps := make([]float64, n)
	for y := 0; y < h; y++ {
		row := data[y*rowBytes:]
		for x := 0; x < w; x++ {
			for c := 0; c < n; c++ {
				comps[c] = comp(sample(row, n*x+c), c)
			}
			r, g, b := info.cs.RGB(comps)
			off := y*out.Stride + 4*x
			out.Pix[off], out.Pix[off+1], out.Pix[off+2], out.Pix[off+3] = to8(r), to8(g), to8(b), 255
		}
	}
	return out, nil
}

func to8(v float64) uint8 { return uint8(v*255 + 0.5) }

// encodeSamples packs img as unfiltered samples and names the colour space.
func encodeSamples(img image.Image, mask bool) ([]byte, string, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch v := img.(type) {
	case *image.Gray:
		if mask {
			rowBytes := (w + 7) / 8
			out := make([]byte, rowBytes*h)
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					if v.GrayAt(b.Min.X+x, b.Min.Y+y).Y >= 128 {
						out[y*rowBytes+x/8] |= 0x80 >> (x % 8)
					}
				}
			}
			return out, "", 1
		}
		out := make([]byte, 0, w*h)
		for y := 0; y < h; y++ {
			off := v.PixOffset(b.Min.X, b.Min.Y+y)
			out = append(out, v.Pix[off:off+w]...)
		}
		return out, "DeviceGray", 8
	case *image.CMYK:
		out := make([]byte, 0, 4*w*h)
		for y := 0; y < h; y++ {
			off := v.PixOffset(b.Min.X, b.Min.Y+y)
			out = append(out, v.Pix[off:off+4*w]...)
		}
		return out, "DeviceCMYK", 8
	}
	out := make([]byte, 0, 3*w*h)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			out = append(out, c.R, c.G, c.B)
		}
	}
	return out, "DeviceRGB", 8
}

var inlineKeys = map[string]string{
	"W": "Width", "H": "Height", "BPC": "BitsPerComponent", "CS": "ColorSpace",
	"D": "Decode", "DP": "DecodeParms", "F": "Filter", "IM": "ImageMask", "I": "Interpolate",
}

// expandInlineDict rewrites abbreviated inline image keys to their full names.
func expandInlineDict(d *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	if d == nil {
		return out
	}
	for k, v := range d.KV {
		if full, ok := inlineKeys[k]; ok {
			k = full
		}
		out.KV[k] = v
	}
	return out
}
