package filters

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/image/ccitt"
	tifflzw "golang.org/x/image/tiff/lzw"

	"github.com/lyricwulf/pdf-ruiner/ir/raw"
)

// ErrLimit is returned when decoded output would exceed the configured size.
var ErrLimit = errors.New("decompressed size exceeds limit")

// UnsupportedError names a filter the pipeline has no decoder for.
type UnsupportedError struct{ Filter string }

func (e UnsupportedError) Error() string { return "unsupported filter: " + e.Filter }

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params *raw.DictObj) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
}

type Pipeline struct {
	decoders map[string]Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	p := &Pipeline{decoders: make(map[string]Decoder, len(decoders)), limits: limits}
	for _, d := range decoders {
		p.decoders[d.Name()] = d
	}
	return p
}

// Default returns a pipeline with every built-in decoder.
func Default(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(),
		NewLZWDecoder(),
		NewASCIIHexDecoder(),
		NewASCII85Decoder(),
		NewRunLengthDecoder(),
		NewCCITTFaxDecoder(),
	}, limits)
}

// Image codecs are left to the image decoder: the pipeline stops in front of them.
var imageCodecs = map[string]bool{"DCTDecode": true, "JPXDecode": true, "JBIG2Decode": true}

// IsImageCodec reports whether name is decoded by the image layer rather than here.
func IsImageCodec(name string) bool { return imageCodecs[name] }

// Decode applies every named filter in order.
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []*raw.DictObj) ([]byte, error) {
	out, codec, err := p.DecodeUntilImage(ctx, input, filterNames, params)
	if err != nil {
		return nil, err
	}
	if codec != "" {
		return nil, UnsupportedError{Filter: codec}
	}
	return out, nil
}

// DecodeUntilImage applies filters until it reaches an image codec, whose name
// it returns along with the data still encoded for it.
func (p *Pipeline) DecodeUntilImage(ctx context.Context, input []byte, filterNames []string, params []*raw.DictObj) ([]byte, string, error) {
	data := input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		name = Canonical(name)
		if imageCodecs[name] {
			return data, name, nil
		}
		dec, ok := p.decoders[name]
		if !ok {
			return nil, "", UnsupportedError{Filter: name}
		}
		var param *raw.DictObj
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, "", fmt.Errorf("%s: %w", name, ErrLimit)
		}
		data = out
	}
	return data, "", nil
}

// Canonical expands the abbreviated filter names allowed in inline images.
func Canonical(name string) string {
	switch name {
	case "AHx":
		return "ASCIIHexDecode"
	case "A85":
		return "ASCII85Decode"
	case "LZW":
		return "LZWDecode"
	case "Fl":
		return "FlateDecode"
	case "RL":
		return "RunLengthDecode"
	case "CCF":
		return "CCITTFaxDecode"
	case "DCT":
		return "DCTDecode"
	}
	return name
}

type flateDecoder struct{}

func (flateDecoder) Name() string { return "FlateDecode" }
func NewFlateDecoder() Decoder    { return flateDecoder{} }

// Decode inflates zlib data. Truncated or checksum-broken streams keep whatever
// was inflated before the error, which is what viewers show for them.
func (flateDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	var r io.ReadCloser
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		// some producers omit the zlib header
		r = flate.NewReader(bytes.NewReader(in))
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && out.Len() == 0 {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

type lzwDecoder struct{}

func (lzwDecoder) Name() string { return "LZWDecode" }
func NewLZWDecoder() Decoder    { return lzwDecoder{} }

func (lzwDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	early := 1
	if params != nil {
		if v, ok := params.IntValue("EarlyChange"); ok {
			early = v
		}
	}
	var r io.ReadCloser
	if early == 0 {
		r = lzw.NewReader(bytes.NewReader(in), lzw.MSB, 8)
	} else {
		r = tifflzw.NewReader(bytes.NewReader(in), tifflzw.MSB, 8)
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && out.Len() == 0 {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

type ascii85Decoder struct{}

func (ascii85Decoder) Name() string { return "ASCII85Decode" }
func NewASCII85Decoder() Decoder    { return ascii85Decoder{} }

// Decode handles the PDF flavour: optional <~ prefix, ~> terminator, z shorthand, whitespace anywhere.
func (ascii85Decoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	src := bytes.TrimSpace(in)
	src = bytes.TrimPrefix(src, []byte("<~"))
	if i := bytes.Index(src, []byte("~>")); i >= 0 {
		src = src[:i]
	}
	out := make([]byte, 0, len(src)*4/5+4)
	var group [5]byte
	n := 0
	for _, c := range src {
		switch {
		case c == 'z' && n == 0:
			out = append(out, 0, 0, 0, 0)
			continue
		case c >= '!' && c <= 'u':
			group[n] = c - '!'
			n++
		case c <= ' ':
			continue
		default:
			return nil, fmt.Errorf("invalid ascii85 byte %q", c)
		}
		if n == 5 {
			out = appendA85(out, group, 4)
			n = 0
		}
	}
	if n == 1 {
		return nil, errors.New("truncated ascii85 group")
	}
	if n > 1 {
		for i := n; i < 5; i++ {
			group[i] = 'u' - '!'
		}
		out = appendA85(out, group, n-1)
	}
	return out, nil
}

func appendA85(out []byte, g [5]byte, keep int) []byte {
	var v uint32
	for _, d := range g {
		v = v*85 + uint32(d)
	}
	b := [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	return append(out, b[:keep]...)
}

type asciiHexDecoder struct{}

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }
func NewASCIIHexDecoder() Decoder    { return asciiHexDecoder{} }

func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	out := make([]byte, 0, len(in)/2+1)
	var hi byte
	half := false
	for _, c := range in {
		if c == '>' {
			break
		}
		var v byte
		switch {
		case c >= '0' && c <= '9':
			v = c - '0'
		case c >= 'a' && c <= 'f':
			v = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v = c - 'A' + 10
		case c <= ' ':
			continue
		default:
			return nil, fmt.Errorf("invalid hex byte %q", c)
		}
		if half {
			out = append(out, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	if half {
		out = append(out, hi<<4)
	}
	return out, nil
}

type runLengthDecoder struct{}

func (runLengthDecoder) Name() string { return "RunLengthDecode" }
func NewRunLengthDecoder() Decoder    { return runLengthDecoder{} }

func (runLengthDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(in); {
		n := int(in[i])
		i++
		switch {
		case n == 128:
			return out.Bytes(), nil
		case n < 128:
			end := i + n + 1
			if end > len(in) {
				end = len(in)
			}
			out.Write(in[i:end])
			i = end
		default:
			if i >= len(in) {
				return out.Bytes(), nil
			}
			for k := 0; k < 257-n; k++ {
				out.WriteByte(in[i])
			}
			i++
		}
	}
	return out.Bytes(), nil
}

type ccittDecoder struct{}

func (ccittDecoder) Name() string { return "CCITTFaxDecode" }
func NewCCITTFaxDecoder() Decoder { return ccittDecoder{} }

// Decode produces 1 bit per pixel rows, 0 = black, matching an image with
// BitsPerComponent 1 and the default Decode array.
func (ccittDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	k, cols, rows := 0, 1728, ccitt.AutoDetectHeight
	blackIs1, align := false, false
	if params != nil {
		if v, ok := params.IntValue("K"); ok {
			k = v
		}
		if v, ok := params.IntValue("Columns"); ok && v > 0 {
			cols = v
		}
		if v, ok := params.IntValue("Rows"); ok && v > 0 {
			rows = v
		}
		blackIs1, _ = params.BoolValue("BlackIs1")
		align, _ = params.BoolValue("EncodedByteAlign")
	}
	sf := ccitt.Group3
	if k < 0 {
		sf = ccitt.Group4
	}
	r := ccitt.NewReader(bytes.NewReader(in), ccitt.MSB, sf, cols, rows, &ccitt.Options{Align: align, Invert: blackIs1})
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && out.Len() == 0 {
		return nil, err
	}
	return out.Bytes(), nil
}

// Encode compresses data with zlib for FlateDecode streams.
func Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
