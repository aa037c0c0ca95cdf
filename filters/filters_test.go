package filters

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyricwulf/pdf-ruiner/ir/raw"
)

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func predictorParams(predictor, colors, columns int64) *raw.DictObj {
	params := raw.Dict()
	params.Put("Predictor", raw.NumberInt(predictor))
	params.Put("Colors", raw.NumberInt(colors))
	params.Put("BitsPerComponent", raw.NumberInt(8))
	params.Put("Columns", raw.NumberInt(columns))
	return params
}

func TestFlateDecode(t *testing.T) {
	out, err := NewFlateDecoder().Decode(context.Background(), zlibBytes(t, []byte("hello world")), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

func TestFlateEncodeRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("0 0 m 10 0 l S\n"), 20)
	enc, err := Encode(data)
	require.NoError(t, err)
	out, err := Default(Limits{}).Decode(context.Background(), enc, []string{"FlateDecode"}, nil)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestFlateDecodeWithPNGPredictor(t *testing.T) {
	// row 1: Sub filter, row 2: Up filter
	encoded := []byte{1, 10, 12, 20, 2, 1, 1, 1}
	out, err := NewFlateDecoder().Decode(context.Background(), zlibBytes(t, encoded), predictorParams(12, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 22, 42, 11, 23, 43}, out)
}

func TestPaethPredictor(t *testing.T) {
	in := []byte{0, 5, 6, 4, 1, 1}
	out, err := applyPredictor(in, predictorParams(15, 1, 2))
	require.NoError(t, err)
	// second row: paeth(0,5,0)=5 -> 6, paeth(6,6,5)=6 -> 7
	assert.Equal(t, []byte{5, 6, 6, 7}, out)
}

func TestTIFFPredictor(t *testing.T) {
	out, err := applyPredictor([]byte{10, 1, 1, 20, 2, 2}, predictorParams(2, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 11, 12, 20, 22, 24}, out)
}

func TestLZWDecodeWithoutEarlyChange(t *testing.T) {
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, lzw.MSB, 8)
	input := []byte("hello hello hello")
	_, err := w.Write(input)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	params := raw.Dict()
	params.Put("EarlyChange", raw.NumberInt(0))
	out, err := NewLZWDecoder().Decode(context.Background(), buf.Bytes(), params)
	require.NoError(t, err)
	assert.Equal(t, input, out)
}

func TestLZWDecodeReferenceSample(t *testing.T) {
	// the worked example from the LZWDecode section of the PDF reference
	in := []byte{0x80, 0x0B, 0x60, 0x50, 0x22, 0x0C, 0x0C, 0x85, 0x01}
	out, err := NewLZWDecoder().Decode(context.Background(), in, nil)
	require.NoError(t, err)
	assert.Equal(t, "-----A---B", string(out))
}

func TestRunLengthDecode(t *testing.T) {
	data := []byte{2, 'h', 'i', '!', 255, 'A', 128}
	out, err := NewRunLengthDecoder().Decode(context.Background(), data, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi!AA", string(out))
}

func TestASCII85Decode(t *testing.T) {
	out, err := NewASCII85Decoder().Decode(context.Background(), []byte("<~87cURD_*#4DfTZ)+T~>"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(out))

	out, err = NewASCII85Decoder().Decode(context.Background(), []byte("z~>"), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, out)
}

func TestASCIIHexDecode(t *testing.T) {
	out, err := NewASCIIHexDecoder().Decode(context.Background(), []byte("68 65 6c6c6f2>"), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello ", string(out))
}

func TestPipelineChainsFilters(t *testing.T) {
	hexed := []byte("68656c6c6f>")
	a85 := []byte("BOu!rDZ~>")
	p := Default(Limits{})
	out, err := p.Decode(context.Background(), hexed, []string{"AHx"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
	out, err = p.Decode(context.Background(), a85, []string{"ASCII85Decode"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestPipelineStopsAtImageCodec(t *testing.T) {
	p := Default(Limits{})
	jpegish := []byte{0xFF, 0xD8, 0xFF}
	data, codec, err := p.DecodeUntilImage(context.Background(), zlibBytes(t, jpegish), []string{"FlateDecode", "DCTDecode"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "DCTDecode", codec)
	assert.Equal(t, jpegish, data)

	_, err = p.Decode(context.Background(), jpegish, []string{"JPXDecode"}, nil)
	var ue UnsupportedError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "JPXDecode", ue.Filter)
}

func TestPipelineLimit(t *testing.T) {
	p := Default(Limits{MaxDecompressedSize: 8})
	_, err := p.Decode(context.Background(), zlibBytes(t, bytes.Repeat([]byte{'a'}, 64)), []string{"FlateDecode"}, nil)
	assert.ErrorIs(t, err, ErrLimit)
}

func TestExtractFiltersResolvesArrays(t *testing.T) {
	doc := raw.NewDocument("1.7")
	parms := raw.Dict()
	parms.Put("Predictor", raw.NumberInt(12))
	ref := doc.Add(parms)

	d := raw.Dict()
	d.Put("Filter", raw.NewArray(raw.NameLiteral("AHx"), raw.NameLiteral("FlateDecode")))
	d.Put("DecodeParms", raw.NewArray(raw.NullObj{}, ref))
	names, params := ExtractFilters(d, doc.Resolve)
	assert.Equal(t, []string{"ASCIIHexDecode", "FlateDecode"}, names)
	require.Len(t, params, 2)
	assert.Nil(t, params[0])
	assert.Same(t, parms, params[1])
}
