package scanner

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextToken(t *testing.T, s *Scanner) Token {
	t.Helper()
	tok, err := s.Next()
	require.NoError(t, err)
	return tok
}

func collect(t *testing.T, data string, cfg Config) []Token {
	t.Helper()
	s := New([]byte(data), cfg)
	var out []Token
	for {
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, tok)
	}
}

func TestScanner_BasicTokens(t *testing.T) {
	s := New([]byte("%PDF-1.7\n1 0 obj\n<< /Name /Value /Nums [1 2 3] /Flag true /Null null >>\nendobj"), Config{})

	tok := nextToken(t, s)
	require.Equal(t, TokenNumber, tok.Type)
	assert.Equal(t, int64(1), tok.Int)
	tok = nextToken(t, s)
	require.Equal(t, TokenNumber, tok.Type)
	assert.Equal(t, int64(0), tok.Int)
	assert.Equal(t, "obj", nextToken(t, s).Str)
	assert.Equal(t, TokenDict, nextToken(t, s).Type)
	assert.Equal(t, "Name", nextToken(t, s).Str)
	assert.Equal(t, "Value", nextToken(t, s).Str)
	assert.Equal(t, "Nums", nextToken(t, s).Str)
	assert.Equal(t, TokenArray, nextToken(t, s).Type)
	for i := int64(1); i <= 3; i++ {
		tok = nextToken(t, s)
		require.True(t, tok.IsInt)
		assert.Equal(t, i, tok.Int)
	}
	assert.Equal(t, "]", nextToken(t, s).Str)
	assert.Equal(t, "Flag", nextToken(t, s).Str)
	tok = nextToken(t, s)
	assert.Equal(t, TokenBoolean, tok.Type)
	assert.True(t, tok.Bool)
	assert.Equal(t, "Null", nextToken(t, s).Str)
	assert.Equal(t, TokenNull, nextToken(t, s).Type)
	assert.Equal(t, ">>", nextToken(t, s).Str)
	assert.Equal(t, "endobj", nextToken(t, s).Str)
	_, err := s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestScanner_NameHexEscapes(t *testing.T) {
	tok := nextToken(t, New([]byte("/Name#20With#23Hash"), Config{}))
	require.Equal(t, TokenName, tok.Type)
	assert.Equal(t, "Name With#Hash", tok.Str)
}

func TestScanner_LiteralStringEscapes(t *testing.T) {
	tok := nextToken(t, New([]byte(`(Hi\n\050\051\t (nested))`), Config{}))
	require.Equal(t, TokenString, tok.Type)
	assert.Equal(t, "Hi\n()\t (nested)", string(tok.Bytes))
	assert.False(t, tok.Hex)
}

func TestScanner_LiteralStringLineContinuation(t *testing.T) {
	tok := nextToken(t, New([]byte("(Line\\\r\ncontinued)"), Config{}))
	assert.Equal(t, "Linecontinued", string(tok.Bytes))
}

func TestScanner_HexStringOddLength(t *testing.T) {
	tok := nextToken(t, New([]byte("<48656c6c6f3>"), Config{}))
	require.Equal(t, TokenString, tok.Type)
	assert.Equal(t, "Hello0", string(tok.Bytes))
	assert.True(t, tok.Hex)
}

func TestScanner_Reference(t *testing.T) {
	toks := collect(t, "[12 0 R 3 4]", Config{})
	require.Len(t, toks, 5)
	assert.Equal(t, TokenRef, toks[1].Type)
	assert.Equal(t, 12, toks[1].Num)
	assert.Equal(t, 0, toks[1].Gen)
	assert.Equal(t, TokenNumber, toks[2].Type)
	assert.Equal(t, TokenNumber, toks[3].Type)
}

func TestScanner_ContentStreamKeepsRG(t *testing.T) {
	toks := collect(t, "1 0 0 RG 0 0 1 rg", Config{ContentStream: true})
	require.Len(t, toks, 8)
	assert.Equal(t, "RG", toks[3].Str)
	assert.Equal(t, "rg", toks[7].Str)
}

func TestScanner_RealNumbers(t *testing.T) {
	toks := collect(t, "-.5 +3 4. 1.2.3", Config{ContentStream: true})
	require.Len(t, toks, 4)
	assert.InDelta(t, -0.5, toks[0].Number(), 1e-9)
	assert.InDelta(t, 3, toks[1].Number(), 1e-9)
	assert.InDelta(t, 4, toks[2].Number(), 1e-9)
	assert.InDelta(t, 1.2, toks[3].Number(), 1e-9)
}

func TestScanner_StreamWithLengthHint(t *testing.T) {
	data := "stream\r\nab endstream inside\nendstream\nendobj"
	s := New([]byte(data), Config{})
	s.SetNextStreamLength(int64(len("ab endstream inside")))
	tok := nextToken(t, s)
	require.Equal(t, TokenStream, tok.Type)
	assert.Equal(t, "ab endstream inside", string(tok.Bytes))
	assert.Equal(t, "endobj", nextToken(t, s).Str)
}

func TestScanner_StreamWithoutHint(t *testing.T) {
	s := New([]byte("stream\nhello\r\nendstream"), Config{})
	tok := nextToken(t, s)
	assert.Equal(t, "hello", string(tok.Bytes))
}

func TestScanner_StreamBadHintFallsBack(t *testing.T) {
	s := New([]byte("stream\nhello\nendstream"), Config{})
	s.SetNextStreamLength(2)
	tok := nextToken(t, s)
	assert.Equal(t, "hello", string(tok.Bytes))
}

func TestScanner_InlineImage(t *testing.T) {
	toks := collect(t, "BI /W 2 /H 1 /BPC 8 /CS /G ID \x00\xff EI Q", Config{ContentStream: true})
	var img Token
	for _, tok := range toks {
		if tok.Type == TokenInlineImage {
			img = tok
		}
	}
	assert.Equal(t, []byte{0x00, 0xff}, img.Bytes)
	assert.Equal(t, "Q", toks[len(toks)-1].Str)
}

func TestScanner_InlineImageLengthHint(t *testing.T) {
	s := New([]byte("ID xEI\nEI Q"), Config{ContentStream: true})
	s.SetNextStreamLength(3)
	tok := nextToken(t, s)
	require.Equal(t, TokenInlineImage, tok.Type)
	assert.Equal(t, "xEI", string(tok.Bytes))
	assert.Equal(t, "Q", nextToken(t, s).Str)
}

func TestScanner_Unterminated(t *testing.T) {
	_, err := New([]byte("(open"), Config{}).Next()
	assert.ErrorIs(t, err, ErrUnterminated)
	_, err = New([]byte("<4142"), Config{}).Next()
	assert.ErrorIs(t, err, ErrUnterminated)
	_, err = New([]byte("(abcdef)"), Config{MaxStringLength: 3}).Next()
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestScanner_SeekTo(t *testing.T) {
	s := New([]byte("/First 42 /Last"), Config{})
	require.NoError(t, s.SeekTo(7))
	tok := nextToken(t, s)
	require.Equal(t, TokenNumber, tok.Type)
	assert.Equal(t, int64(42), tok.Int)

	require.NoError(t, s.SeekTo(0))
	tok = nextToken(t, s)
	require.Equal(t, TokenName, tok.Type)
	assert.Equal(t, "First", tok.Str)

	assert.Error(t, s.SeekTo(-1))
	assert.Error(t, s.SeekTo(100))
}
