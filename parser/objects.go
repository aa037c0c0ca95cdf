package parser

import (
	"errors"
	"fmt"

	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/scanner"
)

// maxNesting bounds array and dictionary depth.
const maxNesting = 256

var errNesting = errors.New("object nesting too deep")

type tokenSource interface {
	Next() (scanner.Token, error)
}

type streamLengthSetter interface{ SetNextStreamLength(int64) }

// tokenReader adds push-back to a scanner.
type tokenReader struct {
	s            tokenSource
	buf          []scanner.Token
	lengthSetter streamLengthSetter
}

func newTokenReader(src tokenSource) *tokenReader {
	tr := &tokenReader{s: src}
	if setter, ok := src.(streamLengthSetter); ok {
		tr.lengthSetter = setter
	}
	return tr
}

func (r *tokenReader) next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *tokenReader) unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

func (r *tokenReader) setStreamLengthHint(n int64) {
	if r.lengthSetter != nil {
		r.lengthSetter.SetNextStreamLength(n)
	}
}

func parseObject(tr *tokenReader, depth int) (raw.Object, error) {
	if depth > maxNesting {
		return nil, errNesting
	}
	tok, err := tr.next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return raw.NumberObj{I: tok.Int, IsInt: true}, nil
		}
		return raw.NumberObj{F: tok.Float}, nil
	case scanner.TokenBoolean:
		return raw.BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return raw.NullObj{}, nil
	case scanner.TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenArray:
		return parseArray(tr, depth+1)
	case scanner.TokenDict:
		return parseDict(tr, depth+1)
	case scanner.TokenRef:
		return raw.RefObj{R: raw.ObjectRef{Num: tok.Num, Gen: tok.Gen}}, nil
	}
	// endobj, endstream or an operator where a value was expected
	tr.unread(tok)
	return nil, fmt.Errorf("unexpected %s at %d", tok, tok.Pos)
}

func parseArray(tr *tokenReader, depth int) (raw.Object, error) {
	arr := &raw.ArrayObj{}
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		tr.unread(tok)
		item, err := parseObject(tr, depth)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

// parseDict tolerates a missing ">>" before endobj; the dictionary read so far is kept.
func parseDict(tr *tokenReader, depth int) (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type == scanner.TokenKeyword && (tok.Str == "endobj" || tok.Str == "stream") {
			tr.unread(tok)
			return d, nil
		}
		if tok.Type == scanner.TokenStream {
			tr.unread(tok)
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("expected name in dict at %d, got %s", tok.Pos, tok)
		}
		val, err := parseObject(tr, depth)
		if err != nil {
			return nil, err
		}
		// null values are equivalent to an absent key
		if _, isNull := val.(raw.NullObj); isNull {
			continue
		}
		d.Put(tok.Str, val)
	}
}
