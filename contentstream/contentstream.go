package contentstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/scanner"
	"github.com/lyricwulf/pdf-ruiner/writer"
)

// Operation is one operator with the operands that preceded it. For inline
// images the operator is BI, Operands holds the image dictionary and
// ImageData the bytes between ID and EI.
type Operation struct {
	Operator  string
	Operands  []raw.Object
	ImageData []byte
}

// Numbers returns the operands as floats; ok is false if any is not a number.
func (op Operation) Numbers() ([]float64, bool) {
	out := make([]float64, len(op.Operands))
	for i, o := range op.Operands {
		n, isNum := o.(raw.NumberObj)
		if !isNum {
			return nil, false
		}
		out[i] = n.Float()
	}
	return out, true
}

// Name returns operand i as a name.
func (op Operation) Name(i int) (string, bool) {
	if i >= len(op.Operands) {
		return "", false
	}
	n, ok := op.Operands[i].(raw.NameObj)
	return n.Val, ok
}

const maxNesting = 64

var errNesting = errors.New("operand nesting too deep")

// Parse splits a decoded content stream into operations. On a lexical error
// the operations read so far are returned together with the error.
func Parse(data []byte) ([]Operation, error) {
	sc := scanner.New(data, scanner.Config{ContentStream: true})
	var ops []Operation
	var operands []raw.Object
	for {
		tok, err := sc.Next()
		if err == io.EOF {
			return ops, nil
		}
		if err != nil {
			return ops, err
		}
		switch tok.Type {
		case scanner.TokenKeyword:
			switch tok.Str {
			case "]", ">>", ">", "}", "{", ")":
				// stray delimiters carry no meaning outside an operand
				continue
			case "BI":
				op, err := parseInlineImage(sc)
				if err != nil {
					return ops, err
				}
				ops = append(ops, op)
				operands = nil
				continue
			}
			ops = append(ops, Operation{Operator: tok.Str, Operands: operands})
			operands = nil
		case scanner.TokenInlineImage:
			// ID without BI
			operands = nil
		default:
			obj, err := operand(sc, tok, 0)
			if err != nil {
				return ops, err
			}
			operands = append(operands, obj)
		}
	}
}

func operand(sc *scanner.Scanner, tok scanner.Token, depth int) (raw.Object, error) {
	if depth > maxNesting {
		return nil, errNesting
	}
	switch tok.Type {
	case scanner.TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case scanner.TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case scanner.TokenNull:
		return raw.NullObj{}, nil
	case scanner.TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenArray:
		arr := raw.NewArray()
		for {
			t, err := sc.Next()
			if err != nil {
				return nil, err
			}
			if t.Type == scanner.TokenKeyword && t.Str == "]" {
				return arr, nil
			}
			item, err := operand(sc, t, depth+1)
			if err != nil {
				return nil, err
			}
			arr.Append(item)
		}
	case scanner.TokenDict:
		d := raw.Dict()
		for {
			t, err := sc.Next()
			if err != nil {
				return nil, err
			}
			if t.Type == scanner.TokenKeyword && t.Str == ">>" {
				return d, nil
			}
			if t.Type != scanner.TokenName {
				return nil, fmt.Errorf("expected name in dictionary at %d", t.Pos)
			}
			vt, err := sc.Next()
			if err != nil {
				return nil, err
			}
			val, err := operand(sc, vt, depth+1)
			if err != nil {
				return nil, err
			}
			d.Put(t.Str, val)
		}
	case scanner.TokenKeyword:
		// operators inside arrays (malformed but seen in the wild) become names
		return raw.NameObj{Val: tok.Str}, nil
	}
	return nil, fmt.Errorf("unexpected %s at %d", tok.Type, tok.Pos)
}

// parseInlineImage reads "key value ... ID data EI" after BI.
func parseInlineImage(sc *scanner.Scanner) (Operation, error) {
	dict := raw.Dict()
	for {
		sc.SetNextStreamLength(InlineImageLength(dict))
		tok, err := sc.Next()
		if err != nil {
			return Operation{}, fmt.Errorf("inline image: %w", err)
		}
		if tok.Type == scanner.TokenInlineImage {
			return Operation{Operator: "BI", Operands: []raw.Object{dict}, ImageData: tok.Bytes}, nil
		}
		if tok.Type != scanner.TokenName {
			return Operation{}, fmt.Errorf("inline image: expected key at %d, got %s", tok.Pos, tok)
		}
		vt, err := sc.Next()
		if err != nil {
			return Operation{}, fmt.Errorf("inline image: %w", err)
		}
		val, err := operand(sc, vt, 1)
		if err != nil {
			return Operation{}, fmt.Errorf("inline image: %w", err)
		}
		dict.Put(tok.Str, val)
	}
}

// InlineImageLength computes the byte count of an unfiltered inline image,
// or -1 when it cannot be known from the dictionary alone.
func InlineImageLength(d *raw.DictObj) int64 {
	if d.Value("F") != nil || d.Value("Filter") != nil {
		return -1
	}
	w, okW := intEntry(d, "W", "Width")
	h, okH := intEntry(d, "H", "Height")
	if !okW || !okH || w <= 0 || h <= 0 {
		return -1
	}
	bpc, ok := intEntry(d, "BPC", "BitsPerComponent")
	if !ok {
		bpc = 8
	}
	comps := 1
	mask := false
	for _, k := range []string{"IM", "ImageMask"} {
		if v, ok := d.BoolValue(k); ok && v {
			mask = true
		}
	}
	if mask {
		bpc = 1
	} else {
		cs := d.Value("CS")
		if cs == nil {
			cs = d.Value("ColorSpace")
		}
		switch v := cs.(type) {
		case raw.NameObj:
			switch v.Val {
			case "G", "DeviceGray", "CalGray":
				comps = 1
			case "RGB", "DeviceRGB", "CalRGB":
				comps = 3
			case "CMYK", "DeviceCMYK":
				comps = 4
			default:
				return -1
			}
		case *raw.ArrayObj:
			if v.Len() == 0 {
				return -1
			}
			if n, ok := v.Items[0].(raw.NameObj); !ok || (n.Val != "I" && n.Val != "Indexed") {
				return -1
			}
		default:
			return -1
		}
	}
	row := (int64(w)*int64(comps)*int64(bpc) + 7) / 8
	return row * int64(h)
}

func intEntry(d *raw.DictObj, keys ...string) (int, bool) {
	for _, k := range keys {
		if v, ok := d.IntValue(k); ok {
			return v, true
		}
	}
	return 0, false
}

// Serialize writes operations back to content stream syntax, one per line.
func Serialize(ops []Operation) []byte {
	var out []byte
	for _, op := range ops {
		if op.Operator == "BI" {
			out = append(out, "BI"...)
			if len(op.Operands) > 0 {
				if d, ok := op.Operands[0].(*raw.DictObj); ok {
					keys := make([]string, 0, d.Len())
					for k := range d.KV {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						out = append(out, ' ')
						out = writer.AppendName(out, k)
						out = append(out, ' ')
						out = writer.AppendObject(out, d.KV[k])
					}
				}
			}
			out = append(out, " ID "...)
			out = append(out, op.ImageData...)
			out = append(out, "\nEI\n"...)
			continue
		}
		for _, o := range op.Operands {
			out = writer.AppendObject(out, o)
			out = append(out, ' ')
		}
		out = append(out, op.Operator...)
		out = append(out, '\n')
	}
	return out
}

// OperatorHandler executes one operator.
type OperatorHandler interface {
	Handle(ctx context.Context, op Operation) error
}

// HandlerFunc adapts a function to OperatorHandler.
type HandlerFunc func(ctx context.Context, op Operation) error

func (f HandlerFunc) Handle(ctx context.Context, op Operation) error { return f(ctx, op) }

type Processor interface {
	Process(ctx context.Context, ops []Operation) error
	RegisterHandler(op string, h OperatorHandler)
}

type simpleProcessor struct{ handlers map[string]OperatorHandler }

func NewProcessor() Processor { return &simpleProcessor{handlers: make(map[string]OperatorHandler)} }

func (p *simpleProcessor) RegisterHandler(op string, h OperatorHandler) { p.handlers[op] = h }

// Process dispatches every operation to its handler; operators without one are skipped.
func (p *simpleProcessor) Process(ctx context.Context, ops []Operation) error {
	for i, op := range ops {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		h, ok := p.handlers[op.Operator]
		if !ok {
			continue
		}
		if err := h.Handle(ctx, op); err != nil {
			return fmt.Errorf("%s: %w", op.Operator, err)
		}
	}
	return nil
}
