package writer

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/security"
)

// AppendObject appends the PDF syntax for obj to dst. Streams are written
// with a Length matching their data.
func AppendObject(dst []byte, obj raw.Object) []byte {
	switch v := obj.(type) {
	case raw.NameObj:
		return AppendName(dst, v.Val)
	case raw.NumberObj:
		if v.IsInt {
			return strconv.AppendInt(dst, v.I, 10)
		}
		return append(dst, FormatNumber(v.F)...)
	case raw.BoolObj:
		return strconv.AppendBool(dst, v.V)
	case raw.NullObj:
		return append(dst, "null"...)
	case raw.StringObj:
		if v.Hex {
			return appendHexString(dst, v.Bytes)
		}
		return AppendLiteralString(dst, v.Bytes)
	case *raw.ArrayObj:
		dst = append(dst, '[')
		for i, it := range v.Items {
			if i > 0 {
				dst = append(dst, ' ')
			}
			dst = AppendObject(dst, it)
		}
		return append(dst, ']')
	case *raw.DictObj:
		return appendDict(dst, v, nil)
	case *raw.StreamObj:
		dict := v.Dict
		if dict == nil {
			dict = raw.Dict()
		}
		dst = appendDict(dst, dict, raw.NumberInt(int64(len(v.Data))))
		dst = append(dst, "\nstream\n"...)
		dst = append(dst, v.Data...)
		return append(dst, "\nendstream"...)
	case raw.RefObj:
		dst = strconv.AppendInt(dst, int64(v.R.Num), 10)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(v.R.Gen), 10)
		return append(dst, " R"...)
	}
	return append(dst, "null"...)
}

// appendDict writes keys in sorted order so output is deterministic. A
// non-nil length replaces the Length entry.
func appendDict(dst []byte, d *raw.DictObj, length raw.Object) []byte {
	keys := make([]string, 0, len(d.KV)+1)
	for k := range d.KV {
		if length != nil && k == "Length" {
			continue
		}
		keys = append(keys, k)
	}
	if length != nil {
		keys = append(keys, "Length")
	}
	sort.Strings(keys)
	dst = append(dst, "<<"...)
	for i, k := range keys {
		val := d.KV[k]
		if k == "Length" && length != nil {
			val = length
		}
		if i > 0 {
			dst = append(dst, ' ')
		}
		dst = AppendName(dst, k)
		dst = append(dst, ' ')
		dst = AppendObject(dst, val)
	}
	return append(dst, ">>"...)
}

// AppendName writes /value, escaping delimiters, whitespace and '#' as #xx.
func AppendName(dst []byte, value string) []byte {
	dst = append(dst, '/')
	const hexDigits = "0123456789ABCDEF"
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch < 0x21 || ch > 0x7E || ch == '#' || strings.IndexByte("()<>[]{}/%", ch) >= 0 {
			dst = append(dst, '#', hexDigits[ch>>4], hexDigits[ch&0x0F])
			continue
		}
		dst = append(dst, ch)
	}
	return dst
}

// FormatNumber renders a real without exponent, to at most six decimals.
func FormatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	s := strconv.FormatFloat(f, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

func AppendLiteralString(dst []byte, b []byte) []byte {
	dst = append(dst, '(')
	for _, ch := range b {
		switch ch {
		case '\\', '(', ')':
			dst = append(dst, '\\', ch)
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\n':
			dst = append(dst, '\\', 'n')
		default:
			dst = append(dst, ch)
		}
	}
	return append(dst, ')')
}

func appendHexString(dst []byte, b []byte) []byte {
	const hexDigits = "0123456789ABCDEF"
	dst = append(dst, '<')
	for _, ch := range b {
		dst = append(dst, hexDigits[ch>>4], hexDigits[ch&0x0F])
	}
	return append(dst, '>')
}

// encryptObject returns an encrypted copy of obj; the document is left untouched.
func encryptObject(obj raw.Object, ref raw.ObjectRef, enc *Encryption) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.StringObj:
		data, err := enc.Handler.Encrypt(ref.Num, ref.Gen, v.Bytes, security.DataClassString)
		if err != nil {
			return nil, err
		}
		return raw.StringObj{Bytes: data, Hex: v.Hex}, nil
	case *raw.ArrayObj:
		arr := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, item := range v.Items {
			e, err := encryptObject(item, ref, enc)
			if err != nil {
				return nil, err
			}
			arr.Items[i] = e
		}
		return arr, nil
	case *raw.DictObj:
		d := raw.Dict()
		for k, val := range v.KV {
			e, err := encryptObject(val, ref, enc)
			if err != nil {
				return nil, err
			}
			d.Put(k, e)
		}
		return d, nil
	case *raw.StreamObj:
		if v.Dict == nil {
			v = raw.NewStream(raw.Dict(), v.Data)
		}
		class := security.DataClassStream
		if t, _ := v.Dict.NameValue("Type"); t == "Metadata" {
			class = security.DataClassMetadataStream
		}
		data, err := enc.Handler.Encrypt(ref.Num, ref.Gen, v.Data, class)
		if err != nil {
			return nil, err
		}
		d, err := encryptObject(v.Dict, ref, enc)
		if err != nil {
			return nil, err
		}
		return raw.NewStream(d.(*raw.DictObj), data), nil
	}
	return obj, nil
}
