package parser

import (
	"fmt"

	"github.com/lyricwulf/pdf-ruiner/filters"
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/security"
)

// decrypt replaces every string and stream payload with its plaintext and
// removes the Encrypt entry, so the document is written out unencrypted.
func (p *DocumentParser) decrypt(doc *raw.Document) error {
	encObj := doc.Trailer.Value("Encrypt")
	if encObj == nil {
		return nil
	}
	var encRef *raw.ObjectRef
	if r, ok := encObj.(raw.RefObj); ok {
		encRef = &r.R
	}
	encDict := doc.Dict(encObj)
	if encDict == nil {
		return fmt.Errorf("%w: Encrypt entry is not a dictionary", security.ErrUnsupported)
	}
	handler, err := (&security.HandlerBuilder{}).
		WithEncryptDict(encDict).
		WithTrailer(doc.Trailer).
		WithPassword(p.cfg.Password).
		Build()
	if err != nil {
		return fmt.Errorf("security setup: %w", err)
	}

	for ref, obj := range doc.Objects {
		if encRef != nil && ref == *encRef {
			continue
		}
		if s, ok := obj.(*raw.StreamObj); ok && isType(s.Dict, "XRef") {
			continue
		}
		dec, err := decryptObject(handler, ref, obj)
		if err != nil {
			return fmt.Errorf("decrypt object %s: %w", ref, err)
		}
		doc.Objects[ref] = dec
	}
	if encRef != nil {
		delete(doc.Objects, *encRef)
	}
	doc.Trailer.Delete("Encrypt")
	doc.Encrypted = true
	return nil
}

func decryptObject(h security.Handler, ref raw.ObjectRef, obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.StringObj:
		dec, err := h.Decrypt(ref.Num, ref.Gen, v.Bytes, security.DataClassString, "")
		if err != nil {
			return nil, err
		}
		return raw.StringObj{Bytes: dec, Hex: v.Hex}, nil
	case *raw.ArrayObj:
		for i, item := range v.Items {
			dec, err := decryptObject(h, ref, item)
			if err != nil {
				return nil, err
			}
			v.Items[i] = dec
		}
		return v, nil
	case *raw.DictObj:
		for key, item := range v.KV {
			dec, err := decryptObject(h, ref, item)
			if err != nil {
				return nil, err
			}
			v.KV[key] = dec
		}
		return v, nil
	case *raw.StreamObj:
		if _, err := decryptObject(h, ref, v.Dict); err != nil {
			return nil, err
		}
		class := security.DataClassStream
		if isType(v.Dict, "Metadata") {
			class = security.DataClassMetadataStream
		}
		cryptFilter := takeCryptFilter(v.Dict)
		dec, err := h.Decrypt(ref.Num, ref.Gen, v.Data, class, cryptFilter)
		if err != nil {
			return nil, err
		}
		v.Data = dec
		v.Dict.Put("Length", raw.NumberInt(int64(len(dec))))
		return v, nil
	}
	return obj, nil
}

// takeCryptFilter removes a Crypt entry from the stream's filter chain and
// returns the crypt filter name it selected ("" for the document default).
func takeCryptFilter(d *raw.DictObj) string {
	names, params := filters.ExtractFilters(d, nil)
	idx := -1
	for i, n := range names {
		if n == "Crypt" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ""
	}
	name := ""
	if idx < len(params) && params[idx] != nil {
		name, _ = params[idx].NameValue("Name")
	}

	rest := make([]raw.Object, 0, len(names)-1)
	restParams := make([]raw.Object, 0, len(names)-1)
	anyParams := false
	for i, n := range names {
		if i == idx {
			continue
		}
		rest = append(rest, raw.NameLiteral(n))
		var dp raw.Object = raw.NullObj{}
		if i < len(params) && params[i] != nil {
			dp = params[i]
			anyParams = true
		}
		restParams = append(restParams, dp)
	}
	d.Delete("Filter")
	d.Delete("DecodeParms")
	if len(rest) > 0 {
		d.Put("Filter", raw.NewArray(rest...))
		if anyParams {
			d.Put("DecodeParms", raw.NewArray(restParams...))
		}
	}
	return name
}
