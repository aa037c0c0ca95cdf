package parser

import (
	"context"
	"fmt"

	"github.com/lyricwulf/pdf-ruiner/filters"
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/observability"
	"github.com/lyricwulf/pdf-ruiner/scanner"
)

// expandObjectStreams turns compressed objects into direct ones. A compressed
// object replaces a direct definition only when its object stream appears
// later in the file, which is how incremental updates order them.
func (p *DocumentParser) expandObjectStreams(ctx context.Context, doc *raw.Document, st *scanState) error {
	pipeline := filters.Default(filters.Limits{MaxDecompressedSize: p.cfg.Limits.MaxDecompressedSize})
	for _, ref := range doc.Refs() {
		s, ok := doc.Objects[ref].(*raw.StreamObj)
		if !ok || !isType(s.Dict, "ObjStm") {
			continue
		}
		objs, err := p.readObjectStream(ctx, doc, pipeline, s)
		if err != nil {
			p.cfg.Logger.Warn("skipping object stream", observability.Stringer("ref", ref), observability.Error("error", err))
			continue
		}
		streamPos := st.objects[ref].pos
		for num, obj := range objs {
			target := raw.ObjectRef{Num: num}
			if def, exists := st.objects[target]; exists && def.pos > streamPos {
				continue
			}
			doc.Objects[target] = obj
			st.objects[target] = definition{obj: obj, pos: streamPos}
		}
	}
	return nil
}

func (p *DocumentParser) readObjectStream(ctx context.Context, doc *raw.Document, pipeline *filters.Pipeline, s *raw.StreamObj) (map[int]raw.Object, error) {
	n, _ := s.Dict.IntValue("N")
	first, _ := s.Dict.IntValue("First")
	names, params := filters.ExtractFilters(s.Dict, doc.Resolve)
	data := s.Data
	if len(names) > 0 {
		var err error
		if data, err = pipeline.Decode(ctx, data, names, params); err != nil {
			return nil, err
		}
	}
	if first < 0 || first > len(data) || n < 0 {
		return nil, fmt.Errorf("object stream First %d outside %d bytes", first, len(data))
	}

	cfg := scanner.Config{MaxStringLength: p.cfg.Limits.MaxStringLength}
	header := scanner.New(data[:first], cfg)
	pairs := make([]int64, 0, 2*n)
	for len(pairs) < 2*n {
		tok, err := header.Next()
		if err != nil {
			break
		}
		if tok.Type == scanner.TokenNumber && tok.IsInt {
			pairs = append(pairs, tok.Int)
		}
	}

	body := data[first:]
	out := make(map[int]raw.Object, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		num, off := int(pairs[i]), pairs[i+1]
		if off < 0 || off >= int64(len(body)) {
			continue
		}
		sc := scanner.New(body, cfg)
		if err := sc.SeekTo(off); err != nil {
			continue
		}
		obj, err := parseObject(newTokenReader(sc), 0)
		if err != nil {
			p.cfg.Logger.Debug("skipping compressed object", observability.Int("num", num), observability.Error("error", err))
			continue
		}
		out[num] = obj
	}
	return out, nil
}
