package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/observability"
	"github.com/lyricwulf/pdf-ruiner/scanner"
	"github.com/lyricwulf/pdf-ruiner/security"
)

var (
	// ErrNotPDF is returned for input without a %PDF- header.
	ErrNotPDF = errors.New("not a PDF file")
	// ErrNoCatalog is returned when no document catalog can be located.
	ErrNoCatalog = errors.New("document catalog not found")
)

// headerWindow is how far into the file the %PDF- marker may appear. Some
// producers prepend junk such as mail headers.
const headerWindow = 1024

// Config controls document loading.
type Config struct {
	// Password is tried as the user password, then as the owner password.
	Password string
	Limits   security.Limits
	Logger   observability.Logger
}

// DocumentParser builds a raw.Document from an in-memory PDF.
//
// Objects are found by scanning the file for "N G obj" headers rather than by
// trusting the cross-reference table. Later definitions replace earlier ones,
// which applies incremental updates and survives broken xref offsets.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.Limits == (security.Limits{}) {
		cfg.Limits = security.DefaultLimits()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &DocumentParser{cfg: cfg}
}

// SetPassword updates the password for decryption when parsing encrypted PDFs.
func (p *DocumentParser) SetPassword(pwd string) {
	p.cfg.Password = pwd
}

// Parse loads every object of data. The returned document never aliases data.
func (p *DocumentParser) Parse(ctx context.Context, data []byte) (*raw.Document, error) {
	version, err := detectHeaderVersion(data)
	if err != nil {
		return nil, err
	}
	sc := scanner.New(data, scanner.Config{
		MaxStringLength: p.cfg.Limits.MaxStringLength,
		MaxStreamLength: p.cfg.Limits.MaxStreamLength,
	})
	st, err := p.scan(ctx, sc)
	if err != nil {
		return nil, err
	}
	if len(st.objects) == 0 {
		return nil, fmt.Errorf("%w: no objects", ErrNotPDF)
	}

	doc := raw.NewDocument(version)
	for ref, def := range st.objects {
		doc.Objects[ref] = def.obj
	}
	doc.Trailer = st.mergedTrailer()

	if err := p.decrypt(doc); err != nil {
		return nil, err
	}
	if err := p.expandObjectStreams(ctx, doc, st); err != nil {
		return nil, err
	}
	dropStructural(doc)

	if doc.Dict(doc.Trailer.Value("Root")) == nil {
		if ref, ok := findCatalog(doc); ok {
			p.cfg.Logger.Warn("trailer has no usable Root, using scanned catalog", observability.Stringer("ref", ref.R))
			doc.Trailer.Put("Root", ref)
		} else {
			return nil, ErrNoCatalog
		}
	}
	return doc, nil
}

// definition is one "N G obj" occurrence and where it started.
type definition struct {
	obj raw.Object
	pos int64
}

type scanState struct {
	objects  map[raw.ObjectRef]definition
	trailers []definition // classic trailers and XRef stream dictionaries, in file order
}

func (p *DocumentParser) scan(ctx context.Context, sc *scanner.Scanner) (*scanState, error) {
	st := &scanState{objects: make(map[raw.ObjectRef]definition)}
	tr := newTokenReader(sc)
	var window [2]scanner.Token
	filled := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		before := sc.Position()
		tok, err := tr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// damaged token: step past its first byte and keep looking for headers
			if serr := sc.SeekTo(before + 1); serr != nil {
				break
			}
			filled = 0
			continue
		}
		switch {
		case tok.Type == scanner.TokenKeyword && tok.Str == "obj" && filled == 2 && isObjectNumber(window[0]) && isObjectNumber(window[1]):
			ref := raw.ObjectRef{Num: int(window[0].Int), Gen: int(window[1].Int)}
			obj, err := p.readIndirect(tr, st)
			if err != nil {
				p.cfg.Logger.Debug("skipping unreadable object", observability.Stringer("ref", ref), observability.Error("error", err))
			} else {
				st.objects[ref] = definition{obj: obj, pos: window[0].Pos}
				if s, ok := obj.(*raw.StreamObj); ok && isType(s.Dict, "XRef") {
					st.trailers = append(st.trailers, definition{obj: s.Dict, pos: window[0].Pos})
				}
			}
			filled = 0
			continue
		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			obj, err := parseObject(tr, 0)
			if d, ok := obj.(*raw.DictObj); ok && err == nil {
				st.trailers = append(st.trailers, definition{obj: d, pos: tok.Pos})
			}
			filled = 0
			continue
		}
		if filled == 2 {
			window[0] = window[1]
			filled = 1
		}
		window[filled] = tok
		filled++
	}
	return st, nil
}

// readIndirect parses the body of an indirect object, including a trailing stream.
func (p *DocumentParser) readIndirect(tr *tokenReader, st *scanState) (raw.Object, error) {
	obj, err := parseObject(tr, 0)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return obj, nil
	}
	tr.setStreamLengthHint(st.streamLength(dict))
	tok, err := tr.next()
	if err != nil {
		tr.setStreamLengthHint(-1)
		return dict, nil
	}
	if tok.Type == scanner.TokenStream {
		return raw.NewStream(dict, tok.Bytes), nil
	}
	tr.setStreamLengthHint(-1)
	tr.unread(tok)
	return dict, nil
}

// streamLength returns the /Length hint, or -1 when it is an indirect number
// not seen yet. The scanner then falls back to searching for endstream.
func (st *scanState) streamLength(dict *raw.DictObj) int64 {
	switch v := dict.Value("Length").(type) {
	case raw.NumberObj:
		return v.Int()
	case raw.RefObj:
		if def, ok := st.objects[v.R]; ok {
			if n, ok := def.obj.(raw.NumberObj); ok {
				return n.Int()
			}
		}
	}
	return -1
}

// mergedTrailer folds every trailer in file order so that the newest update
// wins while keys only present in older sections survive.
func (st *scanState) mergedTrailer() *raw.DictObj {
	sort.SliceStable(st.trailers, func(i, j int) bool { return st.trailers[i].pos < st.trailers[j].pos })
	out := raw.Dict()
	for _, t := range st.trailers {
		d := t.obj.(*raw.DictObj)
		for _, key := range []string{"Root", "Info", "ID", "Encrypt"} {
			if v := d.Value(key); v != nil {
				out.Put(key, v)
			}
		}
	}
	return out
}

func isObjectNumber(t scanner.Token) bool {
	return t.Type == scanner.TokenNumber && t.IsInt && t.Int >= 0
}

func isType(d *raw.DictObj, name string) bool {
	v, ok := d.NameValue("Type")
	return ok && v == name
}

// dropStructural removes cross-reference and object streams. Their content is
// either expanded into direct objects or regenerated by the writer.
func dropStructural(doc *raw.Document) {
	for ref, obj := range doc.Objects {
		s, ok := obj.(*raw.StreamObj)
		if !ok {
			continue
		}
		if isType(s.Dict, "XRef") || isType(s.Dict, "ObjStm") {
			delete(doc.Objects, ref)
		}
	}
}

func findCatalog(doc *raw.Document) (raw.RefObj, bool) {
	var found raw.RefObj
	ok := false
	for _, ref := range doc.Refs() {
		if d, isDict := doc.Objects[ref].(*raw.DictObj); isDict && isType(d, "Catalog") {
			found, ok = raw.RefObj{R: ref}, true
		}
	}
	return found, ok
}

func detectHeaderVersion(data []byte) (string, error) {
	head := data
	if len(head) > headerWindow {
		head = head[:headerWindow]
	}
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 {
		return "", ErrNotPDF
	}
	line := string(head[idx+5:])
	if end := strings.IndexAny(line, "\r\n"); end >= 0 {
		line = line[:end]
	}
	line = strings.TrimSpace(line)
	if len(line) > 3 {
		line = line[:3]
	}
	return line, nil
}
