// Package semantic exposes the page, object and annotation view of a PDF that
// the redaction passes work on. It sits on top of the raw object model: every
// mutation is written back to raw objects, and a document that was never
// mutated saves as its original bytes.
package semantic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lyricwulf/pdf-ruiner/coords"
	"github.com/lyricwulf/pdf-ruiner/filters"
	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/observability"
	"github.com/lyricwulf/pdf-ruiner/parser"
	"github.com/lyricwulf/pdf-ruiner/security"
	"github.com/lyricwulf/pdf-ruiner/writer"
)

// Rectangle represents a PDF rectangle in default user space.
type Rectangle = coords.Rect

var (
	// ErrPageIndex is returned for a page index outside the document.
	ErrPageIndex = errors.New("page index out of range")
	// ErrClosed is returned when a released document is used.
	ErrClosed = errors.New("document closed")
	// ErrNotEditable is returned when a page whose content could not be read is regenerated.
	ErrNotEditable = errors.New("page content is not editable")
)

// Options controls how a document is opened.
type Options struct {
	Password string
	Limits   security.Limits
	Logger   observability.Logger
}

// Document is the semantic representation of a PDF.
type Document struct {
	raw      *raw.Document
	source   []byte
	pages    []*Page
	dirty    bool
	xfa      bool
	logger   observability.Logger
	limits   security.Limits
	pipeline *filters.Pipeline
}

// Open parses data. The document keeps a reference to data and never writes to it.
func Open(ctx context.Context, data []byte, opts Options) (*Document, error) {
	if opts.Limits == (security.Limits{}) {
		opts.Limits = security.DefaultLimits()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	rawDoc, err := parser.NewDocumentParser(parser.Config{
		Password: opts.Password,
		Limits:   opts.Limits,
		Logger:   opts.Logger,
	}).Parse(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	d := &Document{
		raw:      rawDoc,
		source:   data,
		logger:   opts.Logger,
		limits:   opts.Limits,
		pipeline: filters.Default(filters.Limits{MaxDecompressedSize: opts.Limits.MaxDecompressedSize}),
	}
	if err := d.loadPages(); err != nil {
		return nil, err
	}
	if form := rawDoc.Dict(rawDoc.Root().Value("AcroForm")); form != nil && form.Value("XFA") != nil {
		d.xfa = true
	}
	return d, nil
}

// OpenFile reads and parses the file at path.
func OpenFile(ctx context.Context, path string, opts Options) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Open(ctx, data, opts)
}

// Raw returns the underlying object model.
func (d *Document) Raw() *raw.Document { return d.raw }

// Pipeline returns the stream decoder configured with the document limits.
func (d *Document) Pipeline() *filters.Pipeline { return d.pipeline }

func (d *Document) Limits() security.Limits { return d.limits }

func (d *Document) Logger() observability.Logger { return d.logger }

// Encrypted reports whether the source file was encrypted.
func (d *Document) Encrypted() bool { return d.raw != nil && d.raw.Encrypted }

// Dirty reports whether any raw object has been modified since Open.
func (d *Document) Dirty() bool { return d.dirty }

func (d *Document) markDirty() { d.dirty = true }

func (d *Document) Pages() []*Page { return d.pages }

func (d *Document) PageCount() int { return len(d.pages) }

// Page returns the page at the zero-based index i.
func (d *Document) Page(i int) (*Page, error) {
	if i < 0 || i >= len(d.pages) {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageIndex, i, len(d.pages))
	}
	return d.pages[i], nil
}

// Bytes returns the saved file. An unmodified document yields a copy of the
// bytes it was opened from.
func (d *Document) Bytes(ctx context.Context) ([]byte, error) {
	if d.raw == nil {
		return nil, ErrClosed
	}
	if !d.dirty {
		return bytes.Clone(d.source), nil
	}
	var buf bytes.Buffer
	if err := d.Save(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the document to w.
func (d *Document) Save(ctx context.Context, w io.Writer) error {
	if d.raw == nil {
		return ErrClosed
	}
	if !d.dirty {
		_, err := w.Write(d.source)
		return err
	}
	stats := &writeStats{}
	if err := (&writer.WriterBuilder{}).WithInterceptor(stats).Build().Write(ctx, d.raw, w, writer.Config{}); err != nil {
		return err
	}
	d.logger.Debug("document written",
		observability.Int("objects", stats.objects),
		observability.Int64("bytes", stats.bytes))
	return nil
}

// writeStats counts the indirect objects the writer emits.
type writeStats struct {
	objects int
	bytes   int64
}

func (s *writeStats) BeforeWrite(context.Context, raw.ObjectRef, raw.Object) error { return nil }

func (s *writeStats) AfterWrite(_ context.Context, _ raw.ObjectRef, _ raw.Object, n int64) error {
	s.objects++
	s.bytes += n
	return nil
}

// SaveFile writes the document to path, replacing any existing file.
func (d *Document) SaveFile(ctx context.Context, path string) error {
	data, err := d.Bytes(ctx)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Close releases the object model and source bytes. The document is unusable afterwards.
func (d *Document) Close() {
	d.raw = nil
	d.source = nil
	d.pages = nil
}

// decodeStream returns the fully decoded payload of s.
func (d *Document) decodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	names, params := filters.ExtractFilters(s.Dict, d.raw.Resolve)
	return d.pipeline.Decode(ctx, s.Data, names, params)
}

// DecodeStream returns the decoded payload of the stream obj refers to.
func (d *Document) DecodeStream(ctx context.Context, obj raw.Object) ([]byte, error) {
	s := d.raw.Stream(obj)
	if s == nil {
		return nil, fmt.Errorf("not a stream: %s", typeOf(obj))
	}
	return d.decodeStream(ctx, s)
}

func typeOf(obj raw.Object) string {
	if obj == nil {
		return "nil"
	}
	return obj.Type()
}
