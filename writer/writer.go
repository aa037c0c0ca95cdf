package writer

import (
	"context"
	"io"

	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/security"
)

type Config struct {
	// Version overrides the header version. Empty keeps the document's own,
	// falling back to 1.7.
	Version string
	// Encryption, when set, writes an encrypted file. The source document's own
	// Encrypt entry is never copied: decrypted documents are saved in the clear.
	Encryption *Encryption
}

// Encryption carries a Standard security handler together with the Encrypt
// dictionary and file identifier it was derived from.
type Encryption struct {
	Dict    *raw.DictObj
	Handler security.Handler
	FileID  []byte
}

type Writer interface {
	Write(ctx context.Context, doc *raw.Document, w io.Writer, cfg Config) error
	SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error)
}

// Interceptor observes every indirect object as it is written.
type Interceptor interface {
	BeforeWrite(ctx context.Context, ref raw.ObjectRef, obj raw.Object) error
	AfterWrite(ctx context.Context, ref raw.ObjectRef, obj raw.Object, bytesWritten int64) error
}

type WriterBuilder struct{ interceptors []Interceptor }

func (b *WriterBuilder) WithInterceptor(i Interceptor) *WriterBuilder {
	b.interceptors = append(b.interceptors, i)
	return b
}
func (b *WriterBuilder) Build() Writer { return &impl{interceptors: b.interceptors} }
