package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/lyricwulf/pdf-ruiner/ir/raw"
)

type impl struct{ interceptors []Interceptor }

func (w *impl) SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	buf.Write(AppendObject(nil, obj))
	buf.WriteString("\nendobj\n")
	return buf.Bytes(), nil
}

// Write serialises doc as a complete file with a classic cross-reference
// table. Objects are emitted in number order.
func (w *impl) Write(ctx context.Context, doc *raw.Document, out io.Writer, cfg Config) error {
	if doc == nil || doc.Trailer == nil {
		return errors.New("document has no trailer")
	}
	root, ok := doc.Trailer.Value("Root").(raw.RefObj)
	if !ok {
		return errors.New("trailer has no Root reference")
	}

	objects := make(map[raw.ObjectRef]raw.Object, len(doc.Objects)+1)
	for ref, obj := range doc.Objects {
		objects[ref] = obj
	}
	var encRef raw.ObjectRef
	if cfg.Encryption != nil {
		encRef = raw.ObjectRef{Num: doc.MaxObjectNumber() + 1}
		objects[encRef] = cfg.Encryption.Dict
	}
	refs := make([]raw.ObjectRef, 0, len(objects))
	for ref := range objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Num != refs[j].Num {
			return refs[i].Num < refs[j].Num
		}
		return refs[i].Gen < refs[j].Gen
	})

	version := cfg.Version
	if version == "" {
		version = doc.Version
	}
	if version == "" {
		version = "1.7"
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-" + version + "\n%\xE2\xE3\xCF\xD3\n")

	type entry struct {
		offset int64
		gen    int
	}
	entries := make(map[int]entry, len(refs))
	maxNum := 0
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj := objects[ref]
		for _, ic := range w.interceptors {
			if err := ic.BeforeWrite(ctx, ref, obj); err != nil {
				return err
			}
		}
		if cfg.Encryption != nil && ref != encRef {
			var err error
			if obj, err = encryptObject(obj, ref, cfg.Encryption); err != nil {
				return fmt.Errorf("encrypt object %s: %w", ref, err)
			}
		}
		serialized, err := w.SerializeObject(ref, obj)
		if err != nil {
			return err
		}
		entries[ref.Num] = entry{offset: int64(buf.Len()), gen: ref.Gen}
		buf.Write(serialized)
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
		for _, ic := range w.interceptors {
			if err := ic.AfterWrite(ctx, ref, obj, int64(len(serialized))); err != nil {
				return err
			}
		}
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= maxNum; i++ {
		if e, ok := entries[i]; ok {
			fmt.Fprintf(&buf, "%010d %05d n \n", e.offset, e.gen)
		} else {
			buf.WriteString("0000000000 00001 f \n")
		}
	}

	trailer := raw.Dict()
	trailer.Put("Size", raw.NumberInt(int64(maxNum+1)))
	trailer.Put("Root", root)
	if info, ok := doc.Trailer.Value("Info").(raw.RefObj); ok {
		if _, exists := objects[info.R]; exists {
			trailer.Put("Info", info)
		}
	}
	if cfg.Encryption != nil {
		id := raw.HexStr(cfg.Encryption.FileID)
		trailer.Put("ID", raw.NewArray(id, id))
		trailer.Put("Encrypt", raw.RefObj{R: encRef})
	} else if id := doc.Trailer.Value("ID"); id != nil {
		trailer.Put("ID", id)
	}
	buf.WriteString("trailer\n")
	buf.Write(AppendObject(nil, trailer))
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	_, err := out.Write(buf.Bytes())
	return err
}

// Bytes writes doc with the default writer and returns the file contents.
func Bytes(ctx context.Context, doc *raw.Document, cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := (&WriterBuilder{}).Build().Write(ctx, doc, &buf, cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
