package parser

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyricwulf/pdf-ruiner/ir/raw"
	"github.com/lyricwulf/pdf-ruiner/security"
	"github.com/lyricwulf/pdf-ruiner/writer"
)

const classicPDF = "%PDF-1.7\n%\xE2\xE3\xCF\xD3\n" +
	"1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n" +
	"2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n" +
	"3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Contents 4 0 R >>\nendobj\n" +
	"4 0 obj\n<< /Length 14 >>\nstream\n0 0 10 10 re f\nendstream\nendobj\n" +
	"xref\n0 5\n0000000000 65535 f \n" +
	"trailer\n<< /Size 5 /Root 1 0 R >>\nstartxref\n0\n%%EOF\n"

func parse(t *testing.T, data string, cfg Config) *raw.Document {
	t.Helper()
	doc, err := NewDocumentParser(cfg).Parse(context.Background(), []byte(data))
	require.NoError(t, err)
	return doc
}

func TestParseClassicFile(t *testing.T) {
	doc := parse(t, classicPDF, Config{})
	assert.Equal(t, "1.7", doc.Version)
	assert.Len(t, doc.Objects, 4)
	assert.False(t, doc.Encrypted)

	root := doc.Root()
	require.NotNil(t, root)
	name, _ := root.NameValue("Type")
	assert.Equal(t, "Catalog", name)

	content := doc.Stream(raw.Ref(4, 0))
	require.NotNil(t, content)
	assert.Equal(t, "0 0 10 10 re f", string(content.Data))
}

func TestParseAppliesIncrementalUpdate(t *testing.T) {
	update := "5 0 obj\n<< /Producer (update) >>\nendobj\n" +
		"2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 /Updated true >>\nendobj\n" +
		"trailer\n<< /Size 6 /Root 1 0 R /Info 5 0 R /Prev 0 >>\n%%EOF\n"
	doc := parse(t, classicPDF+update, Config{})

	pages := doc.Dict(raw.Ref(2, 0))
	require.NotNil(t, pages)
	updated, _ := pages.BoolValue("Updated")
	assert.True(t, updated)
	assert.Equal(t, raw.Ref(5, 0), doc.Trailer.Value("Info"))
	assert.Equal(t, raw.Ref(1, 0), doc.Trailer.Value("Root"))
	assert.Nil(t, doc.Trailer.Value("Prev"))
}

func TestParseRejectsNonPDF(t *testing.T) {
	_, err := NewDocumentParser(Config{}).Parse(context.Background(), []byte("hello world"))
	assert.ErrorIs(t, err, ErrNotPDF)

	_, err = NewDocumentParser(Config{}).Parse(context.Background(), []byte("%PDF-1.4\n%%EOF\n"))
	assert.ErrorIs(t, err, ErrNotPDF)
}

func TestParseFindsCatalogWithoutTrailer(t *testing.T) {
	data := strings.Split(classicPDF, "xref")[0]
	doc := parse(t, data, Config{})
	assert.Equal(t, raw.Ref(1, 0), doc.Trailer.Value("Root"))

	_, err := NewDocumentParser(Config{}).Parse(context.Background(), []byte("%PDF-1.4\n1 0 obj\n<< /A 1 >>\nendobj\n"))
	assert.ErrorIs(t, err, ErrNoCatalog)
}

func TestParseIndirectStreamLength(t *testing.T) {
	// the Length object comes after the stream, so the payload is found by endstream
	data := "%PDF-1.5\n" +
		"1 0 obj\n<< /Type /Catalog >>\nendobj\n" +
		"2 0 obj\n<< /Length 3 0 R >>\nstream\nBT ET\nendstream\nendobj\n" +
		"3 0 obj\n5\nendobj\n" +
		"trailer\n<< /Root 1 0 R >>\n"
	doc := parse(t, data, Config{})
	assert.Equal(t, "BT ET", string(doc.Stream(raw.Ref(2, 0)).Data))
}

func TestParseSkipsDamagedObjects(t *testing.T) {
	data := "%PDF-1.4\n" +
		"1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n" +
		"2 0 obj\n<< /Broken [1 2 >>\nendobj\n" +
		"3 0 obj\n(still here)\nendobj\n" +
		"trailer\n<< /Root 1 0 R >>\n"
	doc := parse(t, data, Config{})
	s, ok := doc.Objects[raw.ObjectRef{Num: 3}].(raw.StringObj)
	require.True(t, ok)
	assert.Equal(t, "still here", string(s.Bytes))
}

func objectStreamFile(t *testing.T) string {
	t.Helper()
	objs := []string{"<< /Type /Catalog /Pages 11 0 R >>", "<< /Type /Pages /Kids [] /Count 0 >>"}
	var header, body strings.Builder
	for i, o := range objs {
		fmt.Fprintf(&header, "%d %d ", 10+i, body.Len())
		body.WriteString(o + "\n")
	}
	payload := header.String() + body.String()

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err := zw.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return "%PDF-1.5\n" +
		"11 0 obj\n<< /Stale true >>\nendobj\n" +
		fmt.Sprintf("5 0 obj\n<< /Type /ObjStm /N 2 /First %d /Filter /FlateDecode /Length %d >>\nstream\n",
			header.Len(), compressed.Len()) +
		compressed.String() + "\nendstream\nendobj\n" +
		"6 0 obj\n<< /Type /XRef /Root 10 0 R /Size 12 /W [1 2 1] /Length 0 >>\nstream\n\nendstream\nendobj\n"
}

func TestParseExpandsObjectStreams(t *testing.T) {
	doc := parse(t, objectStreamFile(t), Config{})

	assert.Equal(t, raw.Ref(10, 0), doc.Trailer.Value("Root"))
	pages := doc.Dict(raw.Ref(11, 0))
	require.NotNil(t, pages)
	_, stale := pages.BoolValue("Stale")
	assert.False(t, stale, "object stream appearing later replaces the direct definition")

	assert.NotContains(t, doc.Objects, raw.ObjectRef{Num: 5}, "object streams are dropped")
	assert.NotContains(t, doc.Objects, raw.ObjectRef{Num: 6}, "xref streams are dropped")
}

func encryptedFile(t *testing.T, method security.Method, user, owner string) []byte {
	t.Helper()
	doc := raw.NewDocument("1.6")
	content := raw.NewStream(raw.Dict(), []byte("0 0 50 50 re f"))
	contentRef := doc.Add(content)
	info := raw.Dict()
	info.Put("Title", raw.Str([]byte("secret title")))
	infoRef := doc.Add(info)
	catalog := raw.Dict()
	catalog.Put("Type", raw.NameLiteral("Catalog"))
	catalog.Put("Sample", contentRef)
	doc.Trailer.Put("Root", doc.Add(catalog))
	doc.Trailer.Put("Info", infoRef)

	fileID := []byte("0123456789abcdef")
	dict, handler, err := security.NewEncryption(method, user, owner, fileID)
	require.NoError(t, err)
	out, err := writer.Bytes(context.Background(), doc, writer.Config{
		Encryption: &writer.Encryption{Dict: dict, Handler: handler, FileID: fileID},
	})
	require.NoError(t, err)
	require.NotContains(t, string(out), "secret title")
	return out
}

func TestParseDecryptsStandardSecurity(t *testing.T) {
	methods := map[string]security.Method{
		"rc4-40":  security.MethodRC4_40,
		"rc4-128": security.MethodRC4_128,
		"aes-128": security.MethodAES128,
		"aes-256": security.MethodAES256,
	}
	for name, method := range methods {
		t.Run(name, func(t *testing.T) {
			data := encryptedFile(t, method, "", "owner")
			doc, err := NewDocumentParser(Config{}).Parse(context.Background(), data)
			require.NoError(t, err)
			assert.True(t, doc.Encrypted)
			assert.Nil(t, doc.Trailer.Value("Encrypt"))

			title, _ := doc.Dict(doc.Trailer.Value("Info")).StringValue("Title")
			assert.Equal(t, "secret title", string(title))
			sample := doc.Stream(doc.Root().Value("Sample"))
			require.NotNil(t, sample)
			assert.Equal(t, "0 0 50 50 re f", string(sample.Data))
		})
	}
}

func TestParsePasswords(t *testing.T) {
	data := encryptedFile(t, security.MethodAES128, "user-pw", "owner-pw")

	_, err := NewDocumentParser(Config{}).Parse(context.Background(), data)
	assert.ErrorIs(t, err, security.ErrBadPassword)

	for _, pwd := range []string{"user-pw", "owner-pw"} {
		p := NewDocumentParser(Config{})
		p.SetPassword(pwd)
		doc, err := p.Parse(context.Background(), data)
		require.NoError(t, err, pwd)
		assert.True(t, doc.Encrypted)
	}
}

func TestParsedDocumentsDoNotAlias(t *testing.T) {
	data := []byte(classicPDF)
	a, err := NewDocumentParser(Config{}).Parse(context.Background(), data)
	require.NoError(t, err)
	b, err := NewDocumentParser(Config{}).Parse(context.Background(), data)
	require.NoError(t, err)

	a.Stream(raw.Ref(4, 0)).Data[0] = 'X'
	assert.Equal(t, byte('0'), b.Stream(raw.Ref(4, 0)).Data[0])
	assert.Equal(t, byte('0'), data[bytes.Index(data, []byte("stream\n"))+7])
}

func TestParseHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDocumentParser(Config{}).Parse(ctx, []byte(classicPDF))
	assert.ErrorIs(t, err, context.Canceled)
}
