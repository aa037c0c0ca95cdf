package discover

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tree(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4\n"), 0o644))
	}
	return root
}

func rel(t *testing.T, root string, paths []string) []string {
	t.Helper()
	out := make([]string, len(paths))
	for i, p := range paths {
		r, err := filepath.Rel(root, p)
		require.NoError(t, err)
		out[i] = filepath.ToSlash(r)
	}
	return out
}

func TestFilesRecursiveAndSorted(t *testing.T) {
	root := tree(t, "b.pdf", "a.PDF", "notes.txt", "sub/c.pdf", "sub/deeper/d.Pdf")
	got, err := Files(root, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.PDF", "b.pdf", "sub/c.pdf", "sub/deeper/d.Pdf"}, rel(t, root, got))
}

func TestFilesIncludeExclude(t *testing.T) {
	root := tree(t, "keep/a.pdf", "keep/drafts/b.pdf", "other/c.pdf", "scan_001.pdf")

	got, err := Files(root, []string{"keep/**"}, []string{"**/drafts/**"})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep/a.pdf"}, rel(t, root, got))

	got, err = Files(root, nil, []string{"scan_*.pdf"})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep/a.pdf", "keep/drafts/b.pdf", "other/c.pdf"}, rel(t, root, got))
}

func TestFilesSingleFile(t *testing.T) {
	root := tree(t, "odd.bin")
	p := filepath.Join(root, "odd.bin")
	got, err := Files(p, []string{"nothing"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{p}, got, "an explicit file is never filtered")
}

func TestFilesErrors(t *testing.T) {
	_, err := Files(filepath.Join(t.TempDir(), "missing"), nil, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Files(t.TempDir(), []string{"[broken"}, nil)
	assert.Error(t, err)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("x.pdf"))
	assert.True(t, IsPDF("X.PDF"))
	assert.False(t, IsPDF("x.pdf.txt"))
	assert.False(t, IsPDF("pdf"))
}
