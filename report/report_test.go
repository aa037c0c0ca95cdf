package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyricwulf/pdf-ruiner/ruin"
)

func sample() []Entry {
	return []Entry{
		{Result: ruin.Result{
			FileName: "in/a.pdf", MaxDifference: 0.25, DiffPages: "1,3",
			ModifyTime: 1500 * time.Millisecond, AnalyzeTime: 250 * time.Millisecond,
			Pages: 3, PagesChanged: 2, RectsStripped: 4, AnnotsSuppressed: 1, AnnotsReported: 2,
		}},
		{Result: ruin.Result{FileName: "in/b.pdf", Pages: 1, ModifyTime: time.Second}},
		{Result: ruin.Result{FileName: "in/c|d.pdf"}, Err: errors.New("open: not a PDF")},
	}
}

func TestCSVRows(t *testing.T) {
	var buf bytes.Buffer
	cw := NewCSVWriter(&buf, false)
	for _, e := range sample()[:2] {
		require.NoError(t, cw.Write(e))
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, []string{"in/a.pdf", "0.25", "1,3", "1.5", "0.25"}, rows[1])
	assert.Equal(t, []string{"in/b.pdf", "0", "", "1", "0"}, rows[2])
}

func TestCSVErrorColumn(t *testing.T) {
	var buf bytes.Buffer
	cw := NewCSVWriter(&buf, true)
	for _, e := range sample() {
		require.NoError(t, cw.Write(e))
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "error", rows[0][5])
	assert.Empty(t, rows[1][5])
	assert.Equal(t, "open: not a PDF", rows[3][5])
}

func TestCSVFlushesEveryRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.csv")
	cw, err := CreateCSV(path, false)
	require.NoError(t, err)
	require.NoError(t, cw.Write(sample()[0]))

	// Readable before Close.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
	require.NoError(t, cw.Close())
}

func TestHeaderOnlyForEmptyBatch(t *testing.T) {
	var buf bytes.Buffer
	cw := NewCSVWriter(&buf, false)
	require.NoError(t, cw.WriteHeader())
	require.NoError(t, cw.WriteHeader())
	assert.Equal(t, strings.Join(Header, ",")+"\n", buf.String())
}

func TestSum(t *testing.T) {
	tot := Sum(sample())
	assert.Equal(t, 3, tot.Files)
	assert.Equal(t, 1, tot.Failed)
	assert.Equal(t, 1, tot.Changed)
	assert.Equal(t, 2, tot.PagesChanged)
	assert.Equal(t, 4, tot.RectsStripped)
	assert.InDelta(t, 0.25, tot.MaxDifference, 1e-12)
	assert.Equal(t, 2750*time.Millisecond, tot.Elapsed)
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, sample()))
	out := buf.String()
	assert.Contains(t, out, "a.pdf")
	assert.Contains(t, out, "0.2500")
	assert.Contains(t, out, "not a PDF")
	assert.Contains(t, strings.ToLower(out), "3 files (1 failed)")
}

func TestHTMLReport(t *testing.T) {
	run := Run{ID: "run-123", Started: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), Strategies: "rect,image"}
	md := string(Markdown(run, sample()))
	assert.Contains(t, md, "`run-123`")
	assert.Contains(t, md, `in/c\|d.pdf`)

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, run, sample()))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<td>in/a.pdf</td>")
	assert.Contains(t, out, "2024-05-01T12:00:00Z")
	assert.Contains(t, out, "run-123")

	path := filepath.Join(t.TempDir(), "r.html")
	require.NoError(t, WriteHTMLFile(path, run, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Files: 0")
}
