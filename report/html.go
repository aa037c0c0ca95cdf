package report

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"os"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Run identifies a batch in the HTML report.
type Run struct {
	ID         string
	Started    time.Time
	Strategies string
}

// Markdown renders the run as a Markdown document with one table row per
// file.
func Markdown(run Run, entries []Entry) []byte {
	var b bytes.Buffer
	t := Sum(entries)
	fmt.Fprintf(&b, "# PDF ruin report\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n", run.ID)
	fmt.Fprintf(&b, "- Started: %s\n", run.Started.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Strategies: %s\n", run.Strategies)
	fmt.Fprintf(&b, "- Files: %d, changed: %d, failed: %d\n\n", t.Files, t.Changed, t.Failed)

	b.WriteString("| File | Max difference | Diff pages | Rects | Annotations | Images | Modify (s) | Analyze (s) |\n")
	b.WriteString("|---|---:|---|---:|---:|---:|---:|---:|\n")
	for _, e := range entries {
		r := e.Result
		if e.Err != nil {
			fmt.Fprintf(&b, "| %s | | **error:** %s | | | | | |\n", cell(r.FileName), cell(e.Err.Error()))
			continue
		}
		fmt.Fprintf(&b, "| %s | %.6f | %s | %d | %d | %d | %.3f | %.3f |\n",
			cell(r.FileName), r.MaxDifference, cell(r.DiffPages),
			r.RectsStripped, r.AnnotsSuppressed, r.ImagesBlanked,
			r.ModifyTime.Seconds(), r.AnalyzeTime.Seconds())
	}
	return b.Bytes()
}

// cell escapes text for a Markdown table cell.
func cell(s string) string {
	s = html.EscapeString(s)
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// WriteHTML converts the Markdown report to a standalone HTML page.
func WriteHTML(w io.Writer, run Run, entries []Entry) error {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert(Markdown(run, entries), &body); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	_, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>PDF ruin report %s</title></head>\n<body>\n%s</body></html>\n",
		html.EscapeString(run.ID), body.Bytes())
	return err
}

// WriteHTMLFile writes the HTML report to path.
func WriteHTMLFile(path string, run Run, entries []Entry) error {
	var buf bytes.Buffer
	if err := WriteHTML(&buf, run, entries); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
