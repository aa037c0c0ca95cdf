// Package report writes per-file results: the summary CSV, the terminal
// table and the HTML run report.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/lyricwulf/pdf-ruiner/ruin"
)

// Header is the summary CSV header.
var Header = []string{"file_name", "max_difference", "diff_pages", "modify_time", "analyze_time"}

// Entry is one processed file. Err is set when the file failed and the batch
// kept going.
type Entry struct {
	Result ruin.Result
	Err    error
}

// CSVWriter writes summary rows, flushing after each one so a crash leaves
// every completed file on disk.
type CSVWriter struct {
	w         *csv.Writer
	c         io.Closer
	withError bool
	header    bool
}

// NewCSVWriter writes to w. withError adds a trailing error column.
func NewCSVWriter(w io.Writer, withError bool) *CSVWriter {
	cw := &CSVWriter{w: csv.NewWriter(w), withError: withError}
	if c, ok := w.(io.Closer); ok {
		cw.c = c
	}
	return cw
}

// CreateCSV truncates or creates path.
func CreateCSV(path string, withError bool) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create summary: %w", err)
	}
	return NewCSVWriter(f, withError), nil
}

// WriteHeader writes the header row once. Write calls it implicitly.
func (cw *CSVWriter) WriteHeader() error {
	if cw.header {
		return nil
	}
	cw.header = true
	h := Header
	if cw.withError {
		h = append(append([]string(nil), Header...), "error")
	}
	return cw.flush(h)
}

// Write appends one row.
func (cw *CSVWriter) Write(e Entry) error {
	if err := cw.WriteHeader(); err != nil {
		return err
	}
	r := e.Result
	row := []string{
		r.FileName,
		formatFloat(r.MaxDifference),
		r.DiffPages,
		seconds(r.ModifyTime),
		seconds(r.AnalyzeTime),
	}
	if cw.withError {
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		row = append(row, msg)
	}
	return cw.flush(row)
}

func (cw *CSVWriter) flush(row []string) error {
	if err := cw.w.Write(row); err != nil {
		return err
	}
	cw.w.Flush()
	return cw.w.Error()
}

// Close closes the underlying writer when it is closable.
func (cw *CSVWriter) Close() error {
	cw.w.Flush()
	if cw.c != nil {
		return cw.c.Close()
	}
	return cw.w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func seconds(d time.Duration) string {
	return formatFloat(d.Seconds())
}
