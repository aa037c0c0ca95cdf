package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Totals sums the counters of a batch.
type Totals struct {
	Files            int
	Failed           int
	Changed          int
	PagesChanged     int
	RectsStripped    int
	AnnotsSuppressed int
	AnnotsReported   int
	ImagesBlanked    int
	MaxDifference    float64
	Elapsed          time.Duration
}

// Sum computes the totals of entries.
func Sum(entries []Entry) Totals {
	var t Totals
	for _, e := range entries {
		t.Files++
		if e.Err != nil {
			t.Failed++
			continue
		}
		r := e.Result
		if r.PagesChanged > 0 {
			t.Changed++
		}
		t.PagesChanged += r.PagesChanged
		t.RectsStripped += r.RectsStripped
		t.AnnotsSuppressed += r.AnnotsSuppressed
		t.AnnotsReported += r.AnnotsReported
		t.ImagesBlanked += r.ImagesBlanked
		if r.MaxDifference > t.MaxDifference {
			t.MaxDifference = r.MaxDifference
		}
		t.Elapsed += r.ModifyTime + r.AnalyzeTime
	}
	return t
}

// PrintTable renders entries and their totals as a terminal table.
func PrintTable(w io.Writer, entries []Entry) error {
	table := tablewriter.NewWriter(w)
	table.Header("File", "Pages", "Changed", "Rects", "Annots", "Images", "Max diff", "Diff pages", "Time")
	for _, e := range entries {
		name := filepath.Base(e.Result.FileName)
		if e.Err != nil {
			if err := table.Append([]string{name, "-", "-", "-", "-", "-", "-", "error: " + e.Err.Error(), "-"}); err != nil {
				return err
			}
			continue
		}
		r := e.Result
		row := []string{
			name,
			strconv.Itoa(r.Pages),
			strconv.Itoa(r.PagesChanged),
			strconv.Itoa(r.RectsStripped),
			fmt.Sprintf("%d/%d", r.AnnotsSuppressed, r.AnnotsReported),
			strconv.Itoa(r.ImagesBlanked),
			fmt.Sprintf("%.4f", r.MaxDifference),
			r.DiffPages,
			fmt.Sprintf("%.2fs", (r.ModifyTime + r.AnalyzeTime).Seconds()),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	t := Sum(entries)
	table.Footer(
		fmt.Sprintf("%d files (%d failed)", t.Files, t.Failed),
		"",
		strconv.Itoa(t.PagesChanged),
		strconv.Itoa(t.RectsStripped),
		fmt.Sprintf("%d/%d", t.AnnotsSuppressed, t.AnnotsReported),
		strconv.Itoa(t.ImagesBlanked),
		fmt.Sprintf("%.4f", t.MaxDifference),
		"",
		fmt.Sprintf("%.2fs", t.Elapsed.Seconds()),
	)
	return table.Render()
}
