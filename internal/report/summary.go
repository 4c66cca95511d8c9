package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/KimHG1995/db-migration-checker/internal/checksum"
)

// PrintSummary renders the report for a terminal: one line per table,
// details for tables that did not pass, then the run totals.
func PrintSummary(w io.Writer, r *MigrationReport) {
	fmt.Fprintln(w, styleTitle.Render(fmt.Sprintf("Verification %s -> %s", r.Source, r.Destination)))

	for _, t := range r.Tables {
		fmt.Fprintf(w, "%-30s %s %s\n", t.Table, badge(t.Status), tableLine(&t))
		if t.Status == StatusOK {
			continue
		}
		for _, d := range tableDetails(&t) {
			fmt.Fprintln(w, styleDetail.Render(d))
		}
	}

	s := r.Summary
	lines := []string{
		fmt.Sprintf("%s %s", styleLabel.Render("Status:"), badge(r.Status)),
		fmt.Sprintf("%s %d  %s %d  %s %d  %s %d",
			styleLabel.Render("Tables:"), s.TablesChecked,
			styleLabel.Render("OK:"), s.OK,
			styleLabel.Render("Mismatch:"), s.Mismatched,
			styleLabel.Render("Error:"), s.Errored),
		fmt.Sprintf("%s schema %d, count %d, hash %d",
			styleLabel.Render("Differences:"), s.SchemaMismatches, s.CountMismatches, s.HashMismatches),
		fmt.Sprintf("%s %s", styleLabel.Render("Hash mode:"), r.Hash.Mode),
		fmt.Sprintf("%s %s", styleLabel.Render("Duration:"), r.Duration().Round(time.Millisecond)),
	}
	if len(s.MissingInDestination) > 0 {
		lines = append(lines, fmt.Sprintf("%s %s",
			styleLabel.Render("Missing in destination:"), strings.Join(s.MissingInDestination, ", ")))
	}
	if len(s.ExtraInDestination) > 0 {
		lines = append(lines, fmt.Sprintf("%s %s",
			styleLabel.Render("Only in destination:"), strings.Join(s.ExtraInDestination, ", ")))
	}
	if r.Cancelled {
		lines = append(lines, styleBadgeError.Render("run cancelled before all tables finished"))
	}
	fmt.Fprintln(w, styleSummaryBox.Render(strings.Join(lines, "\n")))
}

func tableLine(t *TableReport) string {
	var parts []string
	if t.Count != nil {
		if t.Count.Delta == 0 {
			parts = append(parts, fmt.Sprintf("%d rows", t.Count.Source))
		} else {
			parts = append(parts, fmt.Sprintf("source=%d destination=%d (diff=%d)",
				t.Count.Source, t.Count.Destination, t.Count.Delta))
		}
	}
	if t.Hash != nil {
		parts = append(parts, fmt.Sprintf("hash %s", t.Hash.Status))
	}
	if !t.Schema.Empty() {
		parts = append(parts, "schema differs")
	}
	return strings.Join(parts, ", ")
}

func tableDetails(t *TableReport) []string {
	var lines []string
	for _, e := range t.Errors {
		if e.Side != "" {
			lines = append(lines, fmt.Sprintf("%s error (%s, %s): %s", e.Component, e.Kind, e.Side, e.Message))
		} else {
			lines = append(lines, fmt.Sprintf("%s error (%s): %s", e.Component, e.Kind, e.Message))
		}
	}
	lines = append(lines, t.Schema.Lines()...)
	if h := t.Hash; h != nil {
		if h.Reason != "" {
			lines = append(lines, "hash skipped: "+h.Reason)
		}
		if len(h.MismatchedChunks) > 0 {
			first, _ := h.FirstMismatch()
			lines = append(lines, fmt.Sprintf("%d/%d chunks differ, first %d [%d, %d]",
				len(h.MismatchedChunks), h.ChunksEvaluated, first.Index, first.Range.Lo, first.Range.Hi))
		}
		if h.Status == checksum.StatusMismatch && h.SourceDigest != "" {
			lines = append(lines, fmt.Sprintf("sample digest %s vs %s", short(h.SourceDigest), short(h.DestinationDigest)))
		}
		for _, n := range h.Notes {
			if n != checksum.ProbabilisticNote {
				lines = append(lines, n)
			}
		}
	}
	return lines
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
