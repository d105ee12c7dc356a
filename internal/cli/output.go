// Package cli provides the HTTP client and output formatting used by the compliagent CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

// ParseFormat accepts "text" or "json".
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (use text or json)", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results for %q (%s) in %dms\n\n", response.Total, response.Query, response.Type, response.TookMs)
	for i, hit := range response.Hits {
		rec := hit.Record
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f (Vector: %.4f, Text: %.4f)\n", i+1, hit.Score, hit.VectorScore, hit.TextScore)
		fmt.Fprintf(w, "Document: %s #%d [%s]\n", rec.DocumentID, rec.ChunkIndex, rec.Type)
		if rec.Title != "" {
			fmt.Fprintf(w, "Title: %s\n", rec.Title)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(rec.Text, 200))
	}
	return nil
}

// WriteGaps writes a gap listing.
func WriteGaps(w io.Writer, gaps []*models.GapRecord, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, gaps)
	}
	if len(gaps) == 0 {
		fmt.Fprintln(w, "No gaps found")
		return nil
	}
	for _, g := range gaps {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "%s [%s/%s] %s\n", g.ID, g.Severity, g.Status, g.Title)
		fmt.Fprintf(w, "Regulation: %s\n", g.RegulationID)
		if g.RecommendedAction != "" {
			fmt.Fprintf(w, "Action: %s\n", utils.Truncate(g.RecommendedAction, 160))
		}
	}
	return nil
}

// WriteAmendments writes an amendment listing.
func WriteAmendments(w io.Writer, amendments []*models.AmendmentRecord, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, amendments)
	}
	if len(amendments) == 0 {
		fmt.Fprintln(w, "No amendments found")
		return nil
	}
	for _, a := range amendments {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "%s [%s/%s] %s\n", a.ID, a.Priority, a.Status, a.Title)
		fmt.Fprintf(w, "Gap: %s (attempt %d)\n", a.GapID, a.Attempt)
		fmt.Fprintf(w, "\n%s\n", utils.Truncate(a.AmendmentText, 300))
	}
	return nil
}

// WriteExecution writes an execution with its step log.
func WriteExecution(w io.Writer, exec *models.WorkflowExecution, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, exec)
	}
	fmt.Fprintf(w, "Execution: %s (%s)\n", exec.ID, exec.Kind)
	fmt.Fprintf(w, "Status:    %s\n", exec.Status)
	if exec.State != "" {
		fmt.Fprintf(w, "State:     %s\n", exec.State)
	}
	fmt.Fprintf(w, "Started:   %s\n", exec.StartedAt.Format("2006-01-02 15:04:05"))
	if exec.CompletedAt != nil {
		fmt.Fprintf(w, "Completed: %s (%s)\n", exec.CompletedAt.Format("2006-01-02 15:04:05"), exec.CompletedAt.Sub(exec.StartedAt).Round(1e6))
	}
	if exec.Error != nil {
		fmt.Fprintf(w, "Error:     %s in %s: %s\n", exec.Error.Kind, exec.Error.State, exec.Error.Message)
	}
	if len(exec.Output) > 0 {
		fmt.Fprintf(w, "Output:    %s\n", exec.Output)
	}
	if len(exec.Steps) > 0 {
		fmt.Fprintln(w, "Steps:")
		for _, s := range exec.Steps {
			line := fmt.Sprintf("  %3d %-18s %-9s", s.Seq, s.State, s.Event)
			if s.Attempt > 0 {
				line += fmt.Sprintf(" attempt=%d", s.Attempt)
			}
			if s.Detail != "" {
				line += " " + utils.Truncate(s.Detail, 120)
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

// WriteStatus writes the server status payload.
func WriteStatus(w io.Writer, status *Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, status)
	}
	fmt.Fprintln(w, "Documents:")
	for _, st := range []models.DocumentStatus{
		models.StatusDiscovered, models.StatusExtracting, models.StatusExtracted, models.StatusVectorized, models.StatusFailed,
	} {
		fmt.Fprintf(w, "  %-11s %d\n", st, status.Documents[st])
	}
	fmt.Fprintf(w, "Vectors:           %d\n", status.Vectors)
	fmt.Fprintf(w, "Vector index size: %d\n", status.VectorIndexSize)
	if status.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "Disk usage:        %s\n", FormatBytes(status.DiskUsageBytes))
		names := lo.Keys(status.DiskUsage)
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %-16s %s\n", name, FormatBytes(status.DiskUsage[name]))
		}
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
