package output

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/mzorec/memoir/internal/domain"
)

// TextWriter renders results for humans.
type TextWriter struct {
	w io.Writer
}

// NewTextWriter creates a text writer.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

// WriteCloseResult prints the outcome of a close call.
func (t *TextWriter) WriteCloseResult(res domain.CloseResult) error {
	switch {
	case res.Status == domain.CloseStatusError:
		_, err := fmt.Fprintf(t.w, "Close failed for %s: %s\n", res.SessionID, res.Message)
		return err
	case res.Deduped:
		_, err := fmt.Fprintf(t.w, "Session %s already committed as %s (content unchanged)\n", res.SessionID, res.ArtifactID)
		return err
	case res.ArtifactID == "":
		_, err := fmt.Fprintf(t.w, "Session %s: %s\n", res.SessionID, res.Message)
		return err
	default:
		_, err := fmt.Fprintf(t.w, "Session %s committed as %s\n", res.SessionID, res.ArtifactID)
		return err
	}
}

// WriteSessions prints the unindexed listing as a table.
func (t *TextWriter) WriteSessions(infos []domain.SessionInfo) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(t.w, "No pending sessions.")
		return err
	}
	table := tablewriter.NewWriter(t.w)
	table.Header("SESSION", "NAMESPACE", "STATE", "LAST ACTIVITY", "RETRIES", "SOURCE")
	for _, info := range infos {
		retries := ""
		if info.RetryCount > 0 {
			retries = fmt.Sprintf("%d", info.RetryCount)
		}
		if err := table.Append(
			info.SessionID,
			info.Namespace,
			string(info.State),
			info.LastActivityAt.UTC().Format(time.RFC3339),
			retries,
			info.SourcePath,
		); err != nil {
			return err
		}
	}
	return table.Render()
}

// WriteEnsureResult prints the outcome of a lazy-gate run.
func (t *TextWriter) WriteEnsureResult(status string, pending []string) error {
	if len(pending) == 0 {
		_, err := fmt.Fprintf(t.w, "All sessions committed (%s)\n", status)
		return err
	}
	if _, err := fmt.Fprintf(t.w, "Result: %s; still pending:\n", status); err != nil {
		return err
	}
	for _, id := range pending {
		if _, err := fmt.Fprintf(t.w, "  %s\n", id); err != nil {
			return err
		}
	}
	return nil
}
