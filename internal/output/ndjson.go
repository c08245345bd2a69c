// Package output renders memoir results as NDJSON for machine consumers or
// text/tables for humans.
package output

import (
	"encoding/json"
	"io"

	"github.com/mzorec/memoir/internal/domain"
)

// SchemaVersion is the wire schema version stamped on every NDJSON line.
const SchemaVersion = 1

// NDJSONWriter emits one JSON object per line.
type NDJSONWriter struct {
	w io.Writer
}

// NewNDJSONWriter creates an NDJSON writer.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{w: w}
}

func (n *NDJSONWriter) writeLine(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = n.w.Write(b)
	return err
}

// WriteCloseResult emits the envelope for a close call.
func (n *NDJSONWriter) WriteCloseResult(res domain.CloseResult) error {
	return n.writeLine(domain.NewCloseResponse(res))
}

// WriteSession emits one unindexed-listing entry.
func (n *NDJSONWriter) WriteSession(info domain.SessionInfo) error {
	return n.writeLine(info)
}

// ensureResult is the envelope for a lazy-gate invocation.
type ensureResult struct {
	Type          string   `json:"type"` // "ensure_result"
	SchemaVersion int      `json:"schemaVersion"`
	Status        string   `json:"status"`
	Pending       []string `json:"pending,omitempty"`
}

// WriteEnsureResult emits the outcome of a lazy-gate run.
func (n *NDJSONWriter) WriteEnsureResult(status string, pending []string) error {
	return n.writeLine(ensureResult{
		Type:          "ensure_result",
		SchemaVersion: SchemaVersion,
		Status:        status,
		Pending:       pending,
	})
}

// errorLine is the envelope for failures, kept machine-readable so agents
// never have to parse prose.
type errorLine struct {
	Type          string `json:"type"` // "error"
	SchemaVersion int    `json:"schemaVersion"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Hint          string `json:"hint,omitempty"`
}

// WriteError emits a structured error.
func (n *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	line := errorLine{
		Type:          "error",
		SchemaVersion: SchemaVersion,
		Code:          code,
		Message:       message,
	}
	if len(hint) > 0 {
		line.Hint = hint[0]
	}
	return n.writeLine(line)
}

// infoLine carries free-form progress notes.
type infoLine struct {
	Type          string `json:"type"` // "info"
	SchemaVersion int    `json:"schemaVersion"`
	Message       string `json:"message"`
}

// WriteInfo emits an informational line.
func (n *NDJSONWriter) WriteInfo(message string) error {
	return n.writeLine(infoLine{Type: "info", SchemaVersion: SchemaVersion, Message: message})
}
