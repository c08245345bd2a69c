package domain

import "time"

// CloseStatus is the outcome class of a close attempt.
type CloseStatus string

const (
	CloseStatusSuccess CloseStatus = "success"
	CloseStatusError   CloseStatus = "error"
	CloseStatusPending CloseStatus = "pending"
)

// CloseResult is what the decision engine hands back to whichever trigger
// invoked it.
type CloseResult struct {
	SessionID  string
	Status     CloseStatus
	ArtifactID string
	Deduped    bool
	Message    string
}

// CloseResponse is the wire envelope for an explicit close call.
type CloseResponse struct {
	Type          string  `json:"type"` // "close_result"
	SchemaVersion int     `json:"schemaVersion"`
	Status        string  `json:"status"`
	SessionID     string  `json:"session_id"`
	ArtifactID    *string `json:"artifact_id"`
	Deduped       bool    `json:"deduped,omitempty"`
	Message       string  `json:"message"`
}

// NewCloseResponse builds the envelope from an engine result. The artifact id
// is null on error or when there was no content to commit.
func NewCloseResponse(res CloseResult) *CloseResponse {
	resp := &CloseResponse{
		Type:          "close_result",
		SchemaVersion: 1,
		Status:        string(res.Status),
		SessionID:     res.SessionID,
		Deduped:       res.Deduped,
		Message:       res.Message,
	}
	if res.ArtifactID != "" {
		id := res.ArtifactID
		resp.ArtifactID = &id
	}
	return resp
}

// SessionInfo is the wire form of one entry in the unindexed listing.
type SessionInfo struct {
	Type           string    `json:"type"` // "session"
	SchemaVersion  int       `json:"schemaVersion"`
	SessionID      string    `json:"session_id"`
	SourcePath     string    `json:"source_path"`
	Namespace      string    `json:"namespace"`
	State          State     `json:"state"`
	LastActivityAt time.Time `json:"last_activity_at"`
	RetryCount     int       `json:"retry_count,omitempty"`
}

// NewSessionInfo snapshots the listing fields of a record.
func NewSessionInfo(rec SessionRecord) SessionInfo {
	return SessionInfo{
		Type:           "session",
		SchemaVersion:  1,
		SessionID:      rec.SessionID,
		SourcePath:     rec.SourcePath,
		Namespace:      rec.Namespace,
		State:          rec.State,
		LastActivityAt: rec.LastActivityAt,
		RetryCount:     rec.RetryCount,
	}
}
