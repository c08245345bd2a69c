package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"
)

// State is the lifecycle state of a tracked session.
type State string

const (
	StateActive    State = "active"
	StateInactive  State = "inactive"
	StateIndexing  State = "indexing"
	StateIndexed   State = "indexed"
	StateFailed    State = "failed"
	StateUnindexed State = "unindexed"
)

// CloseReason records which trigger produced the last close attempt.
type CloseReason string

const (
	CloseReasonExplicit CloseReason = "explicit"
	CloseReasonLazy     CloseReason = "lazy"
	CloseReasonTimeout  CloseReason = "timeout"
)

// SessionRecord is the durable per-session state. The registry exclusively
// owns mutation; everything else works on snapshots.
type SessionRecord struct {
	SessionID      string    `json:"session_id"`
	SourcePath     string    `json:"source_path"`
	Namespace      string    `json:"namespace"`
	State          State     `json:"state"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	ArtifactID     string    `json:"artifact_id,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CloseReason    string    `json:"close_reason,omitempty"`
	RetryCount     int       `json:"retry_count,omitempty"`
	NextRetryAt    time.Time `json:"next_retry_at,omitempty"`
}

// transitions is the closed set of legal state edges. A new commit only ever
// lands through indexing; the direct edges into indexed are the dedup
// shortcut, taken when the current fingerprint still matches the committed
// artifact, so no store call happens. Unindexed records have never committed
// and cannot take the shortcut.
var transitions = map[State][]State{
	StateActive:    {StateActive, StateInactive, StateIndexing, StateIndexed},
	StateInactive:  {StateActive, StateIndexing, StateIndexed},
	StateIndexing:  {StateIndexed, StateFailed},
	StateIndexed:   {StateActive, StateIndexing},
	StateFailed:    {StateActive, StateIndexing, StateIndexed},
	StateUnindexed: {StateActive, StateIndexing},
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Committed reports whether the record has ever successfully committed.
func (r *SessionRecord) Committed() bool {
	return r.Fingerprint != ""
}

// SessionID derives the opaque stable identifier for a source path. The
// digest is truncated; this is an identity key, not a content hash.
func SessionID(sourcePath string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(sourcePath)))
	return hex.EncodeToString(sum[:12])
}

// NamespaceFromPath derives the logical namespace for a transcript path by
// walking depth directories up from the file. Depth 1 means the immediate
// parent directory name.
func NamespaceFromPath(sourcePath string, depth int) string {
	if depth < 1 {
		depth = 1
	}
	dir := filepath.Dir(filepath.Clean(sourcePath))
	for i := 1; i < depth; i++ {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	ns := filepath.Base(dir)
	if ns == "." || ns == string(filepath.Separator) {
		return "default"
	}
	return strings.ToLower(ns)
}
