package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mzorec/memoir/internal/domain"
)

const stateSchemaVersion = 1

// persistedRecord is the on-disk form of a SessionRecord, one JSON file per
// session id under <dir>/sessions.
type persistedRecord struct {
	Type          string               `json:"type"` // "session_record"
	SchemaVersion int                  `json:"schemaVersion"`
	Record        domain.SessionRecord `json:"record"`
	UpdatedAt     string               `json:"updated_at"`
}

func (r *Registry) sessionsDir() string {
	return filepath.Join(r.dir, "sessions")
}

func (r *Registry) recordPath(sessionID string) string {
	return filepath.Join(r.sessionsDir(), sessionID+".json")
}

// save flushes one record to disk. Written via temp file and rename so a
// crash mid-write never leaves a truncated record behind.
func (r *Registry) save(rec *domain.SessionRecord) error {
	dir := r.sessionsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	pr := persistedRecord{
		Type:          "session_record",
		SchemaVersion: stateSchemaVersion,
		Record:        *rec,
		UpdatedAt:     r.clock.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(pr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, rec.SessionID+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, r.recordPath(rec.SessionID))
}

// loadAll reads every persisted record at startup and applies the restart
// reclassifications.
func (r *Registry) loadAll() error {
	dir := r.sessionsDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state dir: %w", err)
	}
	now := r.clock.Now()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("skipping unreadable session record", zap.String("path", path), zap.Error(err))
			continue
		}
		var pr persistedRecord
		if err := json.Unmarshal(b, &pr); err != nil {
			r.logger.Warn("skipping corrupt session record", zap.String("path", path), zap.Error(err))
			continue
		}
		rec := pr.Record
		if rec.SessionID == "" {
			r.logger.Warn("skipping session record without id", zap.String("path", path))
			continue
		}

		changed := false
		if r.discard && (rec.ArtifactID != "" || rec.Committed()) {
			// The store these artifacts lived in is gone; the session starts
			// over as never committed.
			rec.ArtifactID = ""
			rec.Fingerprint = ""
			rec.RetryCount = 0
			rec.NextRetryAt = time.Time{}
			if rec.State == domain.StateIndexed || rec.State == domain.StateFailed {
				rec.State = domain.StateUnindexed
			}
			changed = true
			r.logger.Warn("discarding artifact state from a volatile store",
				zap.String("session_id", rec.SessionID))
		}
		switch rec.State {
		case domain.StateIndexing:
			// The previous process died mid-commit; whether it reached the
			// store is unknowable, so retry rather than assume success.
			rec.State = domain.StateFailed
			rec.NextRetryAt = time.Time{}
			changed = true
			r.logger.Warn("demoting mid-indexing session to failed",
				zap.String("session_id", rec.SessionID))
		case domain.StateActive, domain.StateInactive:
			if !rec.Committed() && r.inactivity > 0 &&
				rec.LastActivityAt.Before(now.Add(-r.inactivity)) {
				rec.State = domain.StateUnindexed
				changed = true
			}
		}

		stored := rec
		r.mu.Lock()
		r.records[rec.SessionID] = &stored
		r.mu.Unlock()
		if changed {
			if err := r.save(&stored); err != nil {
				return fmt.Errorf("persist reclassified session %s: %w", rec.SessionID, err)
			}
		}
	}
	r.logger.Info("session registry loaded", zap.Int("sessions", len(r.records)))
	return nil
}
