// Package registry is the single source of truth for per-session lifecycle
// state. All mutation goes through per-session critical sections and is
// flushed to durable storage before the lock is released, so a crash between
// operations never loses an update.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mzorec/memoir/internal/domain"
)

// ErrNotFound is returned when a session id has no record.
var ErrNotFound = errors.New("session not found")

// Options configures a Registry.
type Options struct {
	// Dir is the state directory; records live under Dir/sessions.
	Dir string
	// InactivityTimeout classifies restored records with stale activity.
	InactivityTimeout time.Duration
	// DiscardArtifacts drops committed artifact state at load. Set when the
	// graph store does not outlive the process (the memory driver): restored
	// artifact ids are dangling there, and keeping them would make the next
	// replacing commit fail at the delete step.
	DiscardArtifacts bool
	Clock            clock.Clock
	Logger           *zap.Logger
}

// Registry is the durable map from session id to SessionRecord.
type Registry struct {
	dir        string
	inactivity time.Duration
	discard    bool
	clock      clock.Clock
	logger     *zap.Logger

	mu      sync.Mutex
	records map[string]*domain.SessionRecord
	locks   map[string]*sync.Mutex
}

// Open loads all persisted records from the state directory. Any record found
// mid-indexing is demoted to failed: the previous process cannot have
// confirmed the commit, so it is conservatively retried rather than assumed
// complete. Restored records that never committed and have no recent activity
// become unindexed.
func Open(opts Options) (*Registry, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &Registry{
		dir:        opts.Dir,
		inactivity: opts.InactivityTimeout,
		discard:    opts.DiscardArtifacts,
		clock:      opts.Clock,
		logger:     opts.Logger,
		records:    make(map[string]*domain.SessionRecord),
		locks:      make(map[string]*sync.Mutex),
	}
	if err := r.loadAll(); err != nil {
		return nil, err
	}
	return r, nil
}

// lockFor returns the mutex serializing access to one session id.
func (r *Registry) lockFor(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	mu, ok := r.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[sessionID] = mu
	}
	return mu
}

func (r *Registry) record(sessionID string) (*domain.SessionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[sessionID]
	return rec, ok
}

// GetOrCreate returns the record for a source path, creating it in active
// state on first sight. Creation is idempotent: first-seen wins and the
// existing record is returned unchanged on subsequent calls.
func (r *Registry) GetOrCreate(sourcePath, namespace string) (domain.SessionRecord, error) {
	id := domain.SessionID(sourcePath)
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if rec, ok := r.record(id); ok {
		return *rec, nil
	}
	rec := &domain.SessionRecord{
		SessionID:      id,
		SourcePath:     sourcePath,
		Namespace:      namespace,
		State:          domain.StateActive,
		LastActivityAt: r.clock.Now().UTC(),
	}
	if err := r.save(rec); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("persist new session: %w", err)
	}
	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()
	r.logger.Debug("session created",
		zap.String("session_id", id),
		zap.String("source_path", sourcePath),
		zap.String("namespace", namespace))
	return *rec, nil
}

// Touch records activity for a session. Inactive, indexed and unindexed
// records become active again; an in-flight commit is left alone.
func (r *Registry) Touch(sessionID string, ts time.Time) error {
	return r.WithLock(sessionID, func(rec *domain.SessionRecord) error {
		if ts.After(rec.LastActivityAt) {
			rec.LastActivityAt = ts.UTC()
		}
		switch rec.State {
		case domain.StateInactive, domain.StateIndexed, domain.StateUnindexed:
			rec.State = domain.StateActive
		}
		return nil
	})
}

// WithLock runs fn inside the per-session critical section and persists the
// mutated record before releasing the lock. If fn returns an error the
// mutation is discarded.
func (r *Registry) WithLock(sessionID string, fn func(*domain.SessionRecord) error) error {
	mu := r.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	rec, ok := r.record(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	before := *rec
	if err := fn(rec); err != nil {
		*rec = before
		return err
	}
	if err := r.save(rec); err != nil {
		*rec = before
		return fmt.Errorf("persist session %s: %w", sessionID, err)
	}
	return nil
}

// Snapshot returns a copy of the record, if present.
func (r *Registry) Snapshot(sessionID string) (domain.SessionRecord, bool) {
	mu := r.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()
	rec, ok := r.record(sessionID)
	if !ok {
		return domain.SessionRecord{}, false
	}
	return *rec, true
}

// snapshotAll copies every record under the table lock.
func (r *Registry) snapshotAll() []domain.SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SessionRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

// All returns a snapshot of every record.
func (r *Registry) All() []domain.SessionRecord {
	return r.snapshotAll()
}

// ListInactive returns active or inactive records whose last activity is
// older than the threshold, the candidates for timeout closure.
func (r *Registry) ListInactive(olderThan time.Duration) []domain.SessionRecord {
	cutoff := r.clock.Now().Add(-olderThan)
	return lo.Filter(r.snapshotAll(), func(rec domain.SessionRecord, _ int) bool {
		if rec.State != domain.StateActive && rec.State != domain.StateInactive {
			return false
		}
		return rec.LastActivityAt.Before(cutoff)
	})
}

// ListUnindexed returns records that have pending content: unindexed,
// inactive-but-never-committed, or failed. Namespace empty means all.
func (r *Registry) ListUnindexed(namespace string) []domain.SessionRecord {
	return lo.Filter(r.snapshotAll(), func(rec domain.SessionRecord, _ int) bool {
		if namespace != "" && rec.Namespace != namespace {
			return false
		}
		switch rec.State {
		case domain.StateUnindexed, domain.StateFailed:
			return true
		case domain.StateInactive:
			return !rec.Committed()
		}
		return false
	})
}

// ListFailedDue returns failed records whose backoff has elapsed and that
// still have retry budget.
func (r *Registry) ListFailedDue(maxAttempts int) []domain.SessionRecord {
	now := r.clock.Now()
	return lo.Filter(r.snapshotAll(), func(rec domain.SessionRecord, _ int) bool {
		if rec.State != domain.StateFailed {
			return false
		}
		if rec.RetryCount >= maxAttempts {
			return false
		}
		return !rec.NextRetryAt.After(now)
	})
}
