// Package commit exchanges a session's previously indexed artifact for a
// freshly indexed one and records the outcome.
package commit

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mzorec/memoir/internal/domain"
	"github.com/mzorec/memoir/internal/graph"
	"github.com/mzorec/memoir/internal/registry"
)

// RetryPolicy bounds how failed commits are retried.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultRetryPolicy matches the daemon defaults.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BackoffBase: 10 * time.Second,
	BackoffCap:  10 * time.Minute,
}

// NextRetryAt computes the exponential-backoff deadline after retryCount
// failures. The first failure retries after the base interval; each further
// failure doubles it up to the cap.
func (p RetryPolicy) NextRetryAt(retryCount int, now time.Time) time.Time {
	backoff := p.BackoffBase
	for i := 1; i < retryCount; i++ {
		backoff *= 2
		if backoff >= p.BackoffCap {
			backoff = p.BackoffCap
			break
		}
	}
	if p.BackoffCap > 0 && backoff > p.BackoffCap {
		backoff = p.BackoffCap
	}
	return now.Add(backoff)
}

// Pipeline performs the delete-old/create-new exchange against the graph
// store and atomically updates the registry entry with the result.
type Pipeline struct {
	store  graph.Store
	reg    *registry.Registry
	clock  clock.Clock
	logger *zap.Logger
	policy RetryPolicy
}

// Options configures a Pipeline.
type Options struct {
	Clock  clock.Clock
	Logger *zap.Logger
	Policy RetryPolicy
}

// New returns a Pipeline writing outcomes through the registry.
func New(store graph.Store, reg *registry.Registry, opts Options) *Pipeline {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = DefaultRetryPolicy
	}
	return &Pipeline{
		store:  store,
		reg:    reg,
		clock:  opts.Clock,
		logger: opts.Logger,
		policy: opts.Policy,
	}
}

// Policy returns the retry policy in effect.
func (p *Pipeline) Policy() RetryPolicy {
	return p.policy
}

// Commit replaces the session's artifact with a fresh one built from content.
// snap must be the record as it was when the caller transitioned it to
// indexing. On success the record becomes indexed with the new fingerprint
// and artifact id; on failure it becomes failed with backoff scheduled, and
// its artifact id reflects whichever artifact actually exists in the store.
//
// The delete-then-create ordering means an index failure after a successful
// delete leaves the session with no artifact until a retry succeeds.
func (p *Pipeline) Commit(ctx context.Context, snap domain.SessionRecord, content, digest string, reason domain.CloseReason) (string, error) {
	opID := uuid.NewString()[:8]
	log := p.logger.With(
		zap.String("op_id", opID),
		zap.String("session_id", snap.SessionID),
		zap.String("reason", string(reason)))

	oldDeleted := false
	if snap.ArtifactID != "" {
		if err := p.store.Delete(ctx, snap.ArtifactID); err != nil {
			log.Error("delete of stale artifact failed", zap.String("artifact_id", snap.ArtifactID), zap.Error(err))
			p.recordFailure(snap.SessionID, false, reason)
			return "", fmt.Errorf("delete artifact %s: %w", snap.ArtifactID, err)
		}
		oldDeleted = true
		log.Debug("stale artifact deleted", zap.String("artifact_id", snap.ArtifactID))
	}

	artifactID, err := p.store.Index(ctx, content)
	if err != nil {
		log.Error("index failed", zap.Error(err))
		p.recordFailure(snap.SessionID, oldDeleted, reason)
		return "", fmt.Errorf("index session %s: %w", snap.SessionID, err)
	}

	err = p.reg.WithLock(snap.SessionID, func(rec *domain.SessionRecord) error {
		if !domain.CanTransition(rec.State, domain.StateIndexed) {
			return fmt.Errorf("illegal transition %s -> %s", rec.State, domain.StateIndexed)
		}
		rec.State = domain.StateIndexed
		rec.Fingerprint = digest
		rec.ArtifactID = artifactID
		rec.CloseReason = string(reason)
		rec.RetryCount = 0
		rec.NextRetryAt = time.Time{}
		return nil
	})
	if err != nil {
		return "", err
	}
	log.Info("session committed", zap.String("artifact_id", artifactID))
	return artifactID, nil
}

// recordFailure marks the record failed and schedules the next retry. When
// the old artifact was already deleted the artifact id is cleared: the store
// no longer holds it, and pretending otherwise would make a later exchange
// delete a ghost.
func (p *Pipeline) recordFailure(sessionID string, oldDeleted bool, reason domain.CloseReason) {
	err := p.reg.WithLock(sessionID, func(rec *domain.SessionRecord) error {
		rec.State = domain.StateFailed
		rec.CloseReason = string(reason)
		rec.RetryCount++
		if oldDeleted {
			rec.ArtifactID = ""
		}
		if rec.RetryCount < p.policy.MaxAttempts {
			rec.NextRetryAt = p.policy.NextRetryAt(rec.RetryCount, p.clock.Now().UTC())
		} else {
			rec.NextRetryAt = time.Time{}
			p.logger.Warn("session exhausted retry budget",
				zap.String("session_id", sessionID),
				zap.Int("retry_count", rec.RetryCount))
		}
		return nil
	})
	if err != nil {
		p.logger.Error("failed to record commit failure", zap.String("session_id", sessionID), zap.Error(err))
	}
}
