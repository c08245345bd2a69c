// Package engine implements the close decision procedure that reconciles the
// explicit, lazy and timeout triggers into one consistent commit decision per
// session.
package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mzorec/memoir/internal/commit"
	"github.com/mzorec/memoir/internal/domain"
	"github.com/mzorec/memoir/internal/fingerprint"
	"github.com/mzorec/memoir/internal/registry"
	"github.com/mzorec/memoir/internal/transcript"
)

// inflight is a commit in progress. Waiters block on done; the result is
// immutable once done is closed.
type inflight struct {
	done   chan struct{}
	result domain.CloseResult
}

// Engine runs the close decision procedure. The procedure is identical
// regardless of which trigger invoked it; triggers only differ in how they
// wait for the result.
type Engine struct {
	reg      *registry.Registry
	hasher   *fingerprint.Hasher
	pipeline *commit.Pipeline
	logger   *zap.Logger

	// commitSlots bounds concurrent commits across distinct sessions.
	commitSlots chan struct{}

	mu       sync.Mutex
	inflight map[string]*inflight
}

// Options configures an Engine.
type Options struct {
	Logger *zap.Logger
	// CommitConcurrency bounds parallel commits; zero means 4.
	CommitConcurrency int
}

// New returns an Engine.
func New(reg *registry.Registry, filter transcript.Filter, pipeline *commit.Pipeline, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CommitConcurrency <= 0 {
		opts.CommitConcurrency = 4
	}
	return &Engine{
		reg:         reg,
		hasher:      fingerprint.NewHasher(filter),
		pipeline:    pipeline,
		logger:      opts.Logger,
		commitSlots: make(chan struct{}, opts.CommitConcurrency),
		inflight:    make(map[string]*inflight),
	}
}

// Close runs the decision procedure for one session. The per-session lock
// serializes racing triggers: whichever acquires it first runs the full
// procedure, the rest either join the in-flight commit or short-circuit on
// the fresh fingerprint.
//
// Commit failures come back as a result with error status, not as an error;
// the error return is reserved for caller-side problems (unknown session,
// unreadable source, cancelled wait). When the wait is cancelled the commit
// keeps running in the background.
func (e *Engine) Close(ctx context.Context, sessionID string, trig domain.Trigger) (domain.CloseResult, error) {
	var (
		res     domain.CloseResult
		fl      *inflight
		start   bool
		snap    domain.SessionRecord
		content string
		digest  string
	)
	err := e.reg.WithLock(sessionID, func(rec *domain.SessionRecord) error {
		if rec.State == domain.StateIndexing {
			// No double commit: join the in-flight run.
			fl = e.inflightFor(sessionID)
			return nil
		}

		// Transient read or filter errors leave the record as-is so a future
		// trigger retries.
		var err error
		content, digest, err = e.hasher.Canonicalize(rec.SourcePath)
		if err != nil {
			return err
		}

		if rec.Committed() && rec.ArtifactID != "" && rec.Fingerprint == digest {
			// Dedup short-circuit: the committed artifact is still current,
			// so repeated triggers cost one hash and zero store calls. A
			// resumed session whose canonical content is unchanged re-enters
			// its committed steady state without a new commit.
			rec.State = domain.StateIndexed
			res = domain.CloseResult{
				SessionID:  sessionID,
				Status:     domain.CloseStatusSuccess,
				ArtifactID: rec.ArtifactID,
				Deduped:    true,
				Message:    "content unchanged since last commit",
			}
			return nil
		}

		if content == "" {
			res = domain.CloseResult{
				SessionID: sessionID,
				Status:    domain.CloseStatusSuccess,
				Message:   "no content to commit",
			}
			return nil
		}

		rec.State = domain.StateIndexing
		rec.CloseReason = string(trig.CloseReason())
		snap = *rec
		start = true
		// Registered while the per-session lock is still held, so any later
		// observer of the indexing state finds the entry.
		fl = e.register(sessionID)
		return nil
	})
	if err != nil {
		e.logger.Warn("close attempt skipped",
			zap.String("session_id", sessionID),
			zap.String("trigger", trig.String()),
			zap.Error(err))
		return domain.CloseResult{
			SessionID: sessionID,
			Status:    domain.CloseStatusError,
			Message:   err.Error(),
		}, err
	}

	if start {
		e.logger.Info("session closing",
			zap.String("session_id", sessionID),
			zap.String("trigger", trig.String()))
		go e.runCommit(context.WithoutCancel(ctx), snap, content, digest, trig)
	}

	if fl != nil {
		select {
		case <-fl.done:
			return fl.result, nil
		case <-ctx.Done():
			return domain.CloseResult{
				SessionID: sessionID,
				Status:    domain.CloseStatusPending,
				Message:   "commit still in progress",
			}, ctx.Err()
		}
	}
	if !start && res.Status == "" {
		// Observed indexing after the in-flight entry was already resolved.
		return domain.CloseResult{
			SessionID: sessionID,
			Status:    domain.CloseStatusPending,
			Message:   "commit still in progress",
		}, nil
	}
	return res, nil
}

// runCommit executes the pipeline for a session already transitioned to
// indexing and publishes the result to all waiters.
func (e *Engine) runCommit(ctx context.Context, snap domain.SessionRecord, content, digest string, trig domain.Trigger) {
	e.commitSlots <- struct{}{}
	defer func() { <-e.commitSlots }()

	res := domain.CloseResult{SessionID: snap.SessionID}
	artifactID, err := e.pipeline.Commit(ctx, snap, content, digest, trig.CloseReason())
	if err != nil {
		res.Status = domain.CloseStatusError
		res.Message = err.Error()
	} else {
		res.Status = domain.CloseStatusSuccess
		res.ArtifactID = artifactID
		res.Message = "session committed"
	}
	e.resolve(snap.SessionID, res)
}

func (e *Engine) inflightFor(sessionID string) *inflight {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight[sessionID]
}

func (e *Engine) register(sessionID string) *inflight {
	e.mu.Lock()
	defer e.mu.Unlock()
	fl := &inflight{done: make(chan struct{})}
	e.inflight[sessionID] = fl
	return fl
}

func (e *Engine) resolve(sessionID string, res domain.CloseResult) {
	e.mu.Lock()
	fl := e.inflight[sessionID]
	delete(e.inflight, sessionID)
	e.mu.Unlock()
	if fl != nil {
		fl.result = res
		close(fl.done)
	}
}
