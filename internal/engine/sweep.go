package engine

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/mzorec/memoir/internal/domain"
	"github.com/mzorec/memoir/internal/registry"
)

// Sweeper is the fallback of last resort for abandoned sessions: a periodic
// pass that closes anything idle beyond the inactivity threshold and retries
// failed commits whose backoff has elapsed.
type Sweeper struct {
	engine *Engine
	reg    *registry.Registry
	clock  clock.Clock
	logger *zap.Logger

	interval    time.Duration
	inactivity  time.Duration
	maxAttempts int
	concurrency int
}

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	Interval    time.Duration
	Inactivity  time.Duration
	MaxAttempts int
	Concurrency int
	Clock       clock.Clock
	Logger      *zap.Logger
}

// NewSweeper returns a Sweeper.
func NewSweeper(e *Engine, reg *registry.Registry, opts SweeperOptions) *Sweeper {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Inactivity <= 0 {
		opts.Inactivity = 30 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Sweeper{
		engine:      e,
		reg:         reg,
		clock:       opts.Clock,
		logger:      opts.Logger,
		interval:    opts.Interval,
		inactivity:  opts.Inactivity,
		maxAttempts: opts.MaxAttempts,
		concurrency: opts.Concurrency,
	}
}

// Run sweeps on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()
	s.logger.Info("timeout sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("inactivity_timeout", s.inactivity))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("timeout sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Errors are logged per session and never escape; a bad
// session must not stall the rest of the sweep.
func (s *Sweeper) Sweep(ctx context.Context) {
	// Bookkeeping first: quiet active sessions become inactive.
	for _, rec := range s.reg.ListInactive(s.interval) {
		if rec.State != domain.StateActive {
			continue
		}
		err := s.reg.WithLock(rec.SessionID, func(rec *domain.SessionRecord) error {
			if rec.State == domain.StateActive {
				rec.State = domain.StateInactive
			}
			return nil
		})
		if err != nil {
			s.logger.Warn("failed to mark session inactive",
				zap.String("session_id", rec.SessionID), zap.Error(err))
		}
	}

	candidates := s.reg.ListInactive(s.inactivity)
	cutoff := s.clock.Now().Add(-s.inactivity)
	for _, rec := range s.reg.ListUnindexed("") {
		if rec.State == domain.StateUnindexed && rec.LastActivityAt.Before(cutoff) {
			candidates = append(candidates, rec)
		}
	}
	candidates = append(candidates, s.reg.ListFailedDue(s.maxAttempts)...)
	candidates = lo.UniqBy(candidates, func(rec domain.SessionRecord) string { return rec.SessionID })
	if len(candidates) == 0 {
		return
	}

	s.logger.Debug("sweep pass", zap.Int("candidates", len(candidates)))
	p := pool.New().WithMaxGoroutines(s.concurrency)
	for _, rec := range candidates {
		p.Go(func() {
			res, err := s.engine.Close(ctx, rec.SessionID, domain.TriggerTimeout)
			if err != nil {
				s.logger.Warn("sweep close failed",
					zap.String("session_id", rec.SessionID), zap.Error(err))
				return
			}
			if res.Status == domain.CloseStatusError {
				s.logger.Warn("sweep commit failed",
					zap.String("session_id", rec.SessionID), zap.String("message", res.Message))
			}
		})
	}
	p.Wait()
}
