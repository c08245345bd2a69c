// Package gate guarantees that queries observe up-to-date committed content:
// before a query touches a namespace, pending sessions in that scope are
// forced through the close decision procedure, bounded by a maximum wait.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/mzorec/memoir/internal/domain"
	"github.com/mzorec/memoir/internal/engine"
	"github.com/mzorec/memoir/internal/registry"
)

// Status reports whether the gate finished the whole scope in time.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
)

// Result is the outcome of one gate invocation.
type Result struct {
	Status Status
	// Pending lists sessions still committing when the wait expired.
	Pending []string
}

// Gate wraps query entry points with lazy commit enforcement.
type Gate struct {
	engine      *engine.Engine
	reg         *registry.Registry
	clock       clock.Clock
	logger      *zap.Logger
	maxWait     time.Duration
	maxAttempts int
	concurrency int
}

// Options configures a Gate.
type Options struct {
	// MaxWait bounds the total wait across the scope; zero means 30s.
	MaxWait time.Duration
	// MaxAttempts is the retry budget; sessions beyond it are not retried.
	MaxAttempts int
	Concurrency int
	Clock       clock.Clock
	Logger      *zap.Logger
}

// New returns a Gate.
func New(e *engine.Engine, reg *registry.Registry, opts Options) *Gate {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Gate{
		engine:      e,
		reg:         reg,
		clock:       opts.Clock,
		logger:      opts.Logger,
		maxWait:     opts.MaxWait,
		maxAttempts: opts.MaxAttempts,
		concurrency: opts.Concurrency,
	}
}

// EnsureCommitted forces pending commits for every session in the given
// namespaces. It returns ok when the whole scope settled, partial when the
// wait expired first; either way the caller's query may proceed, and
// unfinished commits keep running in the background.
func (g *Gate) EnsureCommitted(ctx context.Context, namespaces []string) (Result, error) {
	var pending []domain.SessionRecord
	if len(namespaces) == 0 {
		pending = g.reg.ListUnindexed("")
	} else {
		for _, ns := range lo.Uniq(namespaces) {
			pending = append(pending, g.reg.ListUnindexed(ns)...)
		}
	}
	// Sessions past their retry budget are surfaced to operators instead of
	// being retried on every query.
	pending = lo.Filter(pending, func(rec domain.SessionRecord, _ int) bool {
		return rec.State != domain.StateFailed || rec.RetryCount < g.maxAttempts
	})
	pending = lo.UniqBy(pending, func(rec domain.SessionRecord) string { return rec.SessionID })
	if len(pending) == 0 {
		return Result{Status: StatusOK}, nil
	}

	// The wait bound runs on the injected clock so expiry is testable; it
	// cancels the waiters only, never the commits behind them.
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	timer := g.clock.Timer(g.maxWait)
	defer timer.Stop()
	go func() {
		select {
		case <-timer.C:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	var mu sync.Mutex
	var stillPending []string

	p := pool.New().WithMaxGoroutines(g.concurrency)
	for _, rec := range pending {
		p.Go(func() {
			res, err := g.engine.Close(waitCtx, rec.SessionID, domain.TriggerLazy)
			if err != nil || res.Status == domain.CloseStatusPending {
				mu.Lock()
				stillPending = append(stillPending, rec.SessionID)
				mu.Unlock()
			}
		})
	}
	p.Wait()

	if len(stillPending) > 0 {
		g.logger.Warn("query proceeding before all commits settled",
			zap.Strings("pending_sessions", stillPending))
		return Result{Status: StatusPartial, Pending: stillPending}, nil
	}
	return Result{Status: StatusOK}, nil
}
