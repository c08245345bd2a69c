package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzorec/memoir/internal/domain"
)

func newSweeper(f *fixture) *Sweeper {
	return NewSweeper(f.engine, f.reg, SweeperOptions{
		Interval:    time.Minute,
		Inactivity:  30 * time.Minute,
		MaxAttempts: 3,
		Concurrency: 2,
		Clock:       f.mock,
	})
}

func TestSweepClosesAbandonedSession(t *testing.T) {
	f := newFixture(t)
	s := newSweeper(f)
	id := f.session(t, "a.jsonl", helloLine)

	// Not idle long enough: first sweep only demotes to inactive.
	f.mock.Add(5 * time.Minute)
	s.Sweep(context.Background())
	rec, _ := f.reg.Snapshot(id)
	require.Equal(t, domain.StateInactive, rec.State)
	index, _ := f.store.Calls()
	require.Equal(t, 0, index)

	// Past the inactivity threshold: the next sweep commits.
	f.mock.Add(30 * time.Minute)
	s.Sweep(context.Background())
	rec, _ = f.reg.Snapshot(id)
	assert.Equal(t, domain.StateIndexed, rec.State)
	assert.NotEmpty(t, rec.ArtifactID)
	assert.Equal(t, "timeout", rec.CloseReason)
}

func TestSweepLeavesFreshSessionsAlone(t *testing.T) {
	f := newFixture(t)
	s := newSweeper(f)
	id := f.session(t, "a.jsonl", helloLine)

	s.Sweep(context.Background())
	rec, _ := f.reg.Snapshot(id)
	assert.Equal(t, domain.StateActive, rec.State)
	index, _ := f.store.Calls()
	assert.Equal(t, 0, index)
}

func TestSweepIsCheapWhenNothingChanged(t *testing.T) {
	f := newFixture(t)
	s := newSweeper(f)
	id := f.session(t, "a.jsonl", helloLine)

	f.mock.Add(time.Hour)
	s.Sweep(context.Background())
	rec, _ := f.reg.Snapshot(id)
	require.Equal(t, domain.StateIndexed, rec.State)

	// Session resumes with unchanged content, goes idle again.
	f.mock.Add(time.Minute)
	require.NoError(t, f.reg.Touch(id, f.mock.Now()))
	f.mock.Add(time.Hour)
	s.Sweep(context.Background())

	rec, _ = f.reg.Snapshot(id)
	assert.Equal(t, domain.StateIndexed, rec.State)
	index, del := f.store.Calls()
	assert.Equal(t, 1, index, "dedup short-circuit makes repeated sweeps cheap")
	assert.Equal(t, 0, del)
}

func TestSweepRetriesFailedAfterBackoff(t *testing.T) {
	f := newFixture(t)
	s := newSweeper(f)
	id := f.session(t, "a.jsonl", helloLine)
	f.store.IndexErr = errors.New("store down")

	f.mock.Add(time.Hour)
	s.Sweep(context.Background())
	rec, _ := f.reg.Snapshot(id)
	require.Equal(t, domain.StateFailed, rec.State)
	require.Equal(t, 1, rec.RetryCount)

	// Backoff not elapsed yet: nothing happens.
	f.store.IndexErr = nil
	s.Sweep(context.Background())
	rec, _ = f.reg.Snapshot(id)
	require.Equal(t, domain.StateFailed, rec.State)

	f.mock.Add(time.Minute)
	s.Sweep(context.Background())
	rec, _ = f.reg.Snapshot(id)
	assert.Equal(t, domain.StateIndexed, rec.State)
}

func TestSweepStopsRetryingAfterBudget(t *testing.T) {
	f := newFixture(t)
	s := newSweeper(f)
	id := f.session(t, "a.jsonl", helloLine)
	f.store.IndexErr = errors.New("store down")

	f.mock.Add(time.Hour)
	for i := 0; i < 6; i++ {
		s.Sweep(context.Background())
		f.mock.Add(2 * time.Minute)
	}

	rec, _ := f.reg.Snapshot(id)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Equal(t, 3, rec.RetryCount, "no retries past the budget")
	assert.NotEmpty(t, f.reg.ListUnindexed("ns"), "exhausted session stays visible")
}

func TestSweepClosesRestoredUnindexedSession(t *testing.T) {
	f := newFixture(t)
	s := newSweeper(f)
	id := f.session(t, "a.jsonl", helloLine)
	require.NoError(t, f.reg.WithLock(id, func(rec *domain.SessionRecord) error {
		rec.State = domain.StateUnindexed
		return nil
	}))

	f.mock.Add(time.Hour)
	s.Sweep(context.Background())
	rec, _ := f.reg.Snapshot(id)
	assert.Equal(t, domain.StateIndexed, rec.State)
}

func TestSweeperRunHonorsContext(t *testing.T) {
	f := newFixture(t)
	s := newSweeper(f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
