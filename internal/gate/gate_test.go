package gate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzorec/memoir/internal/commit"
	"github.com/mzorec/memoir/internal/domain"
	"github.com/mzorec/memoir/internal/engine"
	"github.com/mzorec/memoir/internal/graph"
	"github.com/mzorec/memoir/internal/registry"
	"github.com/mzorec/memoir/internal/transcript"
)

type fixture struct {
	gate  *Gate
	reg   *registry.Registry
	store *graph.Memory
	mock  *clock.Mock
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	reg, err := registry.Open(registry.Options{Dir: t.TempDir(), InactivityTimeout: 30 * time.Minute, Clock: mock})
	require.NoError(t, err)
	store := graph.NewMemory()
	pipeline := commit.New(store, reg, commit.Options{
		Clock:  mock,
		Policy: commit.RetryPolicy{MaxAttempts: 3, BackoffBase: 10 * time.Second, BackoffCap: time.Minute},
	})
	eng := engine.New(reg, &transcript.NDJSONFilter{}, pipeline, engine.Options{})
	g := New(eng, reg, Options{MaxWait: 5 * time.Second, MaxAttempts: 3, Concurrency: 2, Clock: mock})
	return &fixture{gate: g, reg: reg, store: store, mock: mock, dir: t.TempDir()}
}

func (f *fixture) session(t *testing.T, name, ns, content string, state domain.State) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	rec, err := f.reg.GetOrCreate(path, ns)
	require.NoError(t, err)
	if state != domain.StateActive {
		require.NoError(t, f.reg.WithLock(rec.SessionID, func(rec *domain.SessionRecord) error {
			rec.State = state
			return nil
		}))
	}
	return rec.SessionID
}

const line = `{"role":"user","text":"hello"}` + "\n"

func TestEnsureCommittedCommitsScope(t *testing.T) {
	f := newFixture(t)
	a := f.session(t, "a.jsonl", "ns", line, domain.StateInactive)
	b := f.session(t, "b.jsonl", "ns", line, domain.StateUnindexed)
	other := f.session(t, "c.jsonl", "other", line, domain.StateInactive)

	res, err := f.gate.EnsureCommitted(context.Background(), []string{"ns"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	require.Empty(t, res.Pending)

	for _, id := range []string{a, b} {
		rec, _ := f.reg.Snapshot(id)
		assert.Equal(t, domain.StateIndexed, rec.State, "session %s", id)
		assert.Equal(t, "lazy", rec.CloseReason)
	}
	rec, _ := f.reg.Snapshot(other)
	assert.Equal(t, domain.StateInactive, rec.State, "out-of-scope session untouched")
}

func TestEnsureCommittedEmptyScope(t *testing.T) {
	f := newFixture(t)
	res, err := f.gate.EnsureCommitted(context.Background(), []string{"ns"})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
}

func TestEnsureCommittedAllNamespaces(t *testing.T) {
	f := newFixture(t)
	a := f.session(t, "a.jsonl", "ns", line, domain.StateInactive)
	b := f.session(t, "b.jsonl", "other", line, domain.StateInactive)

	res, err := f.gate.EnsureCommitted(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)

	for _, id := range []string{a, b} {
		rec, _ := f.reg.Snapshot(id)
		assert.Equal(t, domain.StateIndexed, rec.State)
	}
}

func TestEnsureCommittedFailedCountsAsSettled(t *testing.T) {
	f := newFixture(t)
	f.session(t, "a.jsonl", "ns", line, domain.StateInactive)
	f.store.IndexErr = errors.New("store down")

	res, err := f.gate.EnsureCommitted(context.Background(), []string{"ns"})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status, "a failed commit is a settled outcome")
}

func TestEnsureCommittedSkipsExhaustedSessions(t *testing.T) {
	f := newFixture(t)
	id := f.session(t, "a.jsonl", "ns", line, domain.StateFailed)
	require.NoError(t, f.reg.WithLock(id, func(rec *domain.SessionRecord) error {
		rec.RetryCount = 3
		return nil
	}))

	res, err := f.gate.EnsureCommitted(context.Background(), []string{"ns"})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	index, _ := f.store.Calls()
	assert.Equal(t, 0, index, "exhausted sessions are not retried by queries")
}

func TestEnsureCommittedPartialOnUnreadableSource(t *testing.T) {
	f := newFixture(t)
	id := f.session(t, "a.jsonl", "ns", line, domain.StateInactive)
	require.NoError(t, os.Remove(filepath.Join(f.dir, "a.jsonl")))

	res, err := f.gate.EnsureCommitted(context.Background(), []string{"ns"})
	require.NoError(t, err, "queries never fail outright because of the gate")
	assert.Equal(t, StatusPartial, res.Status)
	assert.Contains(t, res.Pending, id)
}

// blockingStore holds every Index call until release is closed.
type blockingStore struct {
	*graph.Memory
	release chan struct{}
}

func (s *blockingStore) Index(ctx context.Context, content string) (string, error) {
	<-s.release
	return s.Memory.Index(ctx, content)
}

func TestEnsureCommittedAbandonsWaitNotCommit(t *testing.T) {
	dir := t.TempDir()
	reg, err := registry.Open(registry.Options{Dir: t.TempDir(), InactivityTimeout: 30 * time.Minute})
	require.NoError(t, err)
	store := &blockingStore{Memory: graph.NewMemory(), release: make(chan struct{})}
	pipeline := commit.New(store, reg, commit.Options{})
	eng := engine.New(reg, &transcript.NDJSONFilter{}, pipeline, engine.Options{})
	g := New(eng, reg, Options{MaxWait: 50 * time.Millisecond, MaxAttempts: 3, Concurrency: 2})

	path := filepath.Join(dir, "a.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(line), 0o644))
	rec, err := reg.GetOrCreate(path, "ns")
	require.NoError(t, err)
	require.NoError(t, reg.WithLock(rec.SessionID, func(rec *domain.SessionRecord) error {
		rec.State = domain.StateInactive
		return nil
	}))

	res, err := g.EnsureCommitted(context.Background(), []string{"ns"})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status, "the gate gives up waiting, not the commit")
	assert.Contains(t, res.Pending, rec.SessionID)

	// The abandoned commit still runs to completion in the background.
	close(store.release)
	require.Eventually(t, func() bool {
		snap, _ := reg.Snapshot(rec.SessionID)
		return snap.State == domain.StateIndexed
	}, 2*time.Second, 10*time.Millisecond, "commit finishes after the wait expired")
	assert.Equal(t, 1, store.Len())
}

func TestEnsureCommittedDedupsAlreadyCommitted(t *testing.T) {
	f := newFixture(t)
	f.session(t, "a.jsonl", "ns", line, domain.StateInactive)

	res, err := f.gate.EnsureCommitted(context.Background(), []string{"ns"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)

	// Second invocation finds nothing pending.
	res, err = f.gate.EnsureCommitted(context.Background(), []string{"ns"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	index, _ := f.store.Calls()
	assert.Equal(t, 1, index)
}
