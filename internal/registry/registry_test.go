package registry

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzorec/memoir/internal/domain"
)

func testRegistry(t *testing.T) (*Registry, *clock.Mock, string) {
	t.Helper()
	dir := t.TempDir()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	r, err := Open(Options{Dir: dir, InactivityTimeout: 30 * time.Minute, Clock: mock})
	require.NoError(t, err)
	return r, mock, dir
}

func TestGetOrCreateIdempotent(t *testing.T) {
	r, _, _ := testRegistry(t)

	a, err := r.GetOrCreate("/tmp/ns/s1.jsonl", "ns")
	require.NoError(t, err)
	require.Equal(t, domain.StateActive, a.State)

	b, err := r.GetOrCreate("/tmp/ns/s1.jsonl", "other")
	require.NoError(t, err)
	assert.Equal(t, a.SessionID, b.SessionID)
	assert.Equal(t, "ns", b.Namespace, "first-seen wins")
	assert.Len(t, r.All(), 1)
}

func TestTouchTransitions(t *testing.T) {
	r, mock, _ := testRegistry(t)
	rec, err := r.GetOrCreate("/tmp/ns/s1.jsonl", "ns")
	require.NoError(t, err)
	id := rec.SessionID

	setState := func(s domain.State) {
		require.NoError(t, r.WithLock(id, func(rec *domain.SessionRecord) error {
			rec.State = s
			return nil
		}))
	}

	for _, from := range []domain.State{domain.StateInactive, domain.StateIndexed, domain.StateUnindexed} {
		setState(from)
		mock.Add(time.Minute)
		require.NoError(t, r.Touch(id, mock.Now()))
		snap, ok := r.Snapshot(id)
		require.True(t, ok)
		assert.Equal(t, domain.StateActive, snap.State, "touch from %s", from)
		assert.Equal(t, mock.Now().UTC(), snap.LastActivityAt)
	}

	// An in-flight commit is left alone.
	setState(domain.StateIndexing)
	mock.Add(time.Minute)
	require.NoError(t, r.Touch(id, mock.Now()))
	snap, _ := r.Snapshot(id)
	assert.Equal(t, domain.StateIndexing, snap.State)
	assert.Equal(t, mock.Now().UTC(), snap.LastActivityAt)
}

func TestTouchUnknownSession(t *testing.T) {
	r, mock, _ := testRegistry(t)
	err := r.Touch("nope", mock.Now())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWithLockDiscardsOnError(t *testing.T) {
	r, _, _ := testRegistry(t)
	rec, err := r.GetOrCreate("/tmp/ns/s1.jsonl", "ns")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = r.WithLock(rec.SessionID, func(rec *domain.SessionRecord) error {
		rec.State = domain.StateIndexing
		return boom
	})
	require.ErrorIs(t, err, boom)

	snap, _ := r.Snapshot(rec.SessionID)
	assert.Equal(t, domain.StateActive, snap.State)
}

func TestWithLockSerializesMutations(t *testing.T) {
	r, _, _ := testRegistry(t)
	rec, err := r.GetOrCreate("/tmp/ns/s1.jsonl", "ns")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.WithLock(rec.SessionID, func(rec *domain.SessionRecord) error {
				rec.RetryCount++
				return nil
			})
		}()
	}
	wg.Wait()

	snap, _ := r.Snapshot(rec.SessionID)
	assert.Equal(t, 20, snap.RetryCount)
}

func TestListInactive(t *testing.T) {
	r, mock, _ := testRegistry(t)
	a, _ := r.GetOrCreate("/tmp/ns/a.jsonl", "ns")
	mock.Add(45 * time.Minute)
	b, _ := r.GetOrCreate("/tmp/ns/b.jsonl", "ns")
	_ = b

	got := r.ListInactive(30 * time.Minute)
	require.Len(t, got, 1)
	assert.Equal(t, a.SessionID, got[0].SessionID)
}

func TestListUnindexed(t *testing.T) {
	r, _, _ := testRegistry(t)

	mk := func(path string, state domain.State, fingerprint string) string {
		rec, err := r.GetOrCreate(path, "ns")
		require.NoError(t, err)
		require.NoError(t, r.WithLock(rec.SessionID, func(rec *domain.SessionRecord) error {
			rec.State = state
			rec.Fingerprint = fingerprint
			return nil
		}))
		return rec.SessionID
	}

	unindexed := mk("/tmp/ns/a.jsonl", domain.StateUnindexed, "")
	failed := mk("/tmp/ns/b.jsonl", domain.StateFailed, "")
	neverCommitted := mk("/tmp/ns/c.jsonl", domain.StateInactive, "")
	mk("/tmp/ns/d.jsonl", domain.StateInactive, "fp")   // committed, quiescent
	mk("/tmp/ns/e.jsonl", domain.StateIndexed, "fp")    // done
	mk("/tmp/other/f.jsonl", domain.StateUnindexed, "") // other namespace

	got := r.ListUnindexed("ns")
	ids := make([]string, 0, len(got))
	for _, rec := range got {
		ids = append(ids, rec.SessionID)
	}
	assert.ElementsMatch(t, []string{unindexed, failed, neverCommitted}, ids)

	// No filter returns both namespaces.
	assert.Len(t, r.ListUnindexed(""), 4)
}

func TestListFailedDue(t *testing.T) {
	r, mock, _ := testRegistry(t)

	mk := func(path string, retries int, next time.Time) string {
		rec, err := r.GetOrCreate(path, "ns")
		require.NoError(t, err)
		require.NoError(t, r.WithLock(rec.SessionID, func(rec *domain.SessionRecord) error {
			rec.State = domain.StateFailed
			rec.RetryCount = retries
			rec.NextRetryAt = next
			return nil
		}))
		return rec.SessionID
	}

	due := mk("/tmp/ns/a.jsonl", 1, mock.Now().Add(-time.Minute))
	mk("/tmp/ns/b.jsonl", 1, mock.Now().Add(time.Hour)) // backoff not elapsed
	mk("/tmp/ns/c.jsonl", 5, time.Time{})               // retry budget exhausted

	got := r.ListFailedDue(5)
	require.Len(t, got, 1)
	assert.Equal(t, due, got[0].SessionID)
}

func TestPersistenceRoundTrip(t *testing.T) {
	r, mock, dir := testRegistry(t)
	rec, err := r.GetOrCreate("/tmp/ns/s1.jsonl", "ns")
	require.NoError(t, err)
	require.NoError(t, r.WithLock(rec.SessionID, func(rec *domain.SessionRecord) error {
		rec.State = domain.StateIndexed
		rec.Fingerprint = "fp-1"
		rec.ArtifactID = "art-1"
		rec.CloseReason = string(domain.CloseReasonExplicit)
		return nil
	}))

	// File exists on disk before the lock was released.
	_, err = os.Stat(filepath.Join(dir, "sessions", rec.SessionID+".json"))
	require.NoError(t, err)

	reopened, err := Open(Options{Dir: dir, InactivityTimeout: 30 * time.Minute, Clock: mock})
	require.NoError(t, err)
	snap, ok := reopened.Snapshot(rec.SessionID)
	require.True(t, ok)
	assert.Equal(t, domain.StateIndexed, snap.State)
	assert.Equal(t, "fp-1", snap.Fingerprint)
	assert.Equal(t, "art-1", snap.ArtifactID)
}

func TestReopenDemotesIndexingToFailed(t *testing.T) {
	r, mock, dir := testRegistry(t)
	rec, err := r.GetOrCreate("/tmp/ns/s1.jsonl", "ns")
	require.NoError(t, err)
	require.NoError(t, r.WithLock(rec.SessionID, func(rec *domain.SessionRecord) error {
		rec.State = domain.StateIndexing
		rec.CloseReason = string(domain.CloseReasonTimeout)
		return nil
	}))

	reopened, err := Open(Options{Dir: dir, InactivityTimeout: 30 * time.Minute, Clock: mock})
	require.NoError(t, err)
	snap, ok := reopened.Snapshot(rec.SessionID)
	require.True(t, ok)
	assert.Equal(t, domain.StateFailed, snap.State)
	assert.True(t, snap.NextRetryAt.IsZero(), "retry immediately at the next trigger")
}

func TestReopenReclassifiesStaleNeverCommitted(t *testing.T) {
	r, mock, dir := testRegistry(t)
	stale, err := r.GetOrCreate("/tmp/ns/stale.jsonl", "ns")
	require.NoError(t, err)

	mock.Add(2 * time.Hour)
	fresh, err := r.GetOrCreate("/tmp/ns/fresh.jsonl", "ns")
	require.NoError(t, err)

	reopened, err := Open(Options{Dir: dir, InactivityTimeout: 30 * time.Minute, Clock: mock})
	require.NoError(t, err)

	s, _ := reopened.Snapshot(stale.SessionID)
	assert.Equal(t, domain.StateUnindexed, s.State)
	f, _ := reopened.Snapshot(fresh.SessionID)
	assert.Equal(t, domain.StateActive, f.State)
}

func TestReopenDiscardsArtifactsFromVolatileStore(t *testing.T) {
	r, mock, dir := testRegistry(t)
	rec, err := r.GetOrCreate("/tmp/ns/s1.jsonl", "ns")
	require.NoError(t, err)
	require.NoError(t, r.WithLock(rec.SessionID, func(rec *domain.SessionRecord) error {
		rec.State = domain.StateIndexed
		rec.ArtifactID = "art-1"
		rec.Fingerprint = "abc123"
		return nil
	}))

	// A durable store keeps the committed state across restarts.
	kept, err := Open(Options{Dir: dir, InactivityTimeout: 30 * time.Minute, Clock: mock})
	require.NoError(t, err)
	snap, ok := kept.Snapshot(rec.SessionID)
	require.True(t, ok)
	assert.Equal(t, domain.StateIndexed, snap.State)
	assert.Equal(t, "art-1", snap.ArtifactID)

	reopened, err := Open(Options{
		Dir:               dir,
		InactivityTimeout: 30 * time.Minute,
		DiscardArtifacts:  true,
		Clock:             mock,
	})
	require.NoError(t, err)

	snap, ok = reopened.Snapshot(rec.SessionID)
	require.True(t, ok)
	assert.Equal(t, domain.StateUnindexed, snap.State, "no artifact survives the store, so nothing is committed")
	assert.Empty(t, snap.ArtifactID, "a replacing commit must not try to delete a dangling artifact")
	assert.Empty(t, snap.Fingerprint)
}

func TestReopenSkipsCorruptRecords(t *testing.T) {
	r, mock, dir := testRegistry(t)
	_, err := r.GetOrCreate("/tmp/ns/good.jsonl", "ns")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sessions", "bad.json"), []byte("{truncated"), 0o644))

	reopened, err := Open(Options{Dir: dir, InactivityTimeout: 30 * time.Minute, Clock: mock})
	require.NoError(t, err)
	assert.Len(t, reopened.All(), 1)
}
