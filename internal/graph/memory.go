package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests and dry-run mode. It records
// call counts and supports error injection so commit behavior can be
// exercised without a real backend.
type Memory struct {
	mu        sync.Mutex
	artifacts map[string]string

	IndexErr  error
	DeleteErr error

	indexCalls  int
	deleteCalls int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{artifacts: make(map[string]string)}
}

// Index stores the content under a fresh artifact id.
func (m *Memory) Index(ctx context.Context, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexCalls++
	if m.IndexErr != nil {
		return "", m.IndexErr
	}
	id := "art-" + uuid.NewString()
	m.artifacts[id] = content
	return id, nil
}

// Delete removes an artifact. Deleting an unknown artifact is an error so
// tests catch double deletes.
func (m *Memory) Delete(ctx context.Context, artifactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if _, ok := m.artifacts[artifactID]; !ok {
		return fmt.Errorf("artifact %s not found", artifactID)
	}
	delete(m.artifacts, artifactID)
	return nil
}

// Content returns the stored content for an artifact id.
func (m *Memory) Content(artifactID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.artifacts[artifactID]
	return c, ok
}

// Len returns the number of live artifacts.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.artifacts)
}

// Calls returns the number of Index and Delete calls seen so far.
func (m *Memory) Calls() (index, del int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexCalls, m.deleteCalls
}
