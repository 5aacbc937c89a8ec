// Package storage implements ports.StateStorePort and
// ports.DiagramStoragePort: an in-memory StateStorePort for tests and local
// runs, a Postgres-backed one via bun for production, and a file-backed
// DiagramStoragePort over the three internal/format codecs.
//
// Grounded on the teacher's internal/infrastructure/storage package: this
// file mirrors MemoryStore's shape (a single RWMutex-guarded map, Save/Get
// methods returning a not-found error) applied to execstate.Snapshot
// instead of domain.Workflow/Execution/Node/Edge/Trigger.
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/dipeo/engine/internal/execstate"
)

// MemoryStateStore implements ports.StateStorePort by holding the latest
// snapshot per execution id in memory. Snapshots are stored as values
// (not pointers into caller-owned memory), so a later mutation of the
// caller's snapshot can't corrupt a previously saved one.
type MemoryStateStore struct {
	mu        sync.RWMutex
	snapshots map[string]execstate.Snapshot
	byDiagram map[string][]string
}

// NewMemoryStateStore constructs an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		snapshots: make(map[string]execstate.Snapshot),
		byDiagram: make(map[string][]string),
	}
}

// SaveSnapshot stores (or overwrites) the snapshot for its execution id.
func (s *MemoryStateStore) SaveSnapshot(ctx context.Context, snapshot execstate.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snapshots[snapshot.ExecutionID]; !exists {
		s.byDiagram[snapshot.DiagramID] = append(s.byDiagram[snapshot.DiagramID], snapshot.ExecutionID)
	}
	s.snapshots[snapshot.ExecutionID] = snapshot
	return nil
}

// LoadSnapshot returns the most recently saved snapshot for executionID.
func (s *MemoryStateStore) LoadSnapshot(ctx context.Context, executionID string) (execstate.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[executionID]
	if !ok {
		return execstate.Snapshot{}, fmt.Errorf("execution %q not found", executionID)
	}
	return snap, nil
}

// ListExecutions returns every execution id ever saved for diagramID, in
// save order.
func (s *MemoryStateStore) ListExecutions(ctx context.Context, diagramID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byDiagram[diagramID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}
