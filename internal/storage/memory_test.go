package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/execstate"
)

func TestMemoryStateStoreSaveAndLoad(t *testing.T) {
	s := NewMemoryStateStore()
	ctx := context.Background()

	snap := execstate.Snapshot{ExecutionID: "exec-1", DiagramID: "diag-1", Status: domain.ExecutionStatusRunning}
	require.NoError(t, s.SaveSnapshot(ctx, snap))

	got, err := s.LoadSnapshot(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestMemoryStateStoreLoadMissingFails(t *testing.T) {
	s := NewMemoryStateStore()
	_, err := s.LoadSnapshot(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestMemoryStateStoreListExecutionsByDiagram(t *testing.T) {
	s := NewMemoryStateStore()
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, execstate.Snapshot{ExecutionID: "e1", DiagramID: "d1"}))
	require.NoError(t, s.SaveSnapshot(ctx, execstate.Snapshot{ExecutionID: "e2", DiagramID: "d1"}))
	require.NoError(t, s.SaveSnapshot(ctx, execstate.Snapshot{ExecutionID: "e3", DiagramID: "d2"}))

	ids, err := s.ListExecutions(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, ids)
}

func TestMemoryStateStoreResaveDoesNotDuplicateListing(t *testing.T) {
	s := NewMemoryStateStore()
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, execstate.Snapshot{ExecutionID: "e1", DiagramID: "d1", Status: domain.ExecutionStatusRunning}))
	require.NoError(t, s.SaveSnapshot(ctx, execstate.Snapshot{ExecutionID: "e1", DiagramID: "d1", Status: domain.ExecutionStatusCompleted}))

	ids, err := s.ListExecutions(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, ids)

	got, err := s.LoadSnapshot(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, got.Status)
}
