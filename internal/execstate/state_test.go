package execstate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/internal/domain"
)

func TestManagerCreateIsIdempotent(t *testing.T) {
	mgr := NewManager(nil)
	s1 := mgr.Create("exec-1", "diagram-1")
	s2 := mgr.Create("exec-1", "diagram-1")
	assert.Same(t, s1, s2)
}

func TestNodeLifecycle(t *testing.T) {
	mgr := NewManager(nil)
	s := mgr.Create("exec-1", "diagram-1")

	s.SetCurrentNode("n1")
	st, ok := s.GetNodeState("n1")
	require.True(t, ok)
	assert.Equal(t, domain.NodeStatusRunning, st.Status)
	assert.Equal(t, 1, st.IterationCount)

	s.MarkNodeComplete("n1", "result")
	assert.True(t, s.IsNodeComplete("n1"))
	out, ok := s.GetNodeOutput("n1")
	require.True(t, ok)
	assert.Equal(t, "result", out)

	s.SetCurrentNode("n2")
	s.MarkNodeFailed("n2", errors.New("boom"))
	st2, ok := s.GetNodeState("n2")
	require.True(t, ok)
	assert.Equal(t, domain.NodeStatusFailed, st2.Status)
	assert.False(t, s.IsNodeComplete("n2"))

	s.SetCurrentNode("n3")
	s.MarkNodeSkipped("n3", domain.SkipReasonBranchNotTaken)
	st3, _ := s.GetNodeState("n3")
	assert.Equal(t, domain.NodeStatusSkipped, st3.Status)
	assert.Equal(t, domain.SkipReasonBranchNotTaken, st3.SkipReason)
}

func TestTokenUsageAccumulates(t *testing.T) {
	mgr := NewManager(nil)
	s := mgr.Create("exec-1", "diagram-1")

	s.UpdateTokenUsage(TokenUsage{Input: 10, Output: 5})
	s.UpdateTokenUsage(TokenUsage{Input: 3, Cached: 2})

	snap := s.Snapshot()
	assert.Equal(t, TokenUsage{Input: 13, Output: 5, Cached: 2}, snap.TokenTotals)
}

func TestUpdateStatusStampsCompletedAtOnTerminal(t *testing.T) {
	mgr := NewManager(nil)
	s := mgr.Create("exec-1", "diagram-1")

	s.UpdateStatus(domain.ExecutionStatusRunning, nil)
	snap := s.Snapshot()
	assert.Nil(t, snap.CompletedAt)

	s.UpdateStatus(domain.ExecutionStatusCompleted, nil)
	snap = s.Snapshot()
	require.NotNil(t, snap.CompletedAt)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	mgr := NewManager(nil)
	s := mgr.Create("exec-1", "diagram-1")
	s.SetCurrentNode("n1")

	snap := s.Snapshot()
	st := snap.NodeStates["n1"]
	st.Status = domain.NodeStatusCompleted // mutate the copy

	live, _ := s.GetNodeState("n1")
	assert.Equal(t, domain.NodeStatusRunning, live.Status, "mutating a snapshot must not affect live state")
}
