// Package execstate implements per-execution runtime state (spec component
// C5): node status tracking, token accounting, and deep-copy snapshotting
// for persistence and observers.
//
// Grounded on the teacher's internal/domain.ExecutionState/NodeState
// (aggregate-with-accessor-methods shape) and
// internal/application/executor.ExecutionState (the mutable,
// sync.RWMutex-guarded runtime counterpart with Mark*/Clone operations),
// merged into the single simpler (non-event-sourced) shape SPEC_FULL.md §4.5
// calls for: one manager per execution_id, written exclusively by the
// scheduler, read by observers through Snapshot.
package execstate

import (
	"sync"
	"time"

	"github.com/dipeo/engine/internal/domain"
)

// TokenUsage aggregates LLM token accounting across an execution.
type TokenUsage struct {
	Input  int
	Output int
	Cached int
}

// Add accumulates delta into u and returns the updated value.
func (u TokenUsage) Add(delta TokenUsage) TokenUsage {
	return TokenUsage{
		Input:  u.Input + delta.Input,
		Output: u.Output + delta.Output,
		Cached: u.Cached + delta.Cached,
	}
}

// NodeState is the runtime status of a single node within one execution.
type NodeState struct {
	NodeID         string
	Status         domain.NodeStatus
	Output         any
	Err            error
	SkipReason     domain.SkipReason
	StartedAt      *time.Time
	EndedAt        *time.Time
	IterationCount int
	TokenUsage     TokenUsage
}

func (ns NodeState) clone() NodeState {
	clone := ns
	if ns.StartedAt != nil {
		t := *ns.StartedAt
		clone.StartedAt = &t
	}
	if ns.EndedAt != nil {
		t := *ns.EndedAt
		clone.EndedAt = &t
	}
	return clone
}

// Snapshot is a deep-copied, read-only view of an ExecutionState suitable
// for persistence or observer consumption without holding the live lock.
type Snapshot struct {
	ExecutionID string
	DiagramID   string
	Status      domain.ExecutionStatus
	NodeStates  map[string]NodeState
	TokenTotals TokenUsage
	CurrentNode string
	StartedAt   time.Time
	CompletedAt *time.Time
	Err         error
}

// ExecutionState is the mutable, lock-guarded runtime state for one
// execution. The scheduler holds exclusive write access; every other reader
// goes through Snapshot.
type ExecutionState struct {
	mu sync.RWMutex

	executionID string
	diagramID   string
	status      domain.ExecutionStatus
	currentNode string
	nodeStates  map[string]*NodeState
	tokenTotals TokenUsage
	startedAt   time.Time
	completedAt *time.Time
	err         error
}

func newExecutionState(executionID, diagramID string) *ExecutionState {
	return &ExecutionState{
		executionID: executionID,
		diagramID:   diagramID,
		status:      domain.ExecutionStatusPending,
		nodeStates:  make(map[string]*NodeState),
		startedAt:   time.Now(),
	}
}

// ExecutionID returns the execution id this state tracks. Immutable after
// construction, so no lock is needed.
func (s *ExecutionState) ExecutionID() string { return s.executionID }

// DiagramID returns the compiled diagram id this execution runs.
func (s *ExecutionState) DiagramID() string { return s.diagramID }

// SetCurrentNode records the node the scheduler is about to dispatch.
func (s *ExecutionState) SetCurrentNode(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentNode = nodeID
	if _, ok := s.nodeStates[nodeID]; !ok {
		s.nodeStates[nodeID] = &NodeState{NodeID: nodeID, Status: domain.NodeStatusPending}
	}
	now := time.Now()
	st := s.nodeStates[nodeID]
	st.Status = domain.NodeStatusRunning
	st.StartedAt = &now
	st.IterationCount++
}

// MarkNodeComplete records a successful node result.
func (s *ExecutionState) MarkNodeComplete(nodeID string, output any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.nodeStateLocked(nodeID)
	now := time.Now()
	st.Status = domain.NodeStatusCompleted
	st.Output = output
	st.Err = nil
	st.EndedAt = &now
}

// MarkNodeFailed records a node failure.
func (s *ExecutionState) MarkNodeFailed(nodeID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.nodeStateLocked(nodeID)
	now := time.Now()
	st.Status = domain.NodeStatusFailed
	st.Err = err
	st.EndedAt = &now
}

// MarkNodeSkipped records that the scheduler bypassed a node, with a
// structured reason (iteration cap, branch not taken, upstream failure,
// handler request, or circuit open).
func (s *ExecutionState) MarkNodeSkipped(nodeID string, reason domain.SkipReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.nodeStateLocked(nodeID)
	now := time.Now()
	st.Status = domain.NodeStatusSkipped
	st.SkipReason = reason
	st.EndedAt = &now
}

// nodeStateLocked returns the node's state, initializing it if absent.
// Caller must hold s.mu (write lock).
func (s *ExecutionState) nodeStateLocked(nodeID string) *NodeState {
	st, ok := s.nodeStates[nodeID]
	if !ok {
		st = &NodeState{NodeID: nodeID, Status: domain.NodeStatusPending}
		s.nodeStates[nodeID] = st
	}
	return st
}

// IsNodeComplete reports whether nodeID has reached a completed status.
func (s *ExecutionState) IsNodeComplete(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.nodeStates[nodeID]
	return ok && st.Status == domain.NodeStatusCompleted
}

// GetNodeOutput returns the recorded output for nodeID, if the node
// completed, or if it was skipped after a prior completion (the
// max-iterations passthrough case: MarkNodeSkipped never clears Output).
func (s *ExecutionState) GetNodeOutput(nodeID string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.nodeStates[nodeID]
	if !ok {
		return nil, false
	}
	if st.Status != domain.NodeStatusCompleted && !(st.Status == domain.NodeStatusSkipped && st.Output != nil) {
		return nil, false
	}
	return st.Output, true
}

// GetNodeState returns a copy of nodeID's current state.
func (s *ExecutionState) GetNodeState(nodeID string) (NodeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.nodeStates[nodeID]
	if !ok {
		return NodeState{}, false
	}
	return st.clone(), true
}

// UpdateTokenUsage accumulates delta into the execution's token totals.
func (s *ExecutionState) UpdateTokenUsage(delta TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTotals = s.tokenTotals.Add(delta)
}

// UpdateStatus transitions the execution's overall status, stamping
// CompletedAt when the new status is terminal.
func (s *ExecutionState) UpdateStatus(status domain.ExecutionStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.err = err
	if status.IsTerminal() {
		now := time.Now()
		s.completedAt = &now
	}
}

// Status returns the current overall execution status.
func (s *ExecutionState) Status() domain.ExecutionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Snapshot deep-copies the execution state for persistence or observer
// consumption.
func (s *ExecutionState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodeStates := make(map[string]NodeState, len(s.nodeStates))
	for id, st := range s.nodeStates {
		nodeStates[id] = st.clone()
	}

	var completedAt *time.Time
	if s.completedAt != nil {
		t := *s.completedAt
		completedAt = &t
	}

	return Snapshot{
		ExecutionID: s.executionID,
		DiagramID:   s.diagramID,
		Status:      s.status,
		NodeStates:  nodeStates,
		TokenTotals: s.tokenTotals,
		CurrentNode: s.currentNode,
		StartedAt:   s.startedAt,
		CompletedAt: completedAt,
		Err:         s.err,
	}
}
