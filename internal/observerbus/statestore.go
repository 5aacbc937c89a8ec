// Package observerbus provides the two concrete scheduler.Observer
// implementations spec component C8 calls for: a durable state-store writer
// and a bounded streaming fan-out for interactive consumers.
//
// Grounded on the teacher's monitoring.ObserverManager (multi-observer
// notify loop) and monitoring.CompositeObserver (an observer that forwards
// to a backing sink rather than handling events itself), generalized from
// the teacher's workflow/node vocabulary to the diagram engine's node_update
// event shape (spec §4.8).
package observerbus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/execstate"
	"github.com/dipeo/engine/internal/ports"
)

// StateStoreObserver writes every lifecycle event through a StateStorePort,
// maintaining its own working snapshot per execution since the port only
// exposes whole-snapshot save/load, not field-level updates. create_execution
// is idempotent: a second OnExecutionStart for an execution already tracked
// logs and reuses the existing working snapshot instead of resetting it.
type StateStoreObserver struct {
	store  ports.StateStorePort
	logger zerolog.Logger

	mu    sync.Mutex
	execs map[string]*execstate.Snapshot
}

// NewStateStoreObserver constructs a StateStoreObserver over store.
func NewStateStoreObserver(store ports.StateStorePort, logger zerolog.Logger) *StateStoreObserver {
	return &StateStoreObserver{
		store:  store,
		logger: logger.With().Str("component", "observerbus.statestore").Logger(),
		execs:  make(map[string]*execstate.Snapshot),
	}
}

func (o *StateStoreObserver) OnExecutionStart(executionID, diagramID string, timestamp time.Time) {
	o.mu.Lock()
	if _, exists := o.execs[executionID]; exists {
		o.mu.Unlock()
		o.logger.Info().Str("execution_id", executionID).Msg("create_execution: already tracked, no-op")
		return
	}
	snap := &execstate.Snapshot{
		ExecutionID: executionID,
		DiagramID:   diagramID,
		Status:      domain.ExecutionStatusRunning,
		NodeStates:  make(map[string]execstate.NodeState),
		StartedAt:   timestamp,
	}
	o.execs[executionID] = snap
	cp := *snap
	o.mu.Unlock()

	if err := o.store.SaveSnapshot(context.Background(), cp); err != nil {
		o.logger.Warn().Err(err).Str("execution_id", executionID).Msg("create_execution write failed")
	}
}

func (o *StateStoreObserver) OnNodeUpdate(executionID, nodeID string, state domain.NodeStatus, output any, startedAt, endedAt *time.Time, tokenUsage *execstate.TokenUsage) {
	cp, ok := o.updateNode(executionID, nodeID, state, output, startedAt, endedAt, tokenUsage)
	if !ok {
		return
	}
	if err := o.store.SaveSnapshot(context.Background(), cp); err != nil {
		o.logger.Warn().Err(err).Str("execution_id", executionID).Str("node_id", nodeID).Msg("update_node_status write failed")
	}
}

func (o *StateStoreObserver) updateNode(executionID, nodeID string, state domain.NodeStatus, output any, startedAt, endedAt *time.Time, tokenUsage *execstate.TokenUsage) (execstate.Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap, ok := o.execs[executionID]
	if !ok {
		o.logger.Warn().Str("execution_id", executionID).Msg("node update for unknown execution, dropped")
		return execstate.Snapshot{}, false
	}

	ns := snap.NodeStates[nodeID]
	ns.NodeID = nodeID
	ns.Status = state
	if output != nil {
		ns.Output = output
	}
	if startedAt != nil {
		ns.StartedAt = startedAt
	}
	if endedAt != nil {
		ns.EndedAt = endedAt
	}
	if tokenUsage != nil {
		ns.TokenUsage = ns.TokenUsage.Add(*tokenUsage)
		snap.TokenTotals = snap.TokenTotals.Add(*tokenUsage)
	}
	snap.NodeStates[nodeID] = ns
	snap.CurrentNode = nodeID

	return *snap, true
}

func (o *StateStoreObserver) OnNodeError(executionID, nodeID string, err error, timestamp time.Time) {
	ended := timestamp
	cp, ok := o.updateNode(executionID, nodeID, domain.NodeStatusFailed, nil, nil, &ended, nil)
	if !ok {
		return
	}
	if werr := o.store.SaveSnapshot(context.Background(), cp); werr != nil {
		o.logger.Warn().Err(werr).Str("execution_id", executionID).Str("node_id", nodeID).Msg("node_error write failed")
	}
}

// OnExecutionComplete persists the final status and guarantees the write
// lands before returning — the only observer call the scheduler's caller
// should treat as a durability checkpoint.
func (o *StateStoreObserver) OnExecutionComplete(executionID string, status domain.ExecutionStatus) {
	o.mu.Lock()
	snap, ok := o.execs[executionID]
	if !ok {
		o.mu.Unlock()
		return
	}
	snap.Status = status
	now := time.Now()
	snap.CompletedAt = &now
	cp := *snap
	o.mu.Unlock()

	if err := o.store.SaveSnapshot(context.Background(), cp); err != nil {
		o.logger.Error().Err(err).Str("execution_id", executionID).Msg("update_status(terminal) write failed")
	}
}

func (o *StateStoreObserver) OnExecutionError(executionID string, err error) {
	o.mu.Lock()
	snap, ok := o.execs[executionID]
	if !ok {
		o.mu.Unlock()
		return
	}
	snap.Err = err
	cp := *snap
	o.mu.Unlock()

	if werr := o.store.SaveSnapshot(context.Background(), cp); werr != nil {
		o.logger.Error().Err(werr).Str("execution_id", executionID).Msg("execution_error write failed")
	}
}

// OnInteractivePrompt/OnInteractiveResponse carry no durable execution-state
// change of their own (the handler's eventual output is what gets
// persisted); the state store only logs them for operational visibility.
func (o *StateStoreObserver) OnInteractivePrompt(executionID, nodeID, prompt string, promptCtx map[string]any) {
	o.logger.Debug().Str("execution_id", executionID).Str("node_id", nodeID).Msg("interactive_prompt")
}

func (o *StateStoreObserver) OnInteractiveResponse(executionID, nodeID, response string) {
	o.logger.Debug().Str("execution_id", executionID).Str("node_id", nodeID).Msg("interactive_response")
}
