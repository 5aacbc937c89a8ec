package scheduler

import (
	"time"

	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/execstate"
)

// Observer is the scheduler's pub/sub exit point (spec component C8's
// consumer-facing contract). The scheduler calls every method synchronously,
// in commit order, while holding no execution-state lock; implementations
// (StateStoreObserver, StreamingObserver) decide their own buffering and
// fan-out.
//
// Grounded on the teacher's monitoring.ExecutionObserver (typed
// On<Event> method set notified by an ObserverManager), generalized from
// workflow-scoped events to the diagram engine's event shapes (spec §4.8).
type Observer interface {
	OnExecutionStart(executionID, diagramID string, timestamp time.Time)
	OnNodeUpdate(executionID, nodeID string, state domain.NodeStatus, output any, startedAt, endedAt *time.Time, tokenUsage *execstate.TokenUsage)
	OnNodeError(executionID, nodeID string, err error, timestamp time.Time)
	OnExecutionComplete(executionID string, status domain.ExecutionStatus)
	OnExecutionError(executionID string, err error)
	OnInteractivePrompt(executionID, nodeID, prompt string, promptCtx map[string]any)
	OnInteractiveResponse(executionID, nodeID, response string)
}

// Bus fans a single scheduler call out to every registered Observer,
// swallowing no panics: a panicking observer propagates to the scheduler's
// caller rather than silently vanishing — callers wanting isolation should
// wrap their own Observer.
type Bus struct {
	observers []Observer
}

// NewBus constructs a Bus over the given observers, in delivery order.
func NewBus(observers ...Observer) *Bus {
	return &Bus{observers: observers}
}

func (b *Bus) OnExecutionStart(executionID, diagramID string, timestamp time.Time) {
	for _, o := range b.observers {
		o.OnExecutionStart(executionID, diagramID, timestamp)
	}
}

func (b *Bus) OnNodeUpdate(executionID, nodeID string, state domain.NodeStatus, output any, startedAt, endedAt *time.Time, tokenUsage *execstate.TokenUsage) {
	for _, o := range b.observers {
		o.OnNodeUpdate(executionID, nodeID, state, output, startedAt, endedAt, tokenUsage)
	}
}

func (b *Bus) OnNodeError(executionID, nodeID string, err error, timestamp time.Time) {
	for _, o := range b.observers {
		o.OnNodeError(executionID, nodeID, err, timestamp)
	}
}

func (b *Bus) OnExecutionComplete(executionID string, status domain.ExecutionStatus) {
	for _, o := range b.observers {
		o.OnExecutionComplete(executionID, status)
	}
}

func (b *Bus) OnExecutionError(executionID string, err error) {
	for _, o := range b.observers {
		o.OnExecutionError(executionID, err)
	}
}

func (b *Bus) OnInteractivePrompt(executionID, nodeID, prompt string, promptCtx map[string]any) {
	for _, o := range b.observers {
		o.OnInteractivePrompt(executionID, nodeID, prompt, promptCtx)
	}
}

func (b *Bus) OnInteractiveResponse(executionID, nodeID, response string) {
	for _, o := range b.observers {
		o.OnInteractiveResponse(executionID, nodeID, response)
	}
}
