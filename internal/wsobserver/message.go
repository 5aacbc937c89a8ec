package wsobserver

import (
	"time"

	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/execstate"
	"github.com/dipeo/engine/internal/observerbus"
)

// Wire event type tags, one per observerbus.EventKind.
const (
	wireExecutionStart      = "execution_start"
	wireNodeUpdate          = "node_update"
	wireNodeError           = "node_error"
	wireExecutionComplete   = "execution_complete"
	wireExecutionError      = "execution_error"
	wireInteractivePrompt   = "interactive_prompt"
	wireInteractiveResponse = "interactive_response"
	wireQueueOverflow       = "queue_overflow"
)

var eventKindWire = map[observerbus.EventKind]string{
	observerbus.EventExecutionStart:      wireExecutionStart,
	observerbus.EventNodeUpdate:          wireNodeUpdate,
	observerbus.EventNodeError:           wireNodeError,
	observerbus.EventExecutionComplete:   wireExecutionComplete,
	observerbus.EventExecutionError:      wireExecutionError,
	observerbus.EventInteractivePrompt:   wireInteractivePrompt,
	observerbus.EventInteractiveResponse: wireInteractiveResponse,
	observerbus.EventQueueOverflow:       wireQueueOverflow,
}

// wireEvent is the JSON shape pushed to a subscriber, per spec §4.8.
type wireEvent struct {
	Type        string               `json:"type"`
	Timestamp   time.Time            `json:"timestamp"`
	ExecutionID string               `json:"execution_id"`
	DiagramID   string               `json:"diagram_id,omitempty"`
	NodeID      string               `json:"node_id,omitempty"`
	Status      domain.NodeStatus    `json:"status,omitempty"`
	ExecStatus  domain.ExecutionStatus `json:"exec_status,omitempty"`
	Output      any                  `json:"output,omitempty"`
	Error       string               `json:"error,omitempty"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	EndedAt     *time.Time           `json:"ended_at,omitempty"`
	TokenUsage  *execstate.TokenUsage `json:"token_usage,omitempty"`
	Prompt      string               `json:"prompt,omitempty"`
	PromptCtx   map[string]any       `json:"prompt_context,omitempty"`
	Response    string               `json:"response,omitempty"`
	Dropped     int                  `json:"dropped,omitempty"`
}

func toWireEvent(ev observerbus.Event) wireEvent {
	w := wireEvent{
		Type:        eventKindWire[ev.Kind],
		Timestamp:   ev.Timestamp,
		ExecutionID: ev.ExecutionID,
		DiagramID:   ev.DiagramID,
		NodeID:      ev.NodeID,
		Status:      ev.Status,
		ExecStatus:  ev.ExecStatus,
		Output:      ev.Output,
		StartedAt:   ev.StartedAt,
		EndedAt:     ev.EndedAt,
		TokenUsage:  ev.TokenUsage,
		Prompt:      ev.Prompt,
		PromptCtx:   ev.PromptCtx,
		Response:    ev.Response,
		Dropped:     ev.Dropped,
	}
	if ev.Err != nil {
		w.Error = ev.Err.Error()
	}
	return w
}

// clientCommand is the one inbound message shape a subscriber may send:
// an answer to an interactive_prompt event raised on the same execution.
type clientCommand struct {
	Action      string `json:"action"`
	NodeID      string `json:"node_id"`
	ExecutionID string `json:"execution_id"`
	Response    string `json:"response"`
}

const cmdInteractiveResponse = "interactive_response"
