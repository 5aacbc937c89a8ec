package observerbus

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/execstate"
)

// EventKind tags a StreamingObserver Event's shape, one per spec §4.8
// event.
type EventKind string

const (
	EventExecutionStart      EventKind = "execution_start"
	EventNodeUpdate          EventKind = "node_update"
	EventNodeError           EventKind = "node_error"
	EventExecutionComplete   EventKind = "execution_complete"
	EventExecutionError      EventKind = "execution_error"
	EventInteractivePrompt   EventKind = "interactive_prompt"
	EventInteractiveResponse EventKind = "interactive_response"
	EventQueueOverflow       EventKind = "queue_overflow"
)

// Event is one message delivered to a StreamingObserver subscriber.
type Event struct {
	Kind        EventKind
	ExecutionID string
	DiagramID   string
	NodeID      string
	Status      domain.NodeStatus
	ExecStatus  domain.ExecutionStatus
	Output      any
	Err         error
	StartedAt   *time.Time
	EndedAt     *time.Time
	TokenUsage  *execstate.TokenUsage
	Prompt      string
	PromptCtx   map[string]any
	Response    string
	Timestamp   time.Time
	Dropped     int // set only on EventQueueOverflow: how many events were discarded
}

type subscription struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// StreamingObserver fans events out to per-execution bounded queues,
// one per subscriber, per spec §4.8: delivery is at-least-once per queue,
// and a full queue drops its oldest entries to make room for a
// queue_overflow marker and the new event rather than blocking the
// scheduler's commit path.
//
// Grounded on the teacher's websocket.Hub (per-client buffered send channel,
// registration under a map keyed by subscription id), generalized from a
// single global client registry to a lock-light per-execution subscriber
// map (xsync.MapOf) since executions come and go far more often than a
// websocket Hub's long-lived client set.
type StreamingObserver struct {
	queueSize int
	logger    zerolog.Logger

	subs *xsync.MapOf[string, *xsync.MapOf[int64, *subscription]]
	next int64
	mu   sync.Mutex
}

// NewStreamingObserver constructs a StreamingObserver whose per-subscriber
// queues hold up to queueSize events before dropping the oldest.
func NewStreamingObserver(queueSize int, logger zerolog.Logger) *StreamingObserver {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &StreamingObserver{
		queueSize: queueSize,
		logger:    logger.With().Str("component", "observerbus.streaming").Logger(),
		subs:      xsync.NewMapOf[string, *xsync.MapOf[int64, *subscription]](),
	}
}

// Subscribe registers a new consumer for executionID's events and returns
// its read-only channel plus an unsubscribe func. Callers MUST call
// unsubscribe when done reading, or the queue leaks for the lifetime of the
// process.
func (o *StreamingObserver) Subscribe(executionID string) (<-chan Event, func()) {
	execSubs, _ := o.subs.LoadOrStore(executionID, xsync.NewMapOf[int64, *subscription]())

	o.mu.Lock()
	id := o.next
	o.next++
	o.mu.Unlock()

	sub := &subscription{ch: make(chan Event, o.queueSize)}
	execSubs.Store(id, sub)

	unsubscribe := func() {
		execSubs.Delete(id)
		sub.mu.Lock()
		defer sub.mu.Unlock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	return sub.ch, unsubscribe
}

func (o *StreamingObserver) publish(executionID string, ev Event) {
	execSubs, ok := o.subs.Load(executionID)
	if !ok {
		return
	}
	execSubs.Range(func(_ int64, sub *subscription) bool {
		o.deliver(sub, ev)
		return true
	})
}

// deliver pushes ev onto sub's queue. If the queue is full it drops the
// oldest queued events, just enough to fit a queue_overflow marker plus ev,
// instead of blocking — a slow or stalled consumer must never stall the
// scheduler.
func (o *StreamingObserver) deliver(sub *subscription, ev Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.ch <- ev:
		return
	default:
	}

	dropped := 0
	for len(sub.ch) > 0 && len(sub.ch) > cap(sub.ch)-2 {
		select {
		case <-sub.ch:
			dropped++
		default:
		}
	}
	marker := Event{Kind: EventQueueOverflow, ExecutionID: ev.ExecutionID, Dropped: dropped, Timestamp: time.Now()}
	select {
	case sub.ch <- marker:
	default:
	}
	select {
	case sub.ch <- ev:
	default:
		o.logger.Warn().Str("execution_id", ev.ExecutionID).Msg("queue still full after drain, dropping newest event")
	}
}

func (o *StreamingObserver) OnExecutionStart(executionID, diagramID string, timestamp time.Time) {
	o.publish(executionID, Event{Kind: EventExecutionStart, ExecutionID: executionID, DiagramID: diagramID, Timestamp: timestamp})
}

func (o *StreamingObserver) OnNodeUpdate(executionID, nodeID string, state domain.NodeStatus, output any, startedAt, endedAt *time.Time, tokenUsage *execstate.TokenUsage) {
	o.publish(executionID, Event{
		Kind: EventNodeUpdate, ExecutionID: executionID, NodeID: nodeID, Status: state,
		Output: output, StartedAt: startedAt, EndedAt: endedAt, TokenUsage: tokenUsage, Timestamp: time.Now(),
	})
}

func (o *StreamingObserver) OnNodeError(executionID, nodeID string, err error, timestamp time.Time) {
	o.publish(executionID, Event{Kind: EventNodeError, ExecutionID: executionID, NodeID: nodeID, Err: err, Timestamp: timestamp})
}

func (o *StreamingObserver) OnExecutionComplete(executionID string, status domain.ExecutionStatus) {
	o.publish(executionID, Event{Kind: EventExecutionComplete, ExecutionID: executionID, ExecStatus: status, Timestamp: time.Now()})
}

func (o *StreamingObserver) OnExecutionError(executionID string, err error) {
	o.publish(executionID, Event{Kind: EventExecutionError, ExecutionID: executionID, Err: err, Timestamp: time.Now()})
}

func (o *StreamingObserver) OnInteractivePrompt(executionID, nodeID, prompt string, promptCtx map[string]any) {
	o.publish(executionID, Event{Kind: EventInteractivePrompt, ExecutionID: executionID, NodeID: nodeID, Prompt: prompt, PromptCtx: promptCtx, Timestamp: time.Now()})
}

func (o *StreamingObserver) OnInteractiveResponse(executionID, nodeID, response string) {
	o.publish(executionID, Event{Kind: EventInteractiveResponse, ExecutionID: executionID, NodeID: nodeID, Response: response, Timestamp: time.Now()})
}
