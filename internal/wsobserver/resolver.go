package wsobserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/dipeo/engine/internal/scheduler"
)

// PromptResolver backs a scheduler.InteractiveHandler (see AsHandler) by
// blocking on a response delivered over a subscriber's websocket connection. A node
// handler calls Resolve to register a wait and park on it; the connection
// that sees the matching interactive_response command calls Answer to wake
// it. Grounded on the teacher's websocket.Client command dispatch
// (handleSubscribe/handleUnsubscribe keyed by client-supplied ids),
// generalized from hub-wide command routing to a single execution-scoped
// wait map since exactly one answer is expected per outstanding prompt.
type PromptResolver struct {
	mu      sync.Mutex
	waiting map[string]chan string
}

func NewPromptResolver() *PromptResolver {
	return &PromptResolver{waiting: make(map[string]chan string)}
}

func waitKey(executionID, nodeID string) string {
	return executionID + "\x00" + nodeID
}

// Resolve is the wait behind AsHandler's InteractiveHandler: it blocks until Answer is
// called for the same executionID/nodeID, or ctx is cancelled.
func (r *PromptResolver) Resolve(ctx context.Context, executionID, nodeID, _ string, _ map[string]any) (string, error) {
	ch := make(chan string, 1)
	key := waitKey(executionID, nodeID)

	r.mu.Lock()
	r.waiting[key] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.waiting, key)
		r.mu.Unlock()
	}()

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Answer delivers a response to the handler blocked on executionID/nodeID,
// if one is waiting. Returns an error if there was nothing pending, so a
// stray or duplicate client answer can be reported back as failed.
func (r *PromptResolver) Answer(executionID, nodeID, response string) error {
	r.mu.Lock()
	ch, ok := r.waiting[waitKey(executionID, nodeID)]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending interactive prompt for execution %q node %q", executionID, nodeID)
	}
	select {
	case ch <- response:
		return nil
	default:
		return fmt.Errorf("interactive prompt for execution %q node %q already answered", executionID, nodeID)
	}
}

// AsHandler adapts r to scheduler.InteractiveHandler's narrower signature
// (prompt text and context are carried by the interactive_prompt event
// already published to subscribers, not needed again here).
func (r *PromptResolver) AsHandler() scheduler.InteractiveHandler {
	return func(ctx context.Context, nodeID, prompt string, promptCtx map[string]any) (string, error) {
		executionID, _ := ctx.Value(executionIDContextKey{}).(string)
		return r.Resolve(ctx, executionID, nodeID, prompt, promptCtx)
	}
}

// executionIDContextKey carries the owning execution id into ctx so
// AsHandler's adapted closure can recover it; scheduler.InteractiveHandler
// itself only carries nodeID, not executionID.
type executionIDContextKey struct{}

// WithExecutionID returns a context carrying executionID for AsHandler.
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDContextKey{}, executionID)
}
