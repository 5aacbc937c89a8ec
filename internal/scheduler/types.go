// Package scheduler implements the diagram execution engine (spec component
// C7): the tick loop that walks an ExecutableDiagram's ready set, resolves
// inputs, dispatches node handlers, and applies the join/iteration/branch
// and failure policies.
//
// Grounded on the teacher's internal/application/executor.WorkflowEngine
// (wave-based dispatch: semaphore-bounded goroutines per batch, a
// WaitGroup plus buffered error channel, exponential-backoff retry with
// jitter) generalized from fixed topological waves to a recomputed ready
// set per tick, since diagrams legally contain loops a static wave
// schedule cannot express.
package scheduler

import (
	"context"

	"github.com/dipeo/engine/internal/convmem"
	"github.com/dipeo/engine/internal/diagram"
	"github.com/dipeo/engine/internal/execstate"
)

// Output is what a node handler returns. Fields beyond Data are opaque to
// callers but meaningful to the scheduler per the node execution contract.
type Output struct {
	Data            map[string]any
	ConditionResult *bool // set by condition nodes
	TokenUsage      *execstate.TokenUsage
	Skipped         bool // handler-requested skip (e.g. iteration-cap passthrough)
}

// ExecutionContext is passed to every handler invocation.
type ExecutionContext struct {
	ExecutionID        string
	CurrentNodeID      string
	IterationCount     int
	Services           ServiceLookup
	ConversationMemory *convmem.Memory
	InteractiveHandler InteractiveHandler
}

// ServiceLookup is the narrow slice of the service registry (C9) a handler
// needs; kept as an interface here so this package doesn't depend on C9's
// concrete type.
type ServiceLookup interface {
	Require(key string) (any, error)
	Has(key string) bool
}

// InteractiveHandler lets a node (e.g. user_response) request input from an
// external operator mid-execution.
type InteractiveHandler func(ctx context.Context, nodeID, prompt string, promptCtx map[string]any) (string, error)

// NodeHandler executes one compiled node.
type NodeHandler interface {
	Execute(ctx context.Context, node *diagram.ExecutableNode, execCtx *ExecutionContext, inputs map[string]any) (Output, error)
}

// NodeHandlerFunc adapts a plain function to NodeHandler.
type NodeHandlerFunc func(ctx context.Context, node *diagram.ExecutableNode, execCtx *ExecutionContext, inputs map[string]any) (Output, error)

func (f NodeHandlerFunc) Execute(ctx context.Context, node *diagram.ExecutableNode, execCtx *ExecutionContext, inputs map[string]any) (Output, error) {
	return f(ctx, node, execCtx, inputs)
}

// Result is what Run returns: the final execution snapshot plus the
// terminal error, if any.
type Result struct {
	Snapshot execstate.Snapshot
	Err      error
}
