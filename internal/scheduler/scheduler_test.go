package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/internal/diagram"
	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/execstate"
)

// fakeLookup is a no-op ServiceLookup for tests that never touch C9.
type fakeLookup struct{}

func (fakeLookup) Require(key string) (any, error) { return nil, errors.New("no services in test") }
func (fakeLookup) Has(key string) bool              { return false }

func newState(t *testing.T) *execstate.ExecutionState {
	t.Helper()
	return execstate.NewManager(nil).Create("exec-1", "diagram-1")
}

func passthroughHandler(out Output) NodeHandlerFunc {
	return func(ctx context.Context, n *diagram.ExecutableNode, execCtx *ExecutionContext, inputs map[string]any) (Output, error) {
		return out, nil
	}
}

func newTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 0 // tests don't want retry sleeps
	return cfg
}

func node(id string, typ domain.NodeType, props map[string]any) diagram.ExecutableNode {
	return diagram.ExecutableNode{ID: id, Type: typ, Props: props}
}

func edge(id, from string, fromLabel domain.HandleLabel, to string, toLabel domain.HandleLabel) diagram.ExecutableEdge {
	return diagram.ExecutableEdge{
		ID: id, SourceNodeID: from, SourceOutput: fromLabel,
		TargetNodeID: to, TargetInput: toLabel,
	}
}

func TestRunLinearDiagram(t *testing.T) {
	nodes := []diagram.ExecutableNode{
		node("start", domain.NodeTypeStart, nil),
		node("end", domain.NodeTypeEndpoint, nil),
	}
	edges := []diagram.ExecutableEdge{
		edge("e1", "start", domain.HandleLabelOutput, "end", domain.HandleLabelInput),
	}
	diag := diagram.New(nodes, edges, diagram.Metadata{}, nil)

	handlers := map[domain.NodeType]NodeHandler{
		domain.NodeTypeStart:    passthroughHandler(Output{Data: map[string]any{"v": 1}}),
		domain.NodeTypeEndpoint: passthroughHandler(Output{Data: map[string]any{"v": 2}}),
	}

	s := New(diag, handlers, newState(t), nil, fakeLookup{}, NewBus(), newTestConfig())
	res := s.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, domain.ExecutionStatusCompleted, res.Snapshot.Status)
	assert.Equal(t, domain.NodeStatusCompleted, res.Snapshot.NodeStates["start"].Status)
	assert.Equal(t, domain.NodeStatusCompleted, res.Snapshot.NodeStates["end"].Status)
}

func TestRunJoinPolicyAll(t *testing.T) {
	nodes := []diagram.ExecutableNode{
		node("a", domain.NodeTypeStart, nil),
		node("b", domain.NodeTypeStart, nil),
		node("join", domain.NodeTypeEndpoint, map[string]any{"join_policy": domain.JoinStrategyAll}),
	}
	edges := []diagram.ExecutableEdge{
		edge("e1", "a", domain.HandleLabelOutput, "join", domain.HandleLabelInput),
		edge("e2", "b", domain.HandleLabelOutput, "join", domain.HandleLabelInput),
	}
	diag := diagram.New(nodes, edges, diagram.Metadata{}, nil)

	handlers := map[domain.NodeType]NodeHandler{
		domain.NodeTypeStart:    passthroughHandler(Output{Data: map[string]any{}}),
		domain.NodeTypeEndpoint: passthroughHandler(Output{Data: map[string]any{}}),
	}

	s := New(diag, handlers, newState(t), nil, fakeLookup{}, NewBus(), newTestConfig())
	res := s.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, domain.NodeStatusCompleted, res.Snapshot.NodeStates["join"].Status)
}

func TestRunBranchGateSkipsUntakenPath(t *testing.T) {
	nodes := []diagram.ExecutableNode{
		node("start", domain.NodeTypeStart, nil),
		node("cond", domain.NodeTypeCondition, nil),
		node("onTrue", domain.NodeTypeEndpoint, nil),
		node("onFalse", domain.NodeTypeEndpoint, nil),
	}
	edges := []diagram.ExecutableEdge{
		edge("e1", "start", domain.HandleLabelOutput, "cond", domain.HandleLabelInput),
		edge("e2", "cond", domain.HandleLabelCondTrue, "onTrue", domain.HandleLabelInput),
		edge("e3", "cond", domain.HandleLabelCondFalse, "onFalse", domain.HandleLabelInput),
	}
	diag := diagram.New(nodes, edges, diagram.Metadata{}, nil)

	condResult := false
	handlers := map[domain.NodeType]NodeHandler{
		domain.NodeTypeStart:     passthroughHandler(Output{Data: map[string]any{}}),
		domain.NodeTypeCondition: passthroughHandler(Output{Data: map[string]any{}, ConditionResult: &condResult}),
		domain.NodeTypeEndpoint:  passthroughHandler(Output{Data: map[string]any{}}),
	}

	s := New(diag, handlers, newState(t), nil, fakeLookup{}, NewBus(), newTestConfig())
	res := s.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, domain.NodeStatusSkipped, res.Snapshot.NodeStates["onTrue"].Status)
	assert.Equal(t, domain.SkipReasonBranchNotTaken, res.Snapshot.NodeStates["onTrue"].SkipReason)
	assert.Equal(t, domain.NodeStatusCompleted, res.Snapshot.NodeStates["onFalse"].Status)
}

func TestRunFailFastAbortsExecution(t *testing.T) {
	nodes := []diagram.ExecutableNode{
		node("start", domain.NodeTypeStart, nil),
		node("boom", domain.NodeTypeCodeJob, nil),
		node("never", domain.NodeTypeEndpoint, nil),
	}
	edges := []diagram.ExecutableEdge{
		edge("e1", "start", domain.HandleLabelOutput, "boom", domain.HandleLabelInput),
		edge("e2", "boom", domain.HandleLabelOutput, "never", domain.HandleLabelInput),
	}
	diag := diagram.New(nodes, edges, diagram.Metadata{}, nil)

	boomErr := errors.New("handler blew up")
	handlers := map[domain.NodeType]NodeHandler{
		domain.NodeTypeStart: passthroughHandler(Output{Data: map[string]any{}}),
		domain.NodeTypeCodeJob: NodeHandlerFunc(func(ctx context.Context, n *diagram.ExecutableNode, execCtx *ExecutionContext, inputs map[string]any) (Output, error) {
			return Output{}, boomErr
		}),
		domain.NodeTypeEndpoint: passthroughHandler(Output{Data: map[string]any{}}),
	}

	cfg := newTestConfig()
	cfg.ErrorPolicy = domain.ErrorPolicyFailFast
	s := New(diag, handlers, newState(t), nil, fakeLookup{}, NewBus(), cfg)
	res := s.Run(context.Background())

	require.Error(t, res.Err)
	assert.Equal(t, domain.ExecutionStatusFailed, res.Snapshot.Status)
	_, ran := res.Snapshot.NodeStates["never"]
	assert.False(t, ran)
}

func TestRunContinueOnErrorGatesDescendants(t *testing.T) {
	nodes := []diagram.ExecutableNode{
		node("start", domain.NodeTypeStart, nil),
		node("boom", domain.NodeTypeCodeJob, nil),
		node("downstream", domain.NodeTypeEndpoint, nil),
	}
	edges := []diagram.ExecutableEdge{
		edge("e1", "start", domain.HandleLabelOutput, "boom", domain.HandleLabelInput),
		edge("e2", "boom", domain.HandleLabelOutput, "downstream", domain.HandleLabelInput),
	}
	diag := diagram.New(nodes, edges, diagram.Metadata{}, nil)

	boomErr := errors.New("handler blew up")
	handlers := map[domain.NodeType]NodeHandler{
		domain.NodeTypeStart: passthroughHandler(Output{Data: map[string]any{}}),
		domain.NodeTypeCodeJob: NodeHandlerFunc(func(ctx context.Context, n *diagram.ExecutableNode, execCtx *ExecutionContext, inputs map[string]any) (Output, error) {
			return Output{}, boomErr
		}),
		domain.NodeTypeEndpoint: passthroughHandler(Output{Data: map[string]any{}}),
	}

	cfg := newTestConfig()
	cfg.ErrorPolicy = domain.ErrorPolicyContinueOnError
	s := New(diag, handlers, newState(t), nil, fakeLookup{}, NewBus(), cfg)
	res := s.Run(context.Background())

	assert.Equal(t, domain.ExecutionStatusCompleted, res.Snapshot.Status)
	assert.Equal(t, domain.NodeStatusFailed, res.Snapshot.NodeStates["boom"].Status)
	assert.Equal(t, domain.NodeStatusSkipped, res.Snapshot.NodeStates["downstream"].Status)
	assert.Equal(t, domain.SkipReasonUpstreamFailed, res.Snapshot.NodeStates["downstream"].SkipReason)
}

func TestRunIterationCapAllowsRunWithinCap(t *testing.T) {
	nodes := []diagram.ExecutableNode{
		node("start", domain.NodeTypeStart, nil),
		node("job", domain.NodeTypePersonJob, map[string]any{"max_iteration": 1}),
		node("end", domain.NodeTypeEndpoint, nil),
	}
	edges := []diagram.ExecutableEdge{
		edge("e1", "start", domain.HandleLabelOutput, "job", domain.HandleLabelFirst),
		edge("e2", "job", domain.HandleLabelOutput, "end", domain.HandleLabelInput),
	}
	diag := diagram.New(nodes, edges, diagram.Metadata{}, nil)

	handlers := map[domain.NodeType]NodeHandler{
		domain.NodeTypeStart:     passthroughHandler(Output{Data: map[string]any{}}),
		domain.NodeTypePersonJob: passthroughHandler(Output{Data: map[string]any{"reply": "hi"}}),
		domain.NodeTypeEndpoint:  passthroughHandler(Output{Data: map[string]any{}}),
	}

	s := New(diag, handlers, newState(t), nil, fakeLookup{}, NewBus(), newTestConfig())
	res := s.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, domain.NodeStatusCompleted, res.Snapshot.NodeStates["job"].Status)
	assert.Equal(t, 1, res.Snapshot.NodeStates["job"].IterationCount)
}

// TestRunLoopReexecutesAcrossIterations builds a start -> job -> check cycle
// (check's second output edge loops back to job) and confirms job re-fires
// on the back-edge-driven second iteration instead of staying terminal after
// its first completion.
func TestRunLoopReexecutesAcrossIterations(t *testing.T) {
	nodes := []diagram.ExecutableNode{
		node("start", domain.NodeTypeStart, nil),
		node("job", domain.NodeTypePersonJob, map[string]any{"max_iteration": 5}),
		node("check", domain.NodeTypeCondition, nil),
		node("end", domain.NodeTypeEndpoint, nil),
	}
	edges := []diagram.ExecutableEdge{
		edge("e1", "start", domain.HandleLabelOutput, "job", domain.HandleLabelFirst),
		edge("e2", "job", domain.HandleLabelOutput, "check", domain.HandleLabelInput),
		edge("e3", "check", domain.HandleLabelCondFalse, "job", domain.HandleLabelDefault),
		edge("e4", "check", domain.HandleLabelCondTrue, "end", domain.HandleLabelInput),
	}
	diag := diagram.New(nodes, edges, diagram.Metadata{}, nil)

	calls := 0
	handlers := map[domain.NodeType]NodeHandler{
		domain.NodeTypeStart: passthroughHandler(Output{Data: map[string]any{}}),
		domain.NodeTypePersonJob: NodeHandlerFunc(func(ctx context.Context, n *diagram.ExecutableNode, execCtx *ExecutionContext, inputs map[string]any) (Output, error) {
			calls++
			return Output{Data: map[string]any{"n": calls}}, nil
		}),
		domain.NodeTypeCondition: NodeHandlerFunc(func(ctx context.Context, n *diagram.ExecutableNode, execCtx *ExecutionContext, inputs map[string]any) (Output, error) {
			done := calls >= 3
			return Output{Data: map[string]any{}, ConditionResult: &done}, nil
		}),
		domain.NodeTypeEndpoint: passthroughHandler(Output{Data: map[string]any{}}),
	}

	s := New(diag, handlers, newState(t), nil, fakeLookup{}, NewBus(), newTestConfig())
	res := s.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, domain.NodeStatusCompleted, res.Snapshot.NodeStates["end"].Status)
	assert.Equal(t, 3, res.Snapshot.NodeStates["job"].IterationCount)
	// check's own completed result must survive the loop-exit gate that
	// stops job from re-firing — the gate must not cascade back through
	// check just because job is check's only predecessor.
	assert.Equal(t, domain.NodeStatusCompleted, res.Snapshot.NodeStates["check"].Status)
	assert.Equal(t, domain.NodeStatusCompleted, res.Snapshot.NodeStates["job"].Status)
}
