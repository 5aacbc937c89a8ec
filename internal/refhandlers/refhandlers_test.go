package refhandlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/internal/diagram"
	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/ports"
	"github.com/dipeo/engine/internal/scheduler"
	"github.com/dipeo/engine/internal/services"
)

type stubLLM struct {
	lastModel string
	resp      ports.LLMCompletion
	err       error
}

func (s *stubLLM) Complete(_ context.Context, messages []ports.LLMMessage, model, _ string, _ map[string]any) (ports.LLMCompletion, error) {
	s.lastModel = model
	if s.err != nil {
		return ports.LLMCompletion{}, s.err
	}
	return s.resp, nil
}

type stubCondition struct {
	result bool
	err    error
}

func (s *stubCondition) Evaluate(_ context.Context, _ string, _ map[string]any) (bool, error) {
	return s.result, s.err
}

func TestStartHandlerEmitsNodeData(t *testing.T) {
	n := &diagram.ExecutableNode{ID: "n1", Props: map[string]any{"trigger_mode": "manual"}}
	out, err := startHandler(context.Background(), n, &scheduler.ExecutionContext{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "manual", out.Data["trigger_mode"])
}

func TestConditionHandlerEvaluatesExpression(t *testing.T) {
	reg := services.New(false)
	reg.Register(services.ConditionEvaluationService, &stubCondition{result: true})

	n := &diagram.ExecutableNode{ID: "n1", Props: map[string]any{"expression": "x > 3"}}
	execCtx := &scheduler.ExecutionContext{Services: reg}
	out, err := conditionHandler(context.Background(), n, execCtx, map[string]any{"x": 5})
	require.NoError(t, err)
	require.NotNil(t, out.ConditionResult)
	assert.True(t, *out.ConditionResult)
}

func TestConditionHandlerMissingExpressionFails(t *testing.T) {
	n := &diagram.ExecutableNode{ID: "n1", Props: map[string]any{}}
	_, err := conditionHandler(context.Background(), n, &scheduler.ExecutionContext{Services: services.New(false)}, nil)
	assert.Error(t, err)
}

func TestConditionHandlerDetectMaxIterationsUsesIterationCount(t *testing.T) {
	n := &diagram.ExecutableNode{ID: "n1", Props: map[string]any{
		"condition_type": "detect_max_iterations",
		"max_iteration":  2,
	}}
	execCtx := &scheduler.ExecutionContext{IterationCount: 2}
	out, err := conditionHandler(context.Background(), n, execCtx, nil)
	require.NoError(t, err)
	require.NotNil(t, out.ConditionResult)
	assert.True(t, *out.ConditionResult)

	execCtx.IterationCount = 1
	out, err = conditionHandler(context.Background(), n, execCtx, nil)
	require.NoError(t, err)
	assert.False(t, *out.ConditionResult)
}

func TestCodeJobHandlerEvaluatesExpression(t *testing.T) {
	n := &diagram.ExecutableNode{ID: "n1", Props: map[string]any{"code": "2 * x"}}
	out, err := codeJobHandler(context.Background(), n, &scheduler.ExecutionContext{}, map[string]any{"x": 3})
	require.NoError(t, err)
	assert.Equal(t, 6, out.Data["result"])
}

func TestCodeJobHandlerInvalidExpressionFails(t *testing.T) {
	n := &diagram.ExecutableNode{ID: "n1", Props: map[string]any{"code": "this is not valid ("}}
	_, err := codeJobHandler(context.Background(), n, &scheduler.ExecutionContext{}, nil)
	assert.Error(t, err)
}

func TestPersonJobHandlerCallsLLMAndRecordsMemory(t *testing.T) {
	reg := services.New(false)
	llm := &stubLLM{resp: ports.LLMCompletion{Text: "hello back"}}
	reg.Register(services.LLMService, llm)
	reg.Register(PersonIndexKey, map[string]domain.DomainPerson{
		"assistant": {ID: "assistant", LLMConfig: domain.PersonLLMConfig{Model: "gpt-4o-mini", SystemPrompt: "be terse"}},
	})

	n := &diagram.ExecutableNode{ID: "n1", Props: map[string]any{"person": "assistant", "prompt": "say hi to {{name}}"}}
	execCtx := &scheduler.ExecutionContext{Services: reg}
	out, err := personJobHandler(context.Background(), n, execCtx, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "hello back", out.Data["response"])
	assert.Equal(t, "gpt-4o-mini", llm.lastModel)
}

func TestPersonJobHandlerUnknownPersonFails(t *testing.T) {
	reg := services.New(false)
	reg.Register(PersonIndexKey, map[string]domain.DomainPerson{})

	n := &diagram.ExecutableNode{ID: "n1", Props: map[string]any{"person": "ghost", "prompt": "hi"}}
	_, err := personJobHandler(context.Background(), n, &scheduler.ExecutionContext{Services: reg}, nil)
	assert.Error(t, err)
}

func TestPersonJobHandlerPropagatesLLMError(t *testing.T) {
	reg := services.New(false)
	reg.Register(services.LLMService, &stubLLM{err: errors.New("rate limited")})
	reg.Register(PersonIndexKey, map[string]domain.DomainPerson{"a": {ID: "a"}})

	n := &diagram.ExecutableNode{ID: "n1", Props: map[string]any{"person": "a", "prompt": "hi"}}
	_, err := personJobHandler(context.Background(), n, &scheduler.ExecutionContext{Services: reg}, nil)
	assert.Error(t, err)
}

func TestUserResponseHandlerUsesInteractiveHandler(t *testing.T) {
	n := &diagram.ExecutableNode{ID: "n1", Props: map[string]any{"prompt": "continue {{who}}?"}}
	execCtx := &scheduler.ExecutionContext{
		InteractiveHandler: func(_ context.Context, nodeID, prompt string, _ map[string]any) (string, error) {
			assert.Equal(t, "n1", nodeID)
			assert.Equal(t, "continue Ada?", prompt)
			return "yes", nil
		},
	}
	out, err := userResponseHandler(context.Background(), n, execCtx, map[string]any{"who": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "yes", out.Data["response"])
}

func TestUserResponseHandlerWithoutHandlerFails(t *testing.T) {
	n := &diagram.ExecutableNode{ID: "n1", Props: map[string]any{}}
	_, err := userResponseHandler(context.Background(), n, &scheduler.ExecutionContext{}, nil)
	assert.Error(t, err)
}

func TestPassthroughHandlerForwardsInputs(t *testing.T) {
	out, err := passthroughHandler(context.Background(), &diagram.ExecutableNode{}, &scheduler.ExecutionContext{}, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Data["a"])
}

func TestHandlersCoversEveryNodeType(t *testing.T) {
	handlers := Handlers()
	for _, nt := range []domain.NodeType{
		domain.NodeTypeStart, domain.NodeTypeEndpoint, domain.NodeTypeCondition,
		domain.NodeTypePersonJob, domain.NodeTypePersonBatchJob, domain.NodeTypeCodeJob,
		domain.NodeTypeAPIJob, domain.NodeTypeDB, domain.NodeTypeNotion,
		domain.NodeTypeUserResponse, domain.NodeTypeHook,
	} {
		assert.Contains(t, handlers, nt)
	}
}
