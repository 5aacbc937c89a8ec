// Package refhandlers provides a runnable reference NodeHandler for each
// domain.NodeType. Per-node handler implementations are explicitly
// out-of-core (the system treats them as pluggable services injected into
// the scheduler), so this package is deliberately a thin reference set —
// enough to run the diagrams in the testable-properties examples end to
// end against the LLM and condition-evaluation reference adapters, not a
// production node-handler library.
//
// Grounded on the teacher's application/executor node executors
// (OpenAICompletionExecutor's prompt-substitution-then-complete shape,
// ConditionalRouterExecutor's expression-evaluate-then-branch shape,
// TemplateProcessor's {{variable}} substitution), adapted from the
// teacher's config-map/ExecutionContext signature to
// scheduler.NodeHandler's compiled-node/inputs signature.
package refhandlers

import (
	"context"
	"fmt"
	"regexp"

	domainerrors "github.com/dipeo/engine/internal/domain/errors"

	"github.com/dipeo/engine/internal/diagram"
	"github.com/dipeo/engine/internal/domain"
	"github.com/dipeo/engine/internal/ports"
	"github.com/dipeo/engine/internal/scheduler"
	"github.com/dipeo/engine/internal/services"
)

var templateVarPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// substituteVariables replaces every {{key}} in s with fmt.Sprint(vars[key]),
// leaving unresolvable placeholders untouched.
func substituteVariables(s string, vars map[string]any) string {
	return templateVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := templateVarPattern.FindStringSubmatch(match)[1]
		if v, ok := vars[key]; ok {
			return fmt.Sprint(v)
		}
		return match
	})
}

// mergedInputs copies a node's inputs map, keys and values unchanged, into
// a fresh variable scope for templating and condition evaluation. Several
// handlers (person_job, condition, and others) need this same copy, so it
// lives here rather than being duplicated per handler.
func mergedInputs(inputs map[string]any) map[string]any {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out[k] = v
	}
	return out
}

// Handlers returns the reference NodeHandler set, keyed by domain.NodeType,
// suitable for scheduler.New's handlers argument.
func Handlers() map[domain.NodeType]scheduler.NodeHandler {
	return map[domain.NodeType]scheduler.NodeHandler{
		domain.NodeTypeStart:          scheduler.NodeHandlerFunc(startHandler),
		domain.NodeTypeEndpoint:       scheduler.NodeHandlerFunc(passthroughHandler),
		domain.NodeTypeCondition:      scheduler.NodeHandlerFunc(conditionHandler),
		domain.NodeTypePersonJob:      scheduler.NodeHandlerFunc(personJobHandler),
		domain.NodeTypePersonBatchJob: scheduler.NodeHandlerFunc(personJobHandler),
		domain.NodeTypeCodeJob:        scheduler.NodeHandlerFunc(codeJobHandler),
		domain.NodeTypeAPIJob:         scheduler.NodeHandlerFunc(passthroughHandler),
		domain.NodeTypeDB:             scheduler.NodeHandlerFunc(passthroughHandler),
		domain.NodeTypeNotion:         scheduler.NodeHandlerFunc(passthroughHandler),
		domain.NodeTypeUserResponse:   scheduler.NodeHandlerFunc(userResponseHandler),
		domain.NodeTypeHook:           scheduler.NodeHandlerFunc(passthroughHandler),
	}
}

// startHandler emits the node's own data bag as the trigger payload; a
// hook-triggered start would have its hook_event's delivered payload
// merged in by the transport that invokes Run, not by this handler.
func startHandler(_ context.Context, n *diagram.ExecutableNode, _ *scheduler.ExecutionContext, _ map[string]any) (scheduler.Output, error) {
	return scheduler.Output{Data: mergedInputs(n.Props)}, nil
}

// passthroughHandler covers every node type this reference set treats as an
// external connector stub (api_job, db, notion, hook): it forwards its
// inputs unchanged. A real deployment plugs a concrete handler in at the
// matching scheduler.NodeHandler slot instead of using this one.
func passthroughHandler(_ context.Context, _ *diagram.ExecutableNode, _ *scheduler.ExecutionContext, inputs map[string]any) (scheduler.Output, error) {
	return scheduler.Output{Data: mergedInputs(inputs)}, nil
}

// userResponseHandler blocks on ExecutionContext.InteractiveHandler for an
// operator-supplied value, per the user_response node type's purpose.
func userResponseHandler(ctx context.Context, n *diagram.ExecutableNode, execCtx *scheduler.ExecutionContext, inputs map[string]any) (scheduler.Output, error) {
	if execCtx.InteractiveHandler == nil {
		return scheduler.Output{}, domainerrors.NewConfigurationError(n.ID, "user_response node has no interactive handler configured")
	}
	prompt, _ := n.Props["prompt"].(string)
	response, err := execCtx.InteractiveHandler(ctx, n.ID, substituteVariables(prompt, mergedInputs(inputs)), inputs)
	if err != nil {
		return scheduler.Output{}, domainerrors.NewTransientError(n.ID, "awaiting interactive response", err)
	}
	return scheduler.Output{Data: map[string]any{"response": response}}, nil
}

// codeJobHandler evaluates its "code" property as an expr-lang expression
// against the node's inputs. This is a reference wiring, not the code
// sandbox a production code_job handler would need — expr-lang has no
// access to the host beyond the variables explicitly passed in, which is
// sufficient for the pure-expression examples this engine ships with.
func codeJobHandler(_ context.Context, n *diagram.ExecutableNode, _ *scheduler.ExecutionContext, inputs map[string]any) (scheduler.Output, error) {
	code, _ := n.Props["code"].(string)
	if code == "" {
		return scheduler.Output{Data: mergedInputs(inputs)}, nil
	}
	result, err := evalExpr(code, mergedInputs(inputs))
	if err != nil {
		return scheduler.Output{}, domainerrors.NewHandlerError(n.ID, string(domain.NodeTypeCodeJob), 1, "code evaluation failed", err, false)
	}
	return scheduler.Output{Data: map[string]any{"result": result}}, nil
}

// conditionHandler resolves a condition node's branch. The
// "detect_max_iterations" condition_type is a scheduler-internal loop-exit
// signal rather than a user expression (spec: implementations should
// document their traversal); this reference handler implements it as "the
// enclosing loop's iteration count has reached the node's own
// max_iteration property", which covers the single-loop case the testable
// properties describe but not nested loops with independent counters — see
// DESIGN.md's Open Question decision for the full reasoning.
func conditionHandler(ctx context.Context, n *diagram.ExecutableNode, execCtx *scheduler.ExecutionContext, inputs map[string]any) (scheduler.Output, error) {
	conditionType, _ := n.Props["condition_type"].(string)
	if conditionType == "detect_max_iterations" {
		maxIteration := 0
		if raw, ok := n.Props["max_iteration"]; ok {
			switch v := raw.(type) {
			case int:
				maxIteration = v
			case float64:
				maxIteration = int(v)
			}
		}
		result := maxIteration > 0 && execCtx.IterationCount >= maxIteration
		return scheduler.Output{Data: mergedInputs(inputs), ConditionResult: &result}, nil
	}

	expression, _ := n.Props["expression"].(string)
	if expression == "" {
		return scheduler.Output{}, domainerrors.NewValidationError(n.ID, "condition node has no expression")
	}

	svc, err := execCtx.Services.Require(string(services.ConditionEvaluationService))
	if err != nil {
		return scheduler.Output{}, domainerrors.NewConfigurationError(n.ID, err.Error())
	}
	evaluator, ok := svc.(ports.ConditionEvaluationPort)
	if !ok {
		return scheduler.Output{}, domainerrors.NewConfigurationError(n.ID, "registered condition evaluation service has the wrong type")
	}

	result, err := evaluator.Evaluate(ctx, expression, mergedInputs(inputs))
	if err != nil {
		return scheduler.Output{}, domainerrors.NewHandlerError(n.ID, string(domain.NodeTypeCondition), 1, "condition evaluation failed", err, false)
	}
	return scheduler.Output{Data: mergedInputs(inputs), ConditionResult: &result}, nil
}
