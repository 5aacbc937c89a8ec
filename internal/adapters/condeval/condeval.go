// Package condeval implements ports.ConditionEvaluationPort against
// github.com/expr-lang/expr.
//
// Grounded on the teacher's ConditionEvaluator
// (internal/application/executor/conditions.go): a compiled-program cache
// keyed by expression text, expr.AsBool() to force a boolean result, and a
// missing-variable-is-false fallback so a condition referencing a variable
// that hasn't been produced yet reads as false instead of erroring.
// Generalized from evaluating against a domain.VariableSet to the port's
// plain map[string]any evaluation context, and the result cache (keyed by
// expression+variables, useful only within one evaluator's lifetime in the
// teacher) is dropped since the port is called once per condition node per
// iteration and the compiled-program cache already removes the repeat cost
// that mattered.
package condeval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	domainerrors "github.com/dipeo/engine/internal/domain/errors"
)

// missingVariablePatterns mirrors the teacher's isVariableNotFoundError
// heuristic over expr's error text.
var missingVariablePatterns = []string{
	"cannot fetch",
	"undefined",
	"unknown name",
	"not found",
}

// Adapter evaluates boolean expressions with a compiled-program cache.
type Adapter struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New constructs an empty Adapter.
func New() *Adapter {
	return &Adapter{cache: make(map[string]*vm.Program)}
}

// Evaluate compiles (or reuses a cached compile of) expression and runs it
// against evalContext. A reference to a variable evalContext doesn't carry
// evaluates to false rather than an error, since a condition guarding on a
// not-yet-produced upstream output is a normal transient state, not a
// malformed diagram.
func (a *Adapter) Evaluate(_ context.Context, expression string, evalContext map[string]any) (bool, error) {
	if expression == "" {
		return false, domainerrors.NewValidationError("expression", "condition expression is empty")
	}

	program, err := a.compiled(expression)
	if err != nil {
		return false, domainerrors.NewValidationError("expression", fmt.Sprintf("failed to compile condition %q: %v", expression, err))
	}

	result, err := expr.Run(program, evalContext)
	if err != nil {
		if isMissingVariableError(err.Error()) {
			return false, nil
		}
		return false, domainerrors.NewHandlerError("", "condition", 1, fmt.Sprintf("failed to evaluate condition %q: %v", expression, err), err, false)
	}

	resultBool, ok := result.(bool)
	if !ok {
		return false, domainerrors.NewValidationError("expression", fmt.Sprintf("condition %q did not evaluate to a boolean, got %T", expression, result))
	}
	return resultBool, nil
}

func (a *Adapter) compiled(expression string) (*vm.Program, error) {
	a.mu.RLock()
	program, ok := a.cache[expression]
	a.mu.RUnlock()
	if ok {
		return program, nil
	}

	// expr.Env(map[string]interface{}{}) tells the compiler evalContext is a
	// dynamic string-keyed map, so an identifier like "count" resolves to a
	// map lookup instead of failing to compile as an unknown name.
	program, err := expr.Compile(expression, expr.Env(map[string]interface{}{}), expr.AsBool())
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[expression] = program
	a.mu.Unlock()
	return program, nil
}

func isMissingVariableError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, pattern := range missingVariablePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
