package condeval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/dipeo/engine/internal/domain/errors"
)

func TestEvaluateTrueAndFalse(t *testing.T) {
	a := New()
	ctx := context.Background()

	ok, err := a.Evaluate(ctx, "count > 3", map[string]any{"count": 5})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Evaluate(ctx, "count > 3", map[string]any{"count": 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateReusesCompiledProgram(t *testing.T) {
	a := New()
	ctx := context.Background()

	_, err := a.Evaluate(ctx, `status == "done"`, map[string]any{"status": "done"})
	require.NoError(t, err)

	assert.Len(t, a.cache, 1)

	ok, err := a.Evaluate(ctx, `status == "done"`, map[string]any{"status": "pending"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, a.cache, 1)
}

func TestEvaluateMissingVariableIsFalseNotError(t *testing.T) {
	a := New()
	ok, err := a.Evaluate(context.Background(), "nonexistent == true", map[string]any{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateEmptyExpressionFails(t *testing.T) {
	a := New()
	_, err := a.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)
	var valErr *domainerrors.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestEvaluateNonBooleanResultFails(t *testing.T) {
	a := New()
	_, err := a.Evaluate(context.Background(), "1 + 1", map[string]any{})
	require.Error(t, err)
}
