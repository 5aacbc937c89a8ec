package wsobserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptResolverAnswerWakesResolve(t *testing.T) {
	r := NewPromptResolver()
	done := make(chan struct{})
	var got string
	var gotErr error

	go func() {
		got, gotErr = r.Resolve(context.Background(), "exec-1", "n1", "continue?", nil)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return r.Answer("exec-1", "n1", "yes") == nil
	}, time.Second, time.Millisecond)

	<-done
	require.NoError(t, gotErr)
	assert.Equal(t, "yes", got)
}

func TestPromptResolverAnswerWithoutWaiterFails(t *testing.T) {
	r := NewPromptResolver()
	err := r.Answer("exec-1", "n1", "yes")
	assert.Error(t, err)
}

func TestPromptResolverResolveRespectsContextCancellation(t *testing.T) {
	r := NewPromptResolver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, "exec-1", "n1", "continue?", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPromptResolverAsHandlerUsesExecutionIDFromContext(t *testing.T) {
	r := NewPromptResolver()
	handler := r.AsHandler()
	ctx := WithExecutionID(context.Background(), "exec-9")

	done := make(chan struct{})
	var got string
	go func() {
		got, _ = handler(ctx, "n2", "continue?", nil)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return r.Answer("exec-9", "n2", "proceed") == nil
	}, time.Second, time.Millisecond)

	<-done
	assert.Equal(t, "proceed", got)
}
