package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct{ model string }

func TestRegisterAndRequire(t *testing.T) {
	r := New(false)
	llm := &fakeLLM{model: "gpt-5"}
	r.Register(LLMService, llm)

	assert.True(t, r.Has(string(LLMService)))
	got, err := r.Require(string(LLMService))
	require.NoError(t, err)
	assert.Same(t, llm, got)
}

func TestRequireMissingServiceFails(t *testing.T) {
	r := New(false)
	_, err := r.Require(string(StateStore))
	require.Error(t, err)
	assert.False(t, r.Has(string(StateStore)))
}

func TestRegisterOverwritesPriorBinding(t *testing.T) {
	r := New(false)
	r.Register(FileService, "first")
	r.Register(FileService, "second")

	got, err := r.Require(string(FileService))
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestLegacyLookupDisabledByDefault(t *testing.T) {
	r := New(false)
	r.Register(NotionService, "notion-client")

	_, ok := r.Get(string(NotionService))
	assert.False(t, ok, "legacy string lookup must stay off unless explicitly enabled")
}

func TestLegacyLookupWhenEnabled(t *testing.T) {
	r := New(true)
	r.Register(NotionService, "notion-client")

	got, ok := r.Get(string(NotionService))
	require.True(t, ok)
	assert.Equal(t, "notion-client", got)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New(false)
	r.Register(MessageRouter, "router")

	snap := r.Snapshot()
	snap[MessageRouter] = "mutated"

	got, err := r.Require(string(MessageRouter))
	require.NoError(t, err)
	assert.Equal(t, "router", got, "mutating the snapshot must not affect the live registry")
}

func TestRequireTypedMismatch(t *testing.T) {
	r := New(false)
	r.Register(APIKeyService, 42)

	_, err := RequireTyped[string](r, APIKeyService)
	require.Error(t, err)
}

func TestRequireTypedMatch(t *testing.T) {
	r := New(false)
	llm := &fakeLLM{model: "gpt-5"}
	r.Register(LLMService, llm)

	got, err := RequireTyped[*fakeLLM](r, LLMService)
	require.NoError(t, err)
	assert.Equal(t, "gpt-5", got.model)
}
