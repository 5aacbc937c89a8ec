package envkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetResolvesConfiguredKey(t *testing.T) {
	t.Setenv("DIPEO_API_KEY_OPENAI", "sk-test-123")
	s := New("openai")

	key, err := s.Get(context.Background(), "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", key.Key)
	assert.Equal(t, "openai", key.Service)
}

func TestGetMissingKeyFails(t *testing.T) {
	s := New("openai")
	_, err := s.Get(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestResolveReturnsRawCredential(t *testing.T) {
	t.Setenv("DIPEO_API_KEY_DEFAULT", "sk-abc")
	s := New("openai")

	value, err := s.Resolve(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "sk-abc", value)
}

func TestListEnumeratesConfiguredKeys(t *testing.T) {
	t.Setenv("DIPEO_API_KEY_ALPHA", "a")
	t.Setenv("DIPEO_API_KEY_BETA", "b")
	s := New("openai")

	keys, err := s.List(context.Background())
	require.NoError(t, err)

	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.ID
	}
	assert.Contains(t, ids, "alpha")
	assert.Contains(t, ids, "beta")
}
