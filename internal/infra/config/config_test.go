package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_DSN", "DIPEO_ENVIRONMENT",
		"DIPEO_RETRY_MAX", "DIPEO_RETRY_BASE_DELAY_MS", "DIPEO_NODE_TIMEOUT_SEC",
		"DIPEO_OBSERVER_QUEUE_SIZE", "DIPEO_CIRCUIT_BREAKER_THRESHOLD",
		"DIPEO_CIRCUIT_BREAKER_COOLDOWN_SEC",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	c := Load()
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "development", c.Environment)
	assert.True(t, c.Pretty)
	assert.Equal(t, 3, c.RetryMax)
	assert.Equal(t, 500, c.RetryBaseDelayMs)
	assert.Equal(t, 300, c.NodeTimeoutSec)
	assert.Equal(t, 256, c.ObserverQueueSize)
	assert.Equal(t, 5, c.CircuitBreakerThresh)
	assert.Equal(t, 30, c.CircuitBreakerCooldownSec)
	assert.Equal(t, 8080, c.GetPortInt())
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DIPEO_ENVIRONMENT", "production")
	t.Setenv("DIPEO_RETRY_MAX", "7")

	c := Load()
	assert.Equal(t, "9090", c.Port)
	assert.Equal(t, "production", c.Environment)
	assert.False(t, c.Pretty)
	assert.Equal(t, 7, c.RetryMax)
}

func TestLoadIgnoresUnparseableInt(t *testing.T) {
	t.Setenv("DIPEO_RETRY_MAX", "not-a-number")
	c := Load()
	assert.Equal(t, 3, c.RetryMax)
}
