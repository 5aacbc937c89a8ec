package logx

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevelKnownValues(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("WARN"))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
}

func TestParseLevelUnknownDefaultsToInfo(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, parseLevel("chatty"))
}

func TestSetupReturnsUsableLogger(t *testing.T) {
	logger := Setup("debug", true)
	assert.NotNil(t, logger)

	logger = Setup("info", false)
	assert.NotNil(t, logger)
}
