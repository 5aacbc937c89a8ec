// Package logx bootstraps the single zerolog.Logger every package in this
// module takes via constructor injection. Grounded on the teacher's
// internal/infrastructure/logger (a level-parsing Setup function swapped
// for the default global logger at process start), rebased onto zerolog's
// ConsoleWriter/JSON encoders instead of slog's handlers.
package logx

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Setup builds a zerolog.Logger at the given level. When pretty is true it
// writes human-readable console output (for local development); otherwise
// it writes newline-delimited JSON (for production log collection).
func Setup(level string, pretty bool) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))

	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
