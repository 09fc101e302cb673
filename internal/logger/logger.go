// Package logger provides structured logging for the LexHub API.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool
	Output     io.Writer
	WithCaller bool
}

// New builds a zerolog logger tagged with the service name.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zctx := zerolog.New(output).Level(level).With().Timestamp().Str("service", "lexhub-api")
	if cfg.WithCaller {
		zctx = zctx.Caller()
	}
	return zctx.Logger()
}

// Init installs the logger as the package-level zerolog logger and returns it.
func Init(cfg Config) zerolog.Logger {
	l := New(cfg)
	log.Logger = l
	return l
}

// Component returns a child logger for one subsystem.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Nop is used by tests and by services constructed without a logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// LogDBOperation logs a finished store call at debug, or at error when it failed.
func LogDBOperation(l zerolog.Logger, operation string, duration time.Duration, err error) {
	if err != nil {
		l.Error().
			Str("component", "database").
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err).
			Msg("database operation failed")
		return
	}
	l.Debug().
		Str("component", "database").
		Str("operation", operation).
		Dur("duration_ms", duration).
		Msg("database operation completed")
}

// LogRequest writes the access log line for one HTTP request.
func LogRequest(l zerolog.Logger, requestID, method, path string, status int, duration time.Duration) {
	event := l.Info()
	if status >= 500 {
		event = l.Error()
	} else if status >= 400 {
		event = l.Warn()
	}
	event.
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("duration_ms", duration).
		Msg("request")
}
