// Package logging builds zerolog loggers for the harvester. Loggers are
// passed to components explicitly; the global zerolog logger is never
// touched.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled turns logging off.
	LevelDisabled LogLevel = "disabled"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// New builds a logger from cfg.
func New(cfg Config) zerolog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel converts a level name to a zerolog.Level. Unknown names map
// to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Component derives a logger tagged with the given component name.
func Component(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Request flow (page number, url, continuation)
//   - Throttle status when no wait is needed
//   - Worker lifecycle in batch runs
//
// Info: Normal operation events
//   - Pagination complete
//   - Throttle waits driven by cost data
//   - Harvest finished without errors
//   - Request succeeded after retry
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts
//   - Malformed pages that were skipped
//   - userErrors reported by the API
//   - Harvest finished with errors
//
// Error: Error conditions requiring attention
//   - Pagination failed (retries exhausted, stalled, page limit)
//   - Error log could not be persisted
//   - Configuration errors
//
// Context Fields:
//   - component: Component name
//   - run_id: Harvest run ID
//   - page: Page number within a run
//   - url: Request URL
//   - method: HTTP method
//   - status: HTTP status code
//   - attempt: Attempt number within one request
//   - wait: Backoff or throttle wait
//   - error_class: Error classification (client, server, rate_limit, network)
