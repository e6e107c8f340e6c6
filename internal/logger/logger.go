// Package logger provides structured zerolog logging for the emarket
// binaries. Output is JSON on stdout with a service field; components
// derive named children from the root.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Init configures process-wide zerolog defaults and returns the root
// logger for the given service.
func Init(service, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stdout).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Named returns a child of log carrying a component field.
func Named(log zerolog.Logger, component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ParseLevel maps a level name to a zerolog level. Unknown or empty
// names fall back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
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
