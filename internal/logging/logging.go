// Package logging configures the process-wide zerolog logger, grounded on
// cuemby-warren's pkg/log: one JSON (or console, for local runs) sink,
// component-scoped child loggers, no per-call formatting decisions left to
// callers.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init configures the global zerolog logger. Pass console=true for a
// human-readable local-dev format; production deploys use JSON.
func Init(level string, console bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w io.Writer = os.Stdout
	if console {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}
	zerolog.DefaultContextLogger = &zerolog.Logger{}
	logger := zerolog.New(w).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	baseLogger = logger
}

var baseLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// For returns a child logger scoped to component, e.g. For("matcher").
func For(component string) zerolog.Logger {
	return baseLogger.With().Str("component", component).Logger()
}

// WithNode returns a child logger additionally scoped to a coordinator
// node id, used by actors that need to attribute logs across a cluster.
func WithNode(component string, nodeID int) zerolog.Logger {
	return baseLogger.With().Str("component", component).Int("node_id", nodeID).Logger()
}
