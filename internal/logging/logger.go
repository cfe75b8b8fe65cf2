// Package logging provides component-scoped zerolog loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // console writer when false
}

var root zerolog.Logger = newLogger(Config{Level: "info"})

// Setup configures the process-wide root logger. Call once at startup
// before any component loggers are created.
func Setup(cfg Config) {
	root = newLogger(cfg)
}

// New returns a logger scoped to the given component name.
func New(component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}

func newLogger(cfg Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if !cfg.JSONFormat {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
