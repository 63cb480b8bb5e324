// Package logger builds the zerolog loggers used across ledgerbeat.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration
type Config struct {
	Level   string    // debug, info, warn, error
	Pretty  bool      // Enable pretty console output
	Service string    // Attached to every event when set
	Output  io.Writer // Defaults to stdout
}

// ForEnv returns the logger configuration for an APP_ENV value.
// Development gets console output and at least debug verbosity.
func ForEnv(appEnv, level string) Config {
	cfg := Config{Level: level, Service: "ledgerbeat"}
	if strings.EqualFold(appEnv, "dev") {
		cfg.Pretty = true
		if level == "" || level == "info" {
			cfg.Level = "debug"
		}
	}
	return cfg
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return zerolog.TraceLevel
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

// New creates a new structured logger
func New(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		}
	}

	ctx := zerolog.New(out).With().Timestamp().Caller()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	return ctx.Logger()
}

// SetGlobalLogger sets the package-level logger
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
