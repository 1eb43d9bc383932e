package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLogLevel parses a log level string. Unknown values fall back to info.
func ParseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none":
		return zerolog.Disabled
	case "error":
		return zerolog.ErrorLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "info", "":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger builds the application logger from the logging configuration.
// Verbose forces debug level regardless of the configured level.
func NewLogger(cfg LoggingConfig, verbose bool) zerolog.Logger {
	level := ParseLogLevel(cfg.Level)
	if verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}

	var logger zerolog.Logger
	if strings.EqualFold(cfg.Format, "json") {
		logger = zerolog.New(os.Stderr)
	} else {
		_, noColor := os.LookupEnv(EnvNoColor)
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    noColor,
		})
	}

	return logger.Level(level).With().Timestamp().Logger()
}
