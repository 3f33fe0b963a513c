package vmbatch

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

// NewLogger creates a new logger instance with a specified level and output.
func NewLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}
	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("lib", "vmbatch").
		Logger()
}

// NewTestLogger creates a logger instance for tests with a specified verbosity.
func NewTestLogger(w io.Writer, verbose int) zerolog.Logger {
	return NewLogger(w, LevelForVerbosity(verbose))
}

// LevelForVerbosity maps a count of -v flags to a level: none is warn, then
// info, debug and trace.
func LevelForVerbosity(verbose int) zerolog.Level {
	switch verbose {
	case 0:
		return zerolog.WarnLevel
	case 1:
		return zerolog.InfoLevel
	case 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// LogLevelFromString parses a config level name. An empty name is warn.
func LogLevelFromString(levelStr string) (zerolog.Level, error) {
	if levelStr == "" {
		return zerolog.WarnLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		return zerolog.NoLevel, core.Wrap(err, core.CategoryInvalidArgument, "unknown log level").WithTarget(levelStr)
	}
	return level, nil
}
