package vmbatch

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

// zlog carries a zerolog.Logger behind the core.Logger interface used by the
// library packages.
type zlog struct {
	logger zerolog.Logger
}

// NewLoggerAdapter wraps logger as a core.Logger.
func NewLoggerAdapter(logger *zerolog.Logger) core.Logger {
	if logger == nil {
		return core.Discard()
	}
	return zlog{logger: *logger}
}

// ComponentLogger returns a core.Logger that tags every event with the
// component name.
func ComponentLogger(logger zerolog.Logger, component string) core.Logger {
	return zlog{logger: logger.With().Str("component", component).Logger()}
}

func (z zlog) Info() core.LogEvent  { return wrapEvent(z.logger.Info()) }
func (z zlog) Debug() core.LogEvent { return wrapEvent(z.logger.Debug()) }
func (z zlog) Warn() core.LogEvent  { return wrapEvent(z.logger.Warn()) }
func (z zlog) Error() core.LogEvent { return wrapEvent(z.logger.Error()) }
func (z zlog) Trace() core.LogEvent { return wrapEvent(z.logger.Trace()) }

// zevent forwards fields to a zerolog event. zerolog returns a nil event for
// filtered levels and every method below is a no-op on it.
type zevent struct {
	e *zerolog.Event
}

func wrapEvent(e *zerolog.Event) core.LogEvent { return zevent{e: e} }

func (z zevent) Str(key, val string) core.LogEvent             { return zevent{z.e.Str(key, val)} }
func (z zevent) Int(key string, val int) core.LogEvent         { return zevent{z.e.Int(key, val)} }
func (z zevent) Err(err error) core.LogEvent                   { return zevent{z.e.Err(err)} }
func (z zevent) Float64(key string, val float64) core.LogEvent { return zevent{z.e.Float64(key, val)} }
func (z zevent) Bool(key string, val bool) core.LogEvent       { return zevent{z.e.Bool(key, val)} }

func (z zevent) Dur(key string, val time.Duration) core.LogEvent {
	return zevent{z.e.Dur(key, val)}
}

func (z zevent) Interface(key string, val interface{}) core.LogEvent {
	return zevent{z.e.Interface(key, val)}
}

func (z zevent) Msg(msg string) { z.e.Msg(msg) }
