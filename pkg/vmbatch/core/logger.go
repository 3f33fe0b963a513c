package core

import "time"

// Logger interface defines logging capabilities
type Logger interface {
	Info() LogEvent
	Debug() LogEvent
	Warn() LogEvent
	Error() LogEvent
	Trace() LogEvent
}

// LogEvent interface for structured logging
type LogEvent interface {
	Str(key, val string) LogEvent
	Int(key string, val int) LogEvent
	Err(err error) LogEvent
	Float64(key string, val float64) LogEvent
	Bool(key string, val bool) LogEvent
	Dur(key string, val time.Duration) LogEvent
	Interface(key string, val interface{}) LogEvent
	Msg(msg string)
}

// Discard returns a Logger that drops every event.
func Discard() Logger {
	return discardLogger{}
}

type discardLogger struct{}

func (discardLogger) Info() LogEvent  { return discardEvent{} }
func (discardLogger) Debug() LogEvent { return discardEvent{} }
func (discardLogger) Warn() LogEvent  { return discardEvent{} }
func (discardLogger) Error() LogEvent { return discardEvent{} }
func (discardLogger) Trace() LogEvent { return discardEvent{} }

type discardEvent struct{}

func (e discardEvent) Str(string, string) LogEvent            { return e }
func (e discardEvent) Int(string, int) LogEvent               { return e }
func (e discardEvent) Err(error) LogEvent                     { return e }
func (e discardEvent) Float64(string, float64) LogEvent       { return e }
func (e discardEvent) Bool(string, bool) LogEvent             { return e }
func (e discardEvent) Dur(string, time.Duration) LogEvent     { return e }
func (e discardEvent) Interface(string, interface{}) LogEvent { return e }
func (e discardEvent) Msg(string)                             {}
