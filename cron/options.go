package cron

import (
	"fmt"
	"time"

	orderops "github.com/goliatone/go-orderops"
)

// LogLevel controls how much of robfig/cron's own chatter reaches the logger.
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// Parser represents a cron expression parser type
type Parser int

const (
	DefaultParser Parser = iota
	StandardParser
	SecondsParser
)

// Option defines the functional option type for Scheduler
type Option func(*Scheduler)

// WithLocation sets the timezone location for the scheduler
func WithLocation(loc *time.Location) Option {
	return func(cs *Scheduler) {
		cs.location = loc
	}
}

func WithLogger(logger orderops.Logger) Option {
	return func(cs *Scheduler) {
		cs.logger = logger
	}
}

func WithLogLevel(level LogLevel) Option {
	return func(cs *Scheduler) {
		cs.logLevel = level
	}
}

// WithErrorHandler receives every failed run. The default logs at error level.
func WithErrorHandler(handler func(error)) Option {
	return func(cs *Scheduler) {
		cs.errorHandler = handler
	}
}

// WithParser sets the type of cron expression parser to use
func WithParser(p Parser) Option {
	return func(cs *Scheduler) {
		cs.parser = p
	}
}

// loggerAdapter adapts orderops.Logger to robfig/cron's logger
type loggerAdapter struct {
	logger orderops.Logger
	level  LogLevel
}

func (l *loggerAdapter) Info(msg string, keysAndValues ...any) {
	switch {
	case l.level >= LogLevelDebug:
		l.logger.Debug("cron: %s %s", msg, formatKeysAndValues(keysAndValues))
	case l.level >= LogLevelInfo:
		l.logger.Info("cron: %s", msg)
	}
}

func (l *loggerAdapter) Error(err error, msg string, keysAndValues ...any) {
	if l.level >= LogLevelError {
		l.logger.Error("cron: %s: %v %s", msg, err, formatKeysAndValues(keysAndValues))
	}
}

func formatKeysAndValues(kv []any) string {
	out := ""
	for i := 0; i+1 < len(kv); i += 2 {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%v=%v", kv[i], kv[i+1])
	}
	return out
}
