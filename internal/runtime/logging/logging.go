package logging

import (
	"context"
	"log/slog"
)

// LogFields represents structured logging key/value pairs used by typebus.
type LogFields map[string]any

// ServiceLogger is the minimal logging contract required by typebus
// components. Applications can adapt their existing loggers without
// depending on slog.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// LevelTrace sits below slog's debug level; the slog-backed logger maps
// Trace calls onto it.
const LevelTrace = slog.LevelDebug - 4

// NewSlogServiceLogger wraps a slog.Logger so it satisfies the
// ServiceLogger interface.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("typebus: slog logger cannot be nil")
	}
	return &slogServiceLogger{log: log}
}

// NewNopLogger returns a ServiceLogger that discards everything.
func NewNopLogger() ServiceLogger {
	return nopLogger{}
}

type slogServiceLogger struct {
	log *slog.Logger
}

func (s *slogServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return s
	}
	return &slogServiceLogger{log: s.log.With(toAttrs(fields)...)}
}

func (s *slogServiceLogger) Debug(msg string, fields LogFields) {
	s.log.Debug(msg, toAttrs(fields)...)
}

func (s *slogServiceLogger) Info(msg string, fields LogFields) {
	s.log.Info(msg, toAttrs(fields)...)
}

func (s *slogServiceLogger) Error(msg string, err error, fields LogFields) {
	attrs := toAttrs(fields)
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	s.log.Error(msg, attrs...)
}

func (s *slogServiceLogger) Trace(msg string, fields LogFields) {
	s.log.Log(context.Background(), LevelTrace, msg, toAttrs(fields)...)
}

func toAttrs(fields LogFields) []any {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]any, 0, len(fields))
	for key, value := range fields {
		attrs = append(attrs, slog.Any(key, value))
	}
	return attrs
}

type nopLogger struct{}

func (nopLogger) With(LogFields) ServiceLogger          { return nopLogger{} }
func (nopLogger) Debug(string, LogFields)               {}
func (nopLogger) Info(string, LogFields)                {}
func (nopLogger) Error(string, error, LogFields)        {}
func (nopLogger) Trace(string, LogFields)               {}

// TransportAdapter exposes a ServiceLogger through the plain-map interface
// the transport packages accept.
type TransportAdapter struct {
	Base ServiceLogger
}

func (a TransportAdapter) Debug(msg string, fields map[string]any) {
	a.Base.Debug(msg, LogFields(fields))
}

func (a TransportAdapter) Info(msg string, fields map[string]any) {
	a.Base.Info(msg, LogFields(fields))
}

func (a TransportAdapter) Error(msg string, err error, fields map[string]any) {
	a.Base.Error(msg, err, LogFields(fields))
}
