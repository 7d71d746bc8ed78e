// Package notify is the notification bridge boundary. Consumers fire
// human-readable success and failure messages at a Sink; nothing in
// this package blocks or returns errors to the caller.
package notify

import (
	"context"
	"log/slog"
)

// Level classifies a notification for display purposes.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Sink receives fire-and-forget notifications. Implementations must
// not block the caller; slow delivery is the sink's problem.
type Sink interface {
	Notify(ctx context.Context, level Level, message string)
}

// Func adapts a plain function to the Sink interface.
type Func func(ctx context.Context, level Level, message string)

// Notify calls the underlying function.
func (f Func) Notify(ctx context.Context, level Level, message string) {
	f(ctx, level, message)
}

// LogSink writes notifications to a structured logger. It is the
// default sink when no UI bridge is wired.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Notify logs the message at a level matching the notification level.
func (s *LogSink) Notify(ctx context.Context, level Level, message string) {
	switch level {
	case LevelError:
		s.logger.ErrorContext(ctx, message, "notification", level)
	case LevelWarning:
		s.logger.WarnContext(ctx, message, "notification", level)
	default:
		s.logger.InfoContext(ctx, message, "notification", level)
	}
}

// MultiSink fans one notification out to several sinks in order.
type MultiSink []Sink

// Notify delivers to every sink.
func (m MultiSink) Notify(ctx context.Context, level Level, message string) {
	for _, s := range m {
		s.Notify(ctx, level, message)
	}
}
