package core

import (
	"context"
	"log/slog"
	"time"
)

// Logger is the slog-shaped logging contract used by the pipeline. Methods
// accept a message and alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output. It is the default when no logger is
// configured.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SlogLogger adapts a *slog.Logger to the Logger interface.
type SlogLogger struct {
	L *slog.Logger
}

// Debug logs at debug level.
func (s SlogLogger) Debug(msg string, args ...any) { s.L.Debug(msg, args...) }

// Info logs at info level.
func (s SlogLogger) Info(msg string, args ...any) { s.L.Info(msg, args...) }

// Warn logs at warn level.
func (s SlogLogger) Warn(msg string, args ...any) { s.L.Warn(msg, args...) }

// Error logs at error level.
func (s SlogLogger) Error(msg string, args ...any) { s.L.Error(msg, args...) }

// Clock supplies the current time. Tests inject deterministic clocks.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface. A nil function falls
// back to time.Now. Returned times are normalized to UTC.
type ClockFunc func() time.Time

// Now returns the clock's current time in UTC.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// MetricsRecorder observes pipeline operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around pipeline operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan terminates a span started by a Tracer.
type TraceSpan interface {
	End(err error)
}
