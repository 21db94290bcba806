package engine

import (
	"context"
	"time"
)

// Logger is the engine's structured logging seam. The engine never logs
// through a global; callers inject an implementation (the service layer
// adapts zap) or leave the default no-op in place.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder observes engine operations for aggregation. Operations
// recorded: "job" (one per Run) and "provider_invoke" (one per provider
// attempt, retries included).
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}
