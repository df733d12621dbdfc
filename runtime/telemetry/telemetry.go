// Package telemetry defines the logging and metrics seams used across the
// relay runtime. Production wiring uses the Clue/OTEL implementations; tests
// use the no-op ones.
package telemetry

import "context"

type (
	// Logger emits structured log records. Implementations read formatting
	// configuration from the context (clue's log.Context pattern).
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, err error, msg string, keyvals ...any)
	}

	// Metrics records orchestrator counters.
	Metrics interface {
		// IncCounter increments a named counter with optional k/v tag pairs.
		IncCounter(name string, value float64, tags ...string)
	}

	// NoopLogger discards all records.
	NoopLogger struct{}

	// NoopMetrics discards all measurements.
	NoopMetrics struct{}
)

// Counter names recorded by the orchestrator.
const (
	// MetricChunksEmitted counts delivered text chunks.
	MetricChunksEmitted = "relay.chunks.emitted"
	// MetricWarningsFired counts budget warnings raised.
	MetricWarningsFired = "relay.budget.warnings"
	// MetricApprovalsResolved counts approval outcomes, tagged by outcome.
	MetricApprovalsResolved = "relay.approvals.resolved"
	// MetricRunsCompleted counts finished runs, tagged by status.
	MetricRunsCompleted = "relay.runs.completed"
)

func (NoopLogger) Debug(context.Context, string, ...any)        {}
func (NoopLogger) Info(context.Context, string, ...any)         {}
func (NoopLogger) Warn(context.Context, string, ...any)         {}
func (NoopLogger) Error(context.Context, error, string, ...any) {}

func (NoopMetrics) IncCounter(string, float64, ...string) {}
