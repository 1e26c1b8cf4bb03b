package observability

import (
	"context"
	"log/slog"
	"time"
)

// Outcome tag values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Operation measures a single licence operation.
type Operation struct {
	name    string
	start   time.Time
	metrics Metrics
	logger  *slog.Logger
}

// BeginOperation starts measuring name. metrics and logger may be nil.
func BeginOperation(name string, metrics Metrics, logger *slog.Logger) *Operation {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Operation{name: name, start: time.Now(), metrics: metrics, logger: logger}
}

// End records the duration and count tagged with the operation and its
// outcome, and logs the result at debug level.
func (o *Operation) End(ctx context.Context, err error) time.Duration {
	elapsed := time.Since(o.start)
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}

	tags := []Tag{T(OperationKey, o.name), T(OutcomeKey, outcome)}
	o.metrics.Timing(MetricOperationDuration, elapsed, tags...)
	o.metrics.Counter(MetricOperationTotal, 1, tags...)

	if o.logger != nil {
		o.logger.DebugContext(ctx, "operation finished",
			OperationKey, o.name,
			OutcomeKey, outcome,
			DurationKey, elapsed.Milliseconds(),
			"error", err,
		)
	}
	return elapsed
}
