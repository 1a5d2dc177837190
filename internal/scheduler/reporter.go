package scheduler

import (
	"context"
	"errors"

	"pulseline/internal/types"
)

// LogReporter is the standard Reporter: failures are logged through the
// structured logger and counted in telemetry; successes are recorded as
// fire/latency metrics only, to keep a 1-second heartbeat from flooding the
// log stream.
type LogReporter struct {
	logger  types.Logger
	metrics Metrics
}

// NewLogReporter creates a LogReporter. A nil metrics sink disables
// telemetry; a nil logger discards log output.
func NewLogReporter(logger types.Logger, metrics Metrics) *LogReporter {
	if logger == nil {
		logger = types.NopLogger{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &LogReporter{
		logger:  logger,
		metrics: metrics,
	}
}

// Report implements Reporter.
func (r *LogReporter) Report(ctx context.Context, res ChildResult) {
	if res.Err == nil {
		r.metrics.RecordFire(ctx, res.Name, res.Duration)
		return
	}

	code := types.ErrCodeChildFailed
	var appErr *types.AppError
	if errors.As(res.Err, &appErr) {
		code = appErr.Code
	}

	r.logger.Error("child execution failed",
		"child", res.Name,
		"code", string(code),
		"duration_ms", res.Duration.Milliseconds(),
		"error", res.Err.Error(),
	)
	r.metrics.RecordChildFailure(ctx, res.Name, code)
}
