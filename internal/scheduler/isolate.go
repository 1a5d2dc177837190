package scheduler

import (
	"context"
	"fmt"
	"time"

	"pulseline/internal/types"
)

// DefaultWatchdogTimeout bounds a triggered target's execution when the
// Isolator is constructed without an explicit timeout.
const DefaultWatchdogTimeout = 30 * time.Second

// Isolator executes a triggered Interruptor in its own goroutine so a
// panicking or hung target can never corrupt or stall the driving clock.
// Failures are captured, converted to reported child_* errors, and returned
// as a ChildResult; they never propagate to the caller as an error.
type Isolator struct {
	timeout  time.Duration
	reporter Reporter
}

// NewIsolator creates an Isolator with the given watchdog timeout and
// reporter. A zero timeout selects DefaultWatchdogTimeout; a nil reporter
// discards results.
func NewIsolator(timeout time.Duration, reporter Reporter) *Isolator {
	if timeout <= 0 {
		timeout = DefaultWatchdogTimeout
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Isolator{
		timeout:  timeout,
		reporter: reporter,
	}
}

// Run invokes target.Trigger in a separate goroutine and waits for it up to
// the watchdog timeout.
//
// Outcomes:
//   - target returns nil: success.
//   - target returns an error: captured as child_execution_failed (errors
//     already carrying a child_* code pass through unchanged).
//   - target panics: recovered and captured as child_execution_panic.
//   - watchdog expires: the target's context is cancelled, the goroutine is
//     abandoned, and the outcome is child_execution_timeout. The clock is
//     free to deliver the next pulse.
//
// Every outcome is passed to the Reporter before Run returns.
func (i *Isolator) Run(ctx context.Context, name string, target Interruptor) ChildResult {
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- types.NewAppError(types.ErrCodeChildPanic,
					fmt.Sprintf("target %q panicked: %v", name, r), nil)
			}
		}()
		done <- target.Trigger(runCtx)
	}()

	watchdog := time.NewTimer(i.timeout)
	defer watchdog.Stop()

	var err error
	select {
	case e := <-done:
		if e != nil && !types.IsChildExecution(e) {
			e = types.NewAppError(types.ErrCodeChildFailed,
				fmt.Sprintf("target %q failed", name), e)
		}
		err = e
	case <-watchdog.C:
		// Abandon the goroutine; cancellation is its signal to stop. The
		// buffered done channel lets it exit whenever it finally returns.
		err = types.NewAppError(types.ErrCodeChildTimeout,
			fmt.Sprintf("target %q exceeded watchdog timeout %s", name, i.timeout), nil)
	}

	res := ChildResult{
		Name:     name,
		Err:      err,
		Duration: time.Since(start),
	}
	i.reporter.Report(ctx, res)
	return res
}

// nopReporter discards results.
type nopReporter struct{}

func (nopReporter) Report(context.Context, ChildResult) {}
