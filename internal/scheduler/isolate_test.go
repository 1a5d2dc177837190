package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulseline/internal/types"
)

func TestIsolator_Success(t *testing.T) {
	reporter := &recordingReporter{}
	iso := NewIsolator(time.Second, reporter)

	target := &fakeInterruptor{}
	res := iso.Run(context.Background(), "job", target)

	if res.Err != nil {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Name != "job" {
		t.Errorf("expected name %q, got %q", "job", res.Name)
	}

	reported := reporter.reported()
	if len(reported) != 1 {
		t.Fatalf("expected 1 reported result, got %d", len(reported))
	}
	if reported[0].Err != nil {
		t.Errorf("expected reported success, got %v", reported[0].Err)
	}
}

func TestIsolator_WrapsPlainErrors(t *testing.T) {
	iso := NewIsolator(time.Second, nil)

	cause := errors.New("disk full")
	target := &fakeInterruptor{err: cause}
	res := iso.Run(context.Background(), "job", target)

	var appErr *types.AppError
	if !errors.As(res.Err, &appErr) {
		t.Fatalf("expected an AppError, got %v", res.Err)
	}
	if appErr.Code != types.ErrCodeChildFailed {
		t.Errorf("expected code %q, got %q", types.ErrCodeChildFailed, appErr.Code)
	}
	if !errors.Is(res.Err, cause) {
		t.Error("expected the original error in the chain")
	}
}

func TestIsolator_PassesThroughChildCodes(t *testing.T) {
	iso := NewIsolator(time.Second, nil)

	inner := types.NewAppError(types.ErrCodeChildTimeout, "nested timeout", nil)
	target := &fakeInterruptor{err: inner}
	res := iso.Run(context.Background(), "job", target)

	var appErr *types.AppError
	if !errors.As(res.Err, &appErr) {
		t.Fatalf("expected an AppError, got %v", res.Err)
	}
	if appErr.Code != types.ErrCodeChildTimeout {
		t.Errorf("expected the child code to pass through unchanged, got %q", appErr.Code)
	}
}

func TestIsolator_RecoversPanic(t *testing.T) {
	reporter := &recordingReporter{}
	iso := NewIsolator(time.Second, reporter)

	target := &fakeInterruptor{panicVal: "kaboom"}
	res := iso.Run(context.Background(), "panicky", target)

	var appErr *types.AppError
	if !errors.As(res.Err, &appErr) {
		t.Fatalf("expected an AppError, got %v", res.Err)
	}
	if appErr.Code != types.ErrCodeChildPanic {
		t.Errorf("expected code %q, got %q", types.ErrCodeChildPanic, appErr.Code)
	}

	if len(reporter.reported()) != 1 {
		t.Error("expected the panic to be reported")
	}
}

func TestIsolator_WatchdogAbandonsHungTarget(t *testing.T) {
	reporter := &recordingReporter{}
	iso := NewIsolator(30*time.Millisecond, reporter)

	block := make(chan struct{})
	defer close(block)
	target := &fakeInterruptor{block: block}

	done := make(chan ChildResult, 1)
	go func() {
		done <- iso.Run(context.Background(), "hung", target)
	}()

	select {
	case res := <-done:
		var appErr *types.AppError
		if !errors.As(res.Err, &appErr) {
			t.Fatalf("expected an AppError, got %v", res.Err)
		}
		if appErr.Code != types.ErrCodeChildTimeout {
			t.Errorf("expected code %q, got %q", types.ErrCodeChildTimeout, appErr.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the watchdog timeout; clock would be blocked")
	}
}

func TestIsolator_CancelsHungTargetContext(t *testing.T) {
	iso := NewIsolator(30*time.Millisecond, nil)

	cancelled := make(chan struct{}, 1)
	target := &fakeInterruptor{
		onTrigger: func(ctx context.Context) {
			<-ctx.Done()
			cancelled <- struct{}{}
		},
	}

	res := iso.Run(context.Background(), "hung", target)
	if res.Err == nil {
		t.Fatal("expected a timeout result, got success")
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned goroutine never observed context cancellation")
	}
}

func TestNewIsolator_Defaults(t *testing.T) {
	iso := NewIsolator(0, nil)

	if iso.timeout != DefaultWatchdogTimeout {
		t.Errorf("expected default timeout %s, got %s", DefaultWatchdogTimeout, iso.timeout)
	}
	if iso.reporter == nil {
		t.Error("expected a non-nil reporter")
	}
}
