package scheduler

import (
	"context"
	"testing"
	"time"

	"pulseline/internal/types"
)

func TestDriver_UnresolvableRootFailsFast(t *testing.T) {
	d := NewDriver("missing", time.Millisecond, NewRegistry(), nil)

	err := d.Run(context.Background())
	if err == nil {
		t.Fatal("expected error for unresolvable root, got nil")
	}
	if !types.IsConfiguration(err) {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

func TestDriver_DeliversPulsesUntilCancelled(t *testing.T) {
	reg := NewRegistry()

	pulses := make(chan struct{}, 64)
	if err := reg.Register("root", func() (Interruptor, error) {
		return Func(func(ctx context.Context) error {
			pulses <- struct{}{}
			return nil
		}), nil
	}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDriver("root", 5*time.Millisecond, reg, nil)

	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()

	// Wait for a few pulses, then stop.
	for i := 0; i < 3; i++ {
		select {
		case <-pulses:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for pulse delivery")
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop after context cancellation")
	}
}

func TestNewDriver_DefaultsInterval(t *testing.T) {
	d := NewDriver("root", 0, NewRegistry(), nil)
	if d.interval != time.Second {
		t.Errorf("expected default interval of 1s, got %s", d.interval)
	}
}
