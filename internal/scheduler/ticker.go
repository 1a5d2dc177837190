package scheduler

import (
	"context"
	"fmt"
	"sync"

	"pulseline/internal/types"
)

// Ticker counts external pulses and, on reaching its threshold, resets and
// fires one wrapped target through the isolation runner.
//
// The counter is private to the Ticker and holds 0 <= counter < threshold at
// all times outside the firing instant. Counters are not persisted: they are
// wall-clock heartbeats, not exactly-once schedulers, and reset on restart.
//
// A Ticker is itself an Interruptor, so a Multiplexer can fan out to a
// coarser Ticker: pulses delivered through Trigger are counted exactly like
// pulses delivered through Tick. This is how the cron-like tree composes a
// minute cadence out of a second cadence without a second timer source.
type Ticker struct {
	name      string
	threshold int
	target    string
	registry  *Registry
	isolator  *Isolator

	// mu guards counter and resolved. A watchdog-abandoned invocation of
	// this Ticker can still be running when the next pulse arrives.
	mu      sync.Mutex
	counter int
	// resolved memoizes the target lookup after the first firing.
	resolved Interruptor
}

// NewTicker creates a Ticker that fires target every threshold pulses.
// A threshold below 1 is invalid configuration and fails fast.
func NewTicker(name string, threshold int, target string, registry *Registry, isolator *Isolator) (*Ticker, error) {
	if threshold <= 0 {
		return nil, types.NewAppError(types.ErrCodeConfigInvalidThreshold,
			fmt.Sprintf("ticker %q: threshold must be positive, got %d", name, threshold), nil)
	}
	if target == "" {
		return nil, types.NewAppError(types.ErrCodeConfigMissingField,
			fmt.Sprintf("ticker %q: target reference is required", name), nil)
	}
	if registry == nil || isolator == nil {
		return nil, types.NewAppError(types.ErrCodeConfigMissingField,
			fmt.Sprintf("ticker %q: registry and isolator are required", name), nil)
	}
	return &Ticker{
		name:      name,
		threshold: threshold,
		target:    target,
		registry:  registry,
		isolator:  isolator,
	}, nil
}

// Tick delivers one pulse. On the threshold'th pulse the counter resets and
// the target fires through the Isolator; otherwise Tick has no observable
// effect. Failures of the target are captured at the isolation boundary and
// never escape Tick: the heartbeat survives a misbehaving target.
func (t *Ticker) Tick(ctx context.Context) {
	t.mu.Lock()
	t.counter++
	if t.counter < t.threshold {
		t.mu.Unlock()
		return
	}
	t.counter = 0

	target := t.resolved
	if target == nil {
		resolved, err := t.registry.Resolve(t.target)
		if err != nil {
			t.mu.Unlock()
			// Unresolvable targets are reported like any other child
			// failure; the clock keeps beating.
			t.isolator.reporter.Report(ctx, ChildResult{Name: t.target, Err: err})
			return
		}
		t.resolved = resolved
		target = resolved
	}
	t.mu.Unlock()

	t.isolator.Run(ctx, t.target, target)
}

// Trigger implements Interruptor by counting the invocation as one pulse.
func (t *Ticker) Trigger(ctx context.Context) error {
	t.Tick(ctx)
	return nil
}
