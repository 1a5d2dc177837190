// Package scheduler implements the hierarchical periodic-trigger tree for the
// pulseline platform.
//
// An external pulse source drives a root Ticker at the finest granularity
// (seconds). The Ticker's target is a Multiplexer fanning out to arbitrary
// jobs and to coarser Tickers, producing a cron-like tree whose leaves are
// real work (queue drains, webhook pings, heartbeat logs).
//
// Composition is lazy and name-keyed: instances reference each other through
// a Registry of factories, so forward and cyclic declarations in the topology
// document are legal without eager construction of the whole object graph.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pulseline/internal/types"
)

// Interruptor is anything that can be triggered: Tickers, Multiplexers, and
// leaf jobs all implement it. Trigger is synchronous; failure isolation is
// the caller's concern (see Isolator and Multiplexer).
type Interruptor interface {
	Trigger(ctx context.Context) error
}

// Func adapts a plain function to the Interruptor interface.
type Func func(ctx context.Context) error

// Trigger implements Interruptor.
func (f Func) Trigger(ctx context.Context) error { return f(ctx) }

// Factory constructs an Interruptor on first resolution. Factories must not
// resolve other registry entries eagerly; references between instances are
// resolved lazily at trigger time.
type Factory func() (Interruptor, error)

// Registry maps instance names to factories, memoizing constructed instances
// on first resolution. It is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]Interruptor
	resolving map[string]bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Interruptor),
		resolving: make(map[string]bool),
	}
}

// Register binds a factory to a name. Duplicate registrations are a
// configuration error.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return types.NewAppError(types.ErrCodeConfigMissingField, "interruptor name must not be empty", nil)
	}
	if _, exists := r.factories[name]; exists {
		return types.NewAppError(types.ErrCodeConfigInvalidCombo,
			fmt.Sprintf("interruptor %q registered twice", name), nil)
	}
	r.factories[name] = factory
	return nil
}

// Known reports whether a name has a registered factory. Used by the builder
// for eager reference validation without constructing anything.
func (r *Registry) Known(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[name]
	return ok
}

// Resolve returns the instance registered under name, constructing and
// memoizing it on first call. An unknown name is a configuration error.
// A factory that re-enters Resolve for its own name (eager cyclic
// construction) is rejected rather than deadlocking.
func (r *Registry) Resolve(name string) (Interruptor, error) {
	r.mu.Lock()
	if inst, ok := r.instances[name]; ok {
		r.mu.Unlock()
		return inst, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		r.mu.Unlock()
		return nil, types.NewAppError(types.ErrCodeConfigUnresolvableRef,
			fmt.Sprintf("no interruptor registered under %q", name), nil)
	}
	if r.resolving[name] {
		r.mu.Unlock()
		return nil, types.NewAppError(types.ErrCodeConfigUnresolvableRef,
			fmt.Sprintf("cyclic eager construction of %q; factories must resolve references lazily", name), nil)
	}
	r.resolving[name] = true
	r.mu.Unlock()

	inst, err := factory()

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resolving, name)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigUnresolvableRef,
			fmt.Sprintf("constructing interruptor %q", name), err)
	}
	// First constructed instance wins under concurrent resolution.
	if existing, ok := r.instances[name]; ok {
		return existing, nil
	}
	r.instances[name] = inst
	return inst, nil
}

// ChildResult records the outcome of one isolated invocation during fan-out.
// Collecting explicit results (instead of relying on log scraping) is what
// lets tests assert on exactly which children failed.
type ChildResult struct {
	// Name of the invoked interruptor.
	Name string
	// Err is nil on success; otherwise an AppError with a child_* code.
	Err error
	// Duration of the invocation as observed by the caller. For abandoned
	// (timed out) targets this is the watchdog timeout, not the eventual
	// runtime of the stuck goroutine.
	Duration time.Duration
}

// Reporter receives every ChildResult captured at an isolation boundary.
// Implementations log failures and emit telemetry; they must not block for
// long since they sit on the heartbeat path.
type Reporter interface {
	Report(ctx context.Context, res ChildResult)
}
