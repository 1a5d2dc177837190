package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pulseline/internal/types"
)

// Multiplexer fans out one trigger to an ordered list of child Interruptors.
// Children are referenced by name and resolved through the registry on first
// dispatch (memoized), so forward and cyclic declarations are legal.
//
// Fan-out is independent: each child's failure is captured and reported on
// its own, and one child failing never prevents subsequent children from
// running. There is no rollback and no ordering guarantee beyond declared
// order.
type Multiplexer struct {
	name     string
	children []string
	registry *Registry
	reporter Reporter

	// mu guards resolved. A watchdog-abandoned dispatch can still be
	// resolving children when the next pulse re-enters this instance.
	mu sync.Mutex
	// resolved memoizes child lookups after first resolution.
	resolved map[string]Interruptor
}

// NewMultiplexer creates a Multiplexer over the given ordered child
// references. An empty child list is invalid configuration.
func NewMultiplexer(name string, children []string, registry *Registry, reporter Reporter) (*Multiplexer, error) {
	if len(children) == 0 {
		return nil, types.NewAppError(types.ErrCodeConfigMissingField,
			fmt.Sprintf("multiplexer %q: at least one child is required", name), nil)
	}
	if registry == nil {
		return nil, types.NewAppError(types.ErrCodeConfigMissingField,
			fmt.Sprintf("multiplexer %q: registry is required", name), nil)
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	// Child order is fixed after construction.
	ordered := make([]string, len(children))
	copy(ordered, children)

	return &Multiplexer{
		name:     name,
		children: ordered,
		registry: registry,
		reporter: reporter,
		resolved: make(map[string]Interruptor),
	}, nil
}

// Trigger dispatches to every child in declared order and returns once all
// children have been attempted. Child failures are reported, never returned.
func (m *Multiplexer) Trigger(ctx context.Context) error {
	m.dispatch(ctx)
	return nil
}

// dispatch performs the fan-out and returns the per-child results in
// declared order. Exposed within the package so tests can assert on exactly
// which children failed without log scraping.
func (m *Multiplexer) dispatch(ctx context.Context) []ChildResult {
	results := make([]ChildResult, 0, len(m.children))

	for _, name := range m.children {
		res := m.invoke(ctx, name)
		m.reporter.Report(ctx, res)
		results = append(results, res)
	}
	return results
}

// invoke resolves and triggers a single child, capturing errors and panics.
func (m *Multiplexer) invoke(ctx context.Context, name string) (res ChildResult) {
	start := time.Now()
	res.Name = name

	defer func() {
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			res.Err = types.NewAppError(types.ErrCodeChildPanic,
				fmt.Sprintf("child %q panicked: %v", name, r), nil)
		}
	}()

	m.mu.Lock()
	child, ok := m.resolved[name]
	if !ok {
		resolvedChild, err := m.registry.Resolve(name)
		if err != nil {
			m.mu.Unlock()
			res.Err = err
			return res
		}
		m.resolved[name] = resolvedChild
		child = resolvedChild
	}
	m.mu.Unlock()

	if err := child.Trigger(ctx); err != nil {
		if types.IsChildExecution(err) {
			res.Err = err
		} else {
			res.Err = types.NewAppError(types.ErrCodeChildFailed,
				fmt.Sprintf("child %q failed", name), err)
		}
	}
	return res
}

// CronMultiplexer is a Multiplexer that only dispatches when the current
// time matches a configured granularity, expressed as a standard five-field
// cron expression. A non-matching instant is a pure no-op, not an error.
//
// The gate lets a fine-grained Ticker (seconds) drive the whole tree while
// coarser work fires on cron boundaries, avoiding drift between multiple
// independent timer sources. The predicate is a pure function of the
// current time.
type CronMultiplexer struct {
	*Multiplexer
	schedule cron.Schedule
	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// NewCronMultiplexer creates a cron-gated Multiplexer. The granularity must
// be a valid standard cron expression ("* * * * *" fires once per minute).
func NewCronMultiplexer(name, granularity string, children []string, registry *Registry, reporter Reporter) (*CronMultiplexer, error) {
	schedule, err := cron.ParseStandard(granularity)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalidCron,
			fmt.Sprintf("cron multiplexer %q: invalid granularity %q", name, granularity), err)
	}

	mux, err := NewMultiplexer(name, children, registry, reporter)
	if err != nil {
		return nil, err
	}

	return &CronMultiplexer{
		Multiplexer: mux,
		schedule:    schedule,
		now:         time.Now,
	}, nil
}

// Trigger evaluates the granularity predicate against the current time and,
// only on a match, behaves exactly like Multiplexer.Trigger.
func (c *CronMultiplexer) Trigger(ctx context.Context) error {
	if !c.matches(c.now()) {
		return nil
	}
	return c.Multiplexer.Trigger(ctx)
}

// matches reports whether t is the top of a minute the cron schedule
// activates on. Cron granularity is minutes, so any instant past second
// zero is a non-match by definition.
func (c *CronMultiplexer) matches(t time.Time) bool {
	t = t.UTC()
	if t.Second() != 0 {
		return false
	}
	minute := t.Truncate(time.Minute)
	return c.schedule.Next(minute.Add(-time.Second)).Equal(minute)
}
