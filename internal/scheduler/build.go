package scheduler

import (
	"fmt"
	"sort"

	"pulseline/internal/config"
	"pulseline/internal/types"
)

// JobBuilder constructs leaf-job Interruptors from their topology specs.
// It is implemented by the jobs package, keeping the scheduler core free of
// queue and HTTP concerns.
type JobBuilder interface {
	Build(name string, spec config.SchedulerSpec) (Interruptor, error)
}

// BuildDeps carries the shared collaborators injected into every built
// instance.
type BuildDeps struct {
	Isolator *Isolator
	Reporter Reporter
	Jobs     JobBuilder
}

// BuildTree validates the scheduler specs eagerly (fail fast on missing or
// contradictory fields, including dangling references) and registers one
// lazy factory per named instance. Instances are constructed on first
// resolution, so forward and cyclic references between multiplexers and
// their children never require an eagerly resolved object graph.
func BuildTree(specs map[string]config.SchedulerSpec, deps BuildDeps) (*Registry, error) {
	if deps.Isolator == nil {
		return nil, types.NewAppError(types.ErrCodeConfigMissingField, "scheduler build: isolator is required", nil)
	}
	if deps.Reporter == nil {
		deps.Reporter = nopReporter{}
	}

	registry := NewRegistry()

	// Deterministic iteration keeps validation errors stable across runs.
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := specs[name]
		if err := validateSpec(name, spec, deps); err != nil {
			return nil, err
		}
		factory, err := factoryFor(name, spec, registry, deps)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(name, factory); err != nil {
			return nil, err
		}
	}

	// References may point forward or form cycles, but they must all name a
	// declared instance.
	for _, name := range names {
		for _, ref := range references(specs[name]) {
			if !registry.Known(ref) {
				return nil, types.NewAppError(types.ErrCodeConfigUnresolvableRef,
					fmt.Sprintf("scheduler %q references undeclared instance %q", name, ref), nil)
			}
		}
	}

	return registry, nil
}

// validateSpec rejects missing or contradictory fields per component kind
// before anything is registered.
func validateSpec(name string, spec config.SchedulerSpec, deps BuildDeps) error {
	switch spec.Kind {
	case config.KindTicker:
		if spec.Target == "" {
			return types.NewAppError(types.ErrCodeConfigMissingField,
				fmt.Sprintf("ticker %q: target is required", name), nil)
		}
		if len(spec.Children) > 0 || spec.Granularity != "" {
			return types.NewAppError(types.ErrCodeConfigInvalidCombo,
				fmt.Sprintf("ticker %q: children and granularity are not ticker fields", name), nil)
		}
		if spec.Ticks < 0 {
			return types.NewAppError(types.ErrCodeConfigInvalidThreshold,
				fmt.Sprintf("ticker %q: ticks must not be negative, got %d", name, spec.Ticks), nil)
		}
	case config.KindMultiplexer:
		if len(spec.Children) == 0 {
			return types.NewAppError(types.ErrCodeConfigMissingField,
				fmt.Sprintf("multiplexer %q: children are required", name), nil)
		}
		if spec.Target != "" || spec.Granularity != "" {
			return types.NewAppError(types.ErrCodeConfigInvalidCombo,
				fmt.Sprintf("multiplexer %q: target and granularity are not multiplexer fields", name), nil)
		}
	case config.KindCronMultiplexer:
		if len(spec.Children) == 0 {
			return types.NewAppError(types.ErrCodeConfigMissingField,
				fmt.Sprintf("cron multiplexer %q: children are required", name), nil)
		}
		if spec.Granularity == "" {
			return types.NewAppError(types.ErrCodeConfigMissingField,
				fmt.Sprintf("cron multiplexer %q: granularity is required", name), nil)
		}
	case config.KindLogJob, config.KindQueueDrainJob, config.KindWebhookJob:
		if deps.Jobs == nil {
			return types.NewAppError(types.ErrCodeConfigInvalidKind,
				fmt.Sprintf("scheduler %q: no job builder configured for kind %q", name, spec.Kind), nil)
		}
	default:
		return types.NewAppError(types.ErrCodeConfigInvalidKind,
			fmt.Sprintf("scheduler %q: unknown kind %q", name, spec.Kind), nil)
	}
	return nil
}

// factoryFor returns the lazy factory for one validated spec.
func factoryFor(name string, spec config.SchedulerSpec, registry *Registry, deps BuildDeps) (Factory, error) {
	switch spec.Kind {
	case config.KindTicker:
		threshold := spec.Ticks
		if threshold == 0 {
			// No tick count configured means the ticker fires on every
			// pulse.
			threshold = 1
		}
		return func() (Interruptor, error) {
			return NewTicker(name, threshold, spec.Target, registry, deps.Isolator)
		}, nil
	case config.KindMultiplexer:
		return func() (Interruptor, error) {
			return NewMultiplexer(name, spec.Children, registry, deps.Reporter)
		}, nil
	case config.KindCronMultiplexer:
		// Parse the granularity now so a bad cron expression fails at build
		// time, not on the first matching minute.
		if _, err := NewCronMultiplexer(name, spec.Granularity, spec.Children, registry, deps.Reporter); err != nil {
			return nil, err
		}
		return func() (Interruptor, error) {
			return NewCronMultiplexer(name, spec.Granularity, spec.Children, registry, deps.Reporter)
		}, nil
	default:
		return func() (Interruptor, error) {
			return deps.Jobs.Build(name, spec)
		}, nil
	}
}

// references lists the instance names a spec points at.
func references(spec config.SchedulerSpec) []string {
	if spec.Target != "" {
		return []string{spec.Target}
	}
	return spec.Children
}
