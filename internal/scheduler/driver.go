package scheduler

import (
	"context"
	"time"

	"pulseline/internal/types"
)

// Driver is the external pulse source: a fixed-rate wall clock delivering
// pulses to the root of the interruptor tree. Stopping the driver (by
// cancelling its context) is the only way the tree stops; the tree itself
// has no built-in cancellation.
type Driver struct {
	root     string
	interval time.Duration
	registry *Registry
	logger   types.Logger
}

// NewDriver creates a Driver ticking the named root at the given interval.
func NewDriver(root string, interval time.Duration, registry *Registry, logger types.Logger) *Driver {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Driver{
		root:     root,
		interval: interval,
		registry: registry,
		logger:   logger,
	}
}

// Run resolves the root interruptor and delivers pulses until ctx is
// cancelled. Pulse delivery is synchronous: the cascade of trigger calls for
// one pulse completes (or is abandoned at an isolation boundary) before the
// next pulse is delivered, so firings are ordered by pulse arrival.
//
// Run returns nil on clean shutdown and a configuration error if the root
// cannot be resolved.
func (d *Driver) Run(ctx context.Context) error {
	root, err := d.registry.Resolve(d.root)
	if err != nil {
		return err
	}

	d.logger.Info("pulse driver started",
		"root", d.root,
		"interval", d.interval.String(),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("pulse driver stopped", "root", d.root)
			return nil
		case <-ticker.C:
			// Root failures never surface here; they are captured at the
			// isolation boundaries inside the tree.
			_ = root.Trigger(ctx)
		}
	}
}
