package queue

import (
	"fmt"
	"sync"
	"sync/atomic"

	"pulseline/internal/types"
)

// Bands lists the priority bands in descending priority. Band order here is
// the canonical order handed to priority handlers.
var Bands = []types.Priority{
	types.PriorityHigh,
	types.PriorityStandard,
	types.PriorityLow,
}

// PriorityHandler is the strategy governing dequeue ordering across priority
// bands. Ordering within a band is always FIFO (that part is the queue's
// contract, not the handler's).
type PriorityHandler interface {
	// Name returns the registered handler name.
	Name() string
	// Order returns the bands in the order the adapter should poll them for
	// the next receive. Implementations must return a permutation of the
	// input and must not mutate it.
	Order(bands []types.Priority) []types.Priority
}

// StrictPriorityHandler always drains higher bands first: a message on the
// high band is delivered before anything on standard or low, FIFO within
// each band. This is the standard handler used when no ref is configured.
type StrictPriorityHandler struct{}

// Name implements PriorityHandler.
func (StrictPriorityHandler) Name() string { return "strict" }

// Order returns the bands unchanged (they are already in descending
// priority).
func (StrictPriorityHandler) Order(bands []types.Priority) []types.Priority {
	out := make([]types.Priority, len(bands))
	copy(out, bands)
	return out
}

// RoundRobinHandler rotates the starting band on every receive so low bands
// cannot be starved by a saturated high band.
type RoundRobinHandler struct {
	next atomic.Uint64
}

// Name implements PriorityHandler.
func (*RoundRobinHandler) Name() string { return "round_robin" }

// Order returns the bands rotated by an internal counter that advances on
// every call.
func (h *RoundRobinHandler) Order(bands []types.Priority) []types.Priority {
	if len(bands) == 0 {
		return nil
	}
	offset := int(h.next.Add(1)-1) % len(bands)
	out := make([]types.Priority, 0, len(bands))
	out = append(out, bands[offset:]...)
	out = append(out, bands[:offset]...)
	return out
}

// HandlerRegistry resolves priority-handler references from the topology
// document to registered strategies.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]PriorityHandler
}

// NewHandlerRegistry creates a registry pre-populated with the built-in
// handlers ("strict", "round_robin").
func NewHandlerRegistry() *HandlerRegistry {
	r := &HandlerRegistry{
		handlers: make(map[string]PriorityHandler),
	}
	r.MustRegister(StrictPriorityHandler{})
	r.MustRegister(&RoundRobinHandler{})
	return r
}

// MustRegister adds a handler under its own name, panicking on duplicates.
// Registration happens at process start from static code, so a duplicate is
// a programming error.
func (r *HandlerRegistry) MustRegister(h PriorityHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Name()]; exists {
		panic(fmt.Sprintf("priority handler %q registered twice", h.Name()))
	}
	r.handlers[h.Name()] = h
}

// Resolve returns the handler registered under ref. An empty ref selects the
// standard strict handler; an unknown ref is a configuration error.
func (r *HandlerRegistry) Resolve(ref string) (PriorityHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ref == "" {
		ref = StrictPriorityHandler{}.Name()
	}
	h, ok := r.handlers[ref]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeConfigUnresolvableRef,
			fmt.Sprintf("no priority handler registered under %q", ref), nil)
	}
	return h, nil
}
