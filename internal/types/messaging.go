package types

import "time"

// Priority identifies the priority band a job message is dispatched on.
// Bands are dequeued according to the configured priority handler; ordering
// within a band is FIFO.
type Priority string

const (
	PriorityHigh     Priority = "high"
	PriorityStandard Priority = "standard"
	PriorityLow      Priority = "low"
)

// Valid reports whether p is one of the known priority bands.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityStandard, PriorityLow:
		return true
	}
	return false
}

// JobMessage is the transport envelope carried on the managed queues. It
// holds everything a downstream worker needs for routing and retry
// accounting. JSON tags use snake_case to match the wire contract shared
// with non-Go consumers.
type JobMessage struct {
	// Core identity
	JobID string `json:"job_id"`
	Kind  string `json:"kind"`

	// Routing
	Priority Priority `json:"priority"`

	// Retry state: carried across the publish-consume cycle and incremented
	// by workers on transient failures before re-publishing.
	RetryCount int `json:"retry_count"`

	// Observability
	TraceID    string    `json:"trace_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Raw data snapshot for the worker. Contents are kind-specific.
	Payload map[string]interface{} `json:"payload,omitempty"`
}
