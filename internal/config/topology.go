// topology.go loads the YAML topology document that declares the named
// scheduler and queue instances wired together at startup. The document is
// intentionally declarative: it names instances and references between them,
// while the builder functions in internal/scheduler and internal/queue perform
// the eager per-kind validation (fail fast on missing or contradictory
// fields).
//
// Example:
//
//	schedulers:
//	  root:
//	    kind: ticker
//	    target: every-second
//	  every-second:
//	    kind: multiplexer
//	    children: [heartbeat, minutely]
//	  minutely:
//	    kind: ticker
//	    ticks: 60
//	    target: minute-jobs
//	  minute-jobs:
//	    kind: cron_multiplexer
//	    granularity: "* * * * *"
//	    children: [drain-jobs]
//	  heartbeat:
//	    kind: log
//	    message: alive
//	  drain-jobs:
//	    kind: queue_drain
//	    queue: jobs
//	queues:
//	  jobs:
//	    priority_handler: strict
//	    client:
//	      queue_prefix: pulseline-jobs
//	    attributes:
//	      VisibilityTimeout: "30"
//	    dead_letter_queue: pulseline-jobs-dlq
//	    max_receive_count: 5
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SchedulerKind enumerates the component kinds a scheduler instance can
// declare.
type SchedulerKind string

const (
	KindTicker          SchedulerKind = "ticker"
	KindMultiplexer     SchedulerKind = "multiplexer"
	KindCronMultiplexer SchedulerKind = "cron_multiplexer"
	KindLogJob          SchedulerKind = "log"
	KindQueueDrainJob   SchedulerKind = "queue_drain"
	KindWebhookJob      SchedulerKind = "webhook"
)

// SchedulerSpec declares one named instance in the scheduler tree. Which
// fields are meaningful depends on Kind; the builders reject contradictory
// combinations.
type SchedulerSpec struct {
	Kind SchedulerKind `yaml:"kind"`

	// Ticker: number of pulses between firings. Zero means unset; a ticker
	// with no count configured fires on every pulse.
	Ticks int `yaml:"ticks,omitempty"`
	// Ticker: name of the interruptor fired through the isolation runner.
	Target string `yaml:"target,omitempty"`

	// Multiplexer / cron_multiplexer: ordered child references. Dispatch
	// always respects declared order.
	Children []string `yaml:"children,omitempty"`

	// cron_multiplexer: standard cron expression gating dispatch.
	Granularity string `yaml:"granularity,omitempty"`

	// log job
	Message string `yaml:"message,omitempty"`

	// queue_drain job
	Queue       string `yaml:"queue,omitempty"`
	MaxMessages int    `yaml:"max_messages,omitempty"`

	// webhook job
	URL   string `yaml:"url,omitempty"`
	Event string `yaml:"event,omitempty"`
}

// QueueClientSpec holds the connection parameters for one managed queue
// instance. QueuePrefix is the physical queue name prefix; each priority
// band maps to "<prefix>-<band>".
type QueueClientSpec struct {
	QueuePrefix string `yaml:"queue_prefix"`
	Region      string `yaml:"region,omitempty"`
	EndpointURL string `yaml:"endpoint_url,omitempty"`
}

// QueueSpec declares one named managed queue instance.
type QueueSpec struct {
	// PriorityHandler references a registered dequeue-ordering strategy.
	// Empty selects the standard FIFO-within-priority handler.
	PriorityHandler string `yaml:"priority_handler,omitempty"`

	// Client is required; provisioning fails without it.
	Client *QueueClientSpec `yaml:"client"`

	// Attributes are queue attributes applied to the primary queues
	// (visibility timeout and similar). The redrive policy is merged in by
	// the provisioner when a dead-letter queue is configured.
	Attributes map[string]string `yaml:"attributes,omitempty"`

	// DeadLetterQueue names the dead-letter queue guaranteed to exist
	// before the adapter is handed out. Empty disables the redrive policy.
	DeadLetterQueue string `yaml:"dead_letter_queue,omitempty"`

	// MaxReceiveCount is only valid together with DeadLetterQueue.
	// Zero means unset (the provisioner defaults it to 10).
	MaxReceiveCount int `yaml:"max_receive_count,omitempty"`
}

// Topology is the decoded topology document.
type Topology struct {
	Schedulers map[string]SchedulerSpec `yaml:"schedulers"`
	Queues     map[string]QueueSpec     `yaml:"queues"`
}

// LoadTopology reads and decodes the topology document at path. Unknown
// fields are rejected so typos fail fast rather than silently configuring
// nothing.
func LoadTopology(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{
			Type:    ErrTopology,
			Message: fmt.Sprintf("failed to open topology document %s", path),
			Err:     err,
		}
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var topo Topology
	if err := dec.Decode(&topo); err != nil {
		return nil, &ConfigError{
			Type:    ErrTopology,
			Message: fmt.Sprintf("failed to decode topology document %s", path),
			Err:     err,
		}
	}

	if len(topo.Schedulers) == 0 && len(topo.Queues) == 0 {
		return nil, &ConfigError{
			Type:    ErrTopology,
			Message: fmt.Sprintf("topology document %s declares no instances", path),
		}
	}

	return &topo, nil
}
