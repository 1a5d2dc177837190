// Package config defines the global configuration structure for the pulseline
// scheduler daemon. Configuration is loaded once at process initialization and
// is immutable thereafter, strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup. The scheduler/queue topology (named instances and
// their wiring) lives in a separate YAML document referenced by TOPOLOGY_PATH;
// see topology.go.
package config

import (
	"time"

	"pulseline/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the pulseline daemon.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"pulseline"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	AWS           AWSConfig
	Scheduler     SchedulerConfig
	Webhook       WebhookConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// AWSConfig holds AWS regional configuration and the optional endpoint
// override used against LocalStack in local development.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SchedulerConfig holds the pulse driver and isolation tuning parameters.
type SchedulerConfig struct {
	// TopologyPath points at the YAML topology document declaring the named
	// scheduler and queue instances.
	TopologyPath string `envconfig:"TOPOLOGY_PATH" validate:"required"`

	// Root is the name of the interruptor the pulse driver ticks.
	Root string `envconfig:"SCHEDULER_ROOT" default:"root"`

	// PulseInterval is the cadence of the external pulse source. The finest
	// scheduling granularity in the tree equals this interval.
	PulseInterval time.Duration `envconfig:"PULSE_INTERVAL" default:"1s"`

	// WatchdogTimeout bounds how long the isolation runner waits on a
	// triggered target before abandoning it. A hung job must never be
	// allowed to block the driving clock indefinitely.
	WatchdogTimeout time.Duration `envconfig:"WATCHDOG_TIMEOUT" default:"30s"`
}

// WebhookConfig holds settings for the outbound webhook leaf jobs.
type WebhookConfig struct {
	UserAgent      string        `envconfig:"WEBHOOK_USER_AGENT" default:"Pulseline-Trigger/1.0"`
	DefaultTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	SigningSecret  SecretString  `envconfig:"WEBHOOK_SIGNING_SECRET"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Pulseline"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrTopology indicates the topology document could not be read or decoded.
	ErrTopology ConfigErrorType = "TOPOLOGY_FAILED"
)
