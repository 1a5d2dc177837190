package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricTriggerFired   = "TriggerFired"
	MetricChildFailure   = "ChildFailure"
	MetricTriggerLatency = "TriggerLatency"
	MetricQueueSend      = "QueueSend"
	MetricQueueReceive   = "QueueReceive"

	// Dimension Keys
	DimInterruptor = "Interruptor"
	DimChild       = "Child"
	DimFailureKind = "FailureKind"
	DimQueue       = "Queue"
	DimPriority    = "Priority"

	// Metric Namespace
	MetricNamespace = "Pulseline"
)
