package scheduler

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"pulseline/internal/types"
)

// Metrics is the telemetry sink for scheduler events. Implementations must
// be non-blocking enough to sit on the heartbeat path; emission failures are
// logged, never surfaced.
type Metrics interface {
	// RecordFire is called once per successful isolated invocation.
	RecordFire(ctx context.Context, interruptor string, d time.Duration)
	// RecordChildFailure is called once per captured child failure.
	RecordChildFailure(ctx context.Context, child string, code types.ErrorCode)
}

// NopMetrics discards all telemetry.
type NopMetrics struct{}

func (NopMetrics) RecordFire(context.Context, string, time.Duration) {}

func (NopMetrics) RecordChildFailure(context.Context, string, types.ErrorCode) {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchMetrics implements Metrics.
var _ Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics implements Metrics by emitting to AWS CloudWatch.
//
// Metrics emitted:
//   - TriggerFired:   Dims {Interruptor}          -- per successful firing
//   - TriggerLatency: Dims {Interruptor}          -- invocation duration
//   - ChildFailure:   Dims {Child, FailureKind}   -- per captured failure
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the given
// namespace. An empty namespace selects the platform default.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordFire emits TriggerFired and TriggerLatency for the interruptor.
func (m *CloudWatchMetrics) RecordFire(ctx context.Context, interruptor string, d time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricTriggerFired),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(types.DimInterruptor),
						Value: aws.String(interruptor),
					},
				},
			},
			{
				MetricName: aws.String(types.MetricTriggerLatency),
				Value:      aws.Float64(float64(d.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(types.DimInterruptor),
						Value: aws.String(interruptor),
					},
				},
			},
		},
	}

	m.put(ctx, input)
}

// RecordChildFailure emits a ChildFailure metric with Child and FailureKind
// dimensions.
func (m *CloudWatchMetrics) RecordChildFailure(ctx context.Context, child string, code types.ErrorCode) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricChildFailure),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(types.DimChild),
						Value: aws.String(child),
					},
					{
						Name:  aws.String(types.DimFailureKind),
						Value: aws.String(string(code)),
					},
				},
			},
		},
	}

	m.put(ctx, input)
}

// put sends the metric data, logging (not propagating) any failure.
// Telemetry loss must never affect scheduling.
func (m *CloudWatchMetrics) put(ctx context.Context, input *cloudwatch.PutMetricDataInput) {
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Warn("failed to emit scheduler metric",
			"namespace", m.namespace,
			"error", err.Error(),
		)
	}
}
