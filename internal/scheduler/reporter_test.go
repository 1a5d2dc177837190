package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"pulseline/internal/types"
)

// capturingLogger records structured log calls for assertions.
type capturingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
	infos  []string
}

func (l *capturingLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *capturingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *capturingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *capturingLogger) With(_ ...any) types.Logger { return l }

// capturingMetrics records metric calls.
type capturingMetrics struct {
	fires    []string
	failures map[string]types.ErrorCode
}

func newCapturingMetrics() *capturingMetrics {
	return &capturingMetrics{failures: make(map[string]types.ErrorCode)}
}

func (m *capturingMetrics) RecordFire(_ context.Context, interruptor string, _ time.Duration) {
	m.fires = append(m.fires, interruptor)
}

func (m *capturingMetrics) RecordChildFailure(_ context.Context, child string, code types.ErrorCode) {
	m.failures[child] = code
}

func TestLogReporter_SuccessRecordsFireWithoutLogging(t *testing.T) {
	logger := &capturingLogger{}
	metrics := newCapturingMetrics()
	r := NewLogReporter(logger, metrics)

	r.Report(context.Background(), ChildResult{Name: "heartbeat", Duration: 3 * time.Millisecond})

	if len(metrics.fires) != 1 || metrics.fires[0] != "heartbeat" {
		t.Errorf("expected one fire metric for heartbeat, got %v", metrics.fires)
	}
	if len(logger.errors) != 0 {
		t.Errorf("expected no error logs on success, got %v", logger.errors)
	}
	if len(metrics.failures) != 0 {
		t.Errorf("expected no failure metrics on success, got %v", metrics.failures)
	}
}

func TestLogReporter_FailureLogsAndCountsByCode(t *testing.T) {
	logger := &capturingLogger{}
	metrics := newCapturingMetrics()
	r := NewLogReporter(logger, metrics)

	res := ChildResult{
		Name: "drain",
		Err:  types.NewAppError(types.ErrCodeChildTimeout, "took too long", nil),
	}
	r.Report(context.Background(), res)

	if len(logger.errors) != 1 {
		t.Fatalf("expected one error log, got %d", len(logger.errors))
	}
	if code, ok := metrics.failures["drain"]; !ok || code != types.ErrCodeChildTimeout {
		t.Errorf("expected failure metric with code %q, got %q", types.ErrCodeChildTimeout, code)
	}
	if len(metrics.fires) != 0 {
		t.Errorf("expected no fire metric on failure, got %v", metrics.fires)
	}
}

func TestLogReporter_PlainErrorDefaultsToFailedCode(t *testing.T) {
	metrics := newCapturingMetrics()
	r := NewLogReporter(nil, metrics)

	r.Report(context.Background(), ChildResult{Name: "job", Err: errors.New("oops")})

	if code := metrics.failures["job"]; code != types.ErrCodeChildFailed {
		t.Errorf("expected code %q for plain errors, got %q", types.ErrCodeChildFailed, code)
	}
}

// --- CloudWatchMetrics ---

// mockCloudWatch captures PutMetricData calls.
type mockCloudWatch struct {
	calls []*cloudwatch.PutMetricDataInput
	err   error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatchMetrics_RecordFire(t *testing.T) {
	mock := &mockCloudWatch{}
	m := NewCloudWatchMetrics(mock, "TestNS", nil)

	m.RecordFire(context.Background(), "root", 42*time.Millisecond)

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(mock.calls))
	}
	call := mock.calls[0]
	if aws.ToString(call.Namespace) != "TestNS" {
		t.Errorf("expected namespace TestNS, got %q", aws.ToString(call.Namespace))
	}
	if len(call.MetricData) != 2 {
		t.Fatalf("expected fired and latency datums, got %d", len(call.MetricData))
	}
	if got := aws.ToString(call.MetricData[0].MetricName); got != types.MetricTriggerFired {
		t.Errorf("expected metric %q, got %q", types.MetricTriggerFired, got)
	}
	if got := aws.ToFloat64(call.MetricData[1].Value); got != 42 {
		t.Errorf("expected latency value 42, got %v", got)
	}
}

func TestCloudWatchMetrics_RecordChildFailure(t *testing.T) {
	mock := &mockCloudWatch{}
	m := NewCloudWatchMetrics(mock, "", nil)

	m.RecordChildFailure(context.Background(), "drain", types.ErrCodeChildPanic)

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(mock.calls))
	}
	call := mock.calls[0]
	if aws.ToString(call.Namespace) != types.MetricNamespace {
		t.Errorf("expected default namespace %q, got %q", types.MetricNamespace, aws.ToString(call.Namespace))
	}

	datum := call.MetricData[0]
	if got := aws.ToString(datum.MetricName); got != types.MetricChildFailure {
		t.Errorf("expected metric %q, got %q", types.MetricChildFailure, got)
	}

	dims := make(map[string]string)
	for _, d := range datum.Dimensions {
		dims[aws.ToString(d.Name)] = aws.ToString(d.Value)
	}
	if dims[types.DimChild] != "drain" {
		t.Errorf("expected child dimension %q, got %q", "drain", dims[types.DimChild])
	}
	if dims[types.DimFailureKind] != string(types.ErrCodeChildPanic) {
		t.Errorf("expected failure kind %q, got %q", types.ErrCodeChildPanic, dims[types.DimFailureKind])
	}
}

func TestCloudWatchMetrics_EmissionFailureIsSwallowed(t *testing.T) {
	logger := &capturingLogger{}
	mock := &mockCloudWatch{err: errors.New("throttled")}
	m := NewCloudWatchMetrics(mock, "TestNS", logger)

	// Must not panic or propagate.
	m.RecordFire(context.Background(), "root", time.Millisecond)

	if len(logger.warns) != 1 {
		t.Errorf("expected emission failure to be logged as a warning, got %v", logger.warns)
	}
}
