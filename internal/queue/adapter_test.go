package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"pulseline/internal/types"
)

func fakeMessage(body, handle string) sqsTypes.Message {
	return sqsTypes.Message{
		Body:          aws.String(body),
		ReceiptHandle: aws.String(handle),
	}
}

func newTestAdapter(t *testing.T, fake *fakeSQS, handler PriorityHandler) *Adapter {
	t.Helper()
	bands := make(map[types.Priority]string, len(Bands))
	for _, band := range Bands {
		q := fake.addQueue("jobs-" + string(band))
		bands[band] = q.url
	}
	return NewAdapter("jobs", fake, bands, handler, nil)
}

func TestAdapter_SendRoutesToPriorityBand(t *testing.T) {
	fake := newFakeSQS()
	a := newTestAdapter(t, fake, nil)

	err := a.Send(context.Background(), types.JobMessage{
		JobID:    "job-1",
		Kind:     "drain",
		Priority: types.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if len(fake.sendCalls) != 1 {
		t.Fatalf("expected 1 SendMessage call, got %d", len(fake.sendCalls))
	}
	if got := aws.ToString(fake.sendCalls[0].QueueUrl); !strings.HasSuffix(got, "/jobs-high") {
		t.Errorf("expected the high band queue, got %q", got)
	}
}

func TestAdapter_SendDefaultsToStandardBand(t *testing.T) {
	fake := newFakeSQS()
	a := newTestAdapter(t, fake, nil)

	if err := a.Send(context.Background(), types.JobMessage{JobID: "job-2"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if got := aws.ToString(fake.sendCalls[0].QueueUrl); !strings.HasSuffix(got, "/jobs-standard") {
		t.Errorf("expected the standard band queue, got %q", got)
	}
}

func TestAdapter_SendRejectsUnknownPriority(t *testing.T) {
	fake := newFakeSQS()
	a := newTestAdapter(t, fake, nil)

	err := a.Send(context.Background(), types.JobMessage{Priority: "urgent"})
	if err == nil {
		t.Fatal("expected error for unknown priority, got nil")
	}
	if !types.IsConfiguration(err) {
		t.Errorf("expected a configuration error, got %v", err)
	}
	if len(fake.sendCalls) != 0 {
		t.Error("expected no SendMessage call for a rejected priority")
	}
}

func TestAdapter_SendStampsTraceIDAndEnqueuedAt(t *testing.T) {
	fake := newFakeSQS()
	a := newTestAdapter(t, fake, nil)

	fixed := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	savedNow := nowUTC
	nowUTC = func() time.Time { return fixed }
	defer func() { nowUTC = savedNow }()

	if err := a.Send(context.Background(), types.JobMessage{JobID: "job-3"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	var sent types.JobMessage
	if err := json.Unmarshal([]byte(aws.ToString(fake.sendCalls[0].MessageBody)), &sent); err != nil {
		t.Fatalf("unmarshaling sent body: %v", err)
	}
	if sent.TraceID == "" {
		t.Error("expected a generated trace ID")
	}
	if !sent.EnqueuedAt.Equal(fixed) {
		t.Errorf("expected enqueued_at %v, got %v", fixed, sent.EnqueuedAt)
	}

	attr, ok := fake.sendCalls[0].MessageAttributes[attrTraceID]
	if !ok {
		t.Fatal("expected the trace_id message attribute")
	}
	if aws.ToString(attr.StringValue) != sent.TraceID {
		t.Error("expected the trace_id attribute to match the body")
	}
}

func TestAdapter_SendPreservesExistingTraceID(t *testing.T) {
	fake := newFakeSQS()
	a := newTestAdapter(t, fake, nil)

	if err := a.Send(context.Background(), types.JobMessage{TraceID: "trace-keep"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	var sent types.JobMessage
	if err := json.Unmarshal([]byte(aws.ToString(fake.sendCalls[0].MessageBody)), &sent); err != nil {
		t.Fatalf("unmarshaling sent body: %v", err)
	}
	if sent.TraceID != "trace-keep" {
		t.Errorf("expected the caller's trace ID to survive, got %q", sent.TraceID)
	}
}

func TestAdapter_SendFailureMapsToUpstreamError(t *testing.T) {
	fake := newFakeSQS()
	fake.sendErr = errors.New("service unavailable")
	a := newTestAdapter(t, fake, nil)

	err := a.Send(context.Background(), types.JobMessage{JobID: "job-4"})

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamQueue {
		t.Errorf("expected code %q, got %v", types.ErrCodeUpstreamQueue, err)
	}
}

func TestAdapter_LargePayloadIsCompressed(t *testing.T) {
	fake := newFakeSQS()
	a := newTestAdapter(t, fake, nil)

	big := strings.Repeat("sensor-reading ", 4096)
	msg := types.JobMessage{
		JobID:   "job-big",
		Payload: map[string]interface{}{"blob": big},
	}

	if err := a.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	call := fake.sendCalls[0]
	attr, ok := call.MessageAttributes[encodingAttribute]
	if !ok {
		t.Fatal("expected the content_encoding attribute on a large payload")
	}
	if aws.ToString(attr.StringValue) != encodingZstd {
		t.Errorf("expected encoding %q, got %q", encodingZstd, aws.ToString(attr.StringValue))
	}

	body := aws.ToString(call.MessageBody)
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		t.Fatalf("expected a base64 body, got decode error: %v", err)
	}
	if len(raw) >= len(big) {
		t.Errorf("expected compression to shrink the body, %d >= %d", len(raw), len(big))
	}

	// And the round trip through Receive transparently decompresses.
	got, err := a.Receive(context.Background(), 1)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 received message, got %d", len(got))
	}
	if got[0].Message.Payload["blob"] != big {
		t.Error("expected the decompressed payload to match the original")
	}
}

func TestAdapter_SmallPayloadIsNotCompressed(t *testing.T) {
	fake := newFakeSQS()
	a := newTestAdapter(t, fake, nil)

	if err := a.Send(context.Background(), types.JobMessage{JobID: "job-small"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	call := fake.sendCalls[0]
	if _, ok := call.MessageAttributes[encodingAttribute]; ok {
		t.Error("expected no encoding attribute on a small payload")
	}

	var sent types.JobMessage
	if err := json.Unmarshal([]byte(aws.ToString(call.MessageBody)), &sent); err != nil {
		t.Errorf("expected a plain JSON body: %v", err)
	}
}

func TestAdapter_ReceiveDrainsHigherBandFirst(t *testing.T) {
	fake := newFakeSQS()
	a := newTestAdapter(t, fake, StrictPriorityHandler{})

	ctx := context.Background()
	if err := a.Send(ctx, types.JobMessage{JobID: "low-1", Priority: types.PriorityLow}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if err := a.Send(ctx, types.JobMessage{JobID: "high-1", Priority: types.PriorityHigh}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	got, err := a.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message from the first non-empty band, got %d", len(got))
	}
	if got[0].Message.JobID != "high-1" {
		t.Errorf("expected the high band message first, got %q", got[0].Message.JobID)
	}
}

func TestAdapter_ReceiveFIFOWithinBand(t *testing.T) {
	fake := newFakeSQS()
	a := newTestAdapter(t, fake, nil)

	ctx := context.Background()
	for _, id := range []string{"first", "second", "third"} {
		if err := a.Send(ctx, types.JobMessage{JobID: id}); err != nil {
			t.Fatalf("Send returned error: %v", err)
		}
	}

	got, err := a.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Message.JobID != want {
			t.Errorf("position %d: expected %q, got %q", i, want, got[i].Message.JobID)
		}
	}
}

func TestAdapter_ReceiveEmptyBandsReturnsNil(t *testing.T) {
	fake := newFakeSQS()
	a := newTestAdapter(t, fake, nil)

	got, err := a.Receive(context.Background(), 5)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for empty bands, got %v", got)
	}
}

func TestAdapter_ReceiveClampsBatchSize(t *testing.T) {
	fake := newFakeSQS()
	a := newTestAdapter(t, fake, nil)

	if err := a.Send(context.Background(), types.JobMessage{JobID: "x"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if _, err := a.Receive(context.Background(), 500); err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}

	for _, call := range fake.receiveCalls {
		if call.MaxNumberOfMessages > 10 {
			t.Errorf("expected max messages clamped to 10, got %d", call.MaxNumberOfMessages)
		}
	}
}

func TestAdapter_ReceiveSkipsPoisonedBodies(t *testing.T) {
	fake := newFakeSQS()
	a := newTestAdapter(t, fake, nil)

	// Plant an undecodable body directly on the standard band.
	q := fake.queues["jobs-standard"]
	q.messages = append(q.messages, fakeMessage("not json at all", "poison-handle"))

	if err := a.Send(context.Background(), types.JobMessage{JobID: "good"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	got, err := a.Receive(context.Background(), 10)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the poisoned body to be skipped, got %d messages", len(got))
	}
	if got[0].Message.JobID != "good" {
		t.Errorf("expected the decodable message, got %q", got[0].Message.JobID)
	}
}

func TestAdapter_ReceiveFailureMapsToUpstreamError(t *testing.T) {
	fake := newFakeSQS()
	fake.receiveErr = errors.New("throttled")
	a := newTestAdapter(t, fake, nil)

	_, err := a.Receive(context.Background(), 1)

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamQueue {
		t.Errorf("expected code %q, got %v", types.ErrCodeUpstreamQueue, err)
	}
}

func TestAdapter_DeleteRemovesMessage(t *testing.T) {
	fake := newFakeSQS()
	a := newTestAdapter(t, fake, nil)

	ctx := context.Background()
	if err := a.Send(ctx, types.JobMessage{JobID: "done"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	got, err := a.Receive(ctx, 1)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if err := a.Delete(ctx, got[0]); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	again, err := a.Receive(ctx, 1)
	if err != nil {
		t.Fatalf("second Receive returned error: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected the deleted message to be gone, got %d", len(again))
	}
}

func TestAdapter_RoundRobinAvoidsStarvation(t *testing.T) {
	fake := newFakeSQS()
	a := newTestAdapter(t, fake, &RoundRobinHandler{})

	ctx := context.Background()
	if err := a.Send(ctx, types.JobMessage{JobID: "high-1", Priority: types.PriorityHigh}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if err := a.Send(ctx, types.JobMessage{JobID: "low-1", Priority: types.PriorityLow}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	// Over successive receives, the rotating start lets the low band win at
	// least once even while the high band stays populated.
	sawLow := false
	for i := 0; i < len(Bands); i++ {
		got, err := a.Receive(ctx, 1)
		if err != nil {
			t.Fatalf("Receive returned error: %v", err)
		}
		if len(got) > 0 && got[0].Message.Priority == types.PriorityLow {
			sawLow = true
		}
	}
	if !sawLow {
		t.Error("expected rotation to reach the low band within one full cycle")
	}
}
