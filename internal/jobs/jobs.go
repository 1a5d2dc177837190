// Package jobs implements the leaf Interruptors of the scheduler tree:
// heartbeat logs, queue drains, and outbound webhook pings. It also provides
// the Builder the scheduler uses to construct leaves from topology specs,
// keeping the scheduler core free of queue and HTTP concerns.
package jobs

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"pulseline/internal/config"
	"pulseline/internal/external"
	"pulseline/internal/queue"
	"pulseline/internal/scheduler"
	"pulseline/internal/types"
)

// defaultDrainBatch is the receive batch size when a queue_drain job does
// not configure one.
const defaultDrainBatch = 10

// signatureHeader carries the HMAC signature of an outbound webhook body.
// Format: "t=<unix>,v1=<hex>", where v1 is the HMAC-SHA256 of
// "{unix}.{body}" keyed by the signing secret.
const signatureHeader = "X-Pulseline-Signature"

// Builder constructs leaf jobs from their topology specs. It implements
// scheduler.JobBuilder.
type Builder struct {
	adapters map[string]*queue.Adapter
	webhook  *external.BaseClient
	secret   types.SecretString
	logger   types.Logger
}

// Compile-time assertion that Builder implements scheduler.JobBuilder.
var _ scheduler.JobBuilder = (*Builder)(nil)

// NewBuilder creates a Builder over the provisioned queue adapters and the
// shared webhook client. Either may be nil if the topology declares no jobs
// of the corresponding kind. An empty secret disables payload signing on
// webhook jobs.
func NewBuilder(adapters map[string]*queue.Adapter, webhook *external.BaseClient, secret types.SecretString, logger types.Logger) *Builder {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Builder{
		adapters: adapters,
		webhook:  webhook,
		secret:   secret,
		logger:   logger,
	}
}

// Build validates the spec for its kind and returns the leaf Interruptor.
func (b *Builder) Build(name string, spec config.SchedulerSpec) (scheduler.Interruptor, error) {
	switch spec.Kind {
	case config.KindLogJob:
		return &LogJob{
			name:    name,
			message: spec.Message,
			logger:  b.logger,
		}, nil

	case config.KindQueueDrainJob:
		if spec.Queue == "" {
			return nil, types.NewAppError(types.ErrCodeConfigMissingField,
				fmt.Sprintf("queue_drain job %q: queue reference is required", name), nil)
		}
		adapter, ok := b.adapters[spec.Queue]
		if !ok {
			return nil, types.NewAppError(types.ErrCodeConfigUnresolvableRef,
				fmt.Sprintf("queue_drain job %q: no provisioned queue instance %q", name, spec.Queue), nil)
		}
		batch := spec.MaxMessages
		if batch <= 0 {
			batch = defaultDrainBatch
		}
		return &DrainJob{
			name:    name,
			adapter: adapter,
			batch:   int32(batch),
			logger:  b.logger,
		}, nil

	case config.KindWebhookJob:
		if spec.URL == "" {
			return nil, types.NewAppError(types.ErrCodeConfigMissingField,
				fmt.Sprintf("webhook job %q: url is required", name), nil)
		}
		if b.webhook == nil {
			return nil, types.NewAppError(types.ErrCodeConfigMissingField,
				fmt.Sprintf("webhook job %q: no webhook client configured", name), nil)
		}
		event := spec.Event
		if event == "" {
			event = name
		}
		return &WebhookJob{
			name:   name,
			url:    spec.URL,
			event:  event,
			client: b.webhook,
			secret: b.secret,
			now:    func() time.Time { return time.Now().UTC() },
		}, nil

	default:
		return nil, types.NewAppError(types.ErrCodeConfigInvalidKind,
			fmt.Sprintf("job %q: unknown kind %q", name, spec.Kind), nil)
	}
}

// LogJob writes one structured heartbeat line per trigger. Useful as a
// liveness signal and as the simplest possible leaf when wiring a new tree.
type LogJob struct {
	name    string
	message string
	logger  types.Logger
}

// Trigger implements scheduler.Interruptor.
func (j *LogJob) Trigger(_ context.Context) error {
	j.logger.Info("heartbeat", "job", j.name, "message", j.message)
	return nil
}

// DrainJob receives one batch from its queue adapter per trigger, logs each
// message, and deletes the ones it handled. Messages that fail to delete
// stay visible and redrive through the normal receive-limit path.
type DrainJob struct {
	name    string
	adapter *queue.Adapter
	batch   int32
	logger  types.Logger
}

// Trigger implements scheduler.Interruptor.
func (j *DrainJob) Trigger(ctx context.Context) error {
	received, err := j.adapter.Receive(ctx, j.batch)
	if err != nil {
		return err
	}
	if len(received) == 0 {
		return nil
	}

	for _, rcv := range received {
		j.logger.Info("job message drained",
			"job", j.name,
			"queue", j.adapter.Name(),
			"job_id", rcv.Message.JobID,
			"kind", rcv.Message.Kind,
			"priority", string(rcv.Message.Priority),
			"trace_id", rcv.Message.TraceID,
			"queue_lag_ms", time.Since(rcv.Message.EnqueuedAt).Milliseconds(),
		)
		if err := j.adapter.Delete(ctx, rcv); err != nil {
			j.logger.Warn("failed to delete drained message",
				"job", j.name,
				"job_id", rcv.Message.JobID,
				"error", err.Error(),
			)
		}
	}
	return nil
}

// webhookEvent is the JSON body a WebhookJob posts on every trigger.
type webhookEvent struct {
	Event   string    `json:"event"`
	Source  string    `json:"source"`
	TraceID string    `json:"trace_id"`
	FiredAt time.Time `json:"fired_at"`
}

// WebhookJob posts a trigger event to an external URL through the resilient
// BaseClient (circuit breaker plus retries). When a signing secret is
// configured, each request carries an HMAC signature header the receiver
// can verify the body against.
type WebhookJob struct {
	name   string
	url    string
	event  string
	client *external.BaseClient
	secret types.SecretString
	now    func() time.Time
}

// signPayload computes the signature header value for body at the given
// instant: HMAC-SHA256 over "{unix}.{body}", hex-encoded.
func signPayload(body []byte, secret string, now time.Time) string {
	ts := now.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// Trigger implements scheduler.Interruptor.
func (j *WebhookJob) Trigger(ctx context.Context) error {
	body, err := json.Marshal(webhookEvent{
		Event:   j.event,
		Source:  j.name,
		TraceID: uuid.New().String(),
		FiredAt: j.now(),
	})
	if err != nil {
		return fmt.Errorf("webhook job %q: marshaling event: %w", j.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook job %q: building request: %w", j.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if j.secret.Unmask() != "" {
		req.Header.Set(signatureHeader, signPayload(body, j.secret.Unmask(), j.now()))
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Drain so the transport can reuse the connection.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return types.NewAppError(types.ErrCodeUpstreamWebhook,
			fmt.Sprintf("webhook job %q: endpoint returned %d", j.name, resp.StatusCode), nil)
	}
	return nil
}
