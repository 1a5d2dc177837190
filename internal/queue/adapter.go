package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"pulseline/internal/types"
)

const (
	// compressThreshold is the serialized-body size above which payloads
	// are zstd-compressed before sending. SQS bills per 64KiB chunk and
	// caps bodies at 256KiB; compressing large payloads buys headroom.
	compressThreshold = 16 * 1024

	// encodingAttribute marks a message body as compressed. Bodies without
	// the attribute are plain JSON.
	encodingAttribute = "content_encoding"
	encodingZstd      = "zstd"

	// attrTraceID carries the dispatch trace ID alongside the body so
	// operators can correlate without parsing payloads.
	attrTraceID = "trace_id"
)

// nowUTC is a package-level clock hook for tests.
var nowUTC = func() time.Time { return time.Now().UTC() }

// Received is one message taken off a band queue. The receipt handle and
// band URL are needed to delete it after processing.
type Received struct {
	Message       types.JobMessage
	ReceiptHandle string
	BandURL       string
}

// Adapter is the priority-aware queue client handed out by the Provisioner.
// It is long-lived and shared by all callers needing its queue instance.
//
// Send routes each message to its priority band's physical queue. Receive
// polls the bands in the order chosen by the configured PriorityHandler and
// returns the first non-empty batch, preserving FIFO within a band.
type Adapter struct {
	name    string
	api     MessageAPI
	bands   map[types.Priority]string
	handler PriorityHandler
	logger  types.Logger

	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderPool sync.Pool
}

// NewAdapter creates an Adapter over the given band queue URLs. Callers
// normally obtain adapters from Provisioner.Provision rather than directly.
func NewAdapter(name string, api MessageAPI, bands map[types.Priority]string, handler PriorityHandler, logger types.Logger) *Adapter {
	if handler == nil {
		handler = StrictPriorityHandler{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Adapter{
		name:    name,
		api:     api,
		bands:   bands,
		handler: handler,
		logger:  logger,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					// Never fails with nil input and default options.
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}
}

// Name returns the queue instance name the adapter was provisioned under.
func (a *Adapter) Name() string { return a.name }

// BandURLs returns a copy of the physical queue URL per priority band.
func (a *Adapter) BandURLs() map[types.Priority]string {
	urls := make(map[types.Priority]string, len(a.bands))
	for band, url := range a.bands {
		urls[band] = url
	}
	return urls
}

// Send serializes msg and dispatches it to the queue for its priority band.
// An unset priority defaults to the standard band. Messages missing a trace
// ID or enqueue timestamp get them stamped here.
func (a *Adapter) Send(ctx context.Context, msg types.JobMessage) error {
	if msg.Priority == "" {
		msg.Priority = types.PriorityStandard
	}
	if !msg.Priority.Valid() {
		return types.NewAppError(types.ErrCodeConfigInvalidCombo,
			fmt.Sprintf("queue %q: unknown priority band %q", a.name, msg.Priority), nil)
	}
	url, ok := a.bands[msg.Priority]
	if !ok {
		return types.NewAppError(types.ErrCodeConfigUnresolvableRef,
			fmt.Sprintf("queue %q: no band queue provisioned for priority %q", a.name, msg.Priority), nil)
	}

	if msg.TraceID == "" {
		msg.TraceID = uuid.New().String()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = nowUTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue %q: failed to marshal job message: %w", a.name, err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl: aws.String(url),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			attrTraceID: {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.TraceID),
			},
		},
	}

	if len(body) > compressThreshold {
		compressed := a.compress(body)
		input.MessageBody = aws.String(base64.StdEncoding.EncodeToString(compressed))
		input.MessageAttributes[encodingAttribute] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(encodingZstd),
		}
	} else {
		input.MessageBody = aws.String(string(body))
	}

	if _, err := a.api.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("queue %q: failed to send message to %s band", a.name, msg.Priority),
			err)
	}

	a.logger.Info("job message sent",
		"queue", a.name,
		"priority", string(msg.Priority),
		"job_id", msg.JobID,
		"kind", msg.Kind,
		"trace_id", msg.TraceID,
	)
	return nil
}

// Receive polls the priority bands in handler order and returns the first
// non-empty batch, at most max messages. An empty result means every band
// was empty. Long polling is deliberately not used: Receive sits under a
// scheduler tick and must return promptly.
func (a *Adapter) Receive(ctx context.Context, max int32) ([]Received, error) {
	if max <= 0 {
		max = 1
	}
	if max > 10 {
		max = 10 // SQS per-call limit
	}

	for _, band := range a.handler.Order(Bands) {
		url, ok := a.bands[band]
		if !ok {
			continue
		}

		out, err := a.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(url),
			MaxNumberOfMessages:   max,
			MessageAttributeNames: []string{encodingAttribute, attrTraceID},
		})
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamQueue,
				fmt.Sprintf("queue %q: failed to receive from %s band", a.name, band), err)
		}
		if len(out.Messages) == 0 {
			continue
		}

		received := make([]Received, 0, len(out.Messages))
		for _, m := range out.Messages {
			msg, err := a.decode(m)
			if err != nil {
				// A poisoned body stays on the queue and redrives to the
				// DLQ once it exceeds the receive limit.
				a.logger.Error("failed to decode job message",
					"queue", a.name,
					"band", string(band),
					"error", err.Error(),
				)
				continue
			}
			received = append(received, Received{
				Message:       msg,
				ReceiptHandle: aws.ToString(m.ReceiptHandle),
				BandURL:       url,
			})
		}
		if len(received) > 0 {
			return received, nil
		}
	}

	return nil, nil
}

// Delete removes a processed message from its band queue.
func (a *Adapter) Delete(ctx context.Context, rcv Received) error {
	_, err := a.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(rcv.BandURL),
		ReceiptHandle: aws.String(rcv.ReceiptHandle),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("queue %q: failed to delete message", a.name), err)
	}
	return nil
}

// decode unmarshals a raw SQS message, transparently decompressing bodies
// flagged with the zstd encoding attribute.
func (a *Adapter) decode(m sqsTypes.Message) (types.JobMessage, error) {
	var msg types.JobMessage
	body := []byte(aws.ToString(m.Body))

	if attr, ok := m.MessageAttributes[encodingAttribute]; ok && aws.ToString(attr.StringValue) == encodingZstd {
		raw, err := base64.StdEncoding.DecodeString(string(body))
		if err != nil {
			return msg, fmt.Errorf("decoding compressed body: %w", err)
		}
		body, err = a.decompress(raw)
		if err != nil {
			return msg, err
		}
	}

	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("unmarshaling job message: %w", err)
	}
	return msg, nil
}

// compress zstd-compresses data with a lazily created shared encoder.
func (a *Adapter) compress(data []byte) []byte {
	a.encoderOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			// Never fails with nil writer and default options.
			panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
		}
		a.encoder = enc
	})
	return a.encoder.EncodeAll(data, nil)
}

// decompress zstd-decompresses data using pooled decoders.
func (a *Adapter) decompress(data []byte) ([]byte, error) {
	decoder := a.decoderPool.Get().(*zstd.Decoder)
	defer a.decoderPool.Put(decoder)

	result, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return result, nil
}
