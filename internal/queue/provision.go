package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"pulseline/internal/config"
	"pulseline/internal/types"
)

const (
	// DefaultMaxReceiveCount is applied when a dead-letter queue is
	// configured without an explicit max receive count.
	DefaultMaxReceiveCount = 10

	// DefaultResolveTimeout bounds the overall wait for the dead-letter
	// queue's ARN to become resolvable.
	DefaultResolveTimeout = 120 * time.Second

	// DefaultPollInterval is the pause between ARN resolution attempts.
	DefaultPollInterval = time.Second
)

// RedrivePolicy is the queue attribute directing messages that exceed the
// receive limit to the dead-letter queue. Serialized as JSON into the
// primary queue's attributes.
type RedrivePolicy struct {
	MaxReceiveCount     int    `json:"maxReceiveCount"`
	DeadLetterTargetArn string `json:"deadLetterTargetArn"`
}

// ProvisionConfig is the consumed-once input for constructing one managed
// queue adapter.
type ProvisionConfig struct {
	// Name of the queue instance, used in logs and errors.
	Name string
	// PriorityHandlerRef selects the dequeue-ordering strategy. Empty means
	// the standard strict handler.
	PriorityHandlerRef string
	// Client is required: connection parameters and the physical queue name
	// prefix.
	Client *config.QueueClientSpec
	// Attributes are applied to the primary band queues on creation.
	Attributes map[string]string
	// DeadLetterQueueName, when set, is guaranteed to exist and be
	// addressable before the adapter is returned.
	DeadLetterQueueName string
	// MaxReceiveCount is only valid together with DeadLetterQueueName.
	// Zero means unset.
	MaxReceiveCount int
}

// ProvisionConfigFromSpec maps a decoded topology entry to a
// ProvisionConfig.
func ProvisionConfigFromSpec(name string, spec config.QueueSpec) ProvisionConfig {
	return ProvisionConfig{
		Name:                name,
		PriorityHandlerRef:  spec.PriorityHandler,
		Client:              spec.Client,
		Attributes:          spec.Attributes,
		DeadLetterQueueName: spec.DeadLetterQueue,
		MaxReceiveCount:     spec.MaxReceiveCount,
	}
}

// ProvisionerOption is a functional option for configuring a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithResolveTimeout overrides the overall ARN resolution timeout.
func WithResolveTimeout(d time.Duration) ProvisionerOption {
	return func(p *Provisioner) { p.resolveTimeout = d }
}

// WithPollInterval overrides the pause between ARN resolution attempts.
func WithPollInterval(d time.Duration) ProvisionerOption {
	return func(p *Provisioner) { p.pollInterval = d }
}

// Provisioner performs the one-time blocking bootstrap of a managed queue
// instance: it guarantees the dead-letter queue exists and is addressable,
// attaches the redrive policy, creates the primary band queues, and returns
// a ready Adapter.
//
// Provisioning is idempotent. Creation is create-if-absent, so concurrent
// bootstrap paths racing on the same dead-letter queue name cannot create
// duplicates; SQS CreateQueue with identical parameters is itself
// idempotent. Idempotent creation, not locking, is the concurrency-safety
// mechanism here.
type Provisioner struct {
	api      SQSAPI
	handlers *HandlerRegistry
	logger   types.Logger

	resolveTimeout time.Duration
	pollInterval   time.Duration
}

// NewProvisioner creates a Provisioner bound to the given SQS client and
// priority-handler registry.
func NewProvisioner(api SQSAPI, handlers *HandlerRegistry, logger types.Logger, opts ...ProvisionerOption) *Provisioner {
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	p := &Provisioner{
		api:            api,
		handlers:       handlers,
		logger:         logger,
		resolveTimeout: DefaultResolveTimeout,
		pollInterval:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision validates cfg, guarantees the dead-letter queue and redrive
// policy when configured, creates the primary band queues, and returns the
// bound Adapter.
//
// All validation failures are configuration errors raised before any
// network call. The ARN resolution loop tolerates transient lookup errors
// and is bounded by the resolve timeout; expiry surfaces as
// provision_timeout.
func (p *Provisioner) Provision(ctx context.Context, cfg ProvisionConfig) (*Adapter, error) {
	// Step 1: resolve the priority handler (unresolvable ref fails fast).
	handler, err := p.handlers.Resolve(cfg.PriorityHandlerRef)
	if err != nil {
		return nil, err
	}

	// Step 2: client config is required.
	if cfg.Client == nil || cfg.Client.QueuePrefix == "" {
		return nil, types.NewAppError(types.ErrCodeConfigMissingField,
			fmt.Sprintf("queue %q: client config with queue_prefix is required", cfg.Name), nil)
	}

	// Step 3: a max receive count is meaningless without a dead-letter
	// queue to redrive into.
	if cfg.MaxReceiveCount < 0 {
		return nil, types.NewAppError(types.ErrCodeConfigInvalidThreshold,
			fmt.Sprintf("queue %q: max receive count must not be negative, got %d", cfg.Name, cfg.MaxReceiveCount), nil)
	}
	if cfg.MaxReceiveCount > 0 && cfg.DeadLetterQueueName == "" {
		return nil, types.NewAppError(types.ErrCodeConfigInvalidCombo,
			fmt.Sprintf("queue %q: dead-letter queue name required when max receive count is specified", cfg.Name), nil)
	}

	attributes := make(map[string]string, len(cfg.Attributes)+1)
	for k, v := range cfg.Attributes {
		attributes[k] = v
	}

	// Step 4: guarantee the dead-letter queue and merge the redrive policy.
	if cfg.DeadLetterQueueName != "" {
		if err := p.ensureQueue(ctx, cfg.DeadLetterQueueName, nil); err != nil {
			return nil, err
		}

		arn, err := p.resolveARN(ctx, cfg.DeadLetterQueueName)
		if err != nil {
			return nil, err
		}

		maxReceive := cfg.MaxReceiveCount
		if maxReceive == 0 {
			maxReceive = DefaultMaxReceiveCount
		}
		policy, err := json.Marshal(RedrivePolicy{
			MaxReceiveCount:     maxReceive,
			DeadLetterTargetArn: arn,
		})
		if err != nil {
			return nil, fmt.Errorf("queue %q: marshaling redrive policy: %w", cfg.Name, err)
		}
		attributes[string(sqsTypes.QueueAttributeNameRedrivePolicy)] = string(policy)

		p.logger.Info("dead-letter queue provisioned",
			"queue", cfg.Name,
			"dlq", cfg.DeadLetterQueueName,
			"dlq_arn", arn,
			"max_receive_count", maxReceive,
		)
	}

	// Step 5: create the primary band queues and bind the adapter.
	bandURLs := make(map[types.Priority]string, len(Bands))
	for _, band := range Bands {
		queueName := fmt.Sprintf("%s-%s", cfg.Client.QueuePrefix, band)
		if err := p.ensureQueue(ctx, queueName, attributes); err != nil {
			return nil, err
		}
		url, err := p.queueURL(ctx, queueName)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeProvisionCreateFailed,
				fmt.Sprintf("queue %q: resolving URL for band queue %s", cfg.Name, queueName), err)
		}
		bandURLs[band] = url
	}

	p.logger.Info("queue instance provisioned",
		"queue", cfg.Name,
		"prefix", cfg.Client.QueuePrefix,
		"priority_handler", handler.Name(),
		"dead_letter", cfg.DeadLetterQueueName != "",
	)

	return NewAdapter(cfg.Name, p.api, bandURLs, handler, p.logger), nil
}

// ensureQueue creates the named queue if no existing queue matches the name
// (create-if-absent). Attributes are applied on creation only; an existing
// queue's attributes are left untouched.
func (p *Provisioner) ensureQueue(ctx context.Context, name string, attributes map[string]string) error {
	out, err := p.api.ListQueues(ctx, &sqs.ListQueuesInput{
		QueueNamePrefix: aws.String(name),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeProvisionListFailed,
			fmt.Sprintf("listing queues with prefix %q", name), err)
	}

	// Prefix listing can return longer names; match on the exact final path
	// segment.
	for _, url := range out.QueueUrls {
		if strings.HasSuffix(url, "/"+name) {
			return nil
		}
	}

	input := &sqs.CreateQueueInput{
		QueueName: aws.String(name),
	}
	if len(attributes) > 0 {
		input.Attributes = attributes
	}
	if _, err := p.api.CreateQueue(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeProvisionCreateFailed,
			fmt.Sprintf("creating queue %q", name), err)
	}

	p.logger.Info("queue created", "name", name)
	return nil
}

// resolveARN polls for the queue's ARN at the configured interval,
// tolerating transient lookup errors, bounded by the overall resolve
// timeout. The created queue is eventually consistent: it can take a while
// before GetQueueUrl/GetQueueAttributes see it.
func (p *Provisioner) resolveARN(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.resolveTimeout)
	defer cancel()

	var lastErr error
	for {
		arn, err := p.queueARN(ctx, name)
		if err == nil {
			return arn, nil
		}
		// Remember the error for diagnostics, then keep polling.
		lastErr = err

		select {
		case <-ctx.Done():
			return "", types.NewAppError(types.ErrCodeProvisionTimeout,
				fmt.Sprintf("dead-letter queue %q ARN not resolved within %s", name, p.resolveTimeout), lastErr)
		case <-time.After(p.pollInterval):
		}
	}
}

// queueARN performs one URL+attributes lookup for the named queue.
func (p *Provisioner) queueARN(ctx context.Context, name string) (string, error) {
	url, err := p.queueURL(ctx, name)
	if err != nil {
		return "", err
	}

	out, err := p.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: []sqsTypes.QueueAttributeName{sqsTypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", fmt.Errorf("getting attributes for queue %q: %w", name, err)
	}

	arn, ok := out.Attributes[string(sqsTypes.QueueAttributeNameQueueArn)]
	if !ok || arn == "" {
		return "", fmt.Errorf("queue %q has no ARN attribute yet", name)
	}
	return arn, nil
}

// queueURL resolves a queue name to its URL.
func (p *Provisioner) queueURL(ctx context.Context, name string) (string, error) {
	out, err := p.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("getting URL for queue %q: %w", name, err)
	}
	if out.QueueUrl == nil || *out.QueueUrl == "" {
		return "", fmt.Errorf("queue %q resolved to an empty URL", name)
	}
	return *out.QueueUrl, nil
}
