// Package queue provides the managed-queue adapter for the pulseline
// platform: a provisioner that guarantees a dead-letter queue and redrive
// policy exist before handing out a priority-aware SQS client.
package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// ProvisionAPI is the subset of the SQS client the provisioner needs. The
// retry/timeout logic is vendor-agnostic and tested against a fake
// implementing this interface. Production code uses *sqs.Client from
// aws-sdk-go-v2.
type ProvisionAPI interface {
	ListQueues(ctx context.Context, params *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// MessageAPI is the subset of the SQS client the adapter uses for message
// flow.
type MessageAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSAPI is the full client surface required to provision and use one
// managed queue instance. *sqs.Client satisfies it.
type SQSAPI interface {
	ProvisionAPI
	MessageAPI
}
