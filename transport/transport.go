// Package transport defines the core interfaces and types for typebus
// transports. Each backend (aws, jetstream, memory) lives in its own
// sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"time"
)

// RawMessage is the transport-level envelope as received from a queue,
// prior to decoding. It is owned by the transport; the dispatch pipeline
// only holds a transient reference for the duration of one dispatch.
type RawMessage struct {
	// MessageID is the transport-assigned identifier of the message.
	MessageID string

	// Subject identifies the wire schema of the payload so the receiver
	// can pick a decoder without prior knowledge of the sender's type.
	Subject string

	// Body is the undecoded payload.
	Body []byte

	// ReceiptHandle is the opaque acknowledgement token for this delivery.
	// It is only valid until the message becomes visible again.
	ReceiptHandle string

	// Attempts is the 1-based delivery attempt count maintained by the
	// transport across redeliveries.
	Attempts int

	// Queue names the queue this message was received from.
	Queue string

	// ReceivedAt is when this delivery was handed to the consumer.
	ReceivedAt time.Time

	// Attributes carries transport-specific metadata headers.
	Attributes map[string]string
}

// Consumer is the receive/acknowledge surface of a single queue.
//
// Receive waits up to the supplied timeout for messages; an empty result is
// a normal poll outcome, not an error. Delete permanently removes a
// delivered message. ChangeVisibility adjusts the window before the message
// is redelivered to another consumer.
type Consumer interface {
	Queue() string
	Receive(ctx context.Context, maxCount int, wait time.Duration) ([]RawMessage, error)
	Delete(ctx context.Context, msg RawMessage) error
	ChangeVisibility(ctx context.Context, msg RawMessage, timeout time.Duration) error
}

// Publisher sends an encoded payload to a topic. The subject travels in the
// transport envelope so consumers can route the payload to a decoder.
type Publisher interface {
	Publish(ctx context.Context, topic, subject string, payload []byte, attributes map[string]string) error
}

// ConsumerOpener creates consumers for named queues.
type ConsumerOpener interface {
	OpenConsumer(ctx context.Context, queue string) (Consumer, error)
}

// Transport combines the publisher and consumer factory produced by a builder.
type Transport struct {
	Publisher Publisher
	Consumers ConsumerOpener
}

// Builder is the function signature for creating a transport from config.
// Each transport package should provide a Builder that can be registered.
type Builder func(ctx context.Context, cfg Config, logger Logger) (Transport, error)

// Config provides the configuration values needed by transports. The
// interface allows transports to access only the keys they need without
// depending on the full config package.
type Config interface {
	// GetQueueSystem returns the transport type name.
	GetQueueSystem() string

	// AWS (SNS/SQS)
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string

	// NATS JetStream
	GetNATSURL() string

	// GetVisibilityTimeout returns the default invisibility window applied
	// to received messages by transports that manage it client-side.
	GetVisibilityTimeout() time.Duration
}

// Logger is the minimal logging surface transports need. It is satisfied by
// the bus's ServiceLogger through a thin adapter.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Error(msg string, err error, fields map[string]any)
}
