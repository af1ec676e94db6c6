package transport

// Capabilities describes the features supported by a transport backend.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// SupportsVisibilityExtension indicates the backend can change the
	// invisibility window of an in-flight message. When false, nacks fall
	// back to the backend's fixed redelivery delay.
	SupportsVisibilityExtension bool

	// SupportsDeliveryCounting indicates the backend reports a delivery
	// attempt count with each received message. When false, Attempts is
	// always 1 and backoff curves degrade to their first step.
	SupportsDeliveryCounting bool

	// SupportsLongPolling indicates Receive can block server-side while
	// waiting for messages instead of busy-polling.
	SupportsLongPolling bool

	// SupportsFanOut indicates one published message can reach multiple
	// subscribed queues (topic semantics rather than point-to-point).
	SupportsFanOut bool

	// SupportsOrdering indicates the backend guarantees message ordering.
	SupportsOrdering bool

	// MaxVisibilityTimeout is the longest invisibility window the backend
	// accepts, in seconds (0 = unlimited/unknown).
	MaxVisibilityTimeout int64

	// MaxMessageSize is the maximum message size in bytes (0 = unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// SupportsAttemptAwareBackoff reports whether the backend can honour an
// attempt-based backoff curve end to end: it must both count deliveries and
// accept per-message visibility changes.
func (c Capabilities) SupportsAttemptAwareBackoff() bool {
	return c.SupportsDeliveryCounting && c.SupportsVisibilityExtension
}

// Predefined capability sets for the bundled transports.
var (
	// AWSCapabilities for the SNS/SQS transport.
	AWSCapabilities = Capabilities{
		Name:                        "aws",
		SupportsVisibilityExtension: true,
		SupportsDeliveryCounting:    true,
		SupportsLongPolling:         true,
		SupportsFanOut:              true,
		SupportsOrdering:            false,
		MaxVisibilityTimeout:        43200, // 12h SQS limit
		MaxMessageSize:              262144,
	}

	// JetStreamCapabilities for the NATS JetStream transport.
	JetStreamCapabilities = Capabilities{
		Name:                        "jetstream",
		SupportsVisibilityExtension: true, // via NakWithDelay
		SupportsDeliveryCounting:    true,
		SupportsLongPolling:         true,
		SupportsFanOut:              true,
		SupportsOrdering:            true,
		MaxMessageSize:              1048576,
	}

	// MemoryCapabilities for the in-process transport.
	MemoryCapabilities = Capabilities{
		Name:                        "memory",
		SupportsVisibilityExtension: true,
		SupportsDeliveryCounting:    true,
		SupportsLongPolling:         true,
		SupportsFanOut:              true,
		SupportsOrdering:            true,
	}
)
