package config

import (
	"errors"
	"fmt"
	"time"
)

// Config groups the settings required to assemble a Bus. Each transport
// only uses the keys that are relevant to it.
type Config struct {
	// QueueSystem selects the backing message infrastructure. Supported
	// values: "aws" (SNS/SQS), "jetstream", or "memory".
	QueueSystem string

	// AWS (SNS/SQS) configuration.
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	// AWSEndpoint optionally points to a custom endpoint (for example,
	// LocalStack in local development).
	AWSEndpoint string

	// NATS JetStream configuration.
	NATSURL string

	// Receive-loop tuning. Zero values fall back to library defaults.
	// ReceiveBatchSize is the maximum number of messages fetched per poll.
	ReceiveBatchSize int
	// ReceiveWaitTime is how long one poll waits for messages before
	// returning an empty batch.
	ReceiveWaitTime time.Duration
	// ConcurrencyLimit bounds the number of in-flight dispatches per queue.
	ConcurrencyLimit int
	// VisibilityTimeout is the default invisibility window for transports
	// that manage it client-side.
	VisibilityTimeout time.Duration

	// Backoff tuning for nacked messages. Zero values fall back to
	// library defaults.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	// MaxAttempts caps redeliveries before a message is forwarded to the
	// ErrorQueue (0 = retry forever).
	MaxAttempts int
	// ErrorQueue receives messages that exhaust MaxAttempts. Empty
	// disables forwarding; exhausted messages keep redelivering.
	ErrorQueue string

	// NackUnhandled makes messages with no registered handler fail the
	// dispatch instead of being acknowledged. The default (false) treats
	// an unhandled message as processed.
	NackUnhandled bool

	// Metrics configuration.
	MetricsEnabled bool
	// MetricsPort is the port where Prometheus metrics will be exposed.
	MetricsPort int
}

// Getter methods to implement the transport.Config interface.
func (c *Config) GetQueueSystem() string         { return c.QueueSystem }
func (c *Config) GetAWSRegion() string           { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string        { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string      { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string  { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string         { return c.AWSEndpoint }
func (c *Config) GetNATSURL() string             { return c.NATSURL }
func (c *Config) GetVisibilityTimeout() time.Duration { return c.VisibilityTimeout }

func (c Config) String() string {
	// Create a copy to avoid modifying the original
	copy := c
	if copy.AWSSecretAccessKey != "" {
		copy.AWSSecretAccessKey = "***REDACTED***"
	}
	if copy.AWSAccessKeyID != "" {
		copy.AWSAccessKeyID = "***REDACTED***"
	}
	// Use a type alias to avoid infinite recursion when printing
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(copy))
}

// Validate checks that the configuration has all required fields for the
// selected transport. Validation of QueueSystem values is lenient to allow
// custom transport builders.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateTransport()...)
	errs = append(errs, c.validateReceive()...)
	errs = append(errs, c.validateRetry()...)
	errs = append(errs, c.validatePorts()...)

	return errors.Join(errs...)
}

func (c *Config) validateTransport() []error {
	switch c.QueueSystem {
	case "aws":
		if c.AWSRegion == "" {
			return []error{errors.New("aws: region is required")}
		}
	case "jetstream", "memory", "":
		// no required config
	}
	return nil
}

func (c *Config) validateReceive() []error {
	var errs []error
	if c.ReceiveBatchSize < 0 {
		errs = append(errs, errors.New("receive: batch size cannot be negative"))
	}
	if c.ReceiveWaitTime < 0 {
		errs = append(errs, errors.New("receive: wait time cannot be negative"))
	}
	if c.ConcurrencyLimit < 0 {
		errs = append(errs, errors.New("receive: concurrency limit cannot be negative"))
	}
	if c.VisibilityTimeout < 0 {
		errs = append(errs, errors.New("receive: visibility timeout cannot be negative"))
	}
	return errs
}

func (c *Config) validateRetry() []error {
	var errs []error
	if c.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry: max attempts cannot be negative"))
	}
	if c.RetryInitialInterval < 0 {
		errs = append(errs, errors.New("retry: initial interval cannot be negative"))
	}
	if c.RetryMaxInterval < 0 {
		errs = append(errs, errors.New("retry: max interval cannot be negative"))
	}
	if c.RetryMaxInterval > 0 && c.RetryInitialInterval > 0 && c.RetryInitialInterval > c.RetryMaxInterval {
		errs = append(errs, errors.New("retry: initial interval cannot exceed max interval"))
	}
	return errs
}

func (c *Config) validatePorts() []error {
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return []error{fmt.Errorf("metrics: invalid port %d", c.MetricsPort)}
	}
	return nil
}

// ValidateConfig is a convenience function to validate a config pointer.
// Returns nil if the config is valid.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}
