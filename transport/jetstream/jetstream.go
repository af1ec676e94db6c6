// Package jetstream provides a NATS JetStream transport for typebus. Each
// queue maps to a stream with a durable pull consumer: Fetch backs Receive,
// Ack backs Delete, and NakWithDelay backs ChangeVisibility. The delivery
// attempt count comes from the consumer's NumDelivered metadata.
//
// Stream provisioning is out of scope; the streams named after the
// subscribed queues are expected to exist.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/queueworks/typebus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "jetstream"

// SubjectHeader carries the typebus subject in the NATS message header.
const SubjectHeader = "Typebus-Subject"

// ConnectFactory allows overriding the NATS connection creation for testing.
var ConnectFactory = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.JetStreamCapabilities)
}

// Build creates a new JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger transport.Logger) (transport.Transport, error) {
	url := nats.DefaultURL
	if cfg != nil && cfg.GetNATSURL() != "" {
		url = cfg.GetNATSURL()
	}

	nc, err := ConnectFactory(url,
		nats.Name("typebus"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("jetstream: connect to %s failed: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return transport.Transport{}, fmt.Errorf("jetstream: context creation failed: %w", err)
	}

	logger.Info("Connected to NATS JetStream", map[string]any{"url": url})

	return transport.Transport{
		Publisher: &Publisher{js: js},
		Consumers: &consumerOpener{js: js, logger: logger},
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.JetStreamCapabilities
}

// Publisher publishes typebus messages onto JetStream subjects.
type Publisher struct {
	js nats.JetStreamContext
}

// Publish sends the payload to the topic subject with the typebus subject
// and any extra attributes carried in the message header.
func (p *Publisher) Publish(ctx context.Context, topic, subject string, payload []byte, attributes map[string]string) error {
	msg := &nats.Msg{
		Subject: topic,
		Data:    payload,
		Header:  nats.Header{},
	}
	msg.Header.Set(SubjectHeader, subject)
	for k, v := range attributes {
		msg.Header.Set(k, v)
	}

	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("jetstream: publish to %s failed: %w", topic, err)
	}
	return nil
}

type consumerOpener struct {
	js     nats.JetStreamContext
	logger transport.Logger
}

// OpenConsumer binds a durable pull consumer to the stream named after the
// queue, creating the durable if it does not exist yet.
func (o *consumerOpener) OpenConsumer(ctx context.Context, queue string) (transport.Consumer, error) {
	sub, err := o.js.PullSubscribe("", durableName(queue),
		nats.BindStream(queue),
		nats.ManualAck(),
	)
	if err != nil {
		return nil, fmt.Errorf("jetstream: pull subscribe on stream %q failed: %w", queue, err)
	}

	return &Consumer{
		queue:   queue,
		sub:     sub,
		pending: make(map[string]*nats.Msg),
	}, nil
}

func durableName(queue string) string {
	return queue + "-typebus"
}

// Consumer receives and acknowledges messages from one stream.
type Consumer struct {
	queue string
	sub   *nats.Subscription

	mu         sync.Mutex
	pending    map[string]*nats.Msg
	receiptSeq uint64
}

// Queue returns the queue name this consumer is bound to.
func (c *Consumer) Queue() string { return c.queue }

// Receive fetches up to maxCount messages, waiting at most wait. A fetch
// timeout yields an empty batch, not an error.
func (c *Consumer) Receive(ctx context.Context, maxCount int, wait time.Duration) ([]transport.RawMessage, error) {
	if maxCount <= 0 {
		maxCount = 1
	}

	msgs, err := c.sub.Fetch(maxCount, nats.MaxWait(wait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("jetstream: fetch from %s failed: %w", c.queue, err)
	}

	now := time.Now()
	batch := make([]transport.RawMessage, 0, len(msgs))
	for _, msg := range msgs {
		batch = append(batch, c.track(msg, now))
	}
	return batch, nil
}

func (c *Consumer) track(msg *nats.Msg, now time.Time) transport.RawMessage {
	attempts := 1
	messageID := ""
	if meta, err := msg.Metadata(); err == nil {
		attempts = int(meta.NumDelivered)
		messageID = strconv.FormatUint(meta.Sequence.Stream, 10)
	}

	c.mu.Lock()
	c.receiptSeq++
	receipt := fmt.Sprintf("%s-%d", c.queue, c.receiptSeq)
	c.pending[receipt] = msg
	c.mu.Unlock()

	var attributes map[string]string
	if len(msg.Header) > 0 {
		attributes = make(map[string]string, len(msg.Header))
		for k := range msg.Header {
			if k != SubjectHeader {
				attributes[k] = msg.Header.Get(k)
			}
		}
	}

	return transport.RawMessage{
		MessageID:     messageID,
		Subject:       msg.Header.Get(SubjectHeader),
		Body:          msg.Data,
		ReceiptHandle: receipt,
		Attempts:      attempts,
		Queue:         c.queue,
		ReceivedAt:    now,
		Attributes:    attributes,
	}
}

func (c *Consumer) release(receipt string) (*nats.Msg, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.pending[receipt]
	if !ok {
		return nil, fmt.Errorf("jetstream: unknown receipt handle %q on %s", receipt, c.queue)
	}
	delete(c.pending, receipt)
	return msg, nil
}

// Delete acks the message, removing it from the stream's pending set.
func (c *Consumer) Delete(ctx context.Context, raw transport.RawMessage) error {
	msg, err := c.release(raw.ReceiptHandle)
	if err != nil {
		return err
	}
	if err := msg.Ack(nats.Context(ctx)); err != nil {
		return fmt.Errorf("jetstream: ack on %s failed: %w", c.queue, err)
	}
	return nil
}

// ChangeVisibility naks the message with a delay so it redelivers after the
// given window.
func (c *Consumer) ChangeVisibility(ctx context.Context, raw transport.RawMessage, timeout time.Duration) error {
	msg, err := c.release(raw.ReceiptHandle)
	if err != nil {
		return err
	}
	if err := msg.NakWithDelay(timeout, nats.Context(ctx)); err != nil {
		return fmt.Errorf("jetstream: nak on %s failed: %w", c.queue, err)
	}
	return nil
}
