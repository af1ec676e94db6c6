// Package memory provides an in-process transport for typebus. It implements
// real queue semantics (visibility windows, delivery counting, fan-out
// bindings) so the full dispatch pipeline can be exercised in tests and
// local development without external infrastructure.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/queueworks/typebus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "memory"

// DefaultVisibilityTimeout is applied when the config does not set one.
const DefaultVisibilityTimeout = 30 * time.Second

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.MemoryCapabilities)
}

// Build creates a new in-process transport backed by a fresh Broker.
func Build(ctx context.Context, cfg transport.Config, logger transport.Logger) (transport.Transport, error) {
	visibility := DefaultVisibilityTimeout
	if cfg != nil && cfg.GetVisibilityTimeout() > 0 {
		visibility = cfg.GetVisibilityTimeout()
	}
	broker := NewBroker(visibility)
	return transport.Transport{
		Publisher: broker,
		Consumers: broker,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.MemoryCapabilities
}

// Broker is the in-process topic/queue fabric shared by the publisher and
// the consumers created from one Build call.
type Broker struct {
	mu         sync.Mutex
	queues     map[string]*queue
	bindings   map[string][]string
	visibility time.Duration
	receiptSeq atomic.Uint64
}

// NewBroker creates a broker whose received messages stay invisible for the
// given duration unless deleted or explicitly re-timed.
func NewBroker(visibility time.Duration) *Broker {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &Broker{
		queues:     make(map[string]*queue),
		bindings:   make(map[string][]string),
		visibility: visibility,
	}
}

// Bind subscribes a queue to a topic so published messages fan out to it.
// Without explicit bindings a topic delivers to the queue of the same name.
func (b *Broker) Bind(topic, queueName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[topic] = append(b.bindings[topic], queueName)
}

// Publish delivers the payload to every queue bound to the topic.
func (b *Broker) Publish(ctx context.Context, topic, subject string, payload []byte, attributes map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	targets := b.bindings[topic]
	if len(targets) == 0 {
		targets = []string{topic}
	}
	queues := make([]*queue, 0, len(targets))
	for _, name := range targets {
		queues = append(queues, b.queueLocked(name))
	}
	b.mu.Unlock()

	id := b.nextID("m")
	for _, q := range queues {
		body := make([]byte, len(payload))
		copy(body, payload)
		q.enqueue(&item{
			id:         id,
			subject:    subject,
			body:       body,
			attributes: cloneAttributes(attributes),
		})
	}
	return nil
}

// OpenConsumer returns a consumer for the named queue, creating the queue
// if it does not exist yet.
func (b *Broker) OpenConsumer(ctx context.Context, queueName string) (transport.Consumer, error) {
	b.mu.Lock()
	q := b.queueLocked(queueName)
	b.mu.Unlock()
	return &consumer{broker: b, queue: q}, nil
}

func (b *Broker) queueLocked(name string) *queue {
	q, ok := b.queues[name]
	if !ok {
		q = &queue{
			name:       name,
			visibility: b.visibility,
			inflight:   make(map[string]*item),
			arrivals:   make(chan struct{}, 1),
		}
		b.queues[name] = q
	}
	return q
}

func (b *Broker) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, b.receiptSeq.Add(1))
}

type item struct {
	id         string
	subject    string
	body       []byte
	attributes map[string]string
	attempts   int
	receipt    string
	timer      *time.Timer
}

type queue struct {
	name       string
	visibility time.Duration

	mu       sync.Mutex
	ready    []*item
	inflight map[string]*item
	arrivals chan struct{}
}

func (q *queue) enqueue(it *item) {
	q.mu.Lock()
	q.ready = append(q.ready, it)
	q.mu.Unlock()
	q.signal()
}

func (q *queue) signal() {
	select {
	case q.arrivals <- struct{}{}:
	default:
	}
}

func (q *queue) take(broker *Broker, max int, now time.Time) []transport.RawMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(max, len(q.ready))
	if n == 0 {
		return nil
	}

	batch := make([]transport.RawMessage, 0, n)
	for _, it := range q.ready[:n] {
		it.attempts++
		it.receipt = broker.nextID("r")
		q.inflight[it.receipt] = it

		receipt := it.receipt
		it.timer = time.AfterFunc(q.visibility, func() { q.requeue(receipt) })

		batch = append(batch, transport.RawMessage{
			MessageID:     it.id,
			Subject:       it.subject,
			Body:          it.body,
			ReceiptHandle: it.receipt,
			Attempts:      it.attempts,
			Queue:         q.name,
			ReceivedAt:    now,
			Attributes:    it.attributes,
		})
	}
	q.ready = q.ready[n:]
	return batch
}

func (q *queue) requeue(receipt string) {
	q.mu.Lock()
	it, ok := q.inflight[receipt]
	if ok {
		delete(q.inflight, receipt)
		it.receipt = ""
		it.timer = nil
		q.ready = append(q.ready, it)
	}
	q.mu.Unlock()
	if ok {
		q.signal()
	}
}

func (q *queue) delete(receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.inflight[receipt]
	if !ok {
		return fmt.Errorf("memory: unknown receipt handle %q on queue %q", receipt, q.name)
	}
	if it.timer != nil {
		it.timer.Stop()
	}
	delete(q.inflight, receipt)
	return nil
}

func (q *queue) changeVisibility(receipt string, timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.inflight[receipt]
	if !ok {
		return fmt.Errorf("memory: unknown receipt handle %q on queue %q", receipt, q.name)
	}
	if it.timer != nil {
		it.timer.Stop()
	}
	r := receipt
	it.timer = time.AfterFunc(timeout, func() { q.requeue(r) })
	return nil
}

type consumer struct {
	broker *Broker
	queue  *queue
}

func (c *consumer) Queue() string { return c.queue.name }

func (c *consumer) Receive(ctx context.Context, maxCount int, wait time.Duration) ([]transport.RawMessage, error) {
	if maxCount <= 0 {
		maxCount = 1
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		if batch := c.queue.take(c.broker, maxCount, time.Now()); len(batch) > 0 {
			return batch, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-c.queue.arrivals:
		}
	}
}

func (c *consumer) Delete(ctx context.Context, msg transport.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.queue.delete(msg.ReceiptHandle)
}

func (c *consumer) ChangeVisibility(ctx context.Context, msg transport.RawMessage, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.queue.changeVisibility(msg.ReceiptHandle, timeout)
}

func cloneAttributes(attributes map[string]string) map[string]string {
	if len(attributes) == 0 {
		return nil
	}
	cloned := make(map[string]string, len(attributes))
	for k, v := range attributes {
		cloned[k] = v
	}
	return cloned
}
