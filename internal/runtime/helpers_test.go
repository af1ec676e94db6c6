package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	codecpkg "github.com/queueworks/typebus/internal/runtime/codec"
	loggingpkg "github.com/queueworks/typebus/internal/runtime/logging"
	"github.com/queueworks/typebus/transport"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

type orderPlaced struct {
	OrderID string `json:"order_id"`
	Total   int    `json:"total"`
}

func newTestCodecs() *codecpkg.Register {
	reg := codecpkg.NewRegister()
	if err := reg.Add(codecpkg.JSON[orderPlaced]("OrderPlaced")); err != nil {
		panic(err)
	}
	return reg
}

type visibilityChange struct {
	msg     transport.RawMessage
	timeout time.Duration
}

// recordingConsumer captures acknowledgement calls for assertions.
type recordingConsumer struct {
	mu                sync.Mutex
	queue             string
	deletes           []transport.RawMessage
	visibilityChanges []visibilityChange
	deleteErr         error
	visibilityErr     error
}

func (c *recordingConsumer) Queue() string {
	if c.queue == "" {
		return "orders"
	}
	return c.queue
}

func (c *recordingConsumer) Receive(ctx context.Context, maxCount int, wait time.Duration) ([]transport.RawMessage, error) {
	return nil, nil
}

func (c *recordingConsumer) Delete(ctx context.Context, msg transport.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes = append(c.deletes, msg)
	return c.deleteErr
}

func (c *recordingConsumer) ChangeVisibility(ctx context.Context, msg transport.RawMessage, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visibilityChanges = append(c.visibilityChanges, visibilityChange{msg: msg, timeout: timeout})
	return c.visibilityErr
}

func (c *recordingConsumer) deleted() []transport.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.RawMessage(nil), c.deletes...)
}

func (c *recordingConsumer) visibility() []visibilityChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]visibilityChange(nil), c.visibilityChanges...)
}

type publishedMessage struct {
	topic      string
	subject    string
	payload    []byte
	attributes map[string]string
}

type recordingPublisher struct {
	mu         sync.Mutex
	published  []publishedMessage
	publishErr error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, subject string, payload []byte, attributes map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, publishedMessage{
		topic:      topic,
		subject:    subject,
		payload:    payload,
		attributes: attributes,
	})
	return p.publishErr
}

func (p *recordingPublisher) messages() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedMessage(nil), p.published...)
}

func orderMessage(body string, attempts int) transport.RawMessage {
	return transport.RawMessage{
		MessageID:     "m-1",
		Subject:       "OrderPlaced",
		Body:          []byte(body),
		ReceiptHandle: "r-1",
		Attempts:      attempts,
		Queue:         "orders",
		ReceivedAt:    time.Now(),
	}
}
