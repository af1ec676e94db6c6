package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queueworks/typebus/transport"
)

func openConsumer(t *testing.T, b *Broker, queue string) transport.Consumer {
	t.Helper()
	c, err := b.OpenConsumer(context.Background(), queue)
	require.NoError(t, err)
	return c
}

func TestTransportIsRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.Equal(t, transport.MemoryCapabilities, transport.GetCapabilities(TransportName))
}

func TestPublishAndReceive(t *testing.T) {
	b := NewBroker(time.Second)
	c := openConsumer(t, b, "orders")

	err := b.Publish(context.Background(), "orders", "OrderPlaced", []byte(`{"id":1}`), map[string]string{"k": "v"})
	require.NoError(t, err)

	msgs, err := c.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msg := msgs[0]
	assert.Equal(t, "OrderPlaced", msg.Subject)
	assert.Equal(t, []byte(`{"id":1}`), msg.Body)
	assert.Equal(t, "orders", msg.Queue)
	assert.Equal(t, 1, msg.Attempts)
	assert.Equal(t, "v", msg.Attributes["k"])
	assert.NotEmpty(t, msg.ReceiptHandle)
}

func TestReceiveTimesOutEmpty(t *testing.T) {
	b := NewBroker(time.Second)
	c := openConsumer(t, b, "orders")

	start := time.Now()
	msgs, err := c.Receive(context.Background(), 10, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestReceiveHonoursContextCancellation(t *testing.T) {
	b := NewBroker(time.Second)
	c := openConsumer(t, b, "orders")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Receive(ctx, 10, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReceiveWakesOnArrival(t *testing.T) {
	b := NewBroker(time.Second)
	c := openConsumer(t, b, "orders")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = b.Publish(context.Background(), "orders", "OrderPlaced", []byte(`{}`), nil)
	}()

	msgs, err := c.Receive(context.Background(), 10, 5*time.Second)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestDeleteRemovesMessagePermanently(t *testing.T) {
	b := NewBroker(30 * time.Millisecond)
	c := openConsumer(t, b, "orders")

	require.NoError(t, b.Publish(context.Background(), "orders", "OrderPlaced", []byte(`{}`), nil))
	msgs, err := c.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, c.Delete(context.Background(), msgs[0]))

	// Past the visibility window the message must not come back.
	time.Sleep(80 * time.Millisecond)
	msgs, err = c.Receive(context.Background(), 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	b := NewBroker(20 * time.Millisecond)
	c := openConsumer(t, b, "orders")

	require.NoError(t, b.Publish(context.Background(), "orders", "OrderPlaced", []byte(`{}`), nil))
	first, err := c.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, first[0].Attempts)

	second, err := c.Receive(context.Background(), 10, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].Attempts)
	assert.Equal(t, first[0].MessageID, second[0].MessageID)
	assert.NotEqual(t, first[0].ReceiptHandle, second[0].ReceiptHandle)
}

func TestChangeVisibilityReschedules(t *testing.T) {
	b := NewBroker(10 * time.Second)
	c := openConsumer(t, b, "orders")

	require.NoError(t, b.Publish(context.Background(), "orders", "OrderPlaced", []byte(`{}`), nil))
	msgs, err := c.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Shrink the window so the message comes back quickly.
	require.NoError(t, c.ChangeVisibility(context.Background(), msgs[0], 20*time.Millisecond))

	redelivered, err := c.Receive(context.Background(), 10, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, 2, redelivered[0].Attempts)
}

func TestDeleteUnknownReceipt(t *testing.T) {
	b := NewBroker(time.Second)
	c := openConsumer(t, b, "orders")

	err := c.Delete(context.Background(), transport.RawMessage{ReceiptHandle: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown receipt")
}

func TestChangeVisibilityUnknownReceipt(t *testing.T) {
	b := NewBroker(time.Second)
	c := openConsumer(t, b, "orders")

	err := c.ChangeVisibility(context.Background(), transport.RawMessage{ReceiptHandle: "bogus"}, time.Second)
	require.Error(t, err)
}

func TestBindFansOutToMultipleQueues(t *testing.T) {
	b := NewBroker(time.Second)
	b.Bind("orders", "billing")
	b.Bind("orders", "shipping")

	billing := openConsumer(t, b, "billing")
	shipping := openConsumer(t, b, "shipping")

	require.NoError(t, b.Publish(context.Background(), "orders", "OrderPlaced", []byte(`{}`), nil))

	got, err := billing.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = shipping.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestBoundTopicDoesNotDeliverToSameNamedQueue(t *testing.T) {
	b := NewBroker(time.Second)
	b.Bind("orders", "billing")
	orders := openConsumer(t, b, "orders")

	require.NoError(t, b.Publish(context.Background(), "orders", "OrderPlaced", []byte(`{}`), nil))

	msgs, err := orders.Receive(context.Background(), 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestPublishCopiesPayload(t *testing.T) {
	b := NewBroker(time.Second)
	c := openConsumer(t, b, "orders")

	payload := []byte(`{"id":1}`)
	require.NoError(t, b.Publish(context.Background(), "orders", "OrderPlaced", payload, nil))
	payload[0] = 'X'

	msgs, err := c.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, byte('{'), msgs[0].Body[0])
}

func TestReceiveBatchLimit(t *testing.T) {
	b := NewBroker(time.Second)
	c := openConsumer(t, b, "orders")

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), "orders", "OrderPlaced", []byte(`{}`), nil))
	}

	msgs, err := c.Receive(context.Background(), 3, time.Second)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestBuildUsesConfiguredVisibility(t *testing.T) {
	tr, err := Build(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Consumers)
}
