package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/queueworks/typebus/transport"
)

// scriptedConsumer returns one prepared batch per Receive call and blocks
// once the script is exhausted.
type scriptedConsumer struct {
	recordingConsumer
	mu      sync.Mutex
	batches [][]transport.RawMessage
	errs    []error
}

func (c *scriptedConsumer) Receive(ctx context.Context, maxCount int, wait time.Duration) ([]transport.RawMessage, error) {
	c.mu.Lock()
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		c.mu.Unlock()
		return nil, err
	}
	if len(c.batches) > 0 {
		batch := c.batches[0]
		c.batches = c.batches[1:]
		c.mu.Unlock()
		return batch, nil
	}
	c.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestListenerDispatchesReceivedBatch(t *testing.T) {
	handlers := NewHandlerRegistry()
	var handled atomic.Int64
	registerOrderHandler(handlers, func(ctx context.Context, msg any) error {
		handled.Add(1)
		return nil
	})

	consumer := &scriptedConsumer{
		batches: [][]transport.RawMessage{
			{orderMessage(`{"order_id":"a"}`, 1), orderMessage(`{"order_id":"b"}`, 1)},
		},
	}
	d := newTestDispatcher(t, DispatcherConfig{Handlers: handlers})
	l := newQueueListener(consumer, d, NopMonitor{}, newTestLogger(), 10, 50*time.Millisecond, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for handled.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out, handled %d", handled.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}

	if got := len(consumer.deleted()); got != 2 {
		t.Fatalf("expected 2 deletes, got %d", got)
	}
}

func TestListenerSurvivesReceiveError(t *testing.T) {
	handlers := NewHandlerRegistry()
	var handled atomic.Int64
	registerOrderHandler(handlers, func(ctx context.Context, msg any) error {
		handled.Add(1)
		return nil
	})

	consumer := &scriptedConsumer{
		errs: []error{errors.New("broker hiccup")},
		batches: [][]transport.RawMessage{
			{orderMessage(`{"order_id":"a"}`, 1)},
		},
	}
	d := newTestDispatcher(t, DispatcherConfig{Handlers: handlers})
	l := newQueueListener(consumer, d, NopMonitor{}, newTestLogger(), 10, 50*time.Millisecond, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.run(ctx)

	deadline := time.After(10 * time.Second)
	for handled.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("listener did not recover from receive error")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestListenerBoundsConcurrency(t *testing.T) {
	handlers := NewHandlerRegistry()
	var inFlight, peak atomic.Int64
	registerOrderHandler(handlers, func(ctx context.Context, msg any) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	batch := make([]transport.RawMessage, 8)
	for i := range batch {
		batch[i] = orderMessage(`{}`, 1)
	}
	consumer := &scriptedConsumer{batches: [][]transport.RawMessage{batch}}

	d := newTestDispatcher(t, DispatcherConfig{Handlers: handlers})
	l := newQueueListener(consumer, d, NopMonitor{}, newTestLogger(), 10, 50*time.Millisecond, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.run(ctx)
		close(done)
	}()

	deadline := time.After(10 * time.Second)
	for {
		if got := len(consumer.deleted()); got == 8 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out, deleted %d", len(consumer.deleted()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if p := peak.Load(); p > 2 {
		t.Fatalf("expected at most 2 concurrent dispatches, got %d", p)
	}
}

func TestListenerDrainsInFlightOnShutdown(t *testing.T) {
	handlers := NewHandlerRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	registerOrderHandler(handlers, func(ctx context.Context, msg any) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	})

	consumer := &scriptedConsumer{
		batches: [][]transport.RawMessage{{orderMessage(`{}`, 1)}},
	}
	d := newTestDispatcher(t, DispatcherConfig{Handlers: handlers})
	l := newQueueListener(consumer, d, NopMonitor{}, newTestLogger(), 10, 50*time.Millisecond, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.run(ctx)
		close(done)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}

	cancel()
	select {
	case <-done:
		t.Fatal("listener returned before in-flight dispatch finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not drain")
	}
	if !finished.Load() {
		t.Fatal("in-flight handler was abandoned")
	}
}
