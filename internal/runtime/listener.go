package runtime

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	loggingpkg "github.com/queueworks/typebus/internal/runtime/logging"
	"github.com/queueworks/typebus/transport"
)

// receiveErrorPause is how long a listener backs off after a failed
// receive before polling again.
const receiveErrorPause = 2 * time.Second

// queueListener owns the receive loop of one queue: it polls the consumer,
// fans received messages out to the dispatcher on bounded goroutines, and
// drains all in-flight dispatches before returning.
type queueListener struct {
	consumer   transport.Consumer
	dispatcher *Dispatcher
	monitor    Monitor
	logger     loggingpkg.ServiceLogger

	batchSize   int
	waitTime    time.Duration
	concurrency int64
}

func newQueueListener(consumer transport.Consumer, dispatcher *Dispatcher, monitor Monitor, logger loggingpkg.ServiceLogger, batchSize int, waitTime time.Duration, concurrency int) *queueListener {
	if batchSize <= 0 {
		batchSize = 10
	}
	if waitTime <= 0 {
		waitTime = 20 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	if monitor == nil {
		monitor = NopMonitor{}
	}
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	return &queueListener{
		consumer:    consumer,
		dispatcher:  dispatcher,
		monitor:     monitor,
		logger:      logger,
		batchSize:   batchSize,
		waitTime:    waitTime,
		concurrency: int64(concurrency),
	}
}

// run polls until ctx is cancelled, then drains in-flight dispatches.
// It never returns an error: receive failures are logged and retried
// after a pause, because a transient broker hiccup must not stop the
// whole bus.
func (l *queueListener) run(ctx context.Context) {
	queue := l.consumer.Queue()
	l.logger.Info("Listening on queue", loggingpkg.LogFields{"queue": queue})

	sem := semaphore.NewWeighted(l.concurrency)
	var wg sync.WaitGroup

	for ctx.Err() == nil {
		start := time.Now()
		msgs, err := l.consumer.Receive(ctx, l.batchSize, l.waitTime)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			l.logger.Error("Receive failed", err, loggingpkg.LogFields{"queue": queue})
			select {
			case <-ctx.Done():
			case <-time.After(receiveErrorPause):
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		l.monitor.ReceivedBatch(queue, len(msgs), time.Since(start))

		for _, raw := range msgs {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(raw transport.RawMessage) {
				defer wg.Done()
				defer sem.Release(1)
				l.dispatcher.Dispatch(ctx, l.consumer, raw)
			}(raw)
		}
	}

	wg.Wait()
	l.logger.Info("Stopped listening on queue", loggingpkg.LogFields{"queue": queue})
}
