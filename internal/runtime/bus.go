package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/queueworks/typebus/internal/runtime/codec"
	configpkg "github.com/queueworks/typebus/internal/runtime/config"
	errorspkg "github.com/queueworks/typebus/internal/runtime/errors"
	idspkg "github.com/queueworks/typebus/internal/runtime/ids"
	loggingpkg "github.com/queueworks/typebus/internal/runtime/logging"
	"github.com/queueworks/typebus/transport"
)

// BusDependencies holds the optional collaborators a Bus can use. Leave
// fields nil to get the defaults.
type BusDependencies struct {
	// Monitor receives dispatch and publish observations. Defaults to a
	// stats collector combined with trace-level logging.
	Monitor Monitor

	// Backoff decides the redelivery delay for nacked messages. Defaults
	// to exponential backoff using the config's retry intervals.
	Backoff BackoffStrategy

	// OnError is invoked once for every nacked dispatch.
	OnError ErrorCallback

	// TransportBuilder overrides the registry lookup, mainly for tests.
	TransportBuilder transport.Builder

	// Transport bypasses building entirely and uses the supplied
	// transport as-is.
	Transport *transport.Transport
}

// Bus wires codecs, handlers, a transport, and the dispatch pipeline.
// Register handlers on the returned Bus before calling Start.
type Bus struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport transport.Transport
	codecs    *codec.Register
	handlers  *HandlerRegistry
	monitor   Monitor
	backoff   BackoffStrategy
	onError   ErrorCallback
	stats     *StatsMonitor

	// queues maps queue names to subscription order of first appearance.
	queues   map[string]int
	queuesMu sync.Mutex

	started  bool
	stop     context.CancelFunc
	stateMu  sync.Mutex
	stopOnce sync.Once
}

// NewBus constructs a Bus for the supplied configuration, panicking when
// the configuration is invalid or the transport cannot be built.
func NewBus(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps BusDependencies) *Bus {
	b, err := TryNewBus(ctx, conf, log, deps)
	if err != nil {
		panic(err)
	}
	return b
}

// TryNewBus is NewBus with an error return instead of a panic.
func TryNewBus(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps BusDependencies) (*Bus, error) {
	if conf == nil {
		return nil, errorspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errorspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	log.Info("Creating message bus", loggingpkg.LogFields{
		"queue_system": conf.QueueSystem,
		"config":       conf,
	})

	b := &Bus{
		Conf:     conf,
		Logger:   log,
		codecs:   codec.NewRegister(),
		handlers: NewHandlerRegistry(),
		backoff:  deps.Backoff,
		onError:  deps.OnError,
		stats:    NewStatsMonitor(),
		queues:   make(map[string]int),
	}

	if b.backoff == nil {
		b.backoff = NewExponentialBackoff(conf.RetryInitialInterval, conf.RetryMaxInterval)
	}

	b.monitor = CombineMonitors(b.stats, LoggingMonitor{Logger: log})
	if deps.Monitor != nil {
		b.monitor = CombineMonitors(b.stats, deps.Monitor)
	}
	// The monitor chain is final after construction; concurrent Publish
	// and Start read it without locking.
	if conf.MetricsEnabled && conf.MetricsPort != 0 {
		if _, ok := b.monitorOfType(); !ok {
			b.monitor = CombineMonitors(b.monitor, NewPrometheusMonitor("typebus"))
		}
	}

	if deps.Transport != nil {
		b.transport = *deps.Transport
		return b, nil
	}

	adapter := loggingpkg.TransportAdapter{Base: log}
	var (
		tr  transport.Transport
		err error
	)
	if deps.TransportBuilder != nil {
		tr, err = deps.TransportBuilder(ctx, conf, adapter)
	} else {
		tr, err = transport.Build(ctx, conf, adapter)
	}
	if err != nil {
		return nil, fmt.Errorf("typebus: building %s transport: %w", conf.QueueSystem, err)
	}
	b.transport = tr
	return b, nil
}

// addSubscription records a codec, handler, and queue binding. Called by
// the registration helpers; safe to call multiple times per subject.
func (b *Bus) addSubscription(c codec.Codec, queue string, handler Handler) error {
	b.stateMu.Lock()
	started := b.started
	b.stateMu.Unlock()
	if started {
		return errorspkg.ErrAlreadyStarted
	}

	if err := b.codecs.Add(c); err != nil {
		return err
	}
	b.handlers.Add(c.Type(), handler)

	b.queuesMu.Lock()
	if _, ok := b.queues[queue]; !ok {
		b.queues[queue] = len(b.queues)
	}
	b.queuesMu.Unlock()
	return nil
}

// RegisterCodec makes a subject decodable without attaching a handler,
// which is enough for publish-only message types.
func (b *Bus) RegisterCodec(c codec.Codec) error {
	if c == nil {
		return errorspkg.ErrCodecRequired
	}
	if c.Subject() == "" {
		return errorspkg.ErrSubjectRequired
	}
	return b.codecs.Add(c)
}

// Publish encodes msg with its registered codec and sends it to topic.
// The subject travels in the transport envelope; a correlation identifier
// is propagated from the current dispatch or freshly minted.
func (b *Bus) Publish(ctx context.Context, topic string, msg any) error {
	if topic == "" {
		return errorspkg.ErrTopicRequired
	}
	if msg == nil {
		return errorspkg.ErrPayloadRequired
	}
	if b.transport.Publisher == nil {
		return errorspkg.ErrPublisherRequired
	}

	subject, payload, err := b.codecs.Encode(msg)
	if err != nil {
		return err
	}

	correlationID := idspkg.NewULID()
	if dc, ok := DispatchFromContext(ctx); ok && dc.CorrelationID != "" {
		correlationID = dc.CorrelationID
	}

	attributes := map[string]string{
		CorrelationAttribute: correlationID,
	}

	if err := b.transport.Publisher.Publish(ctx, topic, subject, payload, attributes); err != nil {
		b.monitor.PublishError(topic, subject, err)
		return fmt.Errorf("typebus: publishing to %s: %w", topic, err)
	}
	b.monitor.PublishedMessage(topic, subject)
	return nil
}

// Start opens a consumer per subscribed queue and runs their listeners
// until ctx is cancelled or Stop is called. It blocks, drains in-flight
// dispatches on shutdown, and returns nil on a clean stop.
func (b *Bus) Start(ctx context.Context) error {
	b.stateMu.Lock()
	if b.started {
		b.stateMu.Unlock()
		return errorspkg.ErrAlreadyStarted
	}
	b.started = true
	ctx, b.stop = context.WithCancel(ctx)
	b.stateMu.Unlock()

	b.startMetricsServer()

	dispatcher := NewDispatcher(DispatcherConfig{
		Codecs:        b.codecs,
		Handlers:      b.handlers,
		Backoff:       b.backoff,
		Monitor:       b.monitor,
		OnError:       b.onError,
		Logger:        b.Logger,
		NackUnhandled: b.Conf.NackUnhandled,
		MaxAttempts:   b.Conf.MaxAttempts,
		ErrorQueue:    b.Conf.ErrorQueue,
		Publisher:     b.transport.Publisher,
	})

	g, ctx := errgroup.WithContext(ctx)
	for _, queue := range b.subscribedQueues() {
		consumer, err := b.transport.Consumers.OpenConsumer(ctx, queue)
		if err != nil {
			b.stop()
			// Drain listeners already launched for earlier queues.
			g.Wait()
			return fmt.Errorf("typebus: opening consumer for %s: %w", queue, err)
		}
		listener := newQueueListener(
			consumer,
			dispatcher,
			b.monitor,
			b.Logger,
			b.Conf.ReceiveBatchSize,
			b.Conf.ReceiveWaitTime,
			b.Conf.ConcurrencyLimit,
		)
		g.Go(func() error {
			listener.run(ctx)
			return nil
		})
	}

	err := g.Wait()
	b.Logger.Info("Message bus stopped", nil)
	return err
}

// Stop cancels a running Start. Safe to call multiple times and before
// Start, in which case it is a no-op.
func (b *Bus) Stop() {
	b.stateMu.Lock()
	stop := b.stop
	b.stateMu.Unlock()
	if stop != nil {
		b.stopOnce.Do(stop)
	}
}

// Stats returns a snapshot of per-queue dispatch statistics.
func (b *Bus) Stats() []QueueStats {
	return b.stats.Snapshot()
}

// Capabilities reports what the configured transport supports.
func (b *Bus) Capabilities() transport.Capabilities {
	return transport.GetCapabilities(b.Conf.QueueSystem)
}

func (b *Bus) subscribedQueues() []string {
	b.queuesMu.Lock()
	defer b.queuesMu.Unlock()
	queues := make([]string, 0, len(b.queues))
	for q := range b.queues {
		queues = append(queues, q)
	}
	sort.Slice(queues, func(i, j int) bool { return b.queues[queues[i]] < b.queues[queues[j]] })
	return queues
}

func (b *Bus) startMetricsServer() {
	if !b.Conf.MetricsEnabled || b.Conf.MetricsPort == 0 {
		return
	}
	prom, ok := b.monitorOfType()
	if !ok {
		return
	}

	addr := fmt.Sprintf(":%d", b.Conf.MetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	b.Logger.Info("Starting metrics server", loggingpkg.LogFields{"address": addr})
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			b.Logger.Error("Failed to start metrics server", err, loggingpkg.LogFields{"address": addr})
		}
	}()
}

// monitorOfType digs a PrometheusMonitor out of the configured monitor
// chain so a user-supplied one is reused for the metrics endpoint.
func (b *Bus) monitorOfType() (*PrometheusMonitor, bool) {
	switch m := b.monitor.(type) {
	case *PrometheusMonitor:
		return m, true
	case multiMonitor:
		for _, inner := range m {
			if p, ok := inner.(*PrometheusMonitor); ok {
				return p, true
			}
		}
	}
	return nil, false
}
