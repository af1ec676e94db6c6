package runtime

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/queueworks/typebus/internal/runtime/codec"
	idspkg "github.com/queueworks/typebus/internal/runtime/ids"
	loggingpkg "github.com/queueworks/typebus/internal/runtime/logging"
	"github.com/queueworks/typebus/transport"
)

// ErrorCallback is invoked once per nacked dispatch with the failure cause
// and the raw message that failed.
type ErrorCallback func(err error, raw transport.RawMessage)

// CorrelationAttribute is the transport attribute carrying the correlation
// identifier across publish and dispatch.
const CorrelationAttribute = "typebus_correlation_id"

// Dispatcher orchestrates one message's lifecycle: decode, resolve
// handlers, invoke them with the dispatch context set, then translate the
// outcome into exactly one ack or nack against the owning queue.
//
// Dispatch never fails from the caller's perspective: every per-message
// error is converted into nack bookkeeping and observability side effects,
// so one bad message or handler bug can never kill a listener loop.
type Dispatcher struct {
	codecs   *codec.Register
	handlers *HandlerRegistry
	backoff  BackoffStrategy
	monitor  Monitor
	onError  ErrorCallback
	logger   loggingpkg.ServiceLogger
	tracer   trace.Tracer

	// nackUnhandled makes messages with no registered handler take the
	// failure path instead of being acknowledged.
	nackUnhandled bool

	// maxAttempts and errorQueue implement poison-message forwarding:
	// once a message has been attempted maxAttempts times it is published
	// to errorQueue and acknowledged instead of retried.
	maxAttempts int
	errorQueue  string
	publisher   transport.Publisher
}

// DispatcherConfig carries the collaborators a Dispatcher needs.
type DispatcherConfig struct {
	Codecs        *codec.Register
	Handlers      *HandlerRegistry
	Backoff       BackoffStrategy
	Monitor       Monitor
	OnError       ErrorCallback
	Logger        loggingpkg.ServiceLogger
	NackUnhandled bool
	MaxAttempts   int
	ErrorQueue    string
	Publisher     transport.Publisher
}

// NewDispatcher wires a dispatcher, substituting nop collaborators for nil
// optional ones.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Backoff == nil {
		cfg.Backoff = NewExponentialBackoff(0, 0)
	}
	if cfg.Monitor == nil {
		cfg.Monitor = NopMonitor{}
	}
	if cfg.Logger == nil {
		cfg.Logger = loggingpkg.NewNopLogger()
	}
	return &Dispatcher{
		codecs:        cfg.Codecs,
		handlers:      cfg.Handlers,
		backoff:       cfg.Backoff,
		monitor:       cfg.Monitor,
		onError:       cfg.OnError,
		logger:        cfg.Logger,
		tracer:        otel.Tracer("typebus"),
		nackUnhandled: cfg.NackUnhandled,
		maxAttempts:   cfg.MaxAttempts,
		errorQueue:    cfg.ErrorQueue,
		publisher:     cfg.Publisher,
	}
}

// Dispatch runs one raw message through decode, handler invocation, and
// acknowledgement. It never panics and never returns an error.
func (d *Dispatcher) Dispatch(ctx context.Context, consumer transport.Consumer, raw transport.RawMessage) {
	start := time.Now()
	if raw.Attempts < 1 {
		raw.Attempts = 1
	}

	ctx, span := d.tracer.Start(ctx, "DispatchMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.queue", raw.Queue),
		attribute.String("messaging.subject", raw.Subject),
		attribute.Int("messaging.attempt", raw.Attempts),
	)

	msg, err := d.codecs.Decode(raw.Subject, raw.Body)
	if err != nil {
		// The payload will not change on redelivery, so a decode failure
		// is not retried here; it is nacked so the backoff curve and the
		// error callback decide its fate.
		span.RecordError(err)
		d.nack(ctx, consumer, raw, nil, err, time.Since(start))
		return
	}

	handlers := d.handlers.Resolve(reflect.TypeOf(msg))
	if len(handlers) == 0 {
		if d.nackUnhandled {
			err := fmt.Errorf("typebus: no handler registered for subject %q", raw.Subject)
			span.RecordError(err)
			d.nack(ctx, consumer, raw, msg, err, time.Since(start))
			return
		}
		d.logger.Debug("No handler registered; acknowledging", loggingpkg.LogFields{
			"queue":   raw.Queue,
			"subject": raw.Subject,
		})
		d.ack(ctx, consumer, raw, time.Since(start))
		return
	}

	err = d.invoke(ctx, handlers, raw, msg)

	if cancelled(ctx, err) {
		// Cooperative shutdown is not a failure: leave the message
		// un-acked so the transport redelivers it naturally.
		d.logger.Debug("Dispatch cancelled", loggingpkg.LogFields{
			"queue":   raw.Queue,
			"subject": raw.Subject,
		})
		return
	}

	if err != nil {
		span.RecordError(err)
		d.nack(ctx, consumer, raw, msg, err, time.Since(start))
		return
	}

	d.ack(ctx, consumer, raw, time.Since(start))
}

// invoke runs every resolved handler in registration order with the
// dispatch context attached, stopping at the first failure. Panics are
// recovered and reported as handler errors.
func (d *Dispatcher) invoke(ctx context.Context, handlers []Handler, raw transport.RawMessage, msg any) (err error) {
	dc := DispatchContext{
		Raw:           raw,
		Queue:         raw.Queue,
		CorrelationID: raw.Attributes[CorrelationAttribute],
	}
	if dc.CorrelationID == "" {
		dc.CorrelationID = idspkg.NewULID()
	}
	hctx := withDispatchContext(ctx, dc)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("typebus: handler panic: %v", r)
		}
	}()

	for _, handler := range handlers {
		if cerr := hctx.Err(); cerr != nil {
			return cerr
		}
		if herr := handler(hctx, msg); herr != nil {
			return herr
		}
	}
	return nil
}

func (d *Dispatcher) ack(ctx context.Context, consumer transport.Consumer, raw transport.RawMessage, duration time.Duration) {
	if ctx.Err() != nil {
		// Cancelled after the handlers ran: deleting now would race the
		// shutdown, and an un-acked message only redelivers. Never delete
		// on a cancelled dispatch.
		return
	}
	if err := consumer.Delete(ctx, raw); err != nil {
		d.logger.Error("Failed to delete message", err, loggingpkg.LogFields{
			"queue":      raw.Queue,
			"message_id": raw.MessageID,
		})
	}
	d.monitor.HandledMessage(raw.Queue, raw.Subject, duration)
}

func (d *Dispatcher) nack(ctx context.Context, consumer transport.Consumer, raw transport.RawMessage, msg any, cause error, duration time.Duration) {
	if ctx.Err() == nil && d.forwardPoison(ctx, consumer, raw, cause) {
		d.report(raw, cause, duration)
		return
	}

	delay := d.backoff.Duration(msg, raw.Attempts, cause)
	if ctx.Err() == nil {
		if err := consumer.ChangeVisibility(ctx, raw, delay); err != nil {
			d.logger.Error("Failed to change message visibility", err, loggingpkg.LogFields{
				"queue":      raw.Queue,
				"message_id": raw.MessageID,
				"delay":      delay.String(),
			})
		}
	}

	d.report(raw, cause, duration)
}

func (d *Dispatcher) report(raw transport.RawMessage, cause error, duration time.Duration) {
	if d.onError != nil {
		d.onError(cause, raw)
	}
	d.monitor.HandledError(raw.Queue, raw.Subject, duration, raw.Attempts, cause)
}

// forwardPoison moves a message that exhausted its attempts to the error
// queue and acknowledges it. Returns false when forwarding is not
// configured, not yet due, or failed; the caller then nacks as usual.
func (d *Dispatcher) forwardPoison(ctx context.Context, consumer transport.Consumer, raw transport.RawMessage, cause error) bool {
	if d.maxAttempts <= 0 || d.errorQueue == "" || d.publisher == nil {
		return false
	}
	if raw.Attempts < d.maxAttempts {
		return false
	}

	attributes := map[string]string{
		"typebus_original_queue": raw.Queue,
		"typebus_error":          cause.Error(),
	}
	for k, v := range raw.Attributes {
		attributes[k] = v
	}

	if err := d.publisher.Publish(ctx, d.errorQueue, raw.Subject, raw.Body, attributes); err != nil {
		d.logger.Error("Failed to forward message to error queue", err, loggingpkg.LogFields{
			"queue":       raw.Queue,
			"error_queue": d.errorQueue,
			"message_id":  raw.MessageID,
		})
		return false
	}

	if err := consumer.Delete(ctx, raw); err != nil {
		d.logger.Error("Failed to delete forwarded message", err, loggingpkg.LogFields{
			"queue":      raw.Queue,
			"message_id": raw.MessageID,
		})
	}

	d.logger.Info("Forwarded message to error queue", loggingpkg.LogFields{
		"queue":       raw.Queue,
		"error_queue": d.errorQueue,
		"subject":     raw.Subject,
		"attempts":    raw.Attempts,
	})
	return true
}

func cancelled(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
