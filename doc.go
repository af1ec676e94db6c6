// Package typebus is a typed publish/subscribe message bus over queue
// transports with at-least-once delivery. It reads the target transport
// (AWS SNS/SQS, NATS JetStream, or in-memory) from Config, decodes each
// received payload by its wire subject, and dispatches the typed message
// to the handlers registered for its Go type.
//
// Bus hosts the receive loops and exposes typed helpers: RegisterJSONHandler
// and RegisterProtoHandler take care of codec registration and type-safe
// dispatch, while Bus.Publish lets HTTP/RPC handlers emit messages without
// touching transport APIs. A minimal setup therefore involves filling
// Config, creating a Bus, registering handlers, and calling Start.
//
// # Delivery
//
// Every message is acknowledged exactly once per dispatch: a successful
// handler chain deletes the message, a failing one reschedules it by
// shrinking its visibility window to the delay computed by the configured
// BackoffStrategy. The delivery attempt count reported by the transport
// feeds the backoff, so retry delays grow across redeliveries without any
// bus-side state. Messages that exhaust Config.MaxAttempts are forwarded
// to Config.ErrorQueue instead of retrying forever.
//
// # Transports
//
// Typebus ships three transports, each registering itself on import:
//   - aws: SNS topics fanned out to SQS queues, with LocalStack support
//   - jetstream: NATS JetStream pull consumers
//   - memory: in-process broker with real visibility timers, for tests
//
// # Observability
//
// A Monitor receives every dispatch and publish outcome. The default
// chain keeps rolling per-queue statistics (Bus.Stats) and logs at trace
// level; set Config.MetricsEnabled to also serve Prometheus metrics.
// Handlers run inside an OpenTelemetry span carrying queue, subject, and
// attempt attributes.
package typebus
