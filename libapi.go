package typebus

import (
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/queueworks/typebus/internal/runtime"
	codecpkg "github.com/queueworks/typebus/internal/runtime/codec"
	configpkg "github.com/queueworks/typebus/internal/runtime/config"
	errspkg "github.com/queueworks/typebus/internal/runtime/errors"
	idspkg "github.com/queueworks/typebus/internal/runtime/ids"
	loggingpkg "github.com/queueworks/typebus/internal/runtime/logging"
	transportpkg "github.com/queueworks/typebus/transport"
)

type (
	Config          = configpkg.Config
	Bus             = runtimepkg.Bus
	BusDependencies = runtimepkg.BusDependencies

	Handler         = runtimepkg.Handler
	ErrorCallback   = runtimepkg.ErrorCallback
	DispatchContext = runtimepkg.DispatchContext

	MessageHandlerRegistration                = runtimepkg.MessageHandlerRegistration
	JSONHandlerRegistration[T any]            = runtimepkg.JSONHandlerRegistration[T]
	ProtoHandlerRegistration[T proto.Message] = runtimepkg.ProtoHandlerRegistration[T]

	// Backoff strategies
	BackoffStrategy    = runtimepkg.BackoffStrategy
	BackoffFunc        = runtimepkg.BackoffFunc
	ExponentialBackoff = runtimepkg.ExponentialBackoff
	FixedBackoff       = runtimepkg.FixedBackoff

	// Observability
	Monitor           = runtimepkg.Monitor
	NopMonitor        = runtimepkg.NopMonitor
	LoggingMonitor    = runtimepkg.LoggingMonitor
	StatsMonitor      = runtimepkg.StatsMonitor
	PrometheusMonitor = runtimepkg.PrometheusMonitor
	QueueStats        = runtimepkg.QueueStats
	LatencyMetrics    = runtimepkg.LatencyMetrics
	ThroughputMetrics = runtimepkg.ThroughputMetrics

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Serialization
	Codec               = codecpkg.Codec
	UnknownSubjectError = codecpkg.UnknownSubjectError
	UnknownTypeError    = codecpkg.UnknownTypeError

	// Transport surface
	Transport             = transportpkg.Transport
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
	RawMessage            = transportpkg.RawMessage
	Consumer              = transportpkg.Consumer
	Publisher             = transportpkg.Publisher
)

var (
	NewBus         = runtimepkg.NewBus
	TryNewBus      = runtimepkg.TryNewBus
	ValidateConfig = configpkg.ValidateConfig

	RegisterMessageHandler = runtimepkg.RegisterMessageHandler

	// Dispatch context accessors, valid inside a running handler.
	DispatchFromContext   = runtimepkg.DispatchFromContext
	RawMessageFromContext = runtimepkg.RawMessageFromContext
	QueueFromContext      = runtimepkg.QueueFromContext

	NewExponentialBackoff = runtimepkg.NewExponentialBackoff

	NewStatsMonitor      = runtimepkg.NewStatsMonitor
	NewPrometheusMonitor = runtimepkg.NewPrometheusMonitor
	CombineMonitors      = runtimepkg.CombineMonitors

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopLogger         = loggingpkg.NewNopLogger

	NewULID = idspkg.NewULID

	// Transport registry. Import individual transports via:
	//   _ "github.com/queueworks/typebus/transport/aws"
	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
	GetCapabilities          = transportpkg.GetCapabilities

	ErrBusRequired          = errspkg.ErrBusRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrConsumeQueueRequired = errspkg.ErrConsumeQueueRequired
	ErrSubjectRequired      = errspkg.ErrSubjectRequired
	ErrCodecRequired        = errspkg.ErrCodecRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrPayloadRequired      = errspkg.ErrPayloadRequired
	ErrAlreadyStarted       = errspkg.ErrAlreadyStarted
)

// CorrelationAttribute is the transport attribute carrying the correlation
// identifier across publish and dispatch.
const CorrelationAttribute = runtimepkg.CorrelationAttribute

func RegisterJSONHandler[T any](bus *Bus, cfg JSONHandlerRegistration[T]) error {
	return runtimepkg.RegisterJSONHandler(bus, cfg)
}

func RegisterProtoHandler[T proto.Message](bus *Bus, cfg ProtoHandlerRegistration[T]) error {
	return runtimepkg.RegisterProtoHandler(bus, cfg)
}

// JSONCodec builds a codec that (de)serializes *T as JSON under subject.
func JSONCodec[T any](subject string) Codec {
	return codecpkg.JSON[T](subject)
}

// ProtoCodec builds a codec that (de)serializes the proto message T as
// canonical proto JSON under subject.
func ProtoCodec[T proto.Message](subject string) Codec {
	return codecpkg.Proto[T](subject)
}
