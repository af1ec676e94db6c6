package runtime

import (
	"context"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"

	codecpkg "github.com/queueworks/typebus/internal/runtime/codec"
	errorspkg "github.com/queueworks/typebus/internal/runtime/errors"
)

// JSONHandlerRegistration wires a typed JSON handler. The message type T
// is serialized with the bus's JSON codec; Subject defaults to T's type
// name when left empty.
type JSONHandlerRegistration[T any] struct {
	Subject      string
	ConsumeQueue string
	Handler      func(ctx context.Context, msg *T) error
}

// RegisterJSONHandler binds cfg.Handler to messages of type T arriving on
// cfg.ConsumeQueue. Must be called before the bus starts.
func RegisterJSONHandler[T any](bus *Bus, cfg JSONHandlerRegistration[T]) error {
	if bus == nil {
		return errorspkg.ErrBusRequired
	}
	if cfg.Handler == nil {
		return errorspkg.ErrHandlerRequired
	}
	if cfg.ConsumeQueue == "" {
		return errorspkg.ErrConsumeQueueRequired
	}
	if cfg.Subject == "" {
		cfg.Subject = defaultSubject(reflect.TypeOf((*T)(nil)).Elem())
	}

	codec := codecpkg.JSON[T](cfg.Subject)
	handler := func(ctx context.Context, msg any) error {
		typed, ok := msg.(*T)
		if !ok {
			return fmt.Errorf("typebus: subject %q decoded to %T, want %T", cfg.Subject, msg, (*T)(nil))
		}
		return cfg.Handler(ctx, typed)
	}
	return bus.addSubscription(codec, cfg.ConsumeQueue, handler)
}

// ProtoHandlerRegistration wires a typed protobuf handler. Subject defaults
// to the message's fully qualified proto name.
type ProtoHandlerRegistration[T proto.Message] struct {
	Subject      string
	ConsumeQueue string
	Handler      func(ctx context.Context, msg T) error
}

// RegisterProtoHandler binds cfg.Handler to protobuf messages of type T
// arriving on cfg.ConsumeQueue. Must be called before the bus starts.
func RegisterProtoHandler[T proto.Message](bus *Bus, cfg ProtoHandlerRegistration[T]) error {
	if bus == nil {
		return errorspkg.ErrBusRequired
	}
	if cfg.Handler == nil {
		return errorspkg.ErrHandlerRequired
	}
	if cfg.ConsumeQueue == "" {
		return errorspkg.ErrConsumeQueueRequired
	}
	if cfg.Subject == "" {
		var zero T
		cfg.Subject = string(zero.ProtoReflect().Descriptor().FullName())
	}

	codec := codecpkg.Proto[T](cfg.Subject)
	handler := func(ctx context.Context, msg any) error {
		typed, ok := msg.(T)
		if !ok {
			var want T
			return fmt.Errorf("typebus: subject %q decoded to %T, want %T", cfg.Subject, msg, want)
		}
		return cfg.Handler(ctx, typed)
	}
	return bus.addSubscription(codec, cfg.ConsumeQueue, handler)
}

// MessageHandlerRegistration wires an untyped handler with an explicit
// codec for callers that manage their own serialization.
type MessageHandlerRegistration struct {
	Codec        codecpkg.Codec
	ConsumeQueue string
	Handler      Handler
}

// RegisterMessageHandler attaches the provided handler to the bus.
func RegisterMessageHandler(bus *Bus, cfg MessageHandlerRegistration) error {
	if bus == nil {
		return errorspkg.ErrBusRequired
	}
	if cfg.Codec == nil {
		return errorspkg.ErrCodecRequired
	}
	if cfg.Codec.Subject() == "" {
		return errorspkg.ErrSubjectRequired
	}
	if cfg.Handler == nil {
		return errorspkg.ErrHandlerRequired
	}
	if cfg.ConsumeQueue == "" {
		return errorspkg.ErrConsumeQueueRequired
	}
	return bus.addSubscription(cfg.Codec, cfg.ConsumeQueue, cfg.Handler)
}

// defaultSubject derives a wire subject from a Go type. Package paths are
// dropped so the subject survives refactors that move the type.
func defaultSubject(t reflect.Type) string {
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
