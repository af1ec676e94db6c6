package runtime

import (
	"context"
	"errors"
	"testing"

	codecpkg "github.com/queueworks/typebus/internal/runtime/codec"
	errorspkg "github.com/queueworks/typebus/internal/runtime/errors"
	_ "github.com/queueworks/typebus/transport/memory"
)

func newRegistrationBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := TryNewBus(context.Background(), memoryConfig(), newTestLogger(), BusDependencies{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return bus
}

func TestRegisterJSONHandlerValidation(t *testing.T) {
	bus := newRegistrationBus(t)

	err := RegisterJSONHandler(nil, JSONHandlerRegistration[orderPlaced]{
		ConsumeQueue: "orders",
		Handler:      func(ctx context.Context, msg *orderPlaced) error { return nil },
	})
	if !errors.Is(err, errorspkg.ErrBusRequired) {
		t.Fatalf("expected bus error, got %v", err)
	}

	err = RegisterJSONHandler(bus, JSONHandlerRegistration[orderPlaced]{ConsumeQueue: "orders"})
	if !errors.Is(err, errorspkg.ErrHandlerRequired) {
		t.Fatalf("expected handler error, got %v", err)
	}

	err = RegisterJSONHandler(bus, JSONHandlerRegistration[orderPlaced]{
		Handler: func(ctx context.Context, msg *orderPlaced) error { return nil },
	})
	if !errors.Is(err, errorspkg.ErrConsumeQueueRequired) {
		t.Fatalf("expected queue error, got %v", err)
	}
}

func TestRegisterJSONHandlerDefaultsSubjectToTypeName(t *testing.T) {
	bus := newRegistrationBus(t)

	err := RegisterJSONHandler(bus, JSONHandlerRegistration[orderPlaced]{
		ConsumeQueue: "orders",
		Handler:      func(ctx context.Context, msg *orderPlaced) error { return nil },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bus.codecs.Has("orderPlaced") {
		t.Fatal("expected subject derived from type name")
	}
}

func TestRegisterJSONHandlerExplicitSubject(t *testing.T) {
	bus := newRegistrationBus(t)

	err := RegisterJSONHandler(bus, JSONHandlerRegistration[orderPlaced]{
		Subject:      "orders.placed.v1",
		ConsumeQueue: "orders",
		Handler:      func(ctx context.Context, msg *orderPlaced) error { return nil },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bus.codecs.Has("orders.placed.v1") {
		t.Fatal("expected explicit subject registered")
	}
}

func TestRegisterJSONHandlerMultipleHandlersSameType(t *testing.T) {
	bus := newRegistrationBus(t)

	for i := 0; i < 2; i++ {
		err := RegisterJSONHandler(bus, JSONHandlerRegistration[orderPlaced]{
			Subject:      "OrderPlaced",
			ConsumeQueue: "orders",
			Handler:      func(ctx context.Context, msg *orderPlaced) error { return nil },
		})
		if err != nil {
			t.Fatalf("registration %d failed: %v", i, err)
		}
	}
	if got := bus.handlers.Len(); got != 2 {
		t.Fatalf("expected 2 handlers, got %d", got)
	}
}

func TestRegisterMessageHandlerValidation(t *testing.T) {
	bus := newRegistrationBus(t)
	codec := codecpkg.JSON[orderPlaced]("OrderPlaced")
	handler := func(ctx context.Context, msg any) error { return nil }

	if err := RegisterMessageHandler(nil, MessageHandlerRegistration{Codec: codec, ConsumeQueue: "q", Handler: handler}); !errors.Is(err, errorspkg.ErrBusRequired) {
		t.Fatalf("expected bus error, got %v", err)
	}
	if err := RegisterMessageHandler(bus, MessageHandlerRegistration{ConsumeQueue: "q", Handler: handler}); !errors.Is(err, errorspkg.ErrCodecRequired) {
		t.Fatalf("expected codec error, got %v", err)
	}
	if err := RegisterMessageHandler(bus, MessageHandlerRegistration{Codec: codecpkg.JSON[orderPlaced](""), ConsumeQueue: "q", Handler: handler}); !errors.Is(err, errorspkg.ErrSubjectRequired) {
		t.Fatalf("expected subject error, got %v", err)
	}
	if err := RegisterMessageHandler(bus, MessageHandlerRegistration{Codec: codec, ConsumeQueue: "q"}); !errors.Is(err, errorspkg.ErrHandlerRequired) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if err := RegisterMessageHandler(bus, MessageHandlerRegistration{Codec: codec, Handler: handler}); !errors.Is(err, errorspkg.ErrConsumeQueueRequired) {
		t.Fatalf("expected queue error, got %v", err)
	}
	if err := RegisterMessageHandler(bus, MessageHandlerRegistration{Codec: codec, ConsumeQueue: "q", Handler: handler}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegisterJSONHandlerConflictingType(t *testing.T) {
	bus := newRegistrationBus(t)

	type otherMessage struct{}

	err := RegisterJSONHandler(bus, JSONHandlerRegistration[orderPlaced]{
		Subject:      "Shared",
		ConsumeQueue: "orders",
		Handler:      func(ctx context.Context, msg *orderPlaced) error { return nil },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = RegisterJSONHandler(bus, JSONHandlerRegistration[otherMessage]{
		Subject:      "Shared",
		ConsumeQueue: "orders",
		Handler:      func(ctx context.Context, msg *otherMessage) error { return nil },
	})
	if err == nil {
		t.Fatal("expected conflict error for same subject with different type")
	}
}
