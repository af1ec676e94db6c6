package runtime

import (
	"context"
	"reflect"
)

// Handler processes one decoded message. Returning an error marks the
// dispatch as failed; the message is nacked and retried per the backoff
// strategy.
type Handler func(ctx context.Context, msg any) error

// HandlerRegistry maps a message type to its ordered set of handlers. It is
// built during bus assembly and must not be mutated after the bus starts;
// concurrent reads from dispatches need no locking after that point.
type HandlerRegistry struct {
	byType map[reflect.Type][]Handler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{byType: make(map[reflect.Type][]Handler)}
}

// Add appends a handler to the type's handler set. Multiple handlers per
// type are supported; dispatches invoke them in registration order.
func (r *HandlerRegistry) Add(messageType reflect.Type, handler Handler) {
	r.byType[messageType] = append(r.byType[messageType], handler)
}

// Resolve returns the handlers registered for the type, possibly none.
// An empty resolution is not an error here; the dispatcher decides what an
// unhandled message means.
func (r *HandlerRegistry) Resolve(messageType reflect.Type) []Handler {
	return r.byType[messageType]
}

// Len returns the total number of registered handlers.
func (r *HandlerRegistry) Len() int {
	n := 0
	for _, handlers := range r.byType {
		n += len(handlers)
	}
	return n
}
