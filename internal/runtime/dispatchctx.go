package runtime

import (
	"context"

	"github.com/queueworks/typebus/transport"
)

// DispatchContext exposes the in-flight raw message and queue identity to
// handler code. It is visible only within the dynamic extent of one
// dispatch: the dispatcher attaches it to the context it hands to handlers,
// so each concurrent dispatch sees exactly its own context and nothing
// survives past the dispatch's return.
type DispatchContext struct {
	// Raw is the transport envelope currently being dispatched.
	Raw transport.RawMessage
	// Queue names the queue the message was received from.
	Queue string
	// CorrelationID is the correlation identifier carried with the
	// message, or one minted at receive time.
	CorrelationID string
}

type dispatchContextKey struct{}

func withDispatchContext(ctx context.Context, dc DispatchContext) context.Context {
	return context.WithValue(ctx, dispatchContextKey{}, dc)
}

// DispatchFromContext returns the dispatch context for the current handler
// invocation. Outside of an active dispatch it reports ok == false, which
// callers must treat as "no ambient context available".
func DispatchFromContext(ctx context.Context) (DispatchContext, bool) {
	dc, ok := ctx.Value(dispatchContextKey{}).(DispatchContext)
	return dc, ok
}

// RawMessageFromContext returns the raw transport message currently being
// dispatched, if any.
func RawMessageFromContext(ctx context.Context) (transport.RawMessage, bool) {
	dc, ok := DispatchFromContext(ctx)
	return dc.Raw, ok
}

// QueueFromContext returns the queue identity of the current dispatch, if
// any.
func QueueFromContext(ctx context.Context) (string, bool) {
	dc, ok := DispatchFromContext(ctx)
	return dc.Queue, ok
}
