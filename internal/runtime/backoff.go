package runtime

import (
	"time"
)

// BackoffStrategy computes the invisibility window applied to a nacked
// message before the transport redelivers it. Implementations must be pure:
// the same inputs always yield the same delay, and no state is kept between
// calls. The attempt count is the transport's own delivery counter, 1-based.
type BackoffStrategy interface {
	Duration(msg any, attempt int, err error) time.Duration
}

// BackoffFunc adapts a plain function to a BackoffStrategy.
type BackoffFunc func(msg any, attempt int, err error) time.Duration

func (f BackoffFunc) Duration(msg any, attempt int, err error) time.Duration {
	return f(msg, attempt, err)
}

const (
	defaultBackoffInitial = time.Second
	defaultBackoffMax     = 16 * time.Second
)

// ExponentialBackoff doubles the delay with every attempt up to a cap:
// Initial, 2*Initial, 4*Initial, ... capped at Max. The curve is
// monotonically non-decreasing in the attempt count, independent of the
// message and error.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialBackoff builds the default strategy, substituting library
// defaults for zero values.
func NewExponentialBackoff(initial, max time.Duration) ExponentialBackoff {
	if initial <= 0 {
		initial = defaultBackoffInitial
	}
	if max <= 0 {
		max = defaultBackoffMax
	}
	if max < initial {
		max = initial
	}
	return ExponentialBackoff{Initial: initial, Max: max}
}

func (b ExponentialBackoff) Duration(msg any, attempt int, err error) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.Initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Max || delay <= 0 {
			return b.Max
		}
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}

// FixedBackoff always returns the same delay regardless of attempt count or
// failure cause.
type FixedBackoff time.Duration

func (b FixedBackoff) Duration(msg any, attempt int, err error) time.Duration {
	return time.Duration(b)
}
