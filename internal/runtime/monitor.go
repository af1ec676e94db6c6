package runtime

import (
	"time"

	loggingpkg "github.com/queueworks/typebus/internal/runtime/logging"
)

// Monitor observes the bus's dispatch and publish outcomes. Implementations
// must tolerate concurrent calls from many simultaneous dispatches.
type Monitor interface {
	// HandledMessage reports a successfully dispatched message and how
	// long its handlers took.
	HandledMessage(queue, subject string, duration time.Duration)

	// HandledError reports a failed dispatch together with the failure
	// cause and the attempt count at the time of dispatch.
	HandledError(queue, subject string, duration time.Duration, attempt int, err error)

	// ReceivedBatch reports the size and latency of one receive call.
	ReceivedBatch(queue string, count int, latency time.Duration)

	// PublishedMessage reports a successful publish.
	PublishedMessage(topic, subject string)

	// PublishError reports a failed publish.
	PublishError(topic, subject string, err error)
}

// NopMonitor discards every observation.
type NopMonitor struct{}

func (NopMonitor) HandledMessage(string, string, time.Duration)             {}
func (NopMonitor) HandledError(string, string, time.Duration, int, error)   {}
func (NopMonitor) ReceivedBatch(string, int, time.Duration)                 {}
func (NopMonitor) PublishedMessage(string, string)                          {}
func (NopMonitor) PublishError(string, string, error)                       {}

// LoggingMonitor writes every observation to a ServiceLogger. Success paths
// log at trace level to keep steady-state output quiet.
type LoggingMonitor struct {
	Logger loggingpkg.ServiceLogger
}

func (m LoggingMonitor) HandledMessage(queue, subject string, duration time.Duration) {
	m.Logger.Trace("Handled message", loggingpkg.LogFields{
		"queue":       queue,
		"subject":     subject,
		"duration_ms": duration.Milliseconds(),
	})
}

func (m LoggingMonitor) HandledError(queue, subject string, duration time.Duration, attempt int, err error) {
	m.Logger.Error("Message handling failed", err, loggingpkg.LogFields{
		"queue":       queue,
		"subject":     subject,
		"duration_ms": duration.Milliseconds(),
		"attempt":     attempt,
	})
}

func (m LoggingMonitor) ReceivedBatch(queue string, count int, latency time.Duration) {
	m.Logger.Trace("Received batch", loggingpkg.LogFields{
		"queue":      queue,
		"count":      count,
		"latency_ms": latency.Milliseconds(),
	})
}

func (m LoggingMonitor) PublishedMessage(topic, subject string) {
	m.Logger.Trace("Published message", loggingpkg.LogFields{
		"topic":   topic,
		"subject": subject,
	})
}

func (m LoggingMonitor) PublishError(topic, subject string, err error) {
	m.Logger.Error("Publish failed", err, loggingpkg.LogFields{
		"topic":   topic,
		"subject": subject,
	})
}

// CombineMonitors fans every observation out to all given monitors.
func CombineMonitors(monitors ...Monitor) Monitor {
	filtered := make([]Monitor, 0, len(monitors))
	for _, m := range monitors {
		if m != nil {
			filtered = append(filtered, m)
		}
	}
	switch len(filtered) {
	case 0:
		return NopMonitor{}
	case 1:
		return filtered[0]
	}
	return multiMonitor(filtered)
}

type multiMonitor []Monitor

func (mm multiMonitor) HandledMessage(queue, subject string, duration time.Duration) {
	for _, m := range mm {
		m.HandledMessage(queue, subject, duration)
	}
}

func (mm multiMonitor) HandledError(queue, subject string, duration time.Duration, attempt int, err error) {
	for _, m := range mm {
		m.HandledError(queue, subject, duration, attempt, err)
	}
}

func (mm multiMonitor) ReceivedBatch(queue string, count int, latency time.Duration) {
	for _, m := range mm {
		m.ReceivedBatch(queue, count, latency)
	}
}

func (mm multiMonitor) PublishedMessage(topic, subject string) {
	for _, m := range mm {
		m.PublishedMessage(topic, subject)
	}
}

func (mm multiMonitor) PublishError(topic, subject string, err error) {
	for _, m := range mm {
		m.PublishError(topic, subject, err)
	}
}
