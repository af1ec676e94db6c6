package runtime

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMonitor exports dispatch and publish outcomes as Prometheus
// metrics. Register it alongside other monitors via CombineMonitors.
type PrometheusMonitor struct {
	handledTotal   *prometheus.CounterVec
	handleSeconds  *prometheus.HistogramVec
	receiveBatch   *prometheus.HistogramVec
	receiveSeconds *prometheus.HistogramVec
	publishedTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMonitor creates a monitor registered on its own registry so
// multiple buses in one process do not collide.
func NewPrometheusMonitor(namespace string) *PrometheusMonitor {
	if namespace == "" {
		namespace = "typebus"
	}

	m := &PrometheusMonitor{
		registry: prometheus.NewRegistry(),
		handledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handled_messages_total",
			Help:      "Dispatched messages by queue, subject and outcome.",
		}, []string{"queue", "subject", "outcome"}),
		handleSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handle_duration_seconds",
			Help:      "Time spent handling one message.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue", "subject"}),
		receiveBatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "receive_batch_size",
			Help:      "Number of messages returned by one receive call.",
			Buckets:   []float64{0, 1, 2, 5, 10},
		}, []string{"queue"}),
		receiveSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "receive_duration_seconds",
			Help:      "Latency of one receive call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		publishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_messages_total",
			Help:      "Published messages by topic, subject and outcome.",
		}, []string{"topic", "subject", "outcome"}),
	}

	m.registry.MustRegister(
		m.handledTotal,
		m.handleSeconds,
		m.receiveBatch,
		m.receiveSeconds,
		m.publishedTotal,
	)
	return m
}

// Handler returns an HTTP handler serving this monitor's metrics.
func (m *PrometheusMonitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PrometheusMonitor) HandledMessage(queue, subject string, duration time.Duration) {
	m.handledTotal.WithLabelValues(queue, subject, "success").Inc()
	m.handleSeconds.WithLabelValues(queue, subject).Observe(duration.Seconds())
}

func (m *PrometheusMonitor) HandledError(queue, subject string, duration time.Duration, attempt int, err error) {
	m.handledTotal.WithLabelValues(queue, subject, "failure").Inc()
	m.handleSeconds.WithLabelValues(queue, subject).Observe(duration.Seconds())
}

func (m *PrometheusMonitor) ReceivedBatch(queue string, count int, latency time.Duration) {
	m.receiveBatch.WithLabelValues(queue).Observe(float64(count))
	m.receiveSeconds.WithLabelValues(queue).Observe(latency.Seconds())
}

func (m *PrometheusMonitor) PublishedMessage(topic, subject string) {
	m.publishedTotal.WithLabelValues(topic, subject, "success").Inc()
}

func (m *PrometheusMonitor) PublishError(topic, subject string, err error) {
	m.publishedTotal.WithLabelValues(topic, subject, "failure").Inc()
}
