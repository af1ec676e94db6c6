package runtime

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// QueueStats is a point-in-time snapshot of one queue's dispatch activity.
type QueueStats struct {
	Queue string `json:"queue"`

	MessagesProcessed uint64    `json:"messages_processed"`
	MessagesFailed    uint64    `json:"messages_failed"`
	BatchesReceived   uint64    `json:"batches_received"`
	MessagesReceived  uint64    `json:"messages_received"`
	LastProcessedAt   time.Time `json:"last_processed_at"`
	LastError         string    `json:"last_error,omitempty"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

// StatsMonitor aggregates per-queue throughput and latency so callers can
// observe the bus across all of its queues. It implements Monitor and is
// safe for concurrent use.
type StatsMonitor struct {
	mu     sync.Mutex
	queues map[string]*queueStats
}

type queueStats struct {
	processed       uint64
	failed          uint64
	batches         uint64
	received        uint64
	totalHandleTime int64
	lastProcessedAt time.Time
	lastError       string

	latency    *latencyWindow
	throughput *throughputWindow
}

// NewStatsMonitor creates an empty stats monitor.
func NewStatsMonitor() *StatsMonitor {
	return &StatsMonitor{queues: make(map[string]*queueStats)}
}

func (s *StatsMonitor) queue(name string) *queueStats {
	qs, ok := s.queues[name]
	if !ok {
		qs = &queueStats{
			latency:    newLatencyWindow(latencySampleSize),
			throughput: newThroughputWindow(throughputWindowSize),
		}
		s.queues[name] = qs
	}
	return qs
}

func (s *StatsMonitor) HandledMessage(queue, subject string, duration time.Duration) {
	s.record(queue, duration, nil)
}

func (s *StatsMonitor) HandledError(queue, subject string, duration time.Duration, attempt int, err error) {
	s.record(queue, duration, err)
}

func (s *StatsMonitor) record(queue string, duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := s.queue(queue)
	if err != nil {
		qs.failed++
		qs.lastError = err.Error()
	} else {
		qs.processed++
	}
	qs.totalHandleTime += int64(duration)
	qs.lastProcessedAt = time.Now().UTC()
	qs.latency.Add(duration)
	qs.throughput.Add(time.Now())
}

func (s *StatsMonitor) ReceivedBatch(queue string, count int, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := s.queue(queue)
	qs.batches++
	qs.received += uint64(count)
}

func (s *StatsMonitor) PublishedMessage(topic, subject string) {}

func (s *StatsMonitor) PublishError(topic, subject string, err error) {}

// Snapshot returns the current stats for every queue the monitor has seen,
// sorted by queue name.
func (s *StatsMonitor) Snapshot() []QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]QueueStats, 0, len(s.queues))
	for name, qs := range s.queues {
		stats := QueueStats{
			Queue:             name,
			MessagesProcessed: qs.processed,
			MessagesFailed:    qs.failed,
			BatchesReceived:   qs.batches,
			MessagesReceived:  qs.received,
			LastProcessedAt:   qs.lastProcessedAt,
			LastError:         qs.lastError,
			Latency:           qs.latency.Snapshot(),
		}
		if handled := qs.processed + qs.failed; handled > 0 {
			stats.Latency.AverageNs = qs.totalHandleTime / int64(handled)
		}
		tp := qs.throughput.Snapshot(now)
		stats.Throughput = ThroughputMetrics{
			CurrentRPS:       tp.CurrentRPS,
			WindowSeconds:    tp.WindowSeconds,
			MessagesInWindow: uint64(tp.Count),
			TotalMessages:    qs.processed + qs.failed,
		}
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Queue < out[j].Queue })
	return out
}

// latencyWindow keeps a fixed-size ring of recent handle durations.
type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw.filled == 0 {
		metrics.LastNs = lw.last
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	metrics.LastNs = lw.last
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

// throughputWindow keeps the timestamps of recent completions within a
// rolling horizon.
type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) Add(now time.Time) {
	tw.samples = append(tw.samples, now)
	tw.cleanup(now)
}

func (tw *throughputWindow) cleanup(now time.Time) {
	if len(tw.samples) == 0 {
		return
	}
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}
}

func (tw *throughputWindow) Snapshot(now time.Time) throughputSnapshot {
	tw.cleanup(now)
	if len(tw.samples) == 0 {
		return throughputSnapshot{}
	}
	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}
