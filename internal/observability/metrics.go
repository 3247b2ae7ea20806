package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for recorded operations.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics records operation latency and failures in memory and as prometheus collectors.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	slowCount    map[string]int64

	registry  *prometheus.Registry
	durations *prometheus.HistogramVec
	errors    *prometheus.CounterVec
	slow      *prometheus.CounterVec
}

// OperationStats is a point-in-time view of one operation's counters.
type OperationStats struct {
	Requests int64 `json:"requests"`
	Errors   int64 `json:"errors"`
	Slow     int64 `json:"slow"`
}

// NewMetrics initializes metrics storage and a private prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		slowCount:    make(map[string]int64),
		registry:     prometheus.NewRegistry(),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kiosk_operation_duration_seconds",
				Help:    "Latency of remote operations by name, channel and outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
			},
			[]string{"operation", "channel", "outcome"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_operation_errors_total",
				Help: "Classified operation failures by name and code.",
			},
			[]string{"operation", "code"},
		),
		slow: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiosk_operation_slow_total",
				Help: "Operations that exceeded the slow-call threshold.",
			},
			[]string{"operation"},
		),
	}
	m.registry.MustRegister(m.durations, m.errors, m.slow)
	return m
}

// RecordOperation records one completed dispatch, successful or not.
func (m *Metrics) RecordOperation(operation, channel string, duration time.Duration, failed, slow bool) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if failed {
		outcome = OutcomeFailure
	}
	m.durations.WithLabelValues(operation, channel, outcome).Observe(duration.Seconds())
	if slow {
		m.slow.WithLabelValues(operation).Inc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[operation]++
	if slow {
		m.slowCount[operation]++
	}
}

// RecordError increments error counters for a classified failure.
func (m *Metrics) RecordError(operation, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(operation, code).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[operation]++
}

// Snapshot returns per-operation counters.
func (m *Metrics) Snapshot() map[string]OperationStats {
	out := make(map[string]OperationStats)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for op, n := range m.requestCount {
		stats := out[op]
		stats.Requests = n
		out[op] = stats
	}
	for op, n := range m.errorCount {
		stats := out[op]
		stats.Errors = n
		out[op] = stats
	}
	for op, n := range m.slowCount {
		stats := out[op]
		stats.Slow = n
		out[op] = stats
	}
	return out
}

// Handler exposes the prometheus registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
