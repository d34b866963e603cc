package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks protocol operations, committed events and the
// HTTP surface in front of them.
type SettlementMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	events       *prometheus.CounterVec
	droppedFeeds prometheus.Counter
	archiveLag   prometheus.Gauge
	httpRequests *prometheus.CounterVec
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

// Settlement returns the lazily registered settlement metrics.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swapcore",
				Subsystem: "settlement",
				Name:      "operations_total",
				Help:      "Protocol operations segmented by module, operation and outcome kind.",
			}, []string{"module", "operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "swapcore",
				Subsystem: "settlement",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of protocol operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "operation"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swapcore",
				Subsystem: "events",
				Name:      "committed_total",
				Help:      "Committed audit log entries by event type.",
			}, []string{"type"}),
			droppedFeeds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "swapcore",
				Subsystem: "events",
				Name:      "subscriber_drops_total",
				Help:      "Log entries not delivered to a slow in-process subscriber.",
			}),
			archiveLag: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "swapcore",
				Subsystem: "archive",
				Name:      "last_sequence",
				Help:      "Sequence number of the newest archived log entry.",
			}),
			httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swapcore",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route and status code.",
			}, []string{"route", "status"}),
		}
		prometheus.MustRegister(
			settlementRegistry.operations,
			settlementRegistry.latency,
			settlementRegistry.events,
			settlementRegistry.droppedFeeds,
			settlementRegistry.archiveLag,
			settlementRegistry.httpRequests,
		)
	})
	return settlementRegistry
}

// ObserveOperation records one protocol call. Outcome is "ok" or the error
// kind.
func (m *SettlementMetrics) ObserveOperation(module, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	module = labelOr(module, "unknown")
	operation = labelOr(operation, "unknown")
	m.operations.WithLabelValues(module, operation, labelOr(outcome, "ok")).Inc()
	m.latency.WithLabelValues(module, operation).Observe(elapsed.Seconds())
}

// RecordEvent counts a committed log entry.
func (m *SettlementMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(labelOr(eventType, "unknown")).Inc()
}

// RecordSubscriberDrop counts an entry a subscriber missed.
func (m *SettlementMetrics) RecordSubscriberDrop() {
	if m == nil {
		return
	}
	m.droppedFeeds.Inc()
}

// SetArchivedSequence publishes the archive head.
func (m *SettlementMetrics) SetArchivedSequence(seq uint64) {
	if m == nil {
		return
	}
	m.archiveLag.Set(float64(seq))
}

// ObserveHTTP counts a served request.
func (m *SettlementMetrics) ObserveHTTP(route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(labelOr(route, "unmatched"), strconv.Itoa(status)).Inc()
}

func labelOr(value, fallback string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
