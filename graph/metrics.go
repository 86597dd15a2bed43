package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine execution metrics under the "aura"
// namespace:
//
//   - workflow_step_latency_ms (histogram): node execution duration,
//     labeled by node_id and status.
//   - workflow_retries_total (counter): retry attempts, labeled by node_id.
//   - workflow_checkpoints_total (counter): committed checkpoints.
//   - workflow_threads_finished_total (counter): terminal thread
//     transitions, labeled by status.
//
// All methods are safe for concurrent use; a nil receiver is a no-op so
// callers never need to guard.
type PrometheusMetrics struct {
	stepLatency     *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	checkpoints     prometheus.Counter
	threadsFinished *prometheus.CounterVec
}

// NewPrometheusMetrics registers the engine metrics with the given registry.
// Pass prometheus.DefaultRegisterer for the global registry or a private
// registry for isolation in tests.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aura",
			Subsystem: "workflow",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "workflow",
			Name:      "retries_total",
			Help:      "Cumulative node retry attempts.",
		}, []string{"node_id"}),
		checkpoints: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "workflow",
			Name:      "checkpoints_total",
			Help:      "Committed superstep checkpoints.",
		}),
		threadsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "workflow",
			Name:      "threads_finished_total",
			Help:      "Threads reaching a terminal status.",
		}, []string{"status"}),
	}
}

// ObserveStepLatency records one node execution duration.
func (m *PrometheusMetrics) ObserveStepLatency(nodeID, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(nodeID, status).Observe(float64(d.Milliseconds()))
}

// RetryRecorded counts one retry attempt for a node.
func (m *PrometheusMetrics) RetryRecorded(nodeID string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(nodeID).Inc()
}

// CheckpointCommitted counts one committed checkpoint.
func (m *PrometheusMetrics) CheckpointCommitted() {
	if m == nil {
		return
	}
	m.checkpoints.Inc()
}

// ThreadFinished counts one terminal thread transition.
func (m *PrometheusMetrics) ThreadFinished(status string) {
	if m == nil {
		return
	}
	m.threadsFinished.WithLabelValues(status).Inc()
}
