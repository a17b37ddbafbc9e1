package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements MetricsRecorder with Prometheus collectors.
type PrometheusMetrics struct {
	nodeExecutions *prometheus.CounterVec
	nodeErrors     *prometheus.CounterVec
	nodeLatency    *prometheus.HistogramVec
	turns          *prometheus.CounterVec
	turnLatency    *prometheus.HistogramVec
	routes         *prometheus.CounterVec
	checkpointSize *prometheus.HistogramVec
}

var _ MetricsRecorder = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the collectors and registers them on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightgraph",
			Name:      "node_executions_total",
			Help:      "Number of node executions.",
		}, []string{"node_id"}),
		nodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightgraph",
			Name:      "node_errors_total",
			Help:      "Number of node execution errors.",
		}, []string{"node_id"}),
		nodeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insightgraph",
			Name:      "node_duration_seconds",
			Help:      "Node execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node_id"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightgraph",
			Name:      "turns_total",
			Help:      "Number of turns by outcome.",
		}, []string{"outcome"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insightgraph",
			Name:      "turn_duration_seconds",
			Help:      "Turn latency.",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightgraph",
			Name:      "route_decisions_total",
			Help:      "Conditional edge decisions by label.",
		}, []string{"from", "label", "fallback"}),
		checkpointSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insightgraph",
			Name:      "checkpoint_size_bytes",
			Help:      "Checkpoint state size.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"node_id"}),
	}

	for _, c := range []prometheus.Collector{
		m.nodeExecutions, m.nodeErrors, m.nodeLatency,
		m.turns, m.turnLatency, m.routes, m.checkpointSize,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) RecordNodeExecution(_ context.Context, nodeID string, duration time.Duration, err error) {
	m.nodeExecutions.WithLabelValues(nodeID).Inc()
	m.nodeLatency.WithLabelValues(nodeID).Observe(duration.Seconds())
	if err != nil {
		m.nodeErrors.WithLabelValues(nodeID).Inc()
	}
}

func (m *PrometheusMetrics) RecordTurn(_ context.Context, outcome string, duration time.Duration) {
	m.turns.WithLabelValues(outcome).Inc()
	m.turnLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordRoute(_ context.Context, from, label string, fallback bool) {
	m.routes.WithLabelValues(from, label, strconv.FormatBool(fallback)).Inc()
}

func (m *PrometheusMetrics) RecordCheckpoint(_ context.Context, nodeID string, sizeBytes int64) {
	m.checkpointSize.WithLabelValues(nodeID).Observe(float64(sizeBytes))
}
