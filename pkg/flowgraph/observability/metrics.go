package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Turn outcomes passed to RecordTurn.
const (
	OutcomeCompleted   = "completed"
	OutcomeInterrupted = "interrupted"
	OutcomeFailed      = "failed"
)

// MetricsRecorder records graph metrics.
// Use NewMetricsRecorder() for OTel metrics, NewPrometheusMetrics() for a
// Prometheus registry, or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node execution with its duration and error status.
	RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error)

	// RecordTurn records the end of a turn with its outcome.
	RecordTurn(ctx context.Context, outcome string, duration time.Duration)

	// RecordRoute records a conditional edge decision.
	RecordRoute(ctx context.Context, from, label string, fallback bool)

	// RecordCheckpoint records a checkpoint save operation.
	RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	turns          metric.Int64Counter
	turnLatency    metric.Float64Histogram
	routes         metric.Int64Counter
	checkpointSize metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the shared OTel metrics instance.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("insightgraph")

	nodeExecutions, err := meter.Int64Counter("insightgraph.node.executions",
		metric.WithDescription("Number of node executions"),
	)
	if err != nil {
		return nil, err
	}

	nodeLatency, err := meter.Float64Histogram("insightgraph.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	nodeErrors, err := meter.Int64Counter("insightgraph.node.errors",
		metric.WithDescription("Number of node execution errors"),
	)
	if err != nil {
		return nil, err
	}

	turns, err := meter.Int64Counter("insightgraph.turn.count",
		metric.WithDescription("Number of turns by outcome"),
	)
	if err != nil {
		return nil, err
	}

	turnLatency, err := meter.Float64Histogram("insightgraph.turn.latency_ms",
		metric.WithDescription("Turn latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	routes, err := meter.Int64Counter("insightgraph.route.decisions",
		metric.WithDescription("Conditional edge decisions by label"),
	)
	if err != nil {
		return nil, err
	}

	checkpointSize, err := meter.Int64Histogram("insightgraph.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint state size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		nodeExecutions: nodeExecutions,
		nodeLatency:    nodeLatency,
		nodeErrors:     nodeErrors,
		turns:          turns,
		turnLatency:    turnLatency,
		routes:         routes,
		checkpointSize: checkpointSize,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("node_id", nodeID))

	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordTurn(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.turns.Add(ctx, 1, attrs)
	m.turnLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelMetrics) RecordRoute(ctx context.Context, from, label string, fallback bool) {
	m.routes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("label", label),
		attribute.Bool("fallback", fallback),
	))
}

func (m *otelMetrics) RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("node_id", nodeID)))
}

// MultiMetrics fans every call out to each recorder in order.
type MultiMetrics []MetricsRecorder

var _ MetricsRecorder = MultiMetrics(nil)

func (mm MultiMetrics) RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error) {
	for _, m := range mm {
		m.RecordNodeExecution(ctx, nodeID, duration, err)
	}
}

func (mm MultiMetrics) RecordTurn(ctx context.Context, outcome string, duration time.Duration) {
	for _, m := range mm {
		m.RecordTurn(ctx, outcome, duration)
	}
}

func (mm MultiMetrics) RecordRoute(ctx context.Context, from, label string, fallback bool) {
	for _, m := range mm {
		m.RecordRoute(ctx, from, label, fallback)
	}
}

func (mm MultiMetrics) RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64) {
	for _, m := range mm {
		m.RecordCheckpoint(ctx, nodeID, sizeBytes)
	}
}
