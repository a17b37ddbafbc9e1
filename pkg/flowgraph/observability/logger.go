// Package observability provides structured logging, metrics, and tracing
// for graph turns.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry or Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

// EnrichLogger adds turn context to a logger.
// Returns a new logger with thread_id, node_id, and step fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "thread-1", "router", 1)
//	enriched.Info("classifying") // includes thread_id, node_id, step
func EnrichLogger(logger *slog.Logger, threadID, nodeID string, step int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("thread_id", threadID),
		slog.String("node_id", nodeID),
		slog.Int("step", step),
	)
}

// LogTurnStart logs the start of a turn. from is the first node to execute.
func LogTurnStart(logger *slog.Logger, threadID, from string) {
	if logger == nil {
		return
	}
	logger.Info("turn starting",
		slog.String("thread_id", threadID),
		slog.String("from", from),
	)
}

// LogTurnComplete logs a turn that reached END or an interrupt.
func LogTurnComplete(logger *slog.Logger, threadID string, durationMs float64, nodeCount int, interrupted bool) {
	if logger == nil {
		return
	}
	logger.Info("turn completed",
		slog.String("thread_id", threadID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", nodeCount),
		slog.Bool("interrupted", interrupted),
	)
}

// LogTurnError logs turn failure.
func LogTurnError(logger *slog.Logger, threadID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("turn failed",
		slog.String("thread_id", threadID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogRoute logs a conditional edge decision. fallback is true when the
// router's label was not in the route table.
func LogRoute(logger *slog.Logger, from, label, to string, fallback bool) {
	if logger == nil {
		return
	}
	level := slog.LevelDebug
	if fallback {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "route selected",
		slog.String("from", from),
		slog.String("label", label),
		slog.String("to", to),
		slog.Bool("fallback", fallback),
	)
}

// LogInterrupt logs a turn suspending before nodeID.
func LogInterrupt(logger *slog.Logger, threadID, nodeID string) {
	if logger == nil {
		return
	}
	logger.Info("turn interrupted",
		slog.String("thread_id", threadID),
		slog.String("pending_node", nodeID),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, nodeID string, sequence, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("node_id", nodeID),
		slog.Int("sequence", sequence),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs a checkpoint failure.
func LogCheckpointError(logger *slog.Logger, nodeID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("checkpoint failed",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation on clock.
// A nil clock uses the real clock.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation(nil)
//	// ... do work ...
//	durationMs := done()
func TimedOperation(clock clockwork.Clock) func() float64 {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	start := clock.Now()
	return func() float64 {
		return float64(clock.Since(start).Milliseconds())
	}
}
