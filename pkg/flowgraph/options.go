package flowgraph

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/observability"
)

// DefaultRecursionLimit bounds node executions per turn.
const DefaultRecursionLimit = 100

// compileConfig holds the services a compiled graph runs with.
type compileConfig struct {
	store   checkpoint.Store
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	clock   clockwork.Clock
	name    string
}

func defaultCompileConfig() compileConfig {
	return compileConfig{
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		clock:   clockwork.NewRealClock(),
		name:    "flowgraph",
	}
}

// CompileOption configures a compiled graph.
type CompileOption func(*compileConfig)

// WithCheckpointer persists a record after every node execution.
// Without a checkpointer turns are stateless: Resume starts from the input
// alone and State/Recover return ErrNoCheckpointer.
func WithCheckpointer(store checkpoint.Store) CompileOption {
	return func(c *compileConfig) {
		c.store = store
	}
}

// WithLogger sets the engine logger. Node contexts receive it enriched with
// thread_id, node_id, and step. Nil disables engine logging; nodes then get
// slog.Default().
func WithLogger(logger *slog.Logger) CompileOption {
	return func(c *compileConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder. Default: observability.NoopMetrics{}.
func WithMetrics(m observability.MetricsRecorder) CompileOption {
	return func(c *compileConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing sets the span manager. Default: observability.NoopSpanManager{}.
func WithTracing(sm observability.SpanManager) CompileOption {
	return func(c *compileConfig) {
		if sm != nil {
			c.spans = sm
		}
	}
}

// WithClock sets the clock used for record timestamps and durations.
func WithClock(clock clockwork.Clock) CompileOption {
	return func(c *compileConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithGraphName names the graph in traces. Default: "flowgraph".
func WithGraphName(name string) CompileOption {
	return func(c *compileConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// runConfig holds per-turn configuration.
type runConfig struct {
	recursionLimit int
}

func defaultRunConfig() runConfig {
	return runConfig{
		recursionLimit: DefaultRecursionLimit,
	}
}

// RunOption configures a single turn.
type RunOption func(*runConfig)

// WithRecursionLimit sets the maximum number of node executions per turn.
// Default: 100. Values <= 0 are ignored.
//
// A turn that would execute more nodes fails with a RecursionLimitError
// after exactly n executions.
func WithRecursionLimit(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.recursionLimit = n
		}
	}
}
