package flowgraph

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/insightgraph/pkg/flowgraph/observability"
)

// Context provides execution context to nodes and routers.
// It extends context.Context with the turn's logger and position.
//
// The engine creates a fresh Context for each node execution; nodes
// should pass it to any blocking call so cancellation propagates.
type Context interface {
	context.Context

	// Logger returns a logger enriched with thread_id, node_id, and step.
	// Never returns nil.
	Logger() *slog.Logger

	// ThreadID returns the conversation thread being processed.
	ThreadID() string

	// NodeID returns the node being executed.
	NodeID() string

	// Step returns the 1-based position of this node execution in the turn.
	Step() int
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger   *slog.Logger
	threadID string
	nodeID   string
	step     int
}

func (c *executionContext) Logger() *slog.Logger { return c.logger }
func (c *executionContext) ThreadID() string     { return c.threadID }
func (c *executionContext) NodeID() string       { return c.nodeID }
func (c *executionContext) Step() int            { return c.step }

// ContextOption configures a Context created with NewContext.
type ContextOption func(*executionContext)

// WithContextLogger sets the logger returned by Logger().
func WithContextLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextThreadID sets the thread returned by ThreadID().
func WithContextThreadID(id string) ContextOption {
	return func(c *executionContext) {
		c.threadID = id
	}
}

// WithContextNode sets the node and step returned by NodeID() and Step().
func WithContextNode(nodeID string, step int) ContextOption {
	return func(c *executionContext) {
		c.nodeID = nodeID
		c.step = step
	}
}

// NewContext wraps a standard context as a node Context.
// The engine builds contexts itself; this is for calling node functions
// directly, e.g. in unit tests.
//
// Example:
//
//	ctx := flowgraph.NewContext(context.Background(),
//	    flowgraph.WithContextThreadID("thread-1"))
//	update, err := router(ctx, state)
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

// nodeContext builds the context for one node execution.
func (cg *CompiledGraph[S]) nodeContext(ctx context.Context, threadID, nodeID string, step int) *executionContext {
	logger := cg.cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &executionContext{
		Context:  ctx,
		logger:   observability.EnrichLogger(logger, threadID, nodeID, step),
		threadID: threadID,
		nodeID:   nodeID,
		step:     step,
	}
}
