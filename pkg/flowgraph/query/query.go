// Package query provides read-only inspection of conversation threads.
//
// A query is a named handler that loads a thread's latest checkpoint and
// projects part of it: whether the thread is waiting for input, which node
// it stopped at, its message history or the whole state. Queries never
// start a turn and never write a checkpoint.
package query

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/randalmurphal/insightgraph/pkg/flowgraph/registry"
)

// Handler executes a query against a thread and returns a result.
// Handlers must not modify thread state.
type Handler func(ctx context.Context, threadID string, args any) (any, error)

// Registry manages query handlers by name, in registration order.
type Registry struct {
	handlers *registry.Registry[string, Handler]
}

// NewRegistry creates an empty query registry.
func NewRegistry() *Registry {
	return &Registry{handlers: registry.New[string, Handler]()}
}

// Register adds a handler. Names must be unique.
func (r *Registry) Register(name string, handler Handler) error {
	if name == "" {
		return errors.New("query name is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	if err := r.handlers.Add(name, handler); err != nil {
		return fmt.Errorf("query %q already registered: %w", name, err)
	}
	return nil
}

// MustRegister registers a handler, panicking on error.
func (r *Registry) MustRegister(name string, handler Handler) {
	if err := r.Register(name, handler); err != nil {
		panic(err)
	}
}

// Get returns the handler for a query name.
func (r *Registry) Get(name string) (Handler, bool) {
	return r.handlers.Get(name)
}

// List returns the registered query names in registration order.
func (r *Registry) List() []string {
	return r.handlers.Keys()
}

// Unregister removes a handler.
func (r *Registry) Unregister(name string) {
	r.handlers.Delete(name)
}

var (
	// ErrQueryNotFound is returned when no handler has the requested name.
	ErrQueryNotFound = errors.New("query not found")

	// ErrThreadNotFound is returned when a thread has no checkpoint.
	ErrThreadNotFound = errors.New("thread not found")
)

// Thread statuses.
const (
	StatusIdle          = "idle"
	StatusAwaitingInput = "awaiting_input"
)

// Message is one conversation turn as shown to inspectors.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PendingTask names the node a paused thread resumes at.
type PendingTask struct {
	NodeID string    `json:"node_id"`
	Since  time.Time `json:"since"`
}

// Snapshot is the queryable view of a thread's latest checkpoint.
type Snapshot struct {
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`

	// CurrentNode is the last node that completed.
	CurrentNode string       `json:"current_node,omitempty"`
	PendingTask *PendingTask `json:"pending_task,omitempty"`
	Sequence    int          `json:"sequence"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Messages    []Message    `json:"messages,omitempty"`
	State       any          `json:"state,omitempty"`
}

// Loader returns the snapshot of a thread, or nil when the thread has no
// checkpoint yet.
type Loader func(ctx context.Context, threadID string) (*Snapshot, error)

// Executor runs queries against threads.
type Executor struct {
	registry *Registry
	load     Loader
}

// NewExecutor creates an executor. load backs Inspect; handlers carry
// their own loaders.
func NewExecutor(registry *Registry, load Loader) *Executor {
	return &Executor{registry: registry, load: load}
}

// Execute runs a single query.
func (e *Executor) Execute(ctx context.Context, threadID, name string, args any) (any, error) {
	if threadID == "" {
		return nil, errors.New("thread ID is required")
	}
	if name == "" {
		return nil, errors.New("query name is required")
	}

	handler, ok := e.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueryNotFound, name)
	}
	return handler(ctx, threadID, args)
}

// Inspect returns the full snapshot of a thread.
func (e *Executor) Inspect(ctx context.Context, threadID string) (*Snapshot, error) {
	if threadID == "" {
		return nil, errors.New("thread ID is required")
	}
	if e.load == nil {
		return nil, errors.New("no loader configured")
	}
	return mustLoad(ctx, e.load, threadID)
}

// Queries returns the names this executor can run.
func (e *Executor) Queries() []string {
	return e.registry.List()
}

// Result wraps a query result with metadata.
type Result struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id"`
	Value    any    `json:"value,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ExecuteMultiple runs several queries against one thread, sorted by
// query name. Failed queries carry their error text.
func (e *Executor) ExecuteMultiple(ctx context.Context, threadID string, queries map[string]any) []Result {
	results := make([]Result, 0, len(queries))
	for _, name := range slices.Sorted(maps.Keys(queries)) {
		result := Result{Query: name, ThreadID: threadID}
		value, err := e.Execute(ctx, threadID, name, queries[name])
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Value = value
		}
		results = append(results, result)
	}
	return results
}

func mustLoad(ctx context.Context, load Loader, threadID string) (*Snapshot, error) {
	snap, err := load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	return snap, nil
}
