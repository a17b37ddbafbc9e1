package agent

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"strings"

	"github.com/randalmurphal/insightgraph/pkg/flowgraph"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/query"
)

// ErrEmptyInput is returned for a turn with neither text nor images.
var ErrEmptyInput = errors.New("query is empty")

// Input is one user turn.
type Input struct {
	Question string
	Images   []llm.Image

	// RecursionLimit bounds node executions for this turn. Zero uses the
	// assistant's default.
	RecursionLimit int
}

// Reply is the outcome of a turn.
type Reply struct {
	Answer       string          `json:"answer"`
	Chart        json.RawMessage `json:"chart"`
	QuestionType QuestionType    `json:"question_type,omitempty"`

	// AwaitingInput is set when the turn suspended for a confirmation.
	AwaitingInput bool `json:"awaiting_input,omitempty"`
}

// Assistant runs conversation turns through the compiled workflow and
// answers thread inspection queries.
type Assistant struct {
	graph          *flowgraph.CompiledGraph[State]
	queries        *query.Executor
	recursionLimit int
}

// Option configures an Assistant.
type Option func(*options)

type options struct {
	compile        []flowgraph.CompileOption
	store          checkpoint.Store
	analyzePlot    bool
	recursionLimit int
}

// WithStore persists threads in store. Defaults to an in-memory store.
func WithStore(store checkpoint.Store) Option {
	return func(o *options) { o.store = store }
}

// WithCompileOptions passes engine options (logger, metrics, tracing, clock).
func WithCompileOptions(opts ...flowgraph.CompileOption) Option {
	return func(o *options) { o.compile = append(o.compile, opts...) }
}

// WithAnalyzePlot enables the Analyze_Plot route.
func WithAnalyzePlot(enabled bool) Option {
	return func(o *options) { o.analyzePlot = enabled }
}

// WithRecursionLimit sets the default per-turn node limit.
func WithRecursionLimit(n int) Option {
	return func(o *options) { o.recursionLimit = n }
}

// New builds and compiles the workflow.
func New(deps Deps, opts ...Option) (*Assistant, error) {
	o := options{recursionLimit: flowgraph.DefaultRecursionLimit}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = checkpoint.NewMemoryStore()
	}

	g, err := NewGraph(deps, o.analyzePlot)
	if err != nil {
		return nil, err
	}
	compileOpts := append([]flowgraph.CompileOption{
		flowgraph.WithGraphName(GraphName),
		flowgraph.WithCheckpointer(o.store),
	}, o.compile...)
	compiled, err := g.Compile(compileOpts...)
	if err != nil {
		return nil, err
	}

	load := query.FromGraph[State](compiled, inspectionMessages)
	reg := query.NewRegistry()
	if err := query.RegisterBuiltins(reg, load); err != nil {
		return nil, err
	}

	return &Assistant{
		graph:          compiled,
		queries:        query.NewExecutor(reg, load),
		recursionLimit: o.recursionLimit,
	}, nil
}

// Stream runs one turn and yields a delta per node. A thread waiting for
// a confirmation resumes at the confirmation node whatever the input says.
func (a *Assistant) Stream(ctx context.Context, threadID string, in Input) iter.Seq2[flowgraph.Delta[State], error] {
	question := strings.TrimSpace(in.Question)
	if question == "" && len(in.Images) == 0 {
		return func(yield func(flowgraph.Delta[State], error) bool) {
			yield(flowgraph.Delta[State]{}, ErrEmptyInput)
		}
	}
	limit := in.RecursionLimit
	if limit <= 0 {
		limit = a.recursionLimit
	}
	return a.graph.Resume(ctx, threadID, turnInput(question, in.Images), flowgraph.WithRecursionLimit(limit))
}

// Ask runs one turn and returns its reply.
func (a *Assistant) Ask(ctx context.Context, threadID string, in Input) (*Reply, error) {
	var (
		final State
		seen  bool
		r     Reply
	)
	for delta, err := range a.Stream(ctx, threadID, in) {
		if err != nil {
			return nil, err
		}
		final, seen = delta.State, true
		r.AwaitingInput = delta.Interrupt != ""
	}
	if !seen {
		if err := context.Cause(ctx); err != nil {
			return nil, err
		}
		return nil, errors.New("agent: turn produced no result")
	}
	r.Answer = final.Answer
	r.Chart = final.Chart
	r.QuestionType = final.QuestionType
	return &r, nil
}

// ReplyFrom extracts the reply carried by a streamed delta.
func ReplyFrom(d flowgraph.Delta[State]) Reply {
	return Reply{
		Answer:        d.State.Answer,
		Chart:         d.State.Chart,
		QuestionType:  d.State.QuestionType,
		AwaitingInput: d.Interrupt != "",
	}
}

// Recover continues a turn that stopped between nodes.
func (a *Assistant) Recover(ctx context.Context, threadID string) (*Reply, error) {
	var last flowgraph.Delta[State]
	for delta, err := range a.graph.Recover(ctx, threadID, flowgraph.WithRecursionLimit(a.recursionLimit)) {
		if err != nil {
			return nil, err
		}
		last = delta
	}
	r := ReplyFrom(last)
	return &r, nil
}

// Inspect returns the full snapshot of a thread.
func (a *Assistant) Inspect(ctx context.Context, threadID string) (*query.Snapshot, error) {
	return a.queries.Inspect(ctx, threadID)
}

// Query runs a named inspection query against a thread.
func (a *Assistant) Query(ctx context.Context, threadID, name string, args any) (any, error) {
	return a.queries.Execute(ctx, threadID, name, args)
}

// Queries lists the inspection queries.
func (a *Assistant) Queries() []string {
	return a.queries.Queries()
}

// Purge deletes a thread.
func (a *Assistant) Purge(ctx context.Context, threadID string) error {
	return a.graph.Purge(ctx, threadID)
}

// Mermaid renders the workflow.
func (a *Assistant) Mermaid() string {
	return a.graph.Mermaid()
}
