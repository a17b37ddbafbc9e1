package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"runtime/debug"

	"github.com/randalmurphal/insightgraph/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/observability"
)

// Delta is the result of one node execution within a turn.
type Delta[S any] struct {
	// NodeID is the node that produced Update, or FinalizeNode.
	NodeID string
	// Step is the 1-based execution count within the turn.
	Step int
	// Update is the partial state the node returned.
	Update S
	// State is the merged state after Update was applied.
	State S
	// Interrupt names the node the turn suspended before, if any.
	// A delta with an Interrupt is always the last of its turn.
	Interrupt string
}

// turn carries per-turn bookkeeping.
type turn[S any] struct {
	threadID string
	from     string
	state    S
	seq      int
	prevNode string
}

// prepareFunc derives the initial state and first node from the thread's
// latest record (nil when there is none).
type prepareFunc[S any] func(latest *checkpoint.Record) (state S, from string, err error)

// Run starts a turn at the entry point with initial as the state.
// Any stored state for the thread is ignored, though records continue the
// thread's sequence.
//
// The returned sequence yields one Delta per node execution, in execution
// order. Each delta is checkpointed before it is yielded. Breaking out of
// the loop stops the turn before the next node runs. A failure is yielded
// once as the final element with a zero Delta.
//
// Example:
//
//	for delta, err := range compiled.Run(ctx, "thread-1", State{Question: q}) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(delta.NodeID, delta.Update.Answer)
//	}
func (cg *CompiledGraph[S]) Run(ctx context.Context, threadID string, initial S, opts ...RunOption) iter.Seq2[Delta[S], error] {
	return cg.stream(ctx, threadID, opts, func(*checkpoint.Record) (S, string, error) {
		return initial, cg.entryPoint, nil
	})
}

// Resume starts the next turn of a thread. The stored state (zero when the
// thread is new) is merged with input through the reducer. If the last turn
// suspended before a node, execution starts at that node, bypassing the
// entry point; otherwise it starts at the entry point.
func (cg *CompiledGraph[S]) Resume(ctx context.Context, threadID string, input S, opts ...RunOption) iter.Seq2[Delta[S], error] {
	return cg.stream(ctx, threadID, opts, func(latest *checkpoint.Record) (S, string, error) {
		base, err := cg.decode(latest)
		if err != nil {
			return base, "", err
		}
		state := cg.reducer(base, input)

		if latest == nil || !latest.Interrupted() {
			return state, cg.entryPoint, nil
		}
		pending := latest.Pending[0]
		if !cg.HasNode(pending) {
			return state, "", &CheckpointError{
				NodeID: latest.NodeID,
				Op:     "resume",
				Err:    fmt.Errorf("%w: %s", ErrInvalidResumeNode, pending),
			}
		}
		return state, pending, nil
	})
}

// Recover continues a turn that stopped between nodes (crash, cancellation,
// checkpoint failure) from the node its latest record routed to.
//
// Returns ErrNoCheckpoint if the thread has no record and
// ErrNothingToRecover if its last turn ended or is waiting for input.
func (cg *CompiledGraph[S]) Recover(ctx context.Context, threadID string, opts ...RunOption) iter.Seq2[Delta[S], error] {
	return cg.stream(ctx, threadID, opts, func(latest *checkpoint.Record) (S, string, error) {
		var zero S
		if cg.cfg.store == nil {
			return zero, "", ErrNoCheckpointer
		}
		if latest == nil {
			return zero, "", fmt.Errorf("%w: thread %s", ErrNoCheckpoint, threadID)
		}
		if latest.Next == "" || latest.Interrupted() {
			return zero, "", fmt.Errorf("%w: thread %s", ErrNothingToRecover, threadID)
		}
		if !cg.HasNode(latest.Next) {
			return zero, "", &CheckpointError{
				NodeID: latest.NodeID,
				Op:     "recover",
				Err:    fmt.Errorf("%w: %s", ErrInvalidResumeNode, latest.Next),
			}
		}
		state, err := cg.decode(latest)
		return state, latest.Next, err
	})
}

// Invoke runs a full turn through Resume and returns the final state.
func (cg *CompiledGraph[S]) Invoke(ctx context.Context, threadID string, input S, opts ...RunOption) (S, error) {
	var final S
	for delta, err := range cg.Resume(ctx, threadID, input, opts...) {
		if err != nil {
			return final, err
		}
		final = delta.State
	}
	return final, nil
}

// State returns the thread's persisted state and the record it came from.
func (cg *CompiledGraph[S]) State(ctx context.Context, threadID string) (S, *checkpoint.Record, error) {
	var zero S
	if cg.cfg.store == nil {
		return zero, nil, ErrNoCheckpointer
	}
	rec, err := cg.latest(ctx, threadID)
	if err != nil {
		return zero, nil, err
	}
	if rec == nil {
		return zero, nil, fmt.Errorf("%w: thread %s", ErrNoCheckpoint, threadID)
	}
	state, err := cg.decode(rec)
	if err != nil {
		return zero, nil, err
	}
	return state, rec, nil
}

// History returns metadata for every record of a thread.
func (cg *CompiledGraph[S]) History(ctx context.Context, threadID string) ([]checkpoint.Info, error) {
	if cg.cfg.store == nil {
		return nil, ErrNoCheckpointer
	}
	return cg.cfg.store.History(ctx, threadID)
}

// Purge deletes a thread's records. It waits for any running turn on the
// thread to finish first.
func (cg *CompiledGraph[S]) Purge(ctx context.Context, threadID string) error {
	if cg.cfg.store == nil {
		return ErrNoCheckpointer
	}
	release, err := cg.locks.acquire(ctx, threadID)
	if err != nil {
		return err
	}
	defer release()
	return cg.cfg.store.Purge(ctx, threadID)
}

// stream wraps a turn in its iterator: argument checks, the thread lock,
// and loading the latest record.
func (cg *CompiledGraph[S]) stream(ctx context.Context, threadID string, opts []RunOption, prepare prepareFunc[S]) iter.Seq2[Delta[S], error] {
	return func(yield func(Delta[S], error) bool) {
		if ctx == nil {
			yield(Delta[S]{}, ErrNilContext)
			return
		}
		if threadID == "" {
			yield(Delta[S]{}, ErrEmptyThreadID)
			return
		}

		cfg := defaultRunConfig()
		for _, opt := range opts {
			opt(&cfg)
		}

		release, err := cg.locks.acquire(ctx, threadID)
		if err != nil {
			yield(Delta[S]{}, fmt.Errorf("acquire thread %s: %w", threadID, err))
			return
		}
		defer release()

		latest, err := cg.latest(ctx, threadID)
		if err != nil {
			yield(Delta[S]{}, err)
			return
		}

		state, from, err := prepare(latest)
		if err != nil {
			yield(Delta[S]{}, err)
			return
		}

		t := &turn[S]{threadID: threadID, from: from, state: state}
		if latest != nil {
			t.seq = latest.Sequence
		}
		cg.execute(ctx, t, cfg, yield)
	}
}

// execute runs one turn with turn-level observability.
func (cg *CompiledGraph[S]) execute(ctx context.Context, t *turn[S], cfg runConfig, yield func(Delta[S], error) bool) {
	logger := cg.cfg.logger
	clock := cg.cfg.clock
	start := clock.Now()

	observability.LogTurnStart(logger, t.threadID, t.from)
	turnCtx, span := cg.cfg.spans.StartTurnSpan(ctx, cg.cfg.name, t.threadID)

	res := cg.walk(turnCtx, t, cfg, yield)

	cg.cfg.spans.EndSpanWithError(span, res.err)
	duration := clock.Since(start)
	durationMs := float64(duration.Milliseconds())

	switch {
	case res.err != nil:
		cg.cfg.metrics.RecordTurn(ctx, observability.OutcomeFailed, duration)
		observability.LogTurnError(logger, t.threadID, res.err, durationMs, res.lastNode)
		yield(Delta[S]{}, res.err)
	case res.interrupted:
		cg.cfg.metrics.RecordTurn(ctx, observability.OutcomeInterrupted, duration)
		observability.LogTurnComplete(logger, t.threadID, durationMs, res.steps, true)
	default:
		cg.cfg.metrics.RecordTurn(ctx, observability.OutcomeCompleted, duration)
		observability.LogTurnComplete(logger, t.threadID, durationMs, res.steps, false)
	}
}

type walkResult struct {
	steps       int
	lastNode    string
	interrupted bool
	err         error
}

// walk is the node loop. It returns with a nil err when the caller stops
// iterating.
func (cg *CompiledGraph[S]) walk(ctx context.Context, t *turn[S], cfg runConfig, yield func(Delta[S], error) bool) walkResult {
	var res walkResult
	state := t.state
	current := t.from

	for current != END {
		res.lastNode = current

		if res.steps >= cfg.recursionLimit {
			res.err = &RecursionLimitError{Limit: cfg.recursionLimit, NodeID: current}
			return res
		}
		if err := ctx.Err(); err != nil {
			res.err = &CancellationError{NodeID: current, State: state, Cause: err}
			return res
		}

		res.steps++
		nodeCtx := cg.nodeContext(ctx, t.threadID, current, res.steps)

		update, err := cg.executeNode(nodeCtx, current, state)
		if err != nil {
			res.err = err
			return res
		}
		if err := ctx.Err(); err != nil {
			res.err = &CancellationError{NodeID: current, State: state, Cause: err, WasExecuting: true}
			return res
		}

		state = cg.reducer(state, update)

		next, err := cg.nextNode(nodeCtx, current, state)
		if err != nil {
			res.err = err
			return res
		}

		pending := ""
		if cg.interrupts[next] {
			pending = next
		}

		stored := next
		if next == END {
			stored = ""
		}
		if err := cg.save(ctx, t, current, state, stored, pending); err != nil {
			res.err = err
			return res
		}

		delta := Delta[S]{NodeID: current, Step: res.steps, Update: update, State: state, Interrupt: pending}
		if !yield(delta, nil) {
			return res
		}

		if pending != "" {
			observability.LogInterrupt(cg.cfg.logger, t.threadID, pending)
			cg.cfg.spans.AddSpanEvent(ctx, "interrupt")
			res.interrupted = true
			return res
		}

		t.prevNode = current
		current = next
	}

	if cg.finalizer == nil {
		return res
	}
	update, ok := cg.finalizer(state)
	if !ok {
		return res
	}
	state = cg.reducer(state, update)
	if err := cg.save(ctx, t, FinalizeNode, state, "", ""); err != nil {
		res.err = err
		return res
	}
	yield(Delta[S]{NodeID: FinalizeNode, Step: res.steps + 1, Update: update, State: state}, nil)
	return res
}

// executeNode executes a single node with panic recovery, tracing, and metrics.
func (cg *CompiledGraph[S]) executeNode(ctx *executionContext, nodeID string, state S) (update S, err error) {
	fn := cg.nodes[nodeID]
	logger := cg.cfg.logger

	spanCtx, span := cg.cfg.spans.StartNodeSpan(ctx.Context, nodeID, ctx.step)
	nodeCtx := *ctx
	nodeCtx.Context = spanCtx

	observability.LogNodeStart(logger, nodeID)
	start := cg.cfg.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}

		duration := cg.cfg.clock.Since(start)
		cg.cfg.metrics.RecordNodeExecution(spanCtx, nodeID, duration, err)
		cg.cfg.spans.EndSpanWithError(span, err)
		if err != nil {
			observability.LogNodeError(logger, nodeID, err)
			return
		}
		observability.LogNodeComplete(logger, nodeID, float64(duration.Milliseconds()))
	}()

	update, err = fn(&nodeCtx, state)
	if err != nil {
		return update, &NodeError{NodeID: nodeID, Op: "execute", Err: err}
	}
	return update, nil
}

// nextNode determines the node after current. A conditional edge label not
// in the route table takes the fallback.
func (cg *CompiledGraph[S]) nextNode(ctx Context, current string, state S) (next string, err error) {
	if to, ok := cg.edges[current]; ok {
		return to, nil
	}

	ce, ok := cg.conditionalEdges[current]
	if !ok {
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("%w: %s", ErrNoOutgoingEdge, current),
		}
	}

	label, err := callRouter(ctx, current, ce.router, state)
	if err != nil {
		return "", err
	}

	next, known := ce.routes[label]
	if !known {
		next = ce.fallback
	}

	metricLabel := label
	if !known {
		metricLabel = "_unknown"
	}
	observability.LogRoute(cg.cfg.logger, current, label, next, !known)
	cg.cfg.metrics.RecordRoute(ctx, current, metricLabel, !known)

	return next, nil
}

func callRouter[S any](ctx Context, from string, router RouterFunc[S], state S) (label string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &RouterError{
				FromNode: from,
				Err:      &PanicError{NodeID: from, Value: r, Stack: string(debug.Stack())},
			}
		}
	}()
	return router(ctx, state), nil
}

// latest loads the thread's most recent record, or nil if it has none.
func (cg *CompiledGraph[S]) latest(ctx context.Context, threadID string) (*checkpoint.Record, error) {
	if cg.cfg.store == nil {
		return nil, nil
	}
	rec, err := cg.cfg.store.Latest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &CheckpointError{Op: "load", Err: err}
	}
	return rec, nil
}

// decode restores the state held by rec. A nil record decodes to the zero state.
func (cg *CompiledGraph[S]) decode(rec *checkpoint.Record) (S, error) {
	var state S
	if rec == nil {
		return state, nil
	}
	if rec.Version != checkpoint.Version {
		return state, &CheckpointError{
			NodeID: rec.NodeID,
			Op:     "load",
			Err:    fmt.Errorf("%w: got %d, want %d", ErrCheckpointVersionMismatch, rec.Version, checkpoint.Version),
		}
	}
	if err := json.Unmarshal(rec.State, &state); err != nil {
		return state, &CheckpointError{
			NodeID: rec.NodeID,
			Op:     "deserialize",
			Err:    fmt.Errorf("%w: %v", ErrDeserializeState, err),
		}
	}
	return state, nil
}

// save persists the state after nodeID ran. No-op without a store.
func (cg *CompiledGraph[S]) save(ctx context.Context, t *turn[S], nodeID string, state S, next, pending string) error {
	store := cg.cfg.store
	if store == nil {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		observability.LogCheckpointError(cg.cfg.logger, nodeID, "serialize", err)
		return &CheckpointError{
			NodeID: nodeID,
			Op:     "serialize",
			Err:    fmt.Errorf("%w: %v", ErrSerializeState, err),
		}
	}

	seq := t.seq + 1
	rec := checkpoint.New(t.threadID, nodeID, seq, data, next).
		WithPrevNode(t.prevNode).
		WithTimestamp(cg.cfg.clock.Now())
	if pending != "" {
		rec = rec.WithPending(pending)
	}

	if err := store.Put(ctx, rec); err != nil {
		observability.LogCheckpointError(cg.cfg.logger, nodeID, "save", err)
		return &CheckpointError{NodeID: nodeID, Op: "save", Err: err}
	}
	t.seq = seq

	observability.LogCheckpoint(cg.cfg.logger, nodeID, seq, len(data))
	cg.cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(len(data)))
	return nil
}
