package flowgraph

// END is the terminal node identifier.
// Use this as an edge target to indicate the turn should terminate.
const END = "__end__"

// FinalizeNode is the node ID reported for the delta produced by the
// graph's finalizer once a turn reaches END.
const FinalizeNode = "__finalize__"

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and an immutable snapshot of the
// current state, and return a partial update. The engine merges the update
// into the state with the graph's Reducer.
//
// Example:
//
//	func help(ctx flowgraph.Context, s State) (State, error) {
//	    return State{Answer: "I can chart sales and inspect missions."}, nil
//	}
type NodeFunc[S any] func(ctx Context, state S) (S, error)

// RouterFunc classifies the merged state after a node into a label.
// Labels are looked up in the conditional edge's route table; a label that
// is not in the table takes the edge's fallback target.
//
// Example:
//
//	func byType(ctx flowgraph.Context, s State) string {
//	    return s.QuestionType
//	}
type RouterFunc[S any] func(ctx Context, state S) string

// Reducer merges a node's partial update into the base state.
// The default reducer replaces the state with the update.
type Reducer[S any] func(base, update S) S

// Finalizer runs once a turn reaches END. When ok is true, update is merged
// into the state, checkpointed, and yielded as a final delta.
type Finalizer[S any] func(state S) (update S, ok bool)

func replaceReducer[S any](_, update S) S {
	return update
}
