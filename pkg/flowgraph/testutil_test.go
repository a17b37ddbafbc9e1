package flowgraph

import (
	"context"
	"errors"
	"iter"
	"slices"

	"github.com/randalmurphal/insightgraph/pkg/flowgraph/checkpoint"
)

// Test state types used across tests

// Counter is a simple state for testing incrementing.
type Counter struct {
	Value int
}

// State is a conversation-like state for routing and interrupt tests.
type State struct {
	Question string
	Label    string
	Answer   string
	Progress []string
}

// mergeState sets non-empty scalar fields and appends Progress.
func mergeState(base, update State) State {
	if update.Question != "" {
		base.Question = update.Question
	}
	if update.Label != "" {
		base.Label = update.Label
	}
	if update.Answer != "" {
		base.Answer = update.Answer
	}
	base.Progress = append(slices.Clone(base.Progress), update.Progress...)
	return base
}

// sumCounter adds updates to the base value.
func sumCounter(base, update Counter) Counter {
	return Counter{Value: base.Value + update.Value}
}

// increment is a node that increments the counter.
func increment(ctx Context, s Counter) (Counter, error) {
	s.Value++
	return s, nil
}

// track returns a node that appends its name to Progress.
func track(name string) NodeFunc[State] {
	return func(ctx Context, s State) (State, error) {
		return State{Progress: []string{name}}, nil
	}
}

// answer returns a node that sets Answer.
func answer(text string) NodeFunc[State] {
	return func(ctx Context, s State) (State, error) {
		return State{Answer: text, Progress: []string{ctx.NodeID()}}, nil
	}
}

// makeFailingNode creates a node that returns the given error.
func makeFailingNode(err error) NodeFunc[State] {
	return func(ctx Context, s State) (State, error) {
		return s, err
	}
}

// makePanicNode creates a node that panics with the given value.
func makePanicNode(value any) NodeFunc[State] {
	return func(ctx Context, s State) (State, error) {
		panic(value)
	}
}

// byQuestion routes on the question text.
func byQuestion(ctx Context, s State) string {
	return s.Question
}

// collect drains a turn, stopping at the first error.
func collect[S any](seq iter.Seq2[Delta[S], error]) ([]Delta[S], error) {
	var out []Delta[S]
	for d, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

// visited lists the node IDs of deltas in order.
func visited[S any](deltas []Delta[S]) []string {
	ids := make([]string, 0, len(deltas))
	for _, d := range deltas {
		ids = append(ids, d.NodeID)
	}
	return ids
}

// failingStore fails every Put.
type failingStore struct {
	*checkpoint.MemoryStore
	err error
}

func (s *failingStore) Put(context.Context, *checkpoint.Record) error {
	return s.err
}

var errStoreDown = errors.New("store down")
