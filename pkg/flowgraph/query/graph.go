package query

import (
	"context"
	"errors"

	"github.com/randalmurphal/insightgraph/pkg/flowgraph"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/checkpoint"
)

// StateReader loads the persisted state of a thread.
// *flowgraph.CompiledGraph satisfies it.
type StateReader[S any] interface {
	State(ctx context.Context, threadID string) (S, *checkpoint.Record, error)
}

// FromGraph builds a Loader over a compiled graph. messages projects the
// conversation history out of the state; it may be nil.
func FromGraph[S any](g StateReader[S], messages func(S) []Message) Loader {
	return func(ctx context.Context, threadID string) (*Snapshot, error) {
		state, rec, err := g.State(ctx, threadID)
		if errors.Is(err, flowgraph.ErrNoCheckpoint) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return snapshot(threadID, state, rec, messages), nil
	}
}

func snapshot[S any](threadID string, state S, rec *checkpoint.Record, messages func(S) []Message) *Snapshot {
	snap := &Snapshot{
		ThreadID:    threadID,
		Status:      StatusIdle,
		CurrentNode: rec.NodeID,
		Sequence:    rec.Sequence,
		UpdatedAt:   rec.Timestamp,
		State:       state,
	}
	if rec.Interrupted() {
		snap.Status = StatusAwaitingInput
		snap.PendingTask = &PendingTask{NodeID: rec.Pending[0], Since: rec.Timestamp}
	}
	if messages != nil {
		snap.Messages = messages(state)
	}
	return snap
}
