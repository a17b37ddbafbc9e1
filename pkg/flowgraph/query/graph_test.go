package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/insightgraph/pkg/flowgraph"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/query"
)

type chat struct {
	Input   string   `json:"input"`
	History []string `json:"history"`
}

func appendChat(base, update chat) chat {
	if update.Input != "" {
		base.Input = update.Input
	}
	base.History = append(base.History, update.History...)
	return base
}

func chatGraph(t *testing.T, clock clockwork.Clock) *flowgraph.CompiledGraph[chat] {
	t.Helper()
	compiled, err := flowgraph.NewGraph[chat]().
		AddNode("propose", func(_ flowgraph.Context, s chat) (chat, error) {
			return chat{History: []string{s.Input, "confirm?"}}, nil
		}).
		AddNode("commit", func(_ flowgraph.Context, s chat) (chat, error) {
			return chat{History: []string{s.Input, "done"}}, nil
		}).
		AddEdge("propose", "commit").
		AddEdge("commit", flowgraph.END).
		InterruptBefore("commit").
		SetReducer(appendChat).
		SetEntry("propose").
		Compile(flowgraph.WithCheckpointer(checkpoint.NewMemoryStore()), flowgraph.WithClock(clock))
	require.NoError(t, err)
	return compiled
}

func chatMessages(s chat) []query.Message {
	out := make([]query.Message, len(s.History))
	for i, line := range s.History {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		out[i] = query.Message{Role: role, Content: line}
	}
	return out
}

func TestFromGraph(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	graph := chatGraph(t, clock)
	load := query.FromGraph(graph, chatMessages)

	snap, err := load(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, snap, "unknown thread has no snapshot")

	_, err = graph.Invoke(ctx, "t1", chat{Input: "receipt"})
	require.NoError(t, err)

	snap, err = load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, query.StatusAwaitingInput, snap.Status)
	assert.Equal(t, "propose", snap.CurrentNode)
	require.NotNil(t, snap.PendingTask)
	assert.Equal(t, "commit", snap.PendingTask.NodeID)
	assert.Equal(t, clock.Now(), snap.PendingTask.Since)
	assert.Equal(t, []query.Message{
		{Role: "user", Content: "receipt"},
		{Role: "assistant", Content: "confirm?"},
	}, snap.Messages)

	clock.Advance(time.Minute)
	_, err = graph.Invoke(ctx, "t1", chat{Input: "yes"})
	require.NoError(t, err)

	snap, err = load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, query.StatusIdle, snap.Status)
	assert.Equal(t, "commit", snap.CurrentNode)
	assert.Nil(t, snap.PendingTask)
	assert.Len(t, snap.Messages, 4)
	assert.Equal(t, clock.Now(), snap.UpdatedAt)

	state, ok := snap.State.(chat)
	require.True(t, ok)
	assert.Equal(t, "yes", state.Input)
}

type brokenReader struct{}

func (brokenReader) State(context.Context, string) (chat, *checkpoint.Record, error) {
	return chat{}, nil, errors.New("decode failed")
}

func TestFromGraph_PropagatesErrors(t *testing.T) {
	load := query.FromGraph[chat](brokenReader{}, nil)
	_, err := load(context.Background(), "t1")
	assert.EqualError(t, err, "decode failed")
}
