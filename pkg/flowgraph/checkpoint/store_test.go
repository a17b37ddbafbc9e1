package checkpoint_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/randalmurphal/insightgraph/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeContractTest runs the shared behavioural tests against any Store.
func storeContractTest(t *testing.T, name string, factory func(t *testing.T) checkpoint.Store) {
	ctx := context.Background()

	t.Run(name+"/Put_and_Latest", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		rec := checkpoint.New("thread-1", "router", 1, []byte(`{"question":"hi"}`), "help")
		require.NoError(t, store.Put(ctx, rec))

		got, err := store.Latest(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, "router", got.NodeID)
		assert.Equal(t, "help", got.Next)
		assert.Equal(t, 1, got.Sequence)
		assert.JSONEq(t, `{"question":"hi"}`, string(got.State))
		assert.True(t, rec.Timestamp.Equal(got.Timestamp))
		assert.False(t, got.Interrupted())
	})

	t.Run(name+"/Latest_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Latest(ctx, "missing")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run(name+"/Latest_IsHighestSequence", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		for i, node := range []string{"router", "record_sales"} {
			require.NoError(t, store.Put(ctx, checkpoint.New("thread-1", node, i+1, []byte(`{}`), "")))
		}

		got, err := store.Latest(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, "record_sales", got.NodeID)
		assert.Equal(t, 2, got.Sequence)
	})

	t.Run(name+"/Pending_RoundTrip", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		rec := checkpoint.New("thread-1", "record_sales", 3, []byte(`{}`), "sale_confirmation").
			WithPending("sale_confirmation").
			WithPrevNode("router")
		require.NoError(t, store.Put(ctx, rec))

		got, err := store.Latest(ctx, "thread-1")
		require.NoError(t, err)
		assert.True(t, got.Interrupted())
		assert.Equal(t, []string{"sale_confirmation"}, got.Pending)
		assert.Equal(t, "router", got.PrevNodeID)
	})

	t.Run(name+"/History_Ordered", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		nodes := []string{"router", "visualization", "generate_mongo_query", "generate_chart"}
		for i, node := range nodes {
			require.NoError(t, store.Put(ctx, checkpoint.New("thread-1", node, i+1, []byte(`{"n":1}`), "")))
		}

		infos, err := store.History(ctx, "thread-1")
		require.NoError(t, err)
		require.Len(t, infos, len(nodes))
		for i, info := range infos {
			assert.Equal(t, nodes[i], info.NodeID)
			assert.Equal(t, i+1, info.Sequence)
			assert.Equal(t, "thread-1", info.ThreadID)
			assert.Equal(t, int64(len(`{"n":1}`)), info.Size)
		}
	})

	t.Run(name+"/History_Empty", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		infos, err := store.History(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run(name+"/Purge", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Put(ctx, checkpoint.New("thread-1", "router", 1, []byte(`{}`), "")))
		require.NoError(t, store.Put(ctx, checkpoint.New("thread-2", "router", 1, []byte(`{}`), "")))

		require.NoError(t, store.Purge(ctx, "thread-1"))

		_, err := store.Latest(ctx, "thread-1")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		// Other threads are untouched
		_, err = store.Latest(ctx, "thread-2")
		assert.NoError(t, err)
	})

	t.Run(name+"/Purge_Nonexistent", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		assert.NoError(t, store.Purge(ctx, "missing"))
	})

	t.Run(name+"/ThreadsIndependent", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		for i := 0; i < 3; i++ {
			require.NoError(t, store.Put(ctx, checkpoint.New("thread-a", fmt.Sprintf("n%d", i), i+1, []byte(`{}`), "")))
		}
		require.NoError(t, store.Put(ctx, checkpoint.New("thread-b", "only", 1, []byte(`{}`), "")))

		a, err := store.History(ctx, "thread-a")
		require.NoError(t, err)
		b, err := store.History(ctx, "thread-b")
		require.NoError(t, err)
		assert.Len(t, a, 3)
		assert.Len(t, b, 1)
	})

	t.Run(name+"/InvalidRecord", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		err := store.Put(ctx, checkpoint.New("", "router", 1, []byte(`{}`), ""))
		assert.ErrorIs(t, err, checkpoint.ErrInvalidRecord)
		assert.ErrorIs(t, store.Put(ctx, nil), checkpoint.ErrInvalidRecord)
	})

	t.Run(name+"/Close_ThenError", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Close())

		err := store.Put(ctx, checkpoint.New("thread-1", "router", 1, []byte(`{}`), ""))
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)

		_, err = store.Latest(ctx, "thread-1")
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)

		_, err = store.History(ctx, "thread-1")
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)

		assert.ErrorIs(t, store.Purge(ctx, "thread-1"), checkpoint.ErrStoreClosed)
	})
}

func TestMemoryStore(t *testing.T) {
	factory := func(t *testing.T) checkpoint.Store {
		return checkpoint.NewMemoryStore()
	}
	storeContractTest(t, "MemoryStore", factory)
}

func TestSQLiteStore(t *testing.T) {
	factory := func(t *testing.T) checkpoint.Store {
		store, err := checkpoint.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		return store
	}
	storeContractTest(t, "SQLiteStore", factory)
}
