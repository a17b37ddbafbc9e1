package checkpoint_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/randalmurphal/insightgraph/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store1, err := checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)

	rec := checkpoint.New("thread-1", "record_sales", 2, []byte(`{"answer":"pending"}`), "sale_confirmation").
		WithPending("sale_confirmation")
	require.NoError(t, store1.Put(ctx, rec))
	require.NoError(t, store1.Close())

	// Reopen the database
	store2, err := checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	got, err := store2.Latest(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, []string{"sale_confirmation"}, got.Pending)
}

func TestSQLiteStore_InvalidPath(t *testing.T) {
	_, err := checkpoint.NewSQLiteStore("/nonexistent/path/db.sqlite")
	assert.Error(t, err)
}

func TestSQLiteStore_CloseIdempotent(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_SameSequenceOverwrites(t *testing.T) {
	ctx := context.Background()
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(ctx, checkpoint.New("t", "router", 1, []byte(`{"v":1}`), "")))
	require.NoError(t, store.Put(ctx, checkpoint.New("t", "help", 1, []byte(`{"v":2}`), "")))

	infos, err := store.History(ctx, "t")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "help", infos[0].NodeID)
}

func TestSQLiteStore_LargeState(t *testing.T) {
	ctx := context.Background()
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	state := `{"blob":"` + strings.Repeat("a", 512*1024) + `"}`
	require.NoError(t, store.Put(ctx, checkpoint.New("t", "generate_chart", 1, []byte(state), "")))

	got, err := store.Latest(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, len(state), len(got.State))
}

func TestSQLiteStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	const numGoroutines = 20
	const numOps = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()

			threadID := fmt.Sprintf("thread-%d", id)
			for j := 0; j < numOps; j++ {
				switch j % 3 {
				case 0:
					assert.NoError(t, store.Put(ctx, checkpoint.New(threadID, "router", j, []byte(`{}`), "")))
				case 1:
					_, _ = store.Latest(ctx, threadID)
				case 2:
					_, _ = store.History(ctx, threadID)
				}
			}
		}(i)
	}

	wg.Wait()
}
