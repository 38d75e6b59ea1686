package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/smallnest/chatmemory/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SqliteHistoryStore {
	t.Helper()
	s, err := NewSqliteHistoryStore(SqliteOptions{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSqliteHistoryStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := store.NewKey("u1", "s1")

	// Test Append
	err := s.AppendHistory(ctx, key, []store.Entry{
		{Role: store.RoleUser, Message: "hi"},
		{Role: store.RoleBot, Message: "hello"},
	})
	assert.NoError(t, err)
	err = s.AppendHistory(ctx, key, []store.Entry{{Role: store.RoleUser, Message: "again"}})
	assert.NoError(t, err)

	// Test Read
	history, ok, err := s.History(ctx, key)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []store.Entry{
		{Role: store.RoleUser, Message: "hi"},
		{Role: store.RoleBot, Message: "hello"},
		{Role: store.RoleUser, Message: "again"},
	}, history)

	// Test read by user
	assert.NoError(t, s.AppendHistory(ctx, store.NewKey("u1", "s2"), []store.Entry{{Role: store.RoleUser, Message: "other"}}))
	assert.NoError(t, s.AppendHistory(ctx, store.NewKey("u2", "s1"), []store.Entry{{Role: store.RoleUser, Message: "stranger"}}))

	sessions, err := s.UserHistories(ctx, "u1")
	assert.NoError(t, err)
	assert.Len(t, sessions, 2)
	assert.Len(t, sessions["s1"], 3)
	assert.Equal(t, "other", sessions["s2"][0].Message)

	// Test Delete
	removed, err := s.DeleteHistory(ctx, key)
	assert.NoError(t, err)
	assert.True(t, removed)

	_, ok, err = s.History(ctx, key)
	assert.NoError(t, err)
	assert.False(t, ok)

	removed, err = s.DeleteHistory(ctx, key)
	assert.NoError(t, err)
	assert.False(t, removed)

	// Other users are untouched
	history, ok, err = s.History(ctx, store.NewKey("u2", "s1"))
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "stranger", history[0].Message)
}

func TestSqliteHistoryStore_Missing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	history, ok, err := s.History(ctx, store.NewKey("nobody", "none"))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, history)

	sessions, err := s.UserHistories(ctx, "nobody")
	assert.NoError(t, err)
	assert.Empty(t, sessions)

	assert.NoError(t, s.AppendHistory(ctx, store.NewKey("nobody", "none"), nil))
	_, ok, err = s.History(ctx, store.NewKey("nobody", "none"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSqliteHistoryStore_InMemory(t *testing.T) {
	s, err := NewSqliteHistoryStore(SqliteOptions{Path: ":memory:", TableName: "custom_history"})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	key := store.NewKey("u1", "s1")
	require.NoError(t, s.AppendHistory(ctx, key, []store.Entry{{Role: store.RoleUser, Message: "hi"}}))

	history, ok, err := s.History(ctx, key)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, history, 1)
}

func TestSqliteHistoryStore_ConcurrentAppend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := store.NewKey("u1", "s1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.AppendHistory(ctx, key, []store.Entry{
				{Role: store.RoleUser, Message: "q"},
				{Role: store.RoleBot, Message: "a"},
			})
		}()
	}
	wg.Wait()

	history, ok, err := s.History(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, history, 20)
	// Batches are never interleaved
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, store.RoleUser, history[i].Role)
		assert.Equal(t, store.RoleBot, history[i+1].Role)
	}
}

func TestSqliteHistoryStore_Closed(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, _, err := s.History(context.Background(), store.NewKey("u1", "s1"))
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}
