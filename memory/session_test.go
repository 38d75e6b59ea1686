package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallnest/chatmemory/log"
	"github.com/smallnest/chatmemory/store"
	memstore "github.com/smallnest/chatmemory/store/memory"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingStore fails every call
type failingStore struct{}

var errDown = store.Unavailable("dial", errors.New("connection refused"))

func (failingStore) AppendHistory(context.Context, store.Key, []store.Entry) error { return errDown }
func (failingStore) History(context.Context, store.Key) ([]store.Entry, bool, error) {
	return nil, false, errDown
}
func (failingStore) UserHistories(context.Context, string) (map[string][]store.Entry, error) {
	return nil, errDown
}
func (failingStore) DeleteHistory(context.Context, store.Key) (bool, error) { return false, errDown }
func (failingStore) Close() error                                          { return nil }

// hookStore runs a hook after UserHistories has read its result
type hookStore struct {
	*memstore.MemoryHistoryStore
	afterUserHistories func()
}

func (h *hookStore) UserHistories(ctx context.Context, userID string) (map[string][]store.Entry, error) {
	res, err := h.MemoryHistoryStore.UserHistories(ctx, userID)
	if h.afterUserHistories != nil {
		h.afterUserHistories()
	}
	return res, err
}

// flakyStore fails every call while down is set
type flakyStore struct {
	*memstore.MemoryHistoryStore
	down atomic.Bool
}

func (f *flakyStore) AppendHistory(ctx context.Context, key store.Key, entries []store.Entry) error {
	if f.down.Load() {
		return errDown
	}
	return f.MemoryHistoryStore.AppendHistory(ctx, key, entries)
}

func (f *flakyStore) History(ctx context.Context, key store.Key) ([]store.Entry, bool, error) {
	if f.down.Load() {
		return nil, false, errDown
	}
	return f.MemoryHistoryStore.History(ctx, key)
}

func (f *flakyStore) UserHistories(ctx context.Context, userID string) (map[string][]store.Entry, error) {
	if f.down.Load() {
		return nil, errDown
	}
	return f.MemoryHistoryStore.UserHistories(ctx, userID)
}

// gateStore holds History for one key until release is closed
type gateStore struct {
	*memstore.MemoryHistoryStore
	gated   store.Key
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gateStore) History(ctx context.Context, key store.Key) ([]store.Entry, bool, error) {
	if key == g.gated {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.MemoryHistoryStore.History(ctx, key)
}

// recordingObserver keeps the store failures it saw
type recordingObserver struct {
	NopObserver
	mu  sync.Mutex
	ops []string
}

func (r *recordingObserver) StoreError(op string, _ store.Key, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if errors.Is(err, store.ErrUnavailable) {
		r.ops = append(r.ops, op)
	}
}

func (r *recordingObserver) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func quiet() Option {
	return WithLogger(&log.NoOpLogger{})
}

func user(msg string) store.Entry { return store.Entry{Role: store.RoleUser, Message: msg} }
func bot(msg string) store.Entry  { return store.Entry{Role: store.RoleBot, Message: msg} }

func TestSessionMemory_Scenario(t *testing.T) {
	ctx := context.Background()
	backing := memstore.NewMemoryHistoryStore()
	m := New(backing, quiet())

	m.Append(ctx, "u1", "s1", user("hi"), bot("hello"))

	assert.Equal(t, []store.Entry{user("hi"), bot("hello")}, m.Read(ctx, "u1", "s1"))
	assert.Equal(t, []string{"User: hi", "Bot: hello"}, m.Formatted(ctx, "u1", "s1"))

	assert.True(t, m.Delete(ctx, "u1", "s1"))
	assert.Equal(t, []store.Entry{}, m.Read(ctx, "u1", "s1"))
	assert.False(t, m.Delete(ctx, "u1", "s1"))
}

func TestSessionMemory_ReadThrough(t *testing.T) {
	ctx := context.Background()
	backing := memstore.NewMemoryHistoryStore()
	key := store.NewKey("u1", "s1")
	require.NoError(t, backing.AppendHistory(ctx, key, []store.Entry{user("persisted")}))

	m := New(backing, quiet())

	assert.Equal(t, []store.Entry{user("persisted")}, m.Read(ctx, "u1", "s1"))
	assert.Equal(t, []store.Entry{user("persisted")}, m.Read(ctx, "u1", "s1"))

	stats := m.Stats()
	assert.Equal(t, 1, stats.CachedSessions)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)
	assert.InDelta(t, 0.5, stats.HitRate(), 0.001)

	// Unknown sessions stay uncached
	assert.Empty(t, m.Read(ctx, "u1", "unknown"))
	assert.Equal(t, 1, m.Stats().CachedSessions)
}

func TestSessionMemory_ReadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := New(memstore.NewMemoryHistoryStore(), quiet())
	m.Append(ctx, "u1", "s1", user("hi"))

	history := m.Read(ctx, "u1", "s1")
	history[0].Message = "changed"

	assert.Equal(t, "hi", m.Read(ctx, "u1", "s1")[0].Message)
}

func TestSessionMemory_OrderPreservedOverPersistedHistory(t *testing.T) {
	ctx := context.Background()
	backing := memstore.NewMemoryHistoryStore()
	key := store.NewKey("u1", "s1")
	require.NoError(t, backing.AppendHistory(ctx, key, []store.Entry{user("a"), bot("b")}))

	m := New(backing, quiet())
	m.Append(ctx, "u1", "s1", user("c"))
	m.Append(ctx, "u1", "s1", bot("d"), user("e"))

	want := []store.Entry{user("a"), bot("b"), user("c"), bot("d"), user("e")}
	assert.Equal(t, want, m.Read(ctx, "u1", "s1"))

	persisted, ok, err := backing.History(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, persisted)
}

func TestSessionMemory_ReadAllCacheWins(t *testing.T) {
	ctx := context.Background()
	backing := memstore.NewMemoryHistoryStore()
	m := New(backing, quiet())

	m.Append(ctx, "u1", "cached", user("from cache"))
	// The store diverges behind the cache's back
	require.NoError(t, backing.AppendHistory(ctx, store.NewKey("u1", "cached"), []store.Entry{bot("store only")}))
	require.NoError(t, backing.AppendHistory(ctx, store.NewKey("u1", "cold"), []store.Entry{user("cold")}))
	require.NoError(t, backing.AppendHistory(ctx, store.NewKey("u2", "other"), []store.Entry{user("other")}))

	all := m.ReadAll(ctx, "u1")
	assert.Len(t, all, 2)
	assert.Equal(t, []store.Entry{user("from cache")}, all["cached"])
	assert.Equal(t, []store.Entry{user("cold")}, all["cold"])

	// Sessions merged from the store are now cached
	assert.Equal(t, 2, m.Stats().CachedSessions)

	assert.Empty(t, m.ReadAll(ctx, "nobody"))
}

func TestSessionMemory_ReadAllSkipsSessionsDeletedMeanwhile(t *testing.T) {
	ctx := context.Background()
	backing := &hookStore{MemoryHistoryStore: memstore.NewMemoryHistoryStore()}
	m := New(backing, quiet())

	require.NoError(t, backing.AppendHistory(ctx, store.NewKey("u1", "s1"), []store.Entry{user("doomed")}))
	require.NoError(t, backing.AppendHistory(ctx, store.NewKey("u1", "s2"), []store.Entry{user("kept")}))

	backing.afterUserHistories = func() {
		backing.afterUserHistories = nil
		assert.True(t, m.Delete(ctx, "u1", "s1"))
	}

	all := m.ReadAll(ctx, "u1")
	assert.NotContains(t, all, "s1")
	assert.Equal(t, []store.Entry{user("kept")}, all["s2"])

	// The stale copy was not cached either
	assert.Empty(t, m.Read(ctx, "u1", "s1"))
}

func TestSessionMemory_TTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ttl := 15 * time.Minute
	m := New(memstore.NewMemoryHistoryStore(), WithTTL(ttl), WithClock(clock.Now), quiet())

	m.Append(ctx, "u1", "s1", user("hi"))

	clock.Advance(ttl - time.Nanosecond)
	m.Read(ctx, "u1", "s1")
	assert.Equal(t, int64(1), m.Stats().Hits, "accessed just before ttl stays cached")

	clock.Advance(ttl)
	m.ReadAll(ctx, "someone-else")
	stats := m.Stats()
	assert.Equal(t, 0, stats.CachedSessions)
	assert.Equal(t, int64(1), stats.Evictions)

	// The persisted copy is still readable
	assert.Equal(t, []store.Entry{user("hi")}, m.Read(ctx, "u1", "s1"))
}

func TestSessionMemory_DeleteCompleteness(t *testing.T) {
	ctx := context.Background()
	backing := memstore.NewMemoryHistoryStore()
	m := New(backing, quiet())

	m.Append(ctx, "u1", "s1", user("hi"), bot("hello"))
	require.True(t, m.Delete(ctx, "u1", "s1"))

	assert.Empty(t, m.Read(ctx, "u1", "s1"))
	_, ok, err := backing.History(ctx, store.NewKey("u1", "s1"))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NotContains(t, m.ReadAll(ctx, "u1"), "s1")

	// Writing after a delete starts a fresh history
	m.Append(ctx, "u1", "s1", user("again"))
	assert.Equal(t, []store.Entry{user("again")}, m.Read(ctx, "u1", "s1"))
}

func TestSessionMemory_DegradesWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	m := New(failingStore{}, WithObserver(obs), quiet())

	assert.Empty(t, m.Read(ctx, "u1", "s1"))

	m.Append(ctx, "u1", "s1", user("hi"), bot("hello"))
	assert.Equal(t, []store.Entry{user("hi"), bot("hello")}, m.Read(ctx, "u1", "s1"))

	all := m.ReadAll(ctx, "u1")
	assert.Equal(t, []store.Entry{user("hi"), bot("hello")}, all["s1"])

	assert.False(t, m.Delete(ctx, "u1", "s1"))
	assert.Empty(t, m.Read(ctx, "u1", "s1"), "the cache side of a delete always happens")

	// Reads of the stale session keep retrying the store
	assert.Equal(t, []string{"read", "read", "append", "read", "read", "read_by_user", "delete", "read"}, obs.seen())

	errs := m.Stats().StoreErrors
	assert.Equal(t, int64(5), errs["read"])
	assert.Equal(t, int64(1), errs["append"])
}

func TestSessionMemory_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	backing := memstore.NewMemoryHistoryStore()
	m := New(backing, quiet())

	const n = 100
	var wg conc.WaitGroup
	for i := 0; i < n; i++ {
		wg.Go(func() {
			m.Append(ctx, "u1", "s1", user(fmt.Sprintf("msg-%d", i)))
		})
	}
	wg.Wait()

	cached := m.Read(ctx, "u1", "s1")
	assert.Len(t, cached, n)

	persisted, _, err := backing.History(ctx, store.NewKey("u1", "s1"))
	require.NoError(t, err)
	// Both tiers saw the appends in the same order
	assert.Equal(t, cached, persisted)
}

func TestSessionMemory_ConcurrentReadsShareOneFill(t *testing.T) {
	ctx := context.Background()
	backing := memstore.NewMemoryHistoryStore()
	require.NoError(t, backing.AppendHistory(ctx, store.NewKey("u1", "s1"), []store.Entry{user("hi")}))
	m := New(backing, quiet())

	var wg conc.WaitGroup
	results := make([][]store.Entry, 20)
	for i := range results {
		wg.Go(func() {
			results[i] = m.Read(ctx, "u1", "s1")
		})
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, []store.Entry{user("hi")}, r)
	}
	assert.Equal(t, 1, m.Stats().CachedSessions)
}

func TestSessionMemory_DeleteAppendRaceConverges(t *testing.T) {
	ctx := context.Background()
	backing := memstore.NewMemoryHistoryStore()
	m := New(backing, quiet())

	var wg conc.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Go(func() {
			m.Append(ctx, "u1", "s1", user("x"))
		})
		wg.Go(func() {
			m.Delete(ctx, "u1", "s1")
		})
	}
	wg.Wait()

	persisted, _, err := backing.History(ctx, store.NewKey("u1", "s1"))
	require.NoError(t, err)
	assert.Equal(t, store.CloneEntries(persisted), nonNil(m.Read(ctx, "u1", "s1")))
}

func nonNil(entries []store.Entry) []store.Entry {
	if len(entries) == 0 {
		return nil
	}
	return entries
}

func TestSessionMemory_AppendExchange(t *testing.T) {
	ctx := context.Background()
	m := New(memstore.NewMemoryHistoryStore(), quiet())

	m.AppendExchange(ctx, "u1", "s1", "What is Go?", "A programming language.")
	assert.Equal(t, []string{"User: What is Go?", "Bot: A programming language."}, m.Formatted(ctx, "u1", "s1"))

	// Empty appends are ignored
	m.Append(ctx, "u1", "s1")
	assert.Len(t, m.Read(ctx, "u1", "s1"), 2)
}

func TestSessionMemory_Sweeper(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := New(memstore.NewMemoryHistoryStore(), WithTTL(time.Minute), WithClock(clock.Now), quiet())

	m.Append(ctx, "u1", "s1", user("hi"))
	clock.Advance(time.Hour)

	sweeper := m.NewSweeper(time.Millisecond)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	assert.Eventually(t, func() bool {
		return m.Stats().Evictions == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, m.Stats().CachedSessions)
}

func TestSessionMemory_ReadsOfLookalikeKeysDoNotShareAFill(t *testing.T) {
	ctx := context.Background()
	backing := memstore.NewMemoryHistoryStore()
	first := store.NewKey("a", "b\x00c")
	require.NoError(t, backing.AppendHistory(ctx, first, []store.Entry{user("only for a")}))

	gs := &gateStore{
		MemoryHistoryStore: backing,
		gated:              first,
		entered:            make(chan struct{}),
		release:            make(chan struct{}),
	}
	m := New(gs, quiet())

	var wg conc.WaitGroup
	var firstRead []store.Entry
	wg.Go(func() {
		firstRead = m.Read(ctx, first.UserID, first.SessionID)
	})
	<-gs.entered

	second := make(chan []store.Entry, 1)
	go func() {
		second <- m.Read(ctx, "a\x00b", "c")
	}()

	select {
	case got := <-second:
		assert.Empty(t, got)
	case <-time.After(2 * time.Second):
		close(gs.release)
		wg.Wait()
		t.Fatalf("read of (a\\x00b, c) waited on the fill of (a, b\\x00c) and got %v", <-second)
	}

	close(gs.release)
	wg.Wait()
	assert.Equal(t, []store.Entry{user("only for a")}, firstRead)
}

func TestFillKey(t *testing.T) {
	assert.NotEqual(t,
		fillKey(store.NewKey("a", "b\x00c")),
		fillKey(store.NewKey("a\x00b", "c")))
	assert.NotEqual(t,
		fillKey(store.NewKey("ab", "c")),
		fillKey(store.NewKey("a", "bc")))
	assert.Equal(t, fillKey(store.NewKey("u1", "s1")), fillKey(store.NewKey("u1", "s1")))
}

func TestSessionMemory_AppendDuringOutageKeepsPersistedHistory(t *testing.T) {
	ctx := context.Background()
	backing := &flakyStore{MemoryHistoryStore: memstore.NewMemoryHistoryStore()}
	key := store.NewKey("u1", "s1")
	require.NoError(t, backing.MemoryHistoryStore.AppendHistory(ctx, key, []store.Entry{user("old1"), bot("old2")}))
	m := New(backing, quiet())

	backing.down.Store(true)
	m.Append(ctx, "u1", "s1", user("during-outage"))
	assert.Equal(t, []store.Entry{user("during-outage")}, m.Read(ctx, "u1", "s1"),
		"while the store is down only the local entries are known")

	backing.down.Store(false)
	m.Append(ctx, "u1", "s1", user("after-recovery"))

	persisted, _, err := backing.History(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []store.Entry{user("old1"), bot("old2"), user("after-recovery")}, persisted)

	got := m.Read(ctx, "u1", "s1")
	assert.Equal(t, []store.Entry{user("old1"), bot("old2"), user("during-outage"), user("after-recovery")}, got)
	for _, e := range persisted {
		assert.Contains(t, got, e)
	}
}

func TestSessionMemory_ReadAfterOutageRebuildsStaleSession(t *testing.T) {
	ctx := context.Background()
	backing := &flakyStore{MemoryHistoryStore: memstore.NewMemoryHistoryStore()}
	require.NoError(t, backing.MemoryHistoryStore.AppendHistory(ctx, store.NewKey("u1", "s1"), []store.Entry{user("old")}))
	m := New(backing, quiet())

	backing.down.Store(true)
	m.Append(ctx, "u1", "s1", bot("lost-write"))
	backing.down.Store(false)

	assert.Equal(t, []store.Entry{user("old"), bot("lost-write")}, m.Read(ctx, "u1", "s1"))
	assert.Equal(t, []store.Entry{user("old"), bot("lost-write")}, m.ReadAll(ctx, "u1")["s1"])

	// The rebuild happens once; the store is not read again on a hit
	backing.down.Store(true)
	assert.Equal(t, []store.Entry{user("old"), bot("lost-write")}, m.Read(ctx, "u1", "s1"))
	assert.Equal(t, int64(1), m.Stats().StoreErrors["read"], "only the hydrate during the outage failed")
}

func TestSessionMemory_ReadAllRebuildsStaleSession(t *testing.T) {
	ctx := context.Background()
	backing := &flakyStore{MemoryHistoryStore: memstore.NewMemoryHistoryStore()}
	require.NoError(t, backing.MemoryHistoryStore.AppendHistory(ctx, store.NewKey("u1", "s1"), []store.Entry{user("old")}))
	m := New(backing, quiet())

	backing.down.Store(true)
	m.Append(ctx, "u1", "s1", user("new"))
	backing.down.Store(false)

	all := m.ReadAll(ctx, "u1")
	assert.Equal(t, []store.Entry{user("old"), user("new")}, all["s1"])
}
