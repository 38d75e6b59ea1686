package memory

import (
	"context"
	"strconv"
	"time"

	"github.com/smallnest/chatmemory/cache"
	"github.com/smallnest/chatmemory/log"
	"github.com/smallnest/chatmemory/store"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a session may stay idle in the cache
const DefaultTTL = 900 * time.Second

// SessionMemory composes the volatile cache and a persistent history store.
//
// Reads go through the cache and fall back to the store; writes land in the
// cache first and are then written through. Store failures never reach the
// caller. They are reported to the Observer and the call degrades to the
// cache alone. A session first cached while the store could not be read is
// marked stale; the next call that reaches the store rebuilds it as the
// persisted history followed by the local entries the store never accepted.
//
// Operations on the same key are serialized by a per-key lock that is
// separate from the cache's shard locks, so a slow store call holds up
// only its own session.
type SessionMemory struct {
	backing store.HistoryStore
	cache   *cache.Cache
	reaper  *cache.Reaper
	ttl     time.Duration
	now     func() time.Time

	locks   *keyLocks
	deletes generations
	fills   singleflight.Group

	metrics  *Metrics
	observer Observer
	logger   log.Logger
}

// Option configures a SessionMemory
type Option func(*SessionMemory)

// WithTTL sets the idle eviction threshold. A non-positive value disables eviction.
func WithTTL(ttl time.Duration) Option {
	return func(m *SessionMemory) {
		m.ttl = ttl
	}
}

// WithCache uses c as the volatile tier instead of a fresh cache
func WithCache(c *cache.Cache) Option {
	return func(m *SessionMemory) {
		m.cache = c
	}
}

// WithClock sets the clock of the cache created by New. It has no effect
// together with WithCache.
func WithClock(now func() time.Time) Option {
	return func(m *SessionMemory) {
		m.now = now
	}
}

// WithObserver adds an observer next to the built-in metrics and log observer
func WithObserver(o Observer) Option {
	return func(m *SessionMemory) {
		m.observer = o
	}
}

// WithLogger sets the logger used for store failures and evictions
func WithLogger(logger log.Logger) Option {
	return func(m *SessionMemory) {
		m.logger = logger
	}
}

// New creates a SessionMemory over backing
func New(backing store.HistoryStore, opts ...Option) *SessionMemory {
	m := &SessionMemory{
		backing: backing,
		ttl:     DefaultTTL,
		locks:   newKeyLocks(),
		metrics: NewMetrics(),
		logger:  log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.cache == nil {
		var cacheOpts []cache.Option
		if m.now != nil {
			cacheOpts = append(cacheOpts, cache.WithClock(m.now))
		}
		m.cache = cache.New(cacheOpts...)
	}
	m.reaper = cache.NewReaper(m.cache, m.ttl)

	observers := Observers{m.metrics, NewLogObserver(m.logger)}
	if m.observer != nil {
		observers = append(observers, m.observer)
	}
	m.observer = observers

	return m
}

// Read returns the history of one session, oldest first. It returns an
// empty slice when the session is unknown or the store is unavailable.
func (m *SessionMemory) Read(ctx context.Context, userID, sessionID string) []store.Entry {
	m.reap()
	key := store.NewKey(userID, sessionID)

	if rec, ok := m.cache.Get(key); ok {
		m.observer.CacheHit(key)
		if !rec.Stale {
			return rec.History
		}
		if history, ok := m.refresh(ctx, key); ok {
			return history
		}
		// Deleted or evicted while waiting for the key lock
	}
	m.observer.CacheMiss(key)

	gen := m.deletes.of(key)
	v, _, shared := m.fills.Do(fillKey(key), func() (any, error) {
		return m.fill(context.WithoutCancel(ctx), key), nil
	})
	res := v.(fillResult)
	// A shared fill may have read the store before a delete this caller
	// already observed.
	if shared && res.gen != gen {
		res = m.fill(ctx, key)
	}
	if res.history == nil {
		return []store.Entry{}
	}
	return store.CloneEntries(res.history)
}

// fillKey names the read-through flight of key. The user ID is length
// prefixed so that no two keys share a name.
func fillKey(key store.Key) string {
	return strconv.Itoa(len(key.UserID)) + ":" + key.UserID + key.SessionID
}

type fillResult struct {
	history []store.Entry
	gen     uint64
}

// fill loads key from the store into the cache. The cache copy wins if a
// writer got there first.
func (m *SessionMemory) fill(ctx context.Context, key store.Key) fillResult {
	unlock := m.locks.lock(key)
	defer unlock()

	gen := m.deletes.of(key)
	if rec, ok := m.cache.Get(key); ok {
		return fillResult{history: rec.History, gen: gen}
	}

	history, ok, err := m.backing.History(ctx, key)
	if err != nil {
		m.observer.StoreError("read", key, err)
		return fillResult{gen: gen}
	}
	if !ok {
		return fillResult{gen: gen}
	}

	rec, _ := m.cache.PutIfAbsent(key, history)
	return fillResult{history: rec.History, gen: gen}
}

// ReadAll returns every known session of a user. Cached sessions win over
// their persisted copies; the result is a best-effort merge, not a snapshot.
func (m *SessionMemory) ReadAll(ctx context.Context, userID string) map[string][]store.Entry {
	m.reap()

	result := make(map[string][]store.Entry)
	for _, sessionID := range m.cache.KeysForUser(userID) {
		key := store.NewKey(userID, sessionID)
		rec, ok := m.cache.Get(key)
		if !ok {
			continue
		}
		m.observer.CacheHit(key)
		if rec.Stale {
			if rec.History, ok = m.refresh(ctx, key); !ok {
				continue
			}
		}
		result[sessionID] = rec.History
	}

	before := m.deletes.snapshot()
	persisted, err := m.backing.UserHistories(ctx, userID)
	if err != nil {
		m.observer.StoreError("read_by_user", store.NewKey(userID, ""), err)
		return result
	}

	for sessionID, history := range persisted {
		if _, ok := result[sessionID]; ok {
			continue
		}
		key := store.NewKey(userID, sessionID)
		if merged, ok := m.adopt(ctx, key, history, before[stripe(key)]); ok {
			result[sessionID] = merged
		}
	}

	return result
}

// adopt caches a history read by ReadAll. If a delete may have completed
// since the store call began, the session is read again instead.
func (m *SessionMemory) adopt(ctx context.Context, key store.Key, history []store.Entry, gen uint64) ([]store.Entry, bool) {
	unlock := m.locks.lock(key)
	defer unlock()

	if rec, ok := m.rehydrate(ctx, key); ok {
		return rec.History, true
	}

	if m.deletes.of(key) != gen {
		fresh, ok, err := m.backing.History(ctx, key)
		if err != nil {
			m.observer.StoreError("read", key, err)
			return nil, false
		}
		if !ok {
			return nil, false
		}
		history = fresh
	}

	rec, _ := m.cache.PutIfAbsent(key, history)
	return rec.History, true
}

// Append adds entries to a session in order. The cache is updated before
// the store; a store failure is reported to the observer and otherwise
// ignored, so the entries stay visible for the life of the process.
func (m *SessionMemory) Append(ctx context.Context, userID, sessionID string, entries ...store.Entry) {
	m.reap()
	if len(entries) == 0 {
		return
	}
	key := store.NewKey(userID, sessionID)

	unlock := m.locks.lock(key)
	defer unlock()

	// Hydrate first so the cache never holds less than the store. When the
	// store cannot be read the entry is marked stale and rebuilt on a later
	// call that reaches the store.
	stale := false
	if m.cache.Touch(key) {
		m.rehydrate(ctx, key)
	} else {
		history, ok, err := m.backing.History(ctx, key)
		switch {
		case err != nil:
			m.observer.StoreError("read", key, err)
			stale = true
		case ok:
			m.cache.PutIfAbsent(key, history)
		}
	}

	m.cache.Append(key, entries...)
	if stale {
		m.cache.MarkStale(key)
	}

	if err := m.backing.AppendHistory(ctx, key, entries); err != nil {
		m.observer.StoreError("append", key, err)
		m.cache.KeepUnsaved(key, entries...)
	}
}

// refresh rehydrates a stale key under its lock and returns the cached
// history. It reports false when the key is no longer cached.
func (m *SessionMemory) refresh(ctx context.Context, key store.Key) ([]store.Entry, bool) {
	unlock := m.locks.lock(key)
	defer unlock()

	rec, ok := m.rehydrate(ctx, key)
	return rec.History, ok
}

// rehydrate rebuilds a stale cached key from the store. A fresh key is
// returned as is, and a key the store still cannot serve stays stale.
// The caller holds the key lock.
func (m *SessionMemory) rehydrate(ctx context.Context, key store.Key) (cache.Record, bool) {
	rec, ok := m.cache.Get(key)
	if !ok || !rec.Stale {
		return rec, ok
	}

	history, _, err := m.backing.History(ctx, key)
	if err != nil {
		m.observer.StoreError("read", key, err)
		return rec, true
	}
	return m.cache.Rehydrate(key, history)
}

// AppendExchange records one question and its answer
func (m *SessionMemory) AppendExchange(ctx context.Context, userID, sessionID, question, answer string) {
	m.Append(ctx, userID, sessionID,
		store.Entry{Role: store.RoleUser, Message: question},
		store.Entry{Role: store.RoleBot, Message: answer},
	)
}

// Delete removes a session from both tiers. It reports whether the store
// removed a record; a store failure reports false. Delete and Append on
// the same key are serialized, so whichever takes the key lock last wins.
func (m *SessionMemory) Delete(ctx context.Context, userID, sessionID string) bool {
	m.reap()
	key := store.NewKey(userID, sessionID)

	unlock := m.locks.lock(key)
	defer unlock()

	m.cache.Delete(key)
	removed, err := m.backing.DeleteHistory(ctx, key)
	m.deletes.bump(key)
	if err != nil {
		m.observer.StoreError("delete", key, err)
		return false
	}
	return removed
}

// Formatted renders the history of a session as "<Role>: <message>" lines
func (m *SessionMemory) Formatted(ctx context.Context, userID, sessionID string) []string {
	history := m.Read(ctx, userID, sessionID)
	lines := make([]string, len(history))
	for i, e := range history {
		lines[i] = e.Format()
	}
	return lines
}

// Stats describes the cache and the observed events
type Stats struct {
	CachedSessions int
	TTL            time.Duration
	MetricsSnapshot
}

// Stats returns the current cache size and counters
func (m *SessionMemory) Stats() Stats {
	return Stats{
		CachedSessions:  m.cache.Len(),
		TTL:             m.ttl,
		MetricsSnapshot: m.metrics.Snapshot(),
	}
}

// NewSweeper returns a background sweeper over this memory's cache.
// Evictions it makes are reported like lazy ones.
func (m *SessionMemory) NewSweeper(interval time.Duration) *cache.Sweeper {
	return cache.NewSweeper(m.reaper, interval,
		cache.WithSweepLogger(m.logger),
		cache.WithSweepCallback(func(removed int) {
			if removed > 0 {
				m.observer.Evicted(removed)
			}
		}),
	)
}

// Close closes the backing store
func (m *SessionMemory) Close() error {
	return m.backing.Close()
}

func (m *SessionMemory) reap() {
	if n := m.reaper.Reap(); n > 0 {
		m.observer.Evicted(n)
	}
}
