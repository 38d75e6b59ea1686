// Package cache provides the volatile, process-local tier of session memory.
//
// A Cache maps a store.Key to an ordered history plus a last-access time.
// Keys are spread over independently locked shards so that operations on
// different sessions do not contend. Idle entries are removed by EvictIdle,
// which the Reaper runs before every facade operation and the Sweeper may
// run on a timer.
package cache

import (
	"math/bits"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/smallnest/chatmemory/store"
)

// DefaultShards is the shard count used when WithShards is not given
const DefaultShards = 32

// Record is a point-in-time copy of one cached session
type Record struct {
	Key     store.Key
	History []store.Entry
	// Stale is set when the history was started without the persisted
	// entries, because the persistent tier could not be read.
	Stale bool
}

type item struct {
	history    []store.Entry
	lastAccess time.Time

	stale   bool
	unsaved []store.Entry // entries of a stale item the store did not accept
}

type shard struct {
	mu    sync.Mutex
	items map[store.Key]*item
}

// Cache is safe for concurrent use
type Cache struct {
	shards []*shard
	mask   uint64
	now    func() time.Time
}

// Option configures a Cache
type Option func(*Cache)

// WithShards sets the number of shards, rounded up to a power of two
func WithShards(n int) Option {
	return func(c *Cache) {
		if n < 1 {
			n = 1
		}
		size := 1 << bits.Len(uint(n-1))
		c.shards = make([]*shard, size)
	}
}

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache
func New(opts ...Option) *Cache {
	c := &Cache{
		shards: make([]*shard, DefaultShards),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[store.Key]*item)}
	}
	c.mask = uint64(len(c.shards) - 1)
	return c
}

func (c *Cache) shardFor(key store.Key) *shard {
	h := xxhash.Sum64String(key.UserID + "\x00" + key.SessionID)
	return c.shards[h&c.mask]
}

func (c *Cache) record(key store.Key, it *item) Record {
	return Record{Key: key, History: store.CloneEntries(it.history), Stale: it.stale}
}

// Get returns a copy of the cached history and refreshes its last access
func (c *Cache) Get(key store.Key) (Record, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		return Record{}, false
	}
	it.lastAccess = c.now()
	return c.record(key, it), true
}

// Put replaces the cached history of key
func (c *Cache) Put(key store.Key, history []store.Entry) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = &item{
		history:    store.CloneEntries(history),
		lastAccess: c.now(),
	}
}

// PutIfAbsent stores history only when key is not cached. It returns the
// record now cached and whether history was the one stored. A fill from the
// persistent tier never overwrites a newer working copy.
func (c *Cache) PutIfAbsent(key store.Key, history []store.Entry) (Record, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := c.now()
	if it, ok := s.items[key]; ok {
		it.lastAccess = now
		return c.record(key, it), false
	}
	it := &item{
		history:    store.CloneEntries(history),
		lastAccess: now,
	}
	s.items[key] = it
	return c.record(key, it), true
}

// Append adds entries to the end of the cached history, creating it if absent
func (c *Cache) Append(key store.Key, entries ...store.Entry) Record {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		it = &item{}
		s.items[key] = it
	}
	it.history = append(it.history, entries...)
	it.lastAccess = c.now()
	return c.record(key, it)
}

// Touch refreshes the last access of key and reports whether it is cached
func (c *Cache) Touch(key store.Key) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if ok {
		it.lastAccess = c.now()
	}
	return ok
}

// MarkStale flags key as missing its persisted history and reports
// whether key is cached
func (c *Cache) MarkStale(key store.Key) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if ok {
		it.stale = true
	}
	return ok
}

// KeepUnsaved records entries of a stale key that could not be persisted, so
// that Rehydrate keeps them. It does nothing for a key that is not stale.
func (c *Cache) KeepUnsaved(key store.Key, entries ...store.Entry) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if it, ok := s.items[key]; ok && it.stale {
		it.unsaved = append(it.unsaved, entries...)
	}
}

// Rehydrate rebuilds a stale key from persisted, the history just read from
// the persistent tier, followed by the entries kept with KeepUnsaved. A key
// that is not stale keeps its history. It returns the cached record and
// false when key is not cached.
func (c *Cache) Rehydrate(key store.Key, persisted []store.Entry) (Record, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		return Record{}, false
	}
	if it.stale {
		history := make([]store.Entry, 0, len(persisted)+len(it.unsaved))
		history = append(history, persisted...)
		history = append(history, it.unsaved...)
		it.history = history
		it.stale = false
		it.unsaved = nil
	}
	it.lastAccess = c.now()
	return c.record(key, it), true
}

// Delete removes key and reports whether it was cached
func (c *Cache) Delete(key store.Key) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.items[key]
	delete(s.items, key)
	return ok
}

// KeysForUser lists the cached session IDs of a user. Shards are visited one
// at a time, so the result is point-in-time per shard only.
func (c *Cache) KeysForUser(userID string) []string {
	var sessions []string
	for _, s := range c.shards {
		s.mu.Lock()
		for key := range s.items {
			if key.UserID == userID {
				sessions = append(sessions, key.SessionID)
			}
		}
		s.mu.Unlock()
	}
	return sessions
}

// EvictIdle removes every entry idle for at least ttl and returns how many
// were removed. A non-positive ttl disables eviction.
func (c *Cache) EvictIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		now := c.now()
		for key, it := range s.items {
			if now.Sub(it.lastAccess) >= ttl {
				delete(s.items, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of cached sessions
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}
