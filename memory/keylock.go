package memory

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/smallnest/chatmemory/store"
)

// keyLocks hands out one mutex per live key. Entries are dropped once the
// last holder releases them, so the map only grows with concurrency.
type keyLocks struct {
	mu    sync.Mutex
	locks map[store.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[store.Key]*keyLock)}
}

// lock blocks until key is held and returns the matching unlock
func (k *keyLocks) lock(key store.Key) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

const generationStripes = 256

// generations counts completed deletes per key stripe. Readers compare
// counters across a store call to detect a delete that raced with it;
// a collision only costs one extra store read.
type generations [generationStripes]atomic.Uint64

func stripe(key store.Key) int {
	return int(xxhash.Sum64String(key.UserID+"\x00"+key.SessionID) % generationStripes)
}

func (g *generations) of(key store.Key) uint64 {
	return g[stripe(key)].Load()
}

func (g *generations) bump(key store.Key) {
	g[stripe(key)].Add(1)
}

func (g *generations) snapshot() [generationStripes]uint64 {
	var out [generationStripes]uint64
	for i := range g {
		out[i] = g[i].Load()
	}
	return out
}
