package cache

import "time"

// Reaper evicts idle entries synchronously. SessionMemory runs it before
// every operation so no entry outlives its TTL by more than one call.
type Reaper struct {
	Cache *Cache
	TTL   time.Duration
}

// NewReaper creates a reaper for c with the given idle threshold
func NewReaper(c *Cache, ttl time.Duration) *Reaper {
	return &Reaper{Cache: c, TTL: ttl}
}

// Reap removes every entry idle for at least TTL and returns the count removed
func (r *Reaper) Reap() int {
	return r.Cache.EvictIdle(r.TTL)
}
