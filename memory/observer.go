package memory

import (
	"sync"

	"github.com/smallnest/chatmemory/log"
	"github.com/smallnest/chatmemory/store"
)

// Observer receives the events SessionMemory does not surface to callers.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	CacheHit(key store.Key)
	CacheMiss(key store.Key)
	Evicted(n int)
	// StoreError reports a persistent tier failure. op is one of
	// "read", "read_by_user", "append" or "delete".
	StoreError(op string, key store.Key, err error)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) CacheHit(store.Key)                  {}
func (NopObserver) CacheMiss(store.Key)                 {}
func (NopObserver) Evicted(int)                         {}
func (NopObserver) StoreError(string, store.Key, error) {}

// LogObserver writes store failures and evictions to a Logger
type LogObserver struct {
	Logger log.Logger
}

// NewLogObserver creates a LogObserver
func NewLogObserver(logger log.Logger) *LogObserver {
	return &LogObserver{Logger: logger}
}

func (o *LogObserver) CacheHit(key store.Key) {
	o.Logger.Debug("cache hit %s", key)
}

func (o *LogObserver) CacheMiss(key store.Key) {
	o.Logger.Debug("cache miss %s", key)
}

func (o *LogObserver) Evicted(n int) {
	o.Logger.Debug("evicted %d idle sessions", n)
}

func (o *LogObserver) StoreError(op string, key store.Key, err error) {
	o.Logger.Warn("history store %s failed for %s, serving from cache: %v", op, key, err)
}

// Observers fans every event out to each member in order
type Observers []Observer

func (obs Observers) CacheHit(key store.Key) {
	for _, o := range obs {
		o.CacheHit(key)
	}
}

func (obs Observers) CacheMiss(key store.Key) {
	for _, o := range obs {
		o.CacheMiss(key)
	}
}

func (obs Observers) Evicted(n int) {
	for _, o := range obs {
		o.Evicted(n)
	}
}

func (obs Observers) StoreError(op string, key store.Key, err error) {
	for _, o := range obs {
		o.StoreError(op, key, err)
	}
}

// Metrics counts observer events
type Metrics struct {
	mu sync.RWMutex

	hits        int64
	misses      int64
	evictions   int64
	storeErrors map[string]int64
}

// MetricsSnapshot is a copy of the counters at one point in time
type MetricsSnapshot struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	StoreErrors map[string]int64 // by operation
}

// NewMetrics creates zeroed counters
func NewMetrics() *Metrics {
	return &Metrics{storeErrors: make(map[string]int64)}
}

func (m *Metrics) CacheHit(store.Key) {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

func (m *Metrics) CacheMiss(store.Key) {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

func (m *Metrics) Evicted(n int) {
	m.mu.Lock()
	m.evictions += int64(n)
	m.mu.Unlock()
}

func (m *Metrics) StoreError(op string, _ store.Key, _ error) {
	m.mu.Lock()
	m.storeErrors[op]++
	m.mu.Unlock()
}

// Snapshot returns the current counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	errs := make(map[string]int64, len(m.storeErrors))
	for op, n := range m.storeErrors {
		errs[op] = n
	}
	return MetricsSnapshot{
		Hits:        m.hits,
		Misses:      m.misses,
		Evictions:   m.evictions,
		StoreErrors: errs,
	}
}

// HitRate returns hits / (hits + misses), or 0 before any lookup
func (s MetricsSnapshot) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
