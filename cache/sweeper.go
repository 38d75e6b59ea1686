package cache

import (
	"context"
	"sync"
	"time"

	"github.com/smallnest/chatmemory/log"
	"github.com/sourcegraph/conc"
)

// Sweeper runs a Reaper on a fixed interval. It only bounds memory held by
// sessions nobody touches; lazy reaping already gives the same observable
// expiry.
type Sweeper struct {
	reaper   *Reaper
	interval time.Duration
	onSweep  func(removed int)
	logger   log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      conc.WaitGroup
	running bool
}

// SweeperOption configures a Sweeper
type SweeperOption func(*Sweeper)

// WithSweepCallback is called after every sweep with the number of entries removed
func WithSweepCallback(fn func(removed int)) SweeperOption {
	return func(s *Sweeper) {
		s.onSweep = fn
	}
}

// WithSweepLogger sets the logger; the default discards output
func WithSweepLogger(logger log.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// NewSweeper creates a sweeper that runs reaper every interval
func NewSweeper(reaper *Reaper, interval time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		reaper:   reaper,
		interval: interval,
		logger:   &log.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins periodic sweeping until ctx is done or Stop is called.
// Starting a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.interval <= 0 {
		return
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Go(func() {
		s.run(sweepCtx)
	})
}

// Stop cancels the sweep loop and waits for it to exit
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// IsRunning reports whether the sweep loop is active
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("cache sweeper started, interval %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("cache sweeper stopping")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	removed := s.reaper.Reap()
	if removed > 0 {
		s.logger.Info("evicted %d idle sessions", removed)
	}
	if s.onSweep != nil {
		s.onSweep(removed)
	}
}
