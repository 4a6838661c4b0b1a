package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sokoniapp/sokoni-core/internal/logging"
)

// DefaultSweepInterval is how often the background sweep runs.
const DefaultSweepInterval = time.Hour

// Sweeper runs CleanupExpired on a recurring timer. It never blocks the
// cache's callers; the sweep shares the read path's staleness predicate.
type Sweeper struct {
	cache    *DurableCache
	interval time.Duration

	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastSweep time.Time
}

// NewSweeper creates a Sweeper for the given cache.
func NewSweeper(cache *DurableCache, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		cache:    cache,
		interval: interval,
	}
}

// Start begins the periodic sweep. A second Start is a logged no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		logging.L().Debug().Msg("cache sweeper already running")
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.L().Info().Dur("interval", s.interval).Msg("cache sweeper started")
}

// Stop halts the sweep and waits for the loop to exit. Stopping a stopped
// sweeper is a no-op.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logging.L().Info().Msg("cache sweeper stopped")
}

// IsRunning reports whether the sweep loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// LastSweep returns when the last sweep completed, zero if none has.
func (s *Sweeper) LastSweep() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.cache.CleanupExpired(); err != nil {
				logging.L().Error().Err(err).Msg("cache sweep failed")
				continue
			}
			s.mu.Lock()
			s.lastSweep = time.Now()
			s.mu.Unlock()
		}
	}
}
