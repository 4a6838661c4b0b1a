package cache

import (
	"context"
	"testing"
	"time"

	"github.com/sokoniapp/sokoni-core/internal/models"
)

// TestSweeperLifecycle tests idempotent start/stop transitions.
func TestSweeperLifecycle(t *testing.T) {
	c := setupCache(t)
	s := NewSweeper(c, time.Hour)

	if s.IsRunning() {
		t.Error("Expected sweeper stopped before Start")
	}

	s.Start(context.Background())
	if !s.IsRunning() {
		t.Error("Expected sweeper running after Start")
	}

	// Second Start is a no-op
	s.Start(context.Background())
	if !s.IsRunning() {
		t.Error("Expected sweeper still running after redundant Start")
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("Expected sweeper stopped after Stop")
	}

	// Second Stop is a no-op
	s.Stop()
	if s.IsRunning() {
		t.Error("Expected sweeper still stopped after redundant Stop")
	}
}

// TestSweeperRestart tests that a stopped sweeper can be started again.
func TestSweeperRestart(t *testing.T) {
	c := setupCache(t)
	s := NewSweeper(c, time.Hour)

	s.Start(context.Background())
	s.Stop()
	s.Start(context.Background())
	defer s.Stop()

	if !s.IsRunning() {
		t.Error("Expected sweeper running after restart")
	}
}

// TestSweeperEvicts tests that the timer actually drives the sweep.
func TestSweeperEvicts(t *testing.T) {
	c := setupCache(t)

	if err := c.WritePriceQuote(&models.PriceQuote{Commodity: "maize", PricePerUnit: 50}); err != nil {
		t.Fatalf("WritePriceQuote failed: %v", err)
	}
	// Move the cache clock past the quote's deadline so the next sweep
	// sees it as stale.
	advanceClock(c, models.PriceQuoteTTL+time.Minute)

	s := NewSweeper(c, 20*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for s.LastSweep().IsZero() {
		select {
		case <-deadline:
			t.Fatal("Expected at least one sweep to complete")
		case <-time.After(10 * time.Millisecond):
		}
	}

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["price_quotes"] != 0 {
		t.Errorf("Expected expired quote swept, counts: %v", stats)
	}
}

// TestSweeperDefaultInterval tests the fallback when no interval is given.
func TestSweeperDefaultInterval(t *testing.T) {
	c := setupCache(t)
	s := NewSweeper(c, 0)

	if s.interval != DefaultSweepInterval {
		t.Errorf("Expected default interval %v, got %v", DefaultSweepInterval, s.interval)
	}
}

// TestSweeperContextCancel tests that cancelling the context stops the loop.
func TestSweeperContextCancel(t *testing.T) {
	c := setupCache(t)
	s := NewSweeper(c, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	// The loop exits on ctx.Done; Stop must still return promptly.
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}
