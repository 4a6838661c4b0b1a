// Package netprobe provides unit tests for the link-quality sampler.
package netprobe

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sokoniapp/sokoni-core/internal/connectivity"
	"github.com/sokoniapp/sokoni-core/internal/events"
	"github.com/sokoniapp/sokoni-core/internal/models"
)

func newTestSampler(online bool, probeURL string) (*Sampler, *connectivity.Monitor) {
	monitor := connectivity.NewMonitor(online)
	s := New(monitor, nil, Config{
		ProbeURL:     probeURL,
		ProbeTimeout: 2 * time.Second,
	})
	return s, monitor
}

// seed injects measurements directly into the history, oldest first.
func seed(s *Sampler, speeds ...float64) {
	for _, kbps := range speeds {
		s.record(models.Measurement{SpeedKbps: kbps, Timestamp: time.Now()})
	}
}

// TestMeasureOnceOffline tests the offline sentinel: zero speed, infinite
// latency, never an error.
func TestMeasureOnceOffline(t *testing.T) {
	s, _ := newTestSampler(false, "http://unreachable.invalid/probe")

	m := s.MeasureOnce(context.Background())

	if m.SpeedKbps != 0 {
		t.Errorf("Expected zero speed offline, got %v", m.SpeedKbps)
	}
	if !math.IsInf(m.LatencyMs, 1) {
		t.Errorf("Expected infinite latency offline, got %v", m.LatencyMs)
	}
	if len(s.History()) != 1 {
		t.Errorf("Expected offline sample recorded, history len %d", len(s.History()))
	}
}

// TestOfflineMeasurementSerializes tests that the event published for an
// offline reading survives JSON encoding: the infinite-latency sentinel
// must cross the wire as -1, not break the marshal.
func TestOfflineMeasurementSerializes(t *testing.T) {
	monitor := connectivity.NewMonitor(false)
	hub := events.NewHub()
	s := New(monitor, hub, Config{})

	var published []events.Event
	hub.Subscribe(func(e events.Event) { published = append(published, e) })

	s.MeasureOnce(context.Background())

	if len(published) != 1 {
		t.Fatalf("Expected 1 measurement event, got %d", len(published))
	}

	data, err := json.Marshal(published[0])
	if err != nil {
		t.Fatalf("Offline measurement event failed to serialize: %v", err)
	}

	var decoded struct {
		Data struct {
			SpeedKbps float64 `json:"speed_kbps"`
			LatencyMs float64 `json:"latency_ms"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	if decoded.Data.SpeedKbps != 0 {
		t.Errorf("Expected zero speed on the wire, got %v", decoded.Data.SpeedKbps)
	}
	if decoded.Data.LatencyMs != -1 {
		t.Errorf("Expected latency sentinel -1 on the wire, got %v", decoded.Data.LatencyMs)
	}
}

// TestMeasureOnceProbe tests a real probe against a local server.
func TestMeasureOnceProbe(t *testing.T) {
	payload := strings.Repeat("x", 16*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	s, _ := newTestSampler(true, srv.URL)
	m := s.MeasureOnce(context.Background())

	if m.SpeedKbps <= 0 {
		t.Errorf("Expected positive measured speed, got %v", m.SpeedKbps)
	}
	if math.IsInf(m.LatencyMs, 1) || m.LatencyMs < 0 {
		t.Errorf("Expected finite latency, got %v", m.LatencyMs)
	}
}

// TestMeasureOnceFallback tests that a failed probe while online yields
// the conservative estimate instead of an error.
func TestMeasureOnceFallback(t *testing.T) {
	s, _ := newTestSampler(true, "http://127.0.0.1:1/probe")

	m := s.MeasureOnce(context.Background())

	if m.SpeedKbps != fallbackSpeedKbps {
		t.Errorf("Expected fallback speed %d, got %v", fallbackSpeedKbps, m.SpeedKbps)
	}
}

// TestAverageSpeedWindow tests that the average covers only the most
// recent window of samples.
func TestAverageSpeedWindow(t *testing.T) {
	s, _ := newTestSampler(true, "")

	// Five samples, window of three: only 300, 400, 500 count.
	seed(s, 100, 200, 300, 400, 500)

	avg := s.AverageSpeed()
	if avg != 400 {
		t.Errorf("Expected windowed average 400, got %v", avg)
	}
}

// TestAverageSpeedEmpty tests the empty-history case.
func TestAverageSpeedEmpty(t *testing.T) {
	s, _ := newTestSampler(true, "")

	if avg := s.AverageSpeed(); avg != 0 {
		t.Errorf("Expected zero average with no samples, got %v", avg)
	}
}

// TestAverageSpeedPartialWindow tests fewer samples than the window.
func TestAverageSpeedPartialWindow(t *testing.T) {
	s, _ := newTestSampler(true, "")

	seed(s, 100, 300)
	if avg := s.AverageSpeed(); avg != 200 {
		t.Errorf("Expected average 200 over 2 samples, got %v", avg)
	}
}

// TestHistoryBounded tests that the rolling history drops oldest samples.
func TestHistoryBounded(t *testing.T) {
	s, _ := newTestSampler(true, "")

	for i := 0; i < DefaultHistorySize+5; i++ {
		seed(s, float64(i))
	}

	history := s.History()
	if len(history) != DefaultHistorySize {
		t.Fatalf("Expected history capped at %d, got %d", DefaultHistorySize, len(history))
	}
	if history[0].SpeedKbps != 5 {
		t.Errorf("Expected oldest retained sample 5, got %v", history[0].SpeedKbps)
	}
}

// TestClassifyQuality tests band boundaries, inclusive at the lower bound.
func TestClassifyQuality(t *testing.T) {
	tests := []struct {
		name   string
		speeds []float64
		want   Quality
	}{
		{"fast at boundary", []float64{1000}, QualityFast},
		{"fast above", []float64{2500}, QualityFast},
		{"moderate at boundary", []float64{500}, QualityModerate},
		{"moderate below fast", []float64{999}, QualityModerate},
		{"slow at boundary", []float64{100}, QualitySlow},
		{"slow below moderate", []float64{499}, QualitySlow},
		{"very slow", []float64{99}, QualityVerySlow},
		{"very slow near zero", []float64{1}, QualityVerySlow},
		{"no samples", nil, QualityVerySlow},
		{"windowed average decides", []float64{5000, 900, 900, 900}, QualityModerate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSampler(true, "")
			seed(s, tt.speeds...)
			if got := s.ClassifyQuality(); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

// TestClassifyQualityOffline tests that connectivity overrides history.
func TestClassifyQualityOffline(t *testing.T) {
	s, monitor := newTestSampler(true, "")
	seed(s, 2000, 2000, 2000)

	monitor.SetOnline(false)
	if got := s.ClassifyQuality(); got != QualityOffline {
		t.Errorf("Expected offline regardless of history, got %s", got)
	}
}

// TestShouldUseTextOnlyMode tests the degrade recommendation: true only
// for a measured crawl, never for zero.
func TestShouldUseTextOnlyMode(t *testing.T) {
	tests := []struct {
		name   string
		speeds []float64
		want   bool
	}{
		{"no samples", nil, false},
		{"hard offline average", []float64{0, 0, 0}, false},
		{"measured crawl", []float64{99}, true},
		{"just below threshold", []float64{50, 99, 80}, true},
		{"at threshold", []float64{100}, false},
		{"healthy link", []float64{800}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSampler(true, "")
			seed(s, tt.speeds...)
			if got := s.ShouldUseTextOnlyMode(); got != tt.want {
				t.Errorf("Expected %v for %v, got %v", tt.want, tt.speeds, got)
			}
		})
	}
}

// TestSubscribe tests listener fan-out on every recorded measurement.
func TestSubscribe(t *testing.T) {
	s, _ := newTestSampler(false, "")

	var mu sync.Mutex
	var received []models.Measurement
	id := s.Subscribe(func(m models.Measurement) {
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
	})

	s.MeasureOnce(context.Background())
	s.MeasureOnce(context.Background())

	mu.Lock()
	n := len(received)
	mu.Unlock()
	if n != 2 {
		t.Errorf("Expected 2 notifications, got %d", n)
	}

	s.Unsubscribe(id)
	s.MeasureOnce(context.Background())

	mu.Lock()
	n = len(received)
	mu.Unlock()
	if n != 2 {
		t.Errorf("Expected no notifications after unsubscribe, got %d", n)
	}
}

// TestUnsubscribeFromCallback tests removing a listener from inside its
// own callback without deadlocking.
func TestUnsubscribeFromCallback(t *testing.T) {
	s, _ := newTestSampler(false, "")

	var calls int
	var id int
	id = s.Subscribe(func(m models.Measurement) {
		calls++
		s.Unsubscribe(id)
	})

	done := make(chan struct{})
	go func() {
		s.MeasureOnce(context.Background())
		s.MeasureOnce(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Unsubscribe from callback deadlocked")
	}
	if calls != 1 {
		t.Errorf("Expected exactly 1 call, got %d", calls)
	}
}

// TestStartStopIdempotent tests the periodic loop lifecycle.
func TestStartStopIdempotent(t *testing.T) {
	s, _ := newTestSampler(false, "")

	if s.IsRunning() {
		t.Error("Expected sampler stopped before Start")
	}

	s.Start(context.Background())
	s.Start(context.Background())
	if !s.IsRunning() {
		t.Error("Expected sampler running after Start")
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("Expected sampler stopped after Stop")
	}
}

// TestPeriodicSampling tests that the loop records on its cadence.
func TestPeriodicSampling(t *testing.T) {
	monitor := connectivity.NewMonitor(false)
	s := New(monitor, nil, Config{SampleInterval: 20 * time.Millisecond})

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for len(s.History()) == 0 {
		select {
		case <-deadline:
			t.Fatal("Expected periodic samples")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
