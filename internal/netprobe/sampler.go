// Package netprobe measures link quality with small, time-bounded probes
// and recommends an operating mode for the voice pipeline.
package netprobe

import (
	"context"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sokoniapp/sokoni-core/internal/connectivity"
	"github.com/sokoniapp/sokoni-core/internal/events"
	"github.com/sokoniapp/sokoni-core/internal/logging"
	"github.com/sokoniapp/sokoni-core/internal/models"
)

// Quality classifies the current link from the windowed average speed.
type Quality string

const (
	QualityOffline  Quality = "offline"
	QualityFast     Quality = "fast"      // avg >= 1000 kbps
	QualityModerate Quality = "moderate"  // avg >= 500 kbps
	QualitySlow     Quality = "slow"      // avg >= 100 kbps
	QualityVerySlow Quality = "very_slow" // avg < 100 kbps
)

const (
	fastThresholdKbps     = 1000
	moderateThresholdKbps = 500
	slowThresholdKbps     = 100

	// fallbackSpeedKbps is the conservative estimate recorded when a probe
	// fails while the device still reports connectivity. Sampling must
	// never fail its caller.
	fallbackSpeedKbps = 50

	// maxProbeBytes caps how much of the probe body is read. On a 2G link
	// the probe itself must stay cheap.
	maxProbeBytes = 64 * 1024
)

// DefaultHistorySize bounds the rolling measurement history.
const DefaultHistorySize = 10

// DefaultAverageWindow is how many recent samples the average uses.
const DefaultAverageWindow = 3

// DefaultSampleInterval is the periodic measurement cadence.
const DefaultSampleInterval = 30 * time.Second

// Listener receives every new measurement, real or fallback.
type Listener func(models.Measurement)

// Config holds sampler configuration.
type Config struct {
	ProbeURL       string
	ProbeTimeout   time.Duration
	SampleInterval time.Duration
	HistorySize    int
	AverageWindow  int
}

// Sampler periodically measures throughput and latency, keeps a bounded
// rolling history and classifies link quality.
type Sampler struct {
	monitor *connectivity.Monitor
	hub     *events.Hub
	log     zerolog.Logger

	probeURL      string
	client        *http.Client
	interval      time.Duration
	historySize   int
	averageWindow int

	mu        sync.Mutex
	history   []models.Measurement
	listeners map[int]Listener
	nextID    int
	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a Sampler. The hub may be nil when no presentation layer is
// attached.
func New(monitor *connectivity.Monitor, hub *events.Hub, cfg Config) *Sampler {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.AverageWindow <= 0 {
		cfg.AverageWindow = DefaultAverageWindow
	}

	return &Sampler{
		monitor:       monitor,
		hub:           hub,
		log:           logging.L().With().Str(logging.FieldComponent, "netprobe").Logger(),
		probeURL:      cfg.ProbeURL,
		client:        &http.Client{Timeout: cfg.ProbeTimeout},
		interval:      cfg.SampleInterval,
		historySize:   cfg.HistorySize,
		averageWindow: cfg.AverageWindow,
		listeners:     make(map[int]Listener),
	}
}

// MeasureOnce performs one measurement and records it. It never fails its
// caller: a device without connectivity yields the offline sentinel and a
// failed probe yields a conservative fallback estimate.
func (s *Sampler) MeasureOnce(ctx context.Context) models.Measurement {
	var m models.Measurement

	if !s.monitor.IsOnline() {
		m = models.Measurement{
			SpeedKbps: 0,
			LatencyMs: math.Inf(1),
			Timestamp: time.Now(),
		}
	} else {
		m = s.probe(ctx)
	}

	s.record(m)
	return m
}

// probe performs a small time-bounded download. Speed is payload bytes
// over total elapsed time; latency is time to first byte.
func (s *Sampler) probe(ctx context.Context) models.Measurement {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.probeURL, nil)
	if err != nil {
		return s.fallback(start, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return s.fallback(start, err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxProbeBytes))
	if err != nil || n == 0 {
		return s.fallback(start, err)
	}

	elapsed := time.Since(start)
	speedKbps := float64(n) * 8 / 1000 / elapsed.Seconds()

	return models.Measurement{
		SpeedKbps: speedKbps,
		LatencyMs: float64(latency.Milliseconds()),
		Timestamp: time.Now(),
	}
}

// fallback substitutes a conservative low-speed estimate for a failed probe.
func (s *Sampler) fallback(start time.Time, err error) models.Measurement {
	s.log.Warn().Err(err).Msg("probe failed, using fallback estimate")
	return models.Measurement{
		SpeedKbps: fallbackSpeedKbps,
		LatencyMs: float64(time.Since(start).Milliseconds()),
		Timestamp: time.Now(),
	}
}

// record appends a measurement to the bounded history and broadcasts it.
func (s *Sampler) record(m models.Measurement) {
	s.mu.Lock()
	s.history = append(s.history, m)
	if len(s.history) > s.historySize {
		s.history = s.history[len(s.history)-s.historySize:]
	}
	snapshot := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		snapshot = append(snapshot, l)
	}
	s.mu.Unlock()

	for _, l := range snapshot {
		l(m)
	}

	if s.hub != nil {
		s.hub.Publish(events.EventMeasurement, map[string]interface{}{
			"speed_kbps": m.SpeedKbps,
			"latency_ms": m.WireLatencyMs(),
			"quality":    string(s.ClassifyQuality()),
		})
	}
}

// AverageSpeed returns the mean speed of the most recent window of
// samples, zero when the history is empty.
func (s *Sampler) AverageSpeed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 {
		return 0
	}

	window := s.history
	if len(window) > s.averageWindow {
		window = window[len(window)-s.averageWindow:]
	}

	var sum float64
	for _, m := range window {
		sum += m.SpeedKbps
	}
	return sum / float64(len(window))
}

// ClassifyQuality bands the windowed average. Bands are inclusive at
// their lower bound. A device with no connectivity is offline regardless
// of history.
func (s *Sampler) ClassifyQuality() Quality {
	if !s.monitor.IsOnline() {
		return QualityOffline
	}

	avg := s.AverageSpeed()
	switch {
	case avg >= fastThresholdKbps:
		return QualityFast
	case avg >= moderateThresholdKbps:
		return QualityModerate
	case avg >= slowThresholdKbps:
		return QualitySlow
	default:
		return QualityVerySlow
	}
}

// ShouldUseTextOnlyMode recommends degrading to text-only. True only for
// a measured crawl: an average of exactly zero means no samples yet or
// hard offline, which must not produce a degrade signal.
func (s *Sampler) ShouldUseTextOnlyMode() bool {
	avg := s.AverageSpeed()
	return avg > 0 && avg < slowThresholdKbps
}

// History returns a copy of the rolling measurement history, oldest first.
func (s *Sampler) History() []models.Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Measurement, len(s.history))
	copy(out, s.history)
	return out
}

// Subscribe registers a measurement listener and returns its ID.
func (s *Sampler) Subscribe(l Listener) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.listeners[s.nextID] = l
	return s.nextID
}

// Unsubscribe removes a listener. It is idempotent and safe to call from
// inside a callback.
func (s *Sampler) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.listeners, id)
}

// Start begins periodic measurement. A second Start is a logged no-op.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		s.log.Debug().Msg("sampler already running")
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.log.Info().Dur("interval", s.interval).Msg("sampler started")
}

// Stop halts periodic measurement. Stopping a stopped sampler is a no-op.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("sampler stopped")
}

// IsRunning reports whether periodic measurement is active.
func (s *Sampler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *Sampler) loop(ctx context.Context) {
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
			s.MeasureOnce(ctx)
		}
	}
}
