package app

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

// Quality scoring constants.
const (
	qualityHistorySize  = 20
	stabilityWindow     = 3
	stabilityThreshold  = 50.0 // ms
	uploadFraction      = 0.5
	fullSpeedMbps       = 10.0
	fullUploadMbps      = 5.0
	bestLatencyMs       = 50.0
	worstLatencyMs      = 1000.0
	pessimisticLatency  = 5000.0 // ms
	defaultProbeTimeout = 10 * time.Second

	// DefaultQualityInterval is how often the monitor probes on its own.
	DefaultQualityInterval = 30 * time.Second
)

// QualityListener is notified of every new reading.
type QualityListener interface {
	OnQualityChange(snapshot domain.ConnectionQualitySnapshot, strategy domain.AdaptiveStrategy)
}

// QualityListenerFunc adapts a function to QualityListener.
type QualityListenerFunc func(domain.ConnectionQualitySnapshot, domain.AdaptiveStrategy)

// OnQualityChange calls f.
func (f QualityListenerFunc) OnQualityChange(s domain.ConnectionQualitySnapshot, st domain.AdaptiveStrategy) {
	f(s, st)
}

// QualityConfig configures the QualityMonitor.
type QualityConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// QualityMonitor samples latency and throughput and derives the adaptive
// strategy.
type QualityMonitor struct {
	prober ports.Prober
	clock  ports.Clock
	logger ports.Logger
	config QualityConfig
	group  singleflight.Group

	mu       sync.Mutex
	linkUp   bool
	history  []domain.ConnectionQualitySnapshot
	current  domain.ConnectionQualitySnapshot
	strategy domain.AdaptiveStrategy
	timer    ports.Timer
	running  bool

	// latencies holds the last probed latencies. Link-down readings are not
	// probes and are excluded.
	latencies []float64

	listeners *observers[QualityListener]
}

// NewQualityMonitor creates a monitor. Until the first probe it reports the
// good tier.
func NewQualityMonitor(prober ports.Prober, clock ports.Clock, logger ports.Logger, config QualityConfig) *QualityMonitor {
	if config.Interval <= 0 {
		config.Interval = DefaultQualityInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaultProbeTimeout
	}
	return &QualityMonitor{
		prober:    prober,
		clock:     clock,
		logger:    logger,
		config:    config,
		linkUp:    true,
		current:   domain.ConnectionQualitySnapshot{Tier: domain.TierGood, Score: 60, IsStable: true, SampledAt: clock.Now()},
		strategy:  domain.StrategyFor(domain.TierGood),
		listeners: newObservers[QualityListener]("quality", logger),
	}
}

// Subscribe registers l and returns a function removing it.
func (m *QualityMonitor) Subscribe(l QualityListener) func() {
	return m.listeners.add(l)
}

// Strategy returns the strategy derived from the latest reading.
func (m *QualityMonitor) Strategy() domain.AdaptiveStrategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy
}

// Current returns the latest reading.
func (m *QualityMonitor) Current() domain.ConnectionQualitySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns up to the last 20 readings, oldest first.
func (m *QualityMonitor) History() []domain.ConnectionQualitySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ConnectionQualitySnapshot(nil), m.history...)
}

// TestQuality probes immediately. Concurrent callers share one probe. While
// the link is down no probe is made and the reading is offline.
func (m *QualityMonitor) TestQuality(ctx context.Context) domain.ConnectionQualitySnapshot {
	m.mu.Lock()
	linkUp := m.linkUp
	m.mu.Unlock()

	if !linkUp {
		return m.record(domain.ConnectionQualitySnapshot{
			Tier:      domain.TierOffline,
			LatencyMs: pessimisticLatency,
			SampledAt: m.clock.Now(),
		})
	}

	v, _, _ := m.group.Do("probe", func() (any, error) {
		latency, download := m.probe(ctx)
		return m.record(m.score(latency, download)), nil
	})
	return v.(domain.ConnectionQualitySnapshot)
}

// OnLinkChange reacts to the raw link going up or down.
func (m *QualityMonitor) OnLinkChange(connected bool) {
	m.mu.Lock()
	changed := m.linkUp != connected
	m.linkUp = connected
	m.mu.Unlock()

	if !changed {
		return
	}
	if !connected {
		m.TestQuality(context.Background())
		return
	}
	m.clock.AfterFunc(0, func() { m.TestQuality(context.Background()) })
}

// Start begins periodic probing.
func (m *QualityMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.timer = m.clock.AfterFunc(m.config.Interval, m.tick)
}

// Stop ends periodic probing.
func (m *QualityMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *QualityMonitor) tick() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	linkUp := m.linkUp
	m.mu.Unlock()

	if linkUp {
		m.TestQuality(context.Background())
	}

	m.mu.Lock()
	if m.running {
		m.timer = m.clock.AfterFunc(m.config.Interval, m.tick)
	}
	m.mu.Unlock()
}

// probe returns latency in ms and download throughput in Mbps. Failures give
// a pessimistic reading.
func (m *QualityMonitor) probe(ctx context.Context) (float64, float64) {
	ctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	rtt, err := m.prober.Ping(ctx)
	if err != nil {
		m.logger.Debug("latency probe failed", ports.Err(err))
		return pessimisticLatency, 0
	}

	bytes, elapsed, err := m.prober.Download(ctx)
	if err != nil || elapsed <= 0 {
		m.logger.Debug("throughput probe failed", ports.Err(err))
		return float64(rtt) / float64(time.Millisecond), 0
	}
	mbps := float64(bytes) * 8 / elapsed.Seconds() / 1e6
	return float64(rtt) / float64(time.Millisecond), mbps
}

func (m *QualityMonitor) score(latencyMs, downloadMbps float64) domain.ConnectionQualitySnapshot {
	m.mu.Lock()
	m.latencies = append(m.latencies, latencyMs)
	if len(m.latencies) > stabilityWindow {
		m.latencies = m.latencies[len(m.latencies)-stabilityWindow:]
	}
	samples := append([]float64(nil), m.latencies...)
	m.mu.Unlock()

	upload := downloadMbps * uploadFraction
	stable := isStable(samples)
	score := QualityScore(latencyMs, downloadMbps, upload, stable)

	return domain.ConnectionQualitySnapshot{
		Tier:         domain.TierForScore(score),
		LatencyMs:    latencyMs,
		DownloadMbps: downloadMbps,
		UploadMbps:   upload,
		IsStable:     stable,
		Score:        score,
		SampledAt:    m.clock.Now(),
	}
}

func (m *QualityMonitor) record(s domain.ConnectionQualitySnapshot) domain.ConnectionQualitySnapshot {
	strategy := domain.StrategyFor(s.Tier)

	m.mu.Lock()
	prevTier := m.current.Tier
	m.current = s
	m.strategy = strategy
	m.history = append(m.history, s)
	if len(m.history) > qualityHistorySize {
		m.history = m.history[len(m.history)-qualityHistorySize:]
	}
	m.mu.Unlock()

	if prevTier != s.Tier {
		m.logger.Info("connection quality changed",
			ports.String("from", string(prevTier)),
			ports.String("to", string(s.Tier)),
			ports.Float64("score", s.Score),
			ports.Float64("latency_ms", s.LatencyMs),
			ports.Float64("download_mbps", s.DownloadMbps),
		)
	}

	m.listeners.each(func(l QualityListener) { l.OnQualityChange(s, strategy) })
	return s
}

// QualityScore combines the components into a 0..100 score: 40% speed,
// 30% latency, 20% upload and 10% stability.
func QualityScore(latencyMs, downloadMbps, uploadMbps float64, stable bool) float64 {
	speed := clamp(downloadMbps/fullSpeedMbps*100, 0, 100)
	latency := clamp((worstLatencyMs-latencyMs)/(worstLatencyMs-bestLatencyMs)*100, 0, 100)
	upload := clamp(uploadMbps/fullUploadMbps*100, 0, 100)
	stability := 0.0
	if stable {
		stability = 100
	}
	score := 0.4*speed + 0.3*latency + 0.2*upload + 0.1*stability
	return math.Round(score*10) / 10
}

// isStable reports whether the population standard deviation of samples is
// below the stability threshold. Fewer than two samples count as stable.
func isStable(samples []float64) bool {
	if len(samples) < 2 {
		return true
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))
	var variance float64
	for _, s := range samples {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(samples))
	return math.Sqrt(variance) < stabilityThreshold
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
