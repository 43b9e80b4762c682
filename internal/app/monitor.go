package app

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/core"
)

var (
	rttSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "peercall",
		Name:      "transport_rtt_seconds",
		Help:      "Round-trip time sampled from the media transport.",
		Buckets:   []float64{.05, .1, .15, .25, .4, .6, 1, 2},
	}, []string{"room"})

	linkQuality = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "peercall",
		Name:      "link_quality",
		Help:      "Current link quality class (1 good, 2 medium, 3 poor).",
	}, []string{"room"})
)

// MonitorConfig carries the sampling policy. Zero values fall back to
// the reference policy: sample every 2s, <150ms good, <400ms medium.
type MonitorConfig struct {
	Interval    time.Duration
	GoodBelow   time.Duration
	MediumBelow time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.GoodBelow <= 0 {
		c.GoodBelow = 150 * time.Millisecond
	}
	if c.MediumBelow <= 0 {
		c.MediumBelow = 400 * time.Millisecond
	}
	return c
}

// ConnectionMonitor samples transport statistics on a fixed interval,
// classifies round-trip latency and decides when the negotiator should
// attempt an ICE restart. Restart is this monitor's policy call, not the
// media engine's.
type ConnectionMonitor struct {
	cfg     MonitorConfig
	room    string
	media   core.MediaSession
	restart func()

	mu        sync.Mutex
	quality   core.LinkQuality
	failures  int
	restarted bool
	onQuality func(core.LinkQuality, time.Duration)
}

func NewConnectionMonitor(room string, media core.MediaSession, cfg MonitorConfig, restart func()) *ConnectionMonitor {
	return &ConnectionMonitor{
		cfg:     cfg.withDefaults(),
		room:    room,
		media:   media,
		restart: restart,
		quality: core.QualityUnknown,
	}
}

// OnQuality registers a single observer for quality reclassification.
func (m *ConnectionMonitor) OnQuality(fn func(core.LinkQuality, time.Duration)) {
	m.mu.Lock()
	m.onQuality = fn
	m.mu.Unlock()
}

func (m *ConnectionMonitor) Quality() core.LinkQuality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

// Run samples until ctx is cancelled. Meant to be started once the
// negotiation first reaches Connected.
func (m *ConnectionMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample takes one stats reading. Two consecutive failed readings count
// as a sustained route failure and trigger one restart request per
// outage; a single slow read does not.
func (m *ConnectionMonitor) Sample(ctx context.Context) {
	stats, err := m.media.Stats(ctx)
	if err != nil {
		m.mu.Lock()
		m.failures++
		trigger := m.failures >= 2 && !m.restarted
		if trigger {
			m.restarted = true
		}
		m.mu.Unlock()
		log.Debug().Err(err).Str("module", "app.monitor").Str("room", m.room).Msg("stats sample failed")
		if trigger {
			m.requestRestart("stats unavailable")
		}
		return
	}

	m.mu.Lock()
	m.failures = 0
	m.restarted = false
	q := m.classify(stats.RTT)
	changed := q != m.quality
	m.quality = q
	fn := m.onQuality
	m.mu.Unlock()

	rttSeconds.WithLabelValues(m.room).Observe(stats.RTT.Seconds())
	linkQuality.WithLabelValues(m.room).Set(float64(q))
	if changed {
		log.Info().Str("module", "app.monitor").Str("room", m.room).
			Dur("rtt", stats.RTT).Str("quality", q.String()).Msg("link quality")
	}
	if fn != nil {
		fn(q, stats.RTT)
	}
}

// ReportTransportState feeds the engine's connection state in. A failed
// route requests a restart immediately, without waiting out two samples.
func (m *ConnectionMonitor) ReportTransportState(s core.TransportState) {
	if s != core.TransportFailed {
		return
	}
	m.mu.Lock()
	trigger := !m.restarted
	m.restarted = true
	m.mu.Unlock()
	if trigger {
		m.requestRestart("transport failed")
	}
}

func (m *ConnectionMonitor) classify(rtt time.Duration) core.LinkQuality {
	switch {
	case rtt < m.cfg.GoodBelow:
		return core.QualityGood
	case rtt < m.cfg.MediumBelow:
		return core.QualityMedium
	default:
		return core.QualityPoor
	}
}

func (m *ConnectionMonitor) requestRestart(reason string) {
	log.Warn().Str("module", "app.monitor").Str("room", m.room).Str("reason", reason).Msg("requesting ice restart")
	if m.restart != nil {
		m.restart()
	}
}
