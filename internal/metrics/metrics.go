// Package metrics exports capture, save and preview counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentstudio.dev/deskrec/capture"
)

// Metrics holds all recorder counters. It implements capture.Observer,
// recorder.SaveObserver, emitter.PublishObserver and preview.Observer.
type Metrics struct {
	// Capture loop
	FramesPolled    atomic.Uint64
	FramesCommitted atomic.Uint64
	RateViolations  atomic.Uint64
	SourceErrors    atomic.Uint64
	CaptureState    atomic.Int64
	LastFrameID     atomic.Int64

	// Saves
	Saves         atomic.Uint64
	SavedFrames   atomic.Uint64
	SaveErrors    atomic.Uint64
	SaveLatencyMs atomic.Uint64

	// Preview feed
	PreviewClients       atomic.Int64
	PreviewFramesSent    atomic.Uint64
	PreviewFramesDropped atomic.Uint64

	// Manifest publication
	ManifestsPublished atomic.Uint64
	PublishErrors      atomic.Uint64

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.LastFrameID.Store(-1)
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, value func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "deskrec",
			Name:      name,
			Help:      help,
		},
		value,
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("frames_polled_total", "Frames grabbed from the source",
		func() float64 { return float64(m.FramesPolled.Load()) })
	m.gauge("frames_committed_total", "Frames appended to the frame buffer",
		func() float64 { return float64(m.FramesCommitted.Load()) })
	m.gauge("rate_violations_total", "Ticks or polls that took longer than one frame period",
		func() float64 { return float64(m.RateViolations.Load()) })
	m.gauge("source_errors_total", "Epochs ended by a source error",
		func() float64 { return float64(m.SourceErrors.Load()) })
	m.gauge("capture_state", "Capture loop state (0=idle, 1=running, 2=stopping)",
		func() float64 { return float64(m.CaptureState.Load()) })
	m.gauge("last_frame_id", "Id of the newest committed frame, -1 before the first",
		func() float64 { return float64(m.LastFrameID.Load()) })

	m.gauge("saves_total", "Videos saved",
		func() float64 { return float64(m.Saves.Load()) })
	m.gauge("saved_frames_total", "Frames written to saved videos",
		func() float64 { return float64(m.SavedFrames.Load()) })
	m.gauge("save_errors_total", "Failed saves",
		func() float64 { return float64(m.SaveErrors.Load()) })
	m.gauge("save_latency_ms", "Duration of the last save in milliseconds",
		func() float64 { return float64(m.SaveLatencyMs.Load()) })

	m.gauge("preview_clients", "Connected preview websocket clients",
		func() float64 { return float64(m.PreviewClients.Load()) })
	m.gauge("preview_frames_sent_total", "JPEG frames sent to preview clients",
		func() float64 { return float64(m.PreviewFramesSent.Load()) })
	m.gauge("preview_frames_dropped_total", "Preview frames dropped for slow clients",
		func() float64 { return float64(m.PreviewFramesDropped.Load()) })

	m.gauge("manifests_published_total", "Save manifests published to the broker",
		func() float64 { return float64(m.ManifestsPublished.Load()) })
	m.gauge("publish_errors_total", "Failed manifest publications",
		func() float64 { return float64(m.PublishErrors.Load()) })
}

func (m *Metrics) FramePolled() { m.FramesPolled.Add(1) }

func (m *Metrics) FrameCommitted(id int64) {
	m.FramesCommitted.Add(1)
	m.LastFrameID.Store(id)
}

func (m *Metrics) RateViolation(time.Duration, time.Duration) { m.RateViolations.Add(1) }

func (m *Metrics) SourceFailed(error) { m.SourceErrors.Add(1) }

func (m *Metrics) StateChanged(s capture.State) { m.CaptureState.Store(int64(s)) }

func (m *Metrics) SaveCompleted(frames int, elapsed time.Duration) {
	m.Saves.Add(1)
	m.SavedFrames.Add(uint64(frames))
	m.SaveLatencyMs.Store(uint64(elapsed.Milliseconds()))
}

func (m *Metrics) SaveFailed(error) { m.SaveErrors.Add(1) }

func (m *Metrics) ManifestPublished() { m.ManifestsPublished.Add(1) }

func (m *Metrics) PublishFailed(error) { m.PublishErrors.Add(1) }

func (m *Metrics) PreviewClientJoined() { m.PreviewClients.Add(1) }

func (m *Metrics) PreviewClientLeft() { m.PreviewClients.Add(-1) }

func (m *Metrics) PreviewFrameSent() { m.PreviewFramesSent.Add(1) }

func (m *Metrics) PreviewFrameDropped() { m.PreviewFramesDropped.Add(1) }

// Registry exposes the collector registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
