// Package metrics exports capture and viewer statistics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"framecast/internal/camera"
	"framecast/internal/stream"
)

// Metrics holds the collectors shared by every camera instance
type Metrics struct {
	framesCaptured  *prometheus.CounterVec
	captureFailures *prometheus.CounterVec
	captureCycle    *prometheus.HistogramVec
	captureUp       *prometheus.GaugeVec
	framesSent      *prometheus.CounterVec
	framesSkipped   *prometheus.CounterVec
	bytesSent       *prometheus.CounterVec
	activeSessions  *prometheus.GaugeVec
	httpRequests    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses
// a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		framesCaptured: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "framecast_frames_captured_total", Help: "Frames captured and published"},
			[]string{"camera"},
		),
		captureFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "framecast_capture_failures_total", Help: "Transient capture failures"},
			[]string{"camera"},
		),
		captureCycle: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "framecast_capture_cycle_seconds",
				Help:    "Time to capture, encode and publish one frame",
				Buckets: []float64{0.002, 0.005, 0.01, 0.02, 0.033, 0.05, 0.1, 0.25},
			},
			[]string{"camera"},
		),
		captureUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "framecast_capture_up", Help: "1 while the capture loop is running"},
			[]string{"camera"},
		),
		framesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "framecast_frames_sent_total", Help: "Frames delivered to viewers"},
			[]string{"camera", "transport"},
		),
		framesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "framecast_frames_skipped_total", Help: "Frame generations skipped by slow viewers"},
			[]string{"camera", "transport"},
		),
		bytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "framecast_bytes_sent_total", Help: "JPEG bytes delivered to viewers"},
			[]string{"camera", "transport"},
		),
		activeSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "framecast_active_sessions", Help: "Connected viewers"},
			[]string{"camera", "transport"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "framecast_http_requests_total", Help: "HTTP requests by handler and status code"},
			[]string{"camera", "handler", "code"},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.framesCaptured, m.captureFailures, m.captureCycle, m.captureUp,
		m.framesSent, m.framesSkipped, m.bytesSent, m.activeSessions,
		m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// InstrumentHandler counts requests to h by status code. The promhttp
// wrapper keeps http.Flusher and http.Hijacker, so it is safe on stream
// routes.
func (m *Metrics) InstrumentHandler(cameraName, handler string, h http.Handler) http.Handler {
	counter := m.httpRequests.MustCurryWith(prometheus.Labels{"camera": cameraName, "handler": handler})
	return promhttp.InstrumentHandlerCounter(counter, h)
}

// Camera returns the observer for one camera instance
func (m *Metrics) Camera(name string) *CameraMetrics {
	return &CameraMetrics{m: m, name: name}
}

// CameraMetrics implements camera.Observer and stream.Observer for one camera
type CameraMetrics struct {
	m    *Metrics
	name string
}

var (
	_ camera.Observer = (*CameraMetrics)(nil)
	_ stream.Observer = (*CameraMetrics)(nil)
)

func (c *CameraMetrics) FrameCaptured(cycle time.Duration) {
	c.m.framesCaptured.WithLabelValues(c.name).Inc()
	c.m.captureCycle.WithLabelValues(c.name).Observe(cycle.Seconds())
}

func (c *CameraMetrics) CaptureFailed() {
	c.m.captureFailures.WithLabelValues(c.name).Inc()
}

// StateChanged tracks the capture loop state as an up/down gauge
func (c *CameraMetrics) StateChanged(s camera.State) {
	v := 0.0
	if s == camera.StateRunning {
		v = 1
	}
	c.m.captureUp.WithLabelValues(c.name).Set(v)
}

func (c *CameraMetrics) SessionStarted(info stream.SessionInfo) {
	c.m.activeSessions.WithLabelValues(c.name, info.Transport).Inc()
}

func (c *CameraMetrics) FrameSent(info stream.SessionInfo, size int, skipped uint64) {
	c.m.framesSent.WithLabelValues(c.name, info.Transport).Inc()
	c.m.bytesSent.WithLabelValues(c.name, info.Transport).Add(float64(size))
	if skipped > 0 {
		c.m.framesSkipped.WithLabelValues(c.name, info.Transport).Add(float64(skipped))
	}
}

func (c *CameraMetrics) SessionEnded(info stream.SessionInfo) {
	c.m.activeSessions.WithLabelValues(c.name, info.Transport).Dec()
}
