package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dj-oyu/parking-fusion/internal/events"
)

// Metrics holds all application metrics
type Metrics struct {
	// Pipeline counters
	FramesRead      atomic.Uint64
	FramesAnalyzed  atomic.Uint64
	FramesDropped   atomic.Uint64
	SourceErrors    atomic.Uint64
	DetectorErrors  atomic.Uint64
	EvidenceErrors  atomic.Uint64
	TransitionsSeen atomic.Uint64

	// Zone reloads
	ZoneReloads      atomic.Uint64
	ZoneReloadErrors atomic.Uint64

	// Latency tracking
	AnalyzeLatencyUs atomic.Uint64 // Last analyse latency in microseconds

	// Status push clients
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64
	SSEClients    atomic.Int64

	// Labelled collectors
	CameraFrames     *prometheus.CounterVec
	CameraDetections *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	Warnings         *prometheus.CounterVec
	SlotFree         *prometheus.GaugeVec
	AnalyzeDuration  prometheus.Histogram

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	// Register Prometheus gauges
	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		fn   func() float64
	}{
		{"parking_frames_read_total", "Total frames read from camera sources", func() float64 { return float64(m.FramesRead.Load()) }},
		{"parking_frames_analyzed_total", "Total frames run through occupancy analysis", func() float64 { return float64(m.FramesAnalyzed.Load()) }},
		{"parking_frames_dropped_total", "Total frames skipped after a detector error", func() float64 { return float64(m.FramesDropped.Load()) }},
		{"parking_source_errors_total", "Total frame source errors", func() float64 { return float64(m.SourceErrors.Load()) }},
		{"parking_detector_errors_total", "Total detector errors", func() float64 { return float64(m.DetectorErrors.Load()) }},
		{"parking_evidence_errors_total", "Total failed evidence writes", func() float64 { return float64(m.EvidenceErrors.Load()) }},
		{"parking_transitions_seen_total", "Total stable status changes observed", func() float64 { return float64(m.TransitionsSeen.Load()) }},
		{"parking_zone_reloads_total", "Total zone files reloaded after a change", func() float64 { return float64(m.ZoneReloads.Load()) }},
		{"parking_zone_reload_errors_total", "Total zone file reloads that failed and kept the previous zones", func() float64 { return float64(m.ZoneReloadErrors.Load()) }},
		{"parking_analyze_latency_us", "Last analysis latency in microseconds", func() float64 { return float64(m.AnalyzeLatencyUs.Load()) }},
		{"parking_active_clients", "Number of active WebRTC status clients", func() float64 { return float64(m.ActiveClients.Load()) }},
		{"parking_total_clients", "Total WebRTC status clients connected", func() float64 { return float64(m.TotalClients.Load()) }},
		{"parking_sse_clients", "Number of connected SSE status clients", func() float64 { return float64(m.SSEClients.Load()) }},
	}
	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.fn,
		))
	}

	m.CameraFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_camera_frames_total",
		Help: "Frames analysed per camera",
	}, []string{"camera"})
	m.CameraDetections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_camera_detections_total",
		Help: "Detections received per camera",
	}, []string{"camera"})
	m.Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_transitions_logged_total",
		Help: "Transitions written to evidence per slot",
	}, []string{"camera", "slot", "to"})
	m.Warnings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_warnings_total",
		Help: "Non-fatal warnings by kind",
	}, []string{"kind"})
	m.SlotFree = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "parking_slot_free",
		Help: "Aggregated slot status (1=free, 0=occupied)",
	}, []string{"slot"})
	m.AnalyzeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "parking_analyze_duration_seconds",
		Help:    "Classification and debounce time per frame",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
	})

	m.registry.MustRegister(m.CameraFrames, m.CameraDetections, m.Transitions, m.Warnings, m.SlotFree, m.AnalyzeDuration)
}

// ObserveFrame records one analysed frame for a camera
func (m *Metrics) ObserveFrame(camera string, detections int, analyze time.Duration) {
	m.FramesAnalyzed.Add(1)
	m.AnalyzeLatencyUs.Store(uint64(analyze.Microseconds()))
	m.CameraFrames.WithLabelValues(camera).Inc()
	m.CameraDetections.WithLabelValues(camera).Add(float64(detections))
	m.AnalyzeDuration.Observe(analyze.Seconds())
}

// ObserveTransition records a logged transition
func (m *Metrics) ObserveTransition(camera, slot, to string) {
	m.Transitions.WithLabelValues(camera, slot, to).Inc()
}

// SetSlotStatus publishes the aggregated status of every slot
func (m *Metrics) SetSlotStatus(status map[string]bool) {
	for slot, free := range status {
		v := 0.0
		if free {
			v = 1.0
		}
		m.SlotFree.WithLabelValues(slot).Set(v)
	}
}

// Emit counts warning events; Metrics can be attached to an events.Bus
func (m *Metrics) Emit(e events.Event) {
	m.Warnings.WithLabelValues(string(e.Kind)).Inc()
}

// Registry exposes the private registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts a dedicated metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
