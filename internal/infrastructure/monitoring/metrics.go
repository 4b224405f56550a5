package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Inventory metrics
	Loads        *prometheus.CounterVec
	LoadAttempts *prometheus.CounterVec
	LoadDuration prometheus.Histogram
	SnapshotApps *prometheus.GaugeVec
	IconsSkipped prometheus.Counter

	// Lifecycle metrics
	LifecycleOps   *prometheus.CounterVec
	ProfilesPruned prometheus.Counter

	// Memory metrics
	MemoryUsage       prometheus.Gauge
	MemoryCollections prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot
	mu       sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	Loads          int64   `json:"loads"`
	TransientLoads int64   `json:"transient_loads"`
	LifecycleOps   int64   `json:"lifecycle_ops"`
	ProfilesPruned int64   `json:"profiles_pruned"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector on its own registry, so several
// collectors can coexist in one process
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prison_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prison_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		Loads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prison_inventory_loads_total",
				Help: "Inventory loads by outcome (ok, empty, transient)",
			},
			[]string{"outcome"},
		),
		LoadAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prison_inventory_load_attempts_total",
				Help: "Engine list attempts by result (ok, absent, error)",
			},
			[]string{"result"},
		),
		LoadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prison_inventory_load_duration_seconds",
				Help:    "Inventory load duration in seconds, retries included",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		SnapshotApps: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prison_snapshot_apps",
				Help: "Applications in the last published snapshot of a profile",
			},
			[]string{"profile"},
		),
		IconsSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "prison_icons_skipped_total",
				Help: "Icons not loaded because of memory pressure",
			},
		),

		LifecycleOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prison_lifecycle_operations_total",
				Help: "Lifecycle operations by operation and result code",
			},
			[]string{"operation", "status"},
		),
		ProfilesPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "prison_profiles_pruned_total",
				Help: "Empty tail profiles deleted",
			},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "prison_memory_usage_percent",
				Help: "Last sampled memory usage percent",
			},
		),
		MemoryCollections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "prison_memory_collections_total",
				Help: "Forced collection passes",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "prison_ws_connections",
				Help: "Number of active WebSocket watchers",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "prison_uptime_seconds",
			Help: "Registry uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordLoadAttempt records one engine list attempt
func (m *Metrics) RecordLoadAttempt(result string) {
	if m == nil {
		return
	}
	m.LoadAttempts.WithLabelValues(result).Inc()
}

// RecordLoad records a finished inventory load
func (m *Metrics) RecordLoad(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Loads.WithLabelValues(outcome).Inc()
	m.LoadDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Loads++
	if outcome == "transient" {
		m.snapshot.TransientLoads++
	}
	m.mu.Unlock()
}

// SetSnapshotApps records the size of a published snapshot
func (m *Metrics) SetSnapshotApps(profileID int, apps int) {
	if m == nil {
		return
	}
	m.SnapshotApps.WithLabelValues(strconv.Itoa(profileID)).Set(float64(apps))
}

// DeleteSnapshotApps drops the gauge of a deleted profile
func (m *Metrics) DeleteSnapshotApps(profileID int) {
	if m == nil {
		return
	}
	m.SnapshotApps.DeleteLabelValues(strconv.Itoa(profileID))
}

// IncIconsSkipped counts an icon skipped under memory pressure
func (m *Metrics) IncIconsSkipped() {
	if m == nil {
		return
	}
	m.IconsSkipped.Inc()
}

// RecordLifecycle records a lifecycle operation outcome
func (m *Metrics) RecordLifecycle(operation, status string) {
	if m == nil {
		return
	}
	m.LifecycleOps.WithLabelValues(operation, status).Inc()

	m.mu.Lock()
	m.snapshot.LifecycleOps++
	m.mu.Unlock()
}

// IncProfilesPruned counts a deleted profile
func (m *Metrics) IncProfilesPruned() {
	if m == nil {
		return
	}
	m.ProfilesPruned.Inc()

	m.mu.Lock()
	m.snapshot.ProfilesPruned++
	m.mu.Unlock()
}

// SetMemoryUsage records the last sampled usage percent
func (m *Metrics) SetMemoryUsage(percent int) {
	if m == nil {
		return
	}
	m.MemoryUsage.Set(float64(percent))
}

// IncMemoryCollections counts a forced collection
func (m *Metrics) IncMemoryCollections() {
	if m == nil {
		return
	}
	m.MemoryCollections.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// Snapshot returns the current values for the JSON API
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
