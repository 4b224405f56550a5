package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Prison3/prison/internal/infrastructure/monitoring"
)

// MetricsHandlers exposes process metrics
type MetricsHandlers struct {
	metrics *monitoring.Metrics
	stats   func() any
}

// NewMetricsHandlers creates metrics handlers. stats may be nil.
func NewMetricsHandlers(metrics *monitoring.Metrics, stats func() any) *MetricsHandlers {
	return &MetricsHandlers{metrics: metrics, stats: stats}
}

// MetricsSummary provides high-level metrics
type MetricsSummary struct {
	TotalRequests  int64   `json:"total_requests"`
	ErrorRate      float64 `json:"error_rate"`
	Loads          int64   `json:"loads"`
	TransientRate  float64 `json:"transient_rate"`
	LifecycleOps   int64   `json:"lifecycle_operations"`
	ProfilesPruned int64   `json:"profiles_pruned"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// Register mounts the metrics routes on r
func (m *MetricsHandlers) Register(r gin.IRoutes) {
	r.GET("/metrics", gin.WrapH(m.metrics.Handler()))
	r.GET("/metrics/json", m.Summary)
}

// Summary returns derived metrics as JSON
func (m *MetricsHandlers) Summary(c *gin.Context) {
	snap := m.metrics.Snapshot()

	summary := MetricsSummary{
		TotalRequests:  snap.TotalRequests,
		Loads:          snap.Loads,
		LifecycleOps:   snap.LifecycleOps,
		ProfilesPruned: snap.ProfilesPruned,
		UptimeSeconds:  snap.UptimeSeconds,
	}
	if snap.TotalRequests > 0 {
		summary.ErrorRate = float64(snap.TotalErrors) / float64(snap.TotalRequests)
	}
	if snap.Loads > 0 {
		summary.TransientRate = float64(snap.TransientLoads) / float64(snap.Loads)
	}

	body := gin.H{
		"timestamp": time.Now(),
		"summary":   summary,
	}
	if m.stats != nil {
		body["registry"] = m.stats()
	}
	c.JSON(http.StatusOK, body)
}
