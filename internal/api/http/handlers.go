package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Prison3/prison/internal/infrastructure/imaging"
	"github.com/Prison3/prison/internal/infrastructure/logging"
	"github.com/Prison3/prison/internal/infrastructure/monitoring"
	"github.com/Prison3/prison/internal/shared/types"
)

// Registry is the registry surface the handlers drive
type Registry interface {
	Refresh(ctx context.Context, profileID int) types.Snapshot
	Snapshot(profileID int) (types.Snapshot, bool)
	Install(ctx context.Context, source string, profileID int) types.Result
	Uninstall(ctx context.Context, packageID string, profileID int) types.Result
	ClearData(ctx context.Context, packageID string, profileID int) types.Result
	Launch(ctx context.Context, packageID string, profileID int) bool
	Reorder(ctx context.Context, profileID int, packageIDs []string) types.Result
	Profiles(ctx context.Context) []types.Profile
	SetLabel(ctx context.Context, profileID int, label string) types.Result
	RefreshHostCache(ctx context.Context) int
	HostApps(ctx context.Context, profileID int) []types.AppRecord
	Memory() types.MemoryInfo
	Stats() types.RegistryStats
}

// Handlers contains all HTTP handlers
type Handlers struct {
	registry Registry
	logger   *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(registry Registry, logger *zap.Logger) *Handlers {
	return &Handlers{
		registry: registry,
		logger:   logging.OrNop(logger).Named("api"),
	}
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/memory", h.Memory)

	r.GET("/profiles", h.ListProfiles)
	r.PUT("/profiles/:id/label", h.SetLabel)
	r.GET("/profiles/:id/apps", h.ListApps)
	r.POST("/profiles/:id/refresh", h.Refresh)
	r.POST("/profiles/:id/apps", h.Install)
	r.DELETE("/profiles/:id/apps/:pkg", h.Uninstall)
	r.POST("/profiles/:id/apps/:pkg/clear", h.ClearData)
	r.POST("/profiles/:id/apps/:pkg/launch", h.Launch)
	r.GET("/profiles/:id/apps/:pkg/icon", h.Icon)
	r.PUT("/profiles/:id/order", h.Reorder)

	r.GET("/host/apps", h.HostApps)
	r.POST("/host/refresh", h.RefreshHost)
}

// InstallRequest is the body of an install call
type InstallRequest struct {
	Source string `json:"source" binding:"required"`
}

// LabelRequest is the body of a label update
type LabelRequest struct {
	Label string `json:"label"`
}

// OrderRequest is the body of a reorder call
type OrderRequest struct {
	Packages []string `json:"packages"`
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  "prison-registry",
		"registry": h.registry.Stats(),
		"memory":   h.registry.Memory(),
	})
}

// Memory reports the current memory reading
func (h *Handlers) Memory(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Memory())
}

// ListProfiles lists profiles with their labels
func (h *Handlers) ListProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": h.registry.Profiles(c.Request.Context())})
}

// SetLabel stores a profile label
func (h *Handlers) SetLabel(c *gin.Context) {
	profileID, ok := profileParam(c)
	if !ok {
		return
	}
	var req LabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	respond(c, h.registry.SetLabel(detach(c), profileID, req.Label))
}

// ListApps returns the last published snapshot, loading one if none exists
func (h *Handlers) ListApps(c *gin.Context) {
	profileID, ok := profileParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.snapshot(c, profileID))
}

// Refresh reloads a profile
func (h *Handlers) Refresh(c *gin.Context) {
	profileID, ok := profileParam(c)
	if !ok {
		return
	}
	timer := monitoring.NewTimer()
	snap := h.registry.Refresh(detach(c), profileID)
	h.logger.Debug("Profile refreshed",
		zap.Int("profile", profileID),
		zap.Int("apps", len(snap.Apps)),
		zap.Duration("duration", timer.Elapsed()))
	c.JSON(http.StatusOK, snap)
}

// Install installs a package archive or remote locator
func (h *Handlers) Install(c *gin.Context) {
	profileID, ok := profileParam(c)
	if !ok {
		return
	}
	var req InstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	respond(c, h.registry.Install(detach(c), req.Source, profileID))
}

// Uninstall removes a package
func (h *Handlers) Uninstall(c *gin.Context) {
	profileID, ok := profileParam(c)
	if !ok {
		return
	}
	respond(c, h.registry.Uninstall(detach(c), c.Param("pkg"), profileID))
}

// ClearData wipes a package's data
func (h *Handlers) ClearData(c *gin.Context) {
	profileID, ok := profileParam(c)
	if !ok {
		return
	}
	respond(c, h.registry.ClearData(detach(c), c.Param("pkg"), profileID))
}

// Launch starts a package
func (h *Handlers) Launch(c *gin.Context) {
	profileID, ok := profileParam(c)
	if !ok {
		return
	}
	pkg := c.Param("pkg")
	c.JSON(http.StatusOK, gin.H{
		"package_id": pkg,
		"profile_id": profileID,
		"launched":   h.registry.Launch(detach(c), pkg, profileID),
	})
}

// Icon serves a package icon as PNG
func (h *Handlers) Icon(c *gin.Context) {
	profileID, ok := profileParam(c)
	if !ok {
		return
	}
	pkg := c.Param("pkg")
	app, found := h.snapshot(c, profileID).Find(pkg)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s is not installed in profile %d", pkg, profileID)})
		return
	}
	if !app.HasIcon || app.Icon == nil {
		c.Status(http.StatusNoContent)
		return
	}
	data, err := imaging.EncodePNG(app.Icon)
	if err != nil {
		h.logger.Warn("Failed to encode icon", zap.String("package", pkg), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "icon encoding failed"})
		return
	}
	c.Header("Cache-Control", "max-age=300")
	c.Data(http.StatusOK, "image/png", data)
}

// Reorder stores a profile's order list
func (h *Handlers) Reorder(c *gin.Context) {
	profileID, ok := profileParam(c)
	if !ok {
		return
	}
	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	respond(c, h.registry.Reorder(detach(c), profileID, req.Packages))
}

// HostApps lists the host picker entries for a profile
func (h *Handlers) HostApps(c *gin.Context) {
	profileID := 0
	if raw := c.Query("profile"); raw != "" {
		id, err := parseProfile(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		profileID = id
	}
	c.JSON(http.StatusOK, gin.H{
		"profile_id": profileID,
		"apps":       h.registry.HostApps(c.Request.Context(), profileID),
	})
}

// RefreshHost rescans the host archives
func (h *Handlers) RefreshHost(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"apps": h.registry.RefreshHostCache(detach(c))})
}

func (h *Handlers) snapshot(c *gin.Context, profileID int) types.Snapshot {
	if snap, ok := h.registry.Snapshot(profileID); ok {
		return snap
	}
	return h.registry.Refresh(detach(c), profileID)
}

// detach keeps request values but lets the operation outlive the client
func detach(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func profileParam(c *gin.Context) (int, bool) {
	id, err := parseProfile(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return id, true
}

func parseProfile(raw string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid profile id %q", raw)
	}
	return id, nil
}

// respond writes a lifecycle result with a status matching its code
func respond(c *gin.Context, res types.Result) {
	c.JSON(statusFor(res.Code), res)
}

func statusFor(code types.ResultCode) int {
	switch code {
	case types.CodeOK:
		return http.StatusOK
	case types.CodeInvalidRequest:
		return http.StatusBadRequest
	case types.CodeSecurityViolation:
		return http.StatusForbidden
	case types.CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
