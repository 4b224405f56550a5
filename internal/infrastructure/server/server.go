package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/Prison3/prison/internal/api/http"
	"github.com/Prison3/prison/internal/api/middleware"
	"github.com/Prison3/prison/internal/api/ws"
	"github.com/Prison3/prison/internal/domain/registry"
	"github.com/Prison3/prison/internal/infrastructure/config"
	"github.com/Prison3/prison/internal/infrastructure/logging"
	"github.com/Prison3/prison/internal/infrastructure/monitoring"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	components *Components
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)

	logger.Info("Initializing Prison registry server",
		zap.String("port", cfg.Server.Port),
		zap.String("engine_mode", cfg.Engine.Mode),
		zap.String("engine_addr", cfg.Engine.Address),
		zap.String("store", cfg.Store.Driver),
	)

	metrics := monitoring.NewMetrics()

	components, err := NewComponents(context.Background(), cfg, logger.Logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := NewRouter(cfg, components.Registry, metrics, logger.Logger)

	logger.Info("Server initialized successfully")

	return &Server{
		router:     router,
		components: components,
		logger:     logger,
		config:     cfg,
		metrics:    metrics,
	}, nil
}

// NewRouter builds the gin engine with middleware and every route
func NewRouter(cfg *config.Config, reg *registry.Registry, metrics *monitoring.Metrics, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logging.OrNop(logger).Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	apihttp.NewHandlers(reg, logger).Register(router)
	apihttp.NewMetricsHandlers(metrics, func() any { return reg.Stats() }).Register(router)
	router.GET("/profiles/:id/watch", ws.NewHandler(reg, metrics, logger).HandleConnection)

	return router
}

// Router returns the HTTP handler
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Registry returns the application registry
func (s *Server) Registry() *registry.Registry {
	return s.components.Registry
}

// Run warms the host cache in the background and serves until Shutdown
func (s *Server) Run() error {
	go func() {
		n := s.components.Registry.RefreshHostCache(context.Background())
		s.logger.Info("Host apps cached", zap.Int("apps", n))
	}()

	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	if err := s.components.Close(); err != nil {
		s.logger.Error("Failed to close registry components", zap.Error(err))
		return fmt.Errorf("failed to close components: %w", err)
	}

	// Sync logger before exit
	_ = s.logger.Sync()
	return nil
}
