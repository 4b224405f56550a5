package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/Prison3/prison/internal/domain/host"
	"github.com/Prison3/prison/internal/domain/inventory"
	"github.com/Prison3/prison/internal/domain/lifecycle"
	"github.com/Prison3/prison/internal/domain/order"
	"github.com/Prison3/prison/internal/domain/registry"
	"github.com/Prison3/prison/internal/infrastructure/archive"
	"github.com/Prison3/prison/internal/infrastructure/config"
	"github.com/Prison3/prison/internal/infrastructure/engine"
	"github.com/Prison3/prison/internal/infrastructure/memory"
	"github.com/Prison3/prison/internal/infrastructure/monitoring"
	memstore "github.com/Prison3/prison/internal/infrastructure/storage/memory"
	redisstore "github.com/Prison3/prison/internal/infrastructure/storage/redis"
	sqlitestore "github.com/Prison3/prison/internal/infrastructure/storage/sqlite"
)

// Components is the registry with everything it owns
type Components struct {
	Registry *registry.Registry
	Engine   engine.Engine
	Governor *memory.Governor
	closers  []io.Closer
}

// Close releases the store and ends every subscription
func (c *Components) Close() error {
	if c.Registry != nil {
		c.Registry.Close()
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewComponents wires the registry from configuration
func NewComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *monitoring.Metrics) (*Components, error) {
	eng, err := NewEngine(cfg.Engine, logger)
	if err != nil {
		return nil, err
	}

	store, closer, err := NewStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	governor := memory.NewGovernor(
		memory.RuntimeSampler{Limit: cfg.Memory.LimitBytes},
		memory.WithThresholds(memory.Thresholds{
			Warn:     cfg.Memory.WarnPercent,
			Critical: cfg.Memory.CriticalPercent,
			Optimize: cfg.Memory.OptimizePercent,
		}),
		memory.WithSettle(cfg.Memory.CollectSettle),
		memory.WithLogger(logger),
		memory.WithOnCollect(metrics.IncMemoryCollections),
	)

	scanner := host.NewScanner(host.Config{
		Dir:         cfg.Host.AppsDir,
		Pattern:     cfg.Host.AppsPattern,
		HostPackage: cfg.Host.Package,
		IconMaxEdge: cfg.Loader.IconMaxEdge,
	}, governor, logger)

	reg := registry.New(registry.Deps{
		Engine:   eng,
		Store:    store,
		Resolver: archive.NewResolver(),
		Governor: governor,
		Scanner:  scanner,
		Guard:    lifecycle.NewGuard(cfg.Host.Package, cfg.Host.Markers, logger),
		Metrics:  metrics,
		Logger:   logger,
		Loader: inventory.Config{
			MaxAttempts: cfg.Loader.MaxAttempts,
			AbsentDelay: cfg.Loader.AbsentDelay,
			ErrorDelay:  cfg.Loader.ErrorDelay,
			IconMaxEdge: cfg.Loader.IconMaxEdge,
			CheckEvery:  cfg.Loader.CheckEvery,
		},
	})

	return &Components{
		Registry: reg,
		Engine:   eng,
		Governor: governor,
		closers:  []io.Closer{closer},
	}, nil
}

// NewEngine selects the engine transport
func NewEngine(cfg config.EngineConfig, logger *zap.Logger) (engine.Engine, error) {
	switch cfg.Mode {
	case "http", "":
		return engine.NewHTTPClient(engine.HTTPConfig{
			BaseURL: cfg.Address,
			Timeout: cfg.Timeout,
			RPS:     cfg.RPS,
			Logger:  logger,
		}), nil
	case "memory":
		return engine.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
}

// kvStore is a key-value backend that holds resources
type kvStore interface {
	order.KV
	io.Closer
}

// NewStore opens the configured key-value backend
func NewStore(ctx context.Context, cfg config.StoreConfig) (order.KV, io.Closer, error) {
	var (
		store kvStore
		err   error
	)
	switch cfg.Driver {
	case "sqlite", "":
		store, err = sqlitestore.Open(cfg.Path)
	case "redis":
		store, err = redisstore.Open(ctx, redisstore.Config{
			Addr:   cfg.RedisAddr,
			DB:     cfg.RedisDB,
			Prefix: cfg.RedisPrefix,
		})
	case "memory":
		store = memstore.New()
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return store, store, nil
}
