// Package inventory materializes a profile's ordered application list from
// the engine's raw installed list.
package inventory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Prison3/prison/internal/infrastructure/engine"
	"github.com/Prison3/prison/internal/infrastructure/imaging"
	"github.com/Prison3/prison/internal/infrastructure/logging"
	"github.com/Prison3/prison/internal/infrastructure/memory"
	"github.com/Prison3/prison/internal/infrastructure/monitoring"
	"github.com/Prison3/prison/internal/infrastructure/resilience"
	"github.com/Prison3/prison/internal/shared/types"
)

// Resolver looks up display attributes of one installed package
type Resolver interface {
	Label(pkg types.InstalledPackage) (string, error)
	Icon(pkg types.InstalledPackage) (image.Image, error)
}

// OrderSource provides the persisted order list of a profile
type OrderSource interface {
	Order(ctx context.Context, profileID int) []string
}

// Config tunes a Loader
type Config struct {
	MaxAttempts   int
	AbsentDelay   time.Duration // wait after the engine answered without a list
	ErrorDelay    time.Duration // wait after the engine call failed
	IconMaxEdge   int
	CheckEvery    int // items between memory re-checks
	ProgressEvery int // items between progress log lines
	Flags         int // passed through to the engine list call
}

// DefaultConfig returns 3 attempts, 100ms/200ms delays and a 96px icon bound
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		AbsentDelay:   100 * time.Millisecond,
		ErrorDelay:    200 * time.Millisecond,
		IconMaxEdge:   imaging.DefaultMaxEdge,
		CheckEvery:    25,
		ProgressEvery: 50,
	}
}

// Loader loads profile inventories
type Loader struct {
	engine   engine.Engine
	orders   OrderSource
	resolver Resolver
	governor *memory.Governor
	cfg      Config
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewLoader creates a loader. A nil resolver names every app after its package id.
func NewLoader(eng engine.Engine, orders OrderSource, resolver Resolver, governor *memory.Governor, cfg Config) *Loader {
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.IconMaxEdge <= 0 {
		cfg.IconMaxEdge = def.IconMaxEdge
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = def.CheckEvery
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = def.ProgressEvery
	}
	if governor == nil {
		governor = memory.NewGovernor(nil)
	}
	return &Loader{
		engine:   eng,
		orders:   orders,
		resolver: resolver,
		governor: governor,
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
}

// WithMetrics adds metrics tracking to the loader
func (l *Loader) WithMetrics(metrics *monitoring.Metrics) *Loader {
	l.metrics = metrics
	return l
}

// WithLogger sets the logger
func (l *Loader) WithLogger(logger *zap.Logger) *Loader {
	l.logger = logging.OrNop(logger).Named("inventory")
	return l
}

// WithSleep replaces the retry wait, for tests
func (l *Loader) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Loader {
	l.sleep = sleep
	return l
}

// WithClock replaces the snapshot clock
func (l *Loader) WithClock(now func() time.Time) *Loader {
	l.now = now
	return l
}

// Load returns the ordered snapshot of a profile. It never fails: when the
// engine stays unavailable the snapshot is empty and marked transient.
func (l *Loader) Load(ctx context.Context, profileID int) types.Snapshot {
	start := time.Now()

	pkgs, attempts, err := resilience.Retry(ctx, l.retryPolicy(profileID), func(ctx context.Context, attempt int) ([]types.InstalledPackage, error) {
		return l.fetch(ctx, profileID)
	})
	if err != nil {
		l.logger.Warn("Engine list unavailable, publishing empty snapshot",
			zap.Int("profile", profileID),
			zap.Int("attempts", attempts),
			zap.Error(err))
		l.metrics.RecordLoad("transient", time.Since(start))
		return types.Snapshot{
			ProfileID: profileID,
			Apps:      []types.AppRecord{},
			LoadedAt:  l.now(),
			Attempts:  attempts,
			Transient: true,
			Error:     err.Error(),
		}
	}

	// An empty list is a valid terminal state, never a cue to show host apps
	if len(pkgs) == 0 {
		l.logger.Debug("No applications installed", zap.Int("profile", profileID))
		l.metrics.RecordLoad("empty", time.Since(start))
		return types.Snapshot{
			ProfileID: profileID,
			Apps:      []types.AppRecord{},
			LoadedAt:  l.now(),
			Attempts:  attempts,
		}
	}

	var order []string
	if l.orders != nil {
		order = l.orders.Order(ctx, profileID)
	}
	sorted := l.sort(pkgs, order)
	apps := l.materialize(profileID, sorted)

	l.logger.Debug("Inventory loaded",
		zap.Int("profile", profileID),
		zap.Int("apps", len(apps)),
		zap.Int("attempts", attempts),
		zap.String("memory", l.governor.Info().Summary))
	l.metrics.SetMemoryUsage(l.governor.UsagePercent())
	l.metrics.RecordLoad("ok", time.Since(start))

	return types.Snapshot{
		ProfileID: profileID,
		Apps:      apps,
		LoadedAt:  l.now(),
		Attempts:  attempts,
	}
}

func (l *Loader) retryPolicy(profileID int) resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxAttempts: l.cfg.MaxAttempts,
		Backoff: resilience.FixedBackoff(func(err error) bool {
			return errors.Is(err, engine.ErrNoResult)
		}, l.cfg.AbsentDelay, l.cfg.ErrorDelay),
		OnRetry: func(attempt int, err error, delay time.Duration) {
			l.logger.Warn("Engine list failed, retrying",
				zap.Int("profile", profileID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		},
		Sleep: l.sleep,
	}
}

// fetch makes one engine call. A nil list counts as an absent answer.
func (l *Loader) fetch(ctx context.Context, profileID int) (pkgs []types.InstalledPackage, err error) {
	defer func() {
		if r := recover(); r != nil {
			pkgs, err = nil, fmt.Errorf("engine list panicked: %v", r)
		}
		switch {
		case err == nil:
			l.metrics.RecordLoadAttempt("ok")
		case errors.Is(err, engine.ErrNoResult):
			l.metrics.RecordLoadAttempt("absent")
		default:
			l.metrics.RecordLoadAttempt("error")
		}
	}()

	pkgs, err = l.engine.ListInstalled(ctx, l.cfg.Flags, profileID)
	if err == nil && pkgs == nil {
		err = engine.ErrNoResult
	}
	return pkgs, err
}

// sort falls back to engine order if ordering panics
func (l *Loader) sort(pkgs []types.InstalledPackage, order []string) (out []types.InstalledPackage) {
	if len(order) == 0 {
		return pkgs
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Sorting failed, keeping engine order", zap.Any("panic", r))
			out = pkgs
		}
	}()
	return SortByOrder(pkgs, order)
}

func (l *Loader) materialize(profileID int, pkgs []types.InstalledPackage) []types.AppRecord {
	apps := make([]types.AppRecord, 0, len(pkgs))
	for i, pkg := range pkgs {
		if i > 0 && i%l.cfg.CheckEvery == 0 {
			l.governor.ForceCollectIfCritical()
		}

		if strings.TrimSpace(pkg.PackageID) == "" {
			l.logger.Warn("Skipping entry without package id",
				zap.Int("profile", profileID), zap.Int("index", i))
			continue
		}

		apps = append(apps, l.resolve(pkg))

		if i > 0 && i%l.cfg.ProgressEvery == 0 {
			l.logger.Debug("Processing applications",
				zap.Int("profile", profileID),
				zap.Int("processed", i),
				zap.Int("total", len(pkgs)),
				zap.String("memory", l.governor.Info().Summary))
			if l.governor.ShouldOptimize() {
				l.logger.Info("Memory usage above optimization threshold",
					zap.Int("profile", profileID),
					zap.Int("processed", i),
					zap.Int("usage_percent", l.governor.UsagePercent()))
			}
		}
	}
	return apps
}

// resolve builds one record; any failure degrades to the package id and no icon
func (l *Loader) resolve(pkg types.InstalledPackage) (rec types.AppRecord) {
	rec = types.AppRecord{
		Name:      pkg.PackageID,
		PackageID: pkg.PackageID,
		SourceDir: pkg.SourceDir,
		Installed: true,
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("Resolving application failed",
				zap.String("package", pkg.PackageID), zap.Any("panic", r))
			rec.Name, rec.Icon, rec.HasIcon = pkg.PackageID, nil, false
		}
	}()

	if l.resolver == nil {
		if name := strings.TrimSpace(pkg.Name); name != "" {
			rec.Name = name
		}
		return rec
	}

	if name, err := l.resolver.Label(pkg); err != nil {
		l.logger.Debug("Label lookup failed", zap.String("package", pkg.PackageID), zap.Error(err))
	} else if name = strings.TrimSpace(name); name != "" {
		rec.Name = name
	}

	if l.governor.ShouldSkipIcon() {
		l.metrics.IncIconsSkipped()
		return rec
	}
	icon, err := l.resolver.Icon(pkg)
	if err != nil || icon == nil {
		return rec
	}
	rec.Icon = imaging.Downscale(icon, l.cfg.IconMaxEdge)
	rec.HasIcon = true
	return rec
}

// SortByOrder orders pkgs by their index in order. Packages missing from
// order follow all ordered ones and keep their relative engine order. The
// input is not modified.
func SortByOrder(pkgs []types.InstalledPackage, order []string) []types.InstalledPackage {
	index := make(map[string]int, len(order))
	for i, id := range order {
		if _, dup := index[id]; !dup {
			index[id] = i
		}
	}

	type keyed struct {
		key int
		pkg types.InstalledPackage
	}
	items := make([]keyed, len(pkgs))
	for i, pkg := range pkgs {
		key, ok := index[pkg.PackageID]
		if !ok {
			key = len(order) + i
		}
		items[i] = keyed{key: key, pkg: pkg}
	}

	slices.SortStableFunc(items, func(a, b keyed) int {
		return cmp.Compare(a.key, b.key)
	})

	out := make([]types.InstalledPackage, len(items))
	for i, it := range items {
		out[i] = it.pkg
	}
	return out
}
