// Package memory classifies process memory pressure and gates expensive
// per-item work (icon decoding, bulk loads) on it.
//
// Readings are never cached: every query samples the process again.
package memory

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Prison3/prison/internal/infrastructure/logging"
	"github.com/Prison3/prison/internal/shared/types"
)

// Usage is one memory reading
type Usage struct {
	Used uint64
	Max  uint64
}

// Percent returns Used/Max as a percentage, 0 when Max is unknown
func (u Usage) Percent() float64 {
	if u.Max == 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Max) * 100
}

// Sampler reads current memory usage
type Sampler interface {
	Sample() (Usage, error)
}

// SamplerFunc adapts a function to Sampler
type SamplerFunc func() (Usage, error)

// Sample implements Sampler
func (f SamplerFunc) Sample() (Usage, error) { return f() }

// Thresholds are percentages of the memory ceiling
type Thresholds struct {
	Warn     float64 // icon loading is skipped above this
	Critical float64 // a collection pass is forced above this
	Optimize float64 // general optimization kicks in above this
}

// DefaultThresholds returns the 75/90/70 thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{Warn: 75, Critical: 90, Optimize: 70}
}

// Governor classifies memory usage into Safe / Warn / Critical
type Governor struct {
	sampler     Sampler
	thresholds  Thresholds
	collect     func()
	settle      time.Duration
	sleep       func(time.Duration)
	logger      *zap.Logger
	onCollect   func()
	collections atomic.Int64
}

// Option configures a Governor
type Option func(*Governor)

// WithThresholds overrides the default thresholds
func WithThresholds(t Thresholds) Option {
	return func(g *Governor) { g.thresholds = t }
}

// WithCollector replaces the collection pass (runtime.GC + FreeOSMemory)
func WithCollector(collect func(), settle time.Duration) Option {
	return func(g *Governor) {
		g.collect = collect
		g.settle = settle
	}
}

// WithSettle sets the wait after a forced collection
func WithSettle(settle time.Duration) Option {
	return func(g *Governor) { g.settle = settle }
}

// WithSleep replaces the settle wait, for tests
func WithSleep(sleep func(time.Duration)) Option {
	return func(g *Governor) { g.sleep = sleep }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(g *Governor) { g.logger = logger }
}

// WithOnCollect registers a hook run after every forced collection
func WithOnCollect(fn func()) Option {
	return func(g *Governor) { g.onCollect = fn }
}

// NewGovernor creates a governor over the given sampler
func NewGovernor(sampler Sampler, opts ...Option) *Governor {
	g := &Governor{
		sampler:    sampler,
		thresholds: DefaultThresholds(),
		collect: func() {
			runtime.GC()
			debug.FreeOSMemory()
		},
		settle: 100 * time.Millisecond,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrNop(g.logger).Named("memory")
	return g
}

// sample reads usage; a failed reading is treated as no pressure.
func (g *Governor) sample() Usage {
	if g.sampler == nil {
		return Usage{}
	}
	u, err := g.sampler.Sample()
	if err != nil {
		g.logger.Warn("Memory sample failed, assuming safe", zap.Error(err))
		return Usage{}
	}
	return u
}

// UsagePercent returns the current usage as a whole percentage
func (g *Governor) UsagePercent() int {
	return int(g.sample().Percent())
}

// State classifies the current usage
func (g *Governor) State() types.MemoryState {
	return g.classify(g.sample().Percent())
}

func (g *Governor) classify(pct float64) types.MemoryState {
	switch {
	case pct > g.thresholds.Critical:
		return types.MemoryCritical
	case pct > g.thresholds.Warn:
		return types.MemoryWarn
	default:
		return types.MemorySafe
	}
}

// IsCritical reports whether usage is above the critical threshold
func (g *Governor) IsCritical() bool {
	return g.State() == types.MemoryCritical
}

// ShouldSkipIcon reports whether icon loading should be skipped (usage above Warn)
func (g *Governor) ShouldSkipIcon() bool {
	return g.sample().Percent() > g.thresholds.Warn
}

// ShouldOptimize reports whether usage is above the optimization threshold
func (g *Governor) ShouldOptimize() bool {
	return g.sample().Percent() > g.thresholds.Optimize
}

// ForceCollectIfCritical runs a collection pass when usage is critical.
// It is a no-op otherwise and reports whether a pass ran.
func (g *Governor) ForceCollectIfCritical() bool {
	u := g.sample()
	if g.classify(u.Percent()) != types.MemoryCritical {
		return false
	}

	g.logger.Warn("Memory usage critical, forcing collection",
		zap.Int("usage_percent", int(u.Percent())),
	)
	g.runCollection()
	return true
}

func (g *Governor) runCollection() {
	if g.collect != nil {
		g.collect()
	}
	if g.settle > 0 && g.sleep != nil {
		g.sleep(g.settle)
	}
	g.collections.Add(1)
	if g.onCollect != nil {
		g.onCollect()
	}
}

// Collections returns the number of forced collection passes so far
func (g *Governor) Collections() int64 {
	return g.collections.Load()
}

// Info returns a reading suitable for diagnostics
func (g *Governor) Info() types.MemoryInfo {
	u := g.sample()
	pct := u.Percent()
	state := g.classify(pct)
	return types.MemoryInfo{
		UsedBytes:    u.Used,
		MaxBytes:     u.Max,
		UsagePercent: int(pct),
		State:        state,
		StateName:    state.String(),
		Summary:      fmt.Sprintf("Memory: %dMB used / %dMB max (%d%%)", u.Used/1024/1024, u.Max/1024/1024, int(pct)),
	}
}
