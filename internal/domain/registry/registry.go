package registry

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Prison3/prison/internal/domain/host"
	"github.com/Prison3/prison/internal/domain/inventory"
	"github.com/Prison3/prison/internal/domain/lifecycle"
	"github.com/Prison3/prison/internal/domain/order"
	"github.com/Prison3/prison/internal/domain/profile"
	"github.com/Prison3/prison/internal/infrastructure/engine"
	"github.com/Prison3/prison/internal/infrastructure/logging"
	"github.com/Prison3/prison/internal/infrastructure/memory"
	"github.com/Prison3/prison/internal/infrastructure/monitoring"
	"github.com/Prison3/prison/internal/shared/id"
	"github.com/Prison3/prison/internal/shared/latest"
	"github.com/Prison3/prison/internal/shared/types"
)

// Deps are the collaborators of a Registry
type Deps struct {
	Engine   engine.Engine
	Store    order.KV
	Resolver inventory.Resolver // nil names apps after their package id
	Governor *memory.Governor   // nil samples the runtime
	Scanner  *host.Scanner      // nil disables the host picker
	Guard    *lifecycle.Guard   // nil disables the self-install check
	Metrics  *monitoring.Metrics
	Logger   *zap.Logger
	Loader   inventory.Config
}

// Option configures a Registry
type Option func(*options)

type options struct {
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// WithRetrySleep replaces the wait between load attempts
func WithRetrySleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// WithClock replaces the clock stamped on snapshots and scans
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Registry is the application registry of all profiles
type Registry struct {
	engine   engine.Engine
	orders   *order.Store
	loader   *inventory.Loader
	ops      *lifecycle.Operations
	pruner   *profile.Pruner
	scanner  *host.Scanner
	governor *memory.Governor
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	profiles map[int]*profileState

	hostMu        sync.Mutex
	hostApps      []types.AppRecord
	hostScannedAt *time.Time

	transientLoads atomic.Int64
}

// profileState holds the published values of one profile
type profileState struct {
	snapshots latest.Slot[types.Snapshot]
	results   map[types.Operation]*latest.Slot[types.Result] // guarded by Registry.mu

	next      atomic.Uint64 // generations handed out
	mu        sync.Mutex
	published uint64 // highest generation published
	evicted   bool
	unknown   bool // last load was empty and the engine does not report the profile
	evictions uint64
	loadedAt  time.Time
}

// New builds a registry and its loader, lifecycle operations and pruner
func New(deps Deps, opts ...Option) *Registry {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	logger := logging.OrNop(deps.Logger)
	governor := deps.Governor
	if governor == nil {
		governor = memory.NewGovernor(nil, memory.WithLogger(logger))
	}

	r := &Registry{
		engine:   deps.Engine,
		orders:   order.NewStore(deps.Store, logger),
		scanner:  deps.Scanner,
		governor: governor,
		metrics:  deps.Metrics,
		logger:   logger.Named("registry"),
		now:      o.now,
		profiles: make(map[int]*profileState),
	}

	r.loader = inventory.NewLoader(deps.Engine, r.orders, deps.Resolver, governor, deps.Loader).
		WithMetrics(deps.Metrics).
		WithLogger(logger).
		WithClock(o.now)
	if o.sleep != nil {
		r.loader.WithSleep(o.sleep)
	}

	r.pruner = profile.NewPruner(deps.Engine, r.orders, logger).
		WithMetrics(deps.Metrics).
		OnDeleted(r.evict)

	r.ops = lifecycle.NewOperations(deps.Engine, r.orders, r.pruner, deps.Guard, logger).
		WithMetrics(deps.Metrics)

	return r
}

// Refresh loads a profile and publishes the snapshot unless a newer load
// for the same profile has already published. The loaded snapshot is
// returned either way. A profile the engine does not report is not kept
// once its watchers are gone.
func (r *Registry) Refresh(ctx context.Context, profileID int) types.Snapshot {
	state := r.state(profileID)
	gen := state.next.Add(1)

	snap := r.loader.Load(ctx, profileID)
	snap.Generation = gen
	if snap.Transient {
		r.transientLoads.Add(1)
	}
	unknown := !snap.Transient && len(snap.Apps) == 0 && !r.reported(ctx, profileID)

	state.mu.Lock()
	if published := state.published; gen <= published {
		state.mu.Unlock()
		r.logger.Debug("Discarding superseded load",
			zap.Int("profile", profileID),
			zap.Uint64("generation", gen),
			zap.Uint64("published", published))
		return snap
	}
	state.published = gen
	state.evicted = false
	state.unknown = unknown
	state.loadedAt = snap.LoadedAt
	state.snapshots.Publish(snap)
	if unknown {
		r.metrics.DeleteSnapshotApps(profileID)
	} else {
		r.metrics.SetSnapshotApps(profileID, len(snap.Apps))
	}
	state.mu.Unlock()

	if unknown {
		r.logger.Debug("Profile not reported by engine", zap.Int("profile", profileID))
		r.release(profileID)
	}
	return snap
}

// RefreshAsync runs Refresh in the background. The load completes even if
// ctx is cancelled.
func (r *Registry) RefreshAsync(ctx context.Context, profileID int) <-chan types.Snapshot {
	out := make(chan types.Snapshot, 1)
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer close(out)
		out <- r.Refresh(ctx, profileID)
	}()
	return out
}

// Snapshot returns the last published snapshot of a profile
func (r *Registry) Snapshot(profileID int) (types.Snapshot, bool) {
	state, ok := r.lookup(profileID)
	if !ok {
		return types.Snapshot{}, false
	}
	state.mu.Lock()
	evicted := state.evicted
	state.mu.Unlock()
	if evicted {
		return types.Snapshot{}, false
	}
	return state.snapshots.Get()
}

// Watch subscribes to a profile's snapshots, starting with the current one
func (r *Registry) Watch(profileID int) (<-chan types.Snapshot, func()) {
	ch, cancel := r.state(profileID).snapshots.Subscribe()
	return ch, func() {
		cancel()
		r.release(profileID)
	}
}

// WatchResults subscribes to the results of one operation on a profile
func (r *Registry) WatchResults(op types.Operation, profileID int) (<-chan types.Result, func()) {
	ch, cancel := r.resultSlot(op, profileID).Subscribe()
	return ch, func() {
		cancel()
		r.release(profileID)
	}
}

// Install installs source into a profile and reloads it on success
func (r *Registry) Install(ctx context.Context, source string, profileID int) types.Result {
	return r.mutate(ctx, types.OpInstall, profileID, func(ctx context.Context) types.Result {
		return r.ops.Install(ctx, source, profileID)
	})
}

// Uninstall removes a package from a profile and reloads it on success
func (r *Registry) Uninstall(ctx context.Context, packageID string, profileID int) types.Result {
	return r.mutate(ctx, types.OpUninstall, profileID, func(ctx context.Context) types.Result {
		return r.ops.Uninstall(ctx, packageID, profileID)
	})
}

// ClearData wipes a package's data
func (r *Registry) ClearData(ctx context.Context, packageID string, profileID int) types.Result {
	res := r.ops.ClearData(ctx, packageID, profileID)
	r.resultSlot(types.OpClearData, profileID).Publish(res)
	r.release(profileID)
	return res
}

// InstallAsync runs Install in the background
func (r *Registry) InstallAsync(ctx context.Context, source string, profileID int) <-chan types.Result {
	return r.async(ctx, func(ctx context.Context) types.Result {
		return r.Install(ctx, source, profileID)
	})
}

// UninstallAsync runs Uninstall in the background
func (r *Registry) UninstallAsync(ctx context.Context, packageID string, profileID int) <-chan types.Result {
	return r.async(ctx, func(ctx context.Context) types.Result {
		return r.Uninstall(ctx, packageID, profileID)
	})
}

// ClearDataAsync runs ClearData in the background
func (r *Registry) ClearDataAsync(ctx context.Context, packageID string, profileID int) <-chan types.Result {
	return r.async(ctx, func(ctx context.Context) types.Result {
		return r.ClearData(ctx, packageID, profileID)
	})
}

// Launch starts a package inside a profile
func (r *Registry) Launch(ctx context.Context, packageID string, profileID int) bool {
	return r.ops.Launch(ctx, packageID, profileID)
}

// Reorder stores a new order list and republishes the profile
func (r *Registry) Reorder(ctx context.Context, profileID int, packageIDs []string) types.Result {
	return r.mutate(ctx, types.OpReorder, profileID, func(ctx context.Context) types.Result {
		return r.ops.Reorder(ctx, profileID, packageIDs)
	})
}

// Profiles lists engine profiles with their labels. An engine failure
// yields an empty list.
func (r *Registry) Profiles(ctx context.Context) []types.Profile {
	profiles, err := profile.Profiles(ctx, r.engine, r.orders)
	if err != nil {
		r.logger.Warn("Failed to list profiles", zap.Error(err))
		return []types.Profile{}
	}
	return profiles
}

// SetLabel stores a profile's display label. A blank label restores the default.
func (r *Registry) SetLabel(ctx context.Context, profileID int, label string) types.Result {
	res := types.Result{
		OperationID: id.NewOperationID().String(),
		ProfileID:   profileID,
		Success:     true,
		Code:        types.CodeOK,
		Message:     "Label saved",
	}
	if err := r.orders.SetLabel(ctx, profileID, label); err != nil {
		r.logger.Warn("Failed to store label", zap.Int("profile", profileID), zap.Error(err))
		res.Success = false
		res.Code = types.CodeTransient
		res.Message = "Saving label failed: " + err.Error()
	}
	r.metrics.RecordLifecycle(string(types.OpLabel), string(res.Code))
	r.resultSlot(types.OpLabel, profileID).Publish(res)
	r.release(profileID)
	return res
}

// Prune deletes empty tail profiles and returns their ids
func (r *Registry) Prune(ctx context.Context) []int {
	return r.pruner.Scan(ctx)
}

// RefreshHostCache rescans the host archives and replaces the cache.
// A failed scan keeps the previous cache. It returns the cache size.
func (r *Registry) RefreshHostCache(ctx context.Context) int {
	if r.scanner == nil {
		return 0
	}

	apps, err := r.scanner.Scan(ctx)

	r.hostMu.Lock()
	defer r.hostMu.Unlock()
	if err != nil {
		r.logger.Error("Host scan failed", zap.Error(err))
		return len(r.hostApps)
	}
	r.hostApps = r.hostApps[:0]
	r.hostApps = append(r.hostApps, apps...)
	now := r.now()
	r.hostScannedAt = &now
	return len(r.hostApps)
}

// HostApps returns a copy of the host cache with each entry's installed
// flag set for profileID
func (r *Registry) HostApps(ctx context.Context, profileID int) []types.AppRecord {
	r.hostMu.Lock()
	apps := slices.Clone(r.hostApps)
	r.hostMu.Unlock()

	if apps == nil {
		return []types.AppRecord{}
	}
	for i := range apps {
		installed, err := r.engine.IsInstalled(ctx, apps[i].PackageID, profileID)
		if err != nil {
			r.logger.Debug("Installed check failed",
				zap.String("package", apps[i].PackageID), zap.Int("profile", profileID), zap.Error(err))
		}
		apps[i].Installed = err == nil && installed
	}
	return apps
}

// Memory returns the current memory reading
func (r *Registry) Memory() types.MemoryInfo {
	info := r.governor.Info()
	r.metrics.SetMemoryUsage(info.UsagePercent)
	return info
}

// Stats returns registry statistics
func (r *Registry) Stats() types.RegistryStats {
	r.mu.Lock()
	states := make([]*profileState, 0, len(r.profiles))
	for _, state := range r.profiles {
		states = append(states, state)
	}
	r.mu.Unlock()

	var stats types.RegistryStats
	for _, state := range states {
		state.mu.Lock()
		evicted, loadedAt := state.evicted, state.loadedAt
		state.mu.Unlock()

		stats.Subscribers += state.snapshots.Subscribers()
		if evicted {
			continue
		}
		snap, ok := state.snapshots.Get()
		if !ok {
			continue
		}
		stats.Profiles++
		stats.SnapshotApps += len(snap.Apps)
		if stats.LastRefreshed == nil || loadedAt.After(*stats.LastRefreshed) {
			t := loadedAt
			stats.LastRefreshed = &t
		}
	}

	r.hostMu.Lock()
	stats.HostApps = len(r.hostApps)
	stats.HostScannedAt = r.hostScannedAt
	r.hostMu.Unlock()

	stats.TransientLoads = r.transientLoads.Load()
	return stats
}

// Close ends every subscription
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, state := range r.profiles {
		state.snapshots.Close()
		for _, slot := range state.results {
			slot.Close()
		}
	}
}

// mutate runs a lifecycle operation, publishes its result and reloads the
// profile on success unless the pruner deleted it meanwhile
func (r *Registry) mutate(ctx context.Context, op types.Operation, profileID int, fn func(context.Context) types.Result) types.Result {
	state := r.state(profileID)
	state.mu.Lock()
	epoch := state.evictions
	state.mu.Unlock()

	res := fn(ctx)
	r.resultSlot(op, profileID).Publish(res)
	if !res.Success {
		r.release(profileID)
		return res
	}

	state.mu.Lock()
	pruned := state.evictions != epoch
	state.mu.Unlock()
	if !pruned {
		r.Refresh(ctx, profileID)
	}
	return res
}

func (r *Registry) async(ctx context.Context, fn func(context.Context) types.Result) <-chan types.Result {
	out := make(chan types.Result, 1)
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer close(out)
		out <- fn(ctx)
	}()
	return out
}

// evict drops the snapshot of a deleted profile and tells subscribers
func (r *Registry) evict(profileID int) {
	state := r.state(profileID)
	gen := state.next.Add(1)

	state.mu.Lock()
	defer state.mu.Unlock()
	state.published = gen
	state.evicted = true
	state.evictions++
	state.snapshots.Publish(types.Snapshot{
		ProfileID:  profileID,
		Apps:       []types.AppRecord{},
		LoadedAt:   r.now(),
		Generation: gen,
	})
	r.metrics.DeleteSnapshotApps(profileID)
	r.logger.Info("Evicted deleted profile", zap.Int("profile", profileID))
}

func (r *Registry) state(profileID int) *profileState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.profiles[profileID]
	if !ok {
		state = &profileState{results: make(map[types.Operation]*latest.Slot[types.Result])}
		r.profiles[profileID] = state
	}
	return state
}

// release forgets a profile that holds no snapshot worth keeping once nobody
// watches it. Loads still in flight keep it.
func (r *Registry) release(profileID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.profiles[profileID]
	if !ok || state.snapshots.Subscribers() > 0 {
		return
	}
	for _, slot := range state.results {
		if slot.Subscribers() > 0 {
			return
		}
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.next.Load() != state.published {
		return
	}
	if state.unknown || state.published == 0 {
		delete(r.profiles, profileID)
	}
}

// reported tells whether the engine lists profileID. An engine failure
// counts as reported.
func (r *Registry) reported(ctx context.Context, profileID int) bool {
	profiles, err := r.engine.ListProfiles(ctx)
	if err != nil {
		r.logger.Debug("Failed to list profiles", zap.Int("profile", profileID), zap.Error(err))
		return true
	}
	return slices.ContainsFunc(profiles, func(p types.Profile) bool { return p.ID == profileID })
}

func (r *Registry) lookup(profileID int) (*profileState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.profiles[profileID]
	return state, ok
}

func (r *Registry) resultSlot(op types.Operation, profileID int) *latest.Slot[types.Result] {
	state := r.state(profileID)
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := state.results[op]
	if !ok {
		slot = &latest.Slot[types.Result]{}
		state.results[op] = slot
	}
	return slot
}
