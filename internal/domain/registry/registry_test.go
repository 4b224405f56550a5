package registry_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Prison3/prison/internal/domain/host"
	"github.com/Prison3/prison/internal/domain/lifecycle"
	"github.com/Prison3/prison/internal/domain/registry"
	"github.com/Prison3/prison/internal/infrastructure/archive"
	"github.com/Prison3/prison/internal/infrastructure/engine"
	"github.com/Prison3/prison/internal/infrastructure/memory"
	"github.com/Prison3/prison/internal/infrastructure/monitoring"
	memstore "github.com/Prison3/prison/internal/infrastructure/storage/memory"
	"github.com/Prison3/prison/internal/shared/types"
	"github.com/Prison3/prison/tests/helpers/testutil"
)

const hostPackage = "com.android.prison"

func noSleep(context.Context, time.Duration) error { return nil }

func newRegistry(t *testing.T, eng engine.Engine, scanner *host.Scanner) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Deps{
		Engine:   eng,
		Store:    memstore.New(),
		Resolver: archive.NewResolver(),
		Governor: memory.NewGovernor(memory.Percent(10)),
		Scanner:  scanner,
		Guard:    lifecycle.NewGuard(hostPackage, []string{"prison", "virtual"}, nil),
		Metrics:  monitoring.NewMetrics(),
	}, registry.WithRetrySleep(noSleep))
	t.Cleanup(reg.Close)
	return reg
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestRefreshEmptyProfile(t *testing.T) {
	eng := engine.NewMemory()
	eng.Seed(0)
	reg := newRegistry(t, eng, nil)

	_, ok := reg.Snapshot(0)
	assert.False(t, ok)

	snap := reg.Refresh(context.Background(), 0)
	assert.Empty(t, snap.Apps)
	assert.False(t, snap.Transient)
	assert.Equal(t, uint64(1), snap.Generation)

	got, ok := reg.Snapshot(0)
	require.True(t, ok)
	assert.Equal(t, snap.Generation, got.Generation)
}

func TestInstallThenLoadIncludesPackage(t *testing.T) {
	dir := t.TempDir()
	apk := testutil.WriteAPK(t, dir, "com.example.chat", "Chat")

	eng := engine.NewMemory()
	reg := newRegistry(t, eng, nil)
	results, cancel := reg.WatchResults(types.OpInstall, 0)
	defer cancel()

	res := reg.Install(context.Background(), apk, 0)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, types.CodeOK, res.Code)
	assert.Equal(t, "com.example.chat", res.PackageID)
	assert.NotEmpty(t, res.OperationID)

	published := receive(t, results)
	assert.Equal(t, res.OperationID, published.OperationID)

	snap, ok := reg.Snapshot(0)
	require.True(t, ok)
	require.Len(t, snap.Apps, 1)
	assert.Equal(t, "Chat", snap.Apps[0].Name)
	assert.True(t, snap.Apps[0].HasIcon)
	assert.Equal(t, 96, snap.Apps[0].Icon.Bounds().Dx())
}

func TestInstallAppendsToOrder(t *testing.T) {
	dir := t.TempDir()
	eng := engine.NewMemory()
	eng.Seed(0, types.InstalledPackage{PackageID: "com.example.a", Name: "A"})
	reg := newRegistry(t, eng, nil)

	require.True(t, reg.Reorder(context.Background(), 0, []string{"com.example.a"}).Success)

	res := reg.Install(context.Background(), testutil.WriteAPK(t, dir, "com.example.b", "B"), 0)
	require.True(t, res.Success)

	snap, _ := reg.Snapshot(0)
	assert.Equal(t, []string{"com.example.a", "com.example.b"}, snap.PackageIDs())
}

func TestInstallRejectsHostPackage(t *testing.T) {
	dir := t.TempDir()
	apk := testutil.WriteArchive(t, dir, "innocent.apk", testutil.ArchiveOptions{
		Manifest: "package: " + hostPackage + "\n",
	})

	eng := testutil.NewMockEngine(t)
	eng.On("ListProfiles", mock.Anything).Return([]types.Profile{}, nil)
	reg := newRegistry(t, eng, nil)

	res := reg.Install(context.Background(), apk, 0)
	assert.False(t, res.Success)
	assert.Equal(t, types.CodeSecurityViolation, res.Code)
	eng.AssertNotCalled(t, "Install", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFailedInstallDoesNotRefresh(t *testing.T) {
	eng := engine.NewMemory()
	eng.Seed(0)
	reg := newRegistry(t, eng, nil)

	res := reg.Install(context.Background(), "/does/not/exist.apk", 0)
	assert.False(t, res.Success)
	assert.Equal(t, types.CodeEngineError, res.Code)

	_, ok := reg.Snapshot(0)
	assert.False(t, ok)
}

func TestReorderRepublishes(t *testing.T) {
	eng := engine.NewMemory()
	eng.Seed(0, testutil.Packages("com.a", "com.b", "com.c")...)
	reg := newRegistry(t, eng, nil)

	res := reg.Reorder(context.Background(), 0, []string{"com.c", "com.a"})
	require.True(t, res.Success)

	snap, ok := reg.Snapshot(0)
	require.True(t, ok)
	assert.Equal(t, []string{"com.c", "com.a", "com.b"}, snap.PackageIDs())
}

func TestUninstallLastAppEvictsProfile(t *testing.T) {
	eng := engine.NewMemory()
	eng.Seed(0, testutil.Packages("com.a")...)
	eng.Seed(1, testutil.Packages("com.b")...)
	reg := newRegistry(t, eng, nil)

	reg.Refresh(context.Background(), 1)
	snaps, cancel := reg.Watch(1)
	defer cancel()
	first := receive(t, snaps)
	require.Len(t, first.Apps, 1)

	res := reg.Uninstall(context.Background(), "com.b", 1)
	require.True(t, res.Success)

	evicted := receive(t, snaps)
	assert.Empty(t, evicted.Apps)
	assert.Greater(t, evicted.Generation, first.Generation)

	_, ok := reg.Snapshot(1)
	assert.False(t, ok)

	profiles := reg.Profiles(context.Background())
	require.Len(t, profiles, 1)
	assert.Equal(t, 0, profiles[0].ID)
}

// gatedEngine blocks the first list call until released
type gatedEngine struct {
	*engine.Memory
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (g *gatedEngine) ListInstalled(ctx context.Context, flags int, profileID int) ([]types.InstalledPackage, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
		<-g.release
		return testutil.Packages("com.stale"), nil
	}
	return g.Memory.ListInstalled(ctx, flags, profileID)
}

func TestSupersededLoadDoesNotPublish(t *testing.T) {
	mem := engine.NewMemory()
	mem.Seed(0, testutil.Packages("com.fresh")...)
	eng := &gatedEngine{Memory: mem, started: make(chan struct{}), release: make(chan struct{})}
	reg := newRegistry(t, eng, nil)

	slow := reg.RefreshAsync(context.Background(), 0)
	<-eng.started

	fast := reg.Refresh(context.Background(), 0)
	assert.Equal(t, []string{"com.fresh"}, fast.PackageIDs())

	close(eng.release)
	stale := receive(t, slow)
	assert.Equal(t, []string{"com.stale"}, stale.PackageIDs())
	assert.Less(t, stale.Generation, fast.Generation)

	got, ok := reg.Snapshot(0)
	require.True(t, ok)
	assert.Equal(t, []string{"com.fresh"}, got.PackageIDs())
}

func TestUnreportedProfilesAreNotKept(t *testing.T) {
	eng := engine.NewMemory()
	eng.Seed(0, testutil.Packages("com.a")...)
	metrics := monitoring.NewMetrics()
	reg := registry.New(registry.Deps{
		Engine:  eng,
		Store:   memstore.New(),
		Metrics: metrics,
	}, registry.WithRetrySleep(noSleep))
	t.Cleanup(reg.Close)

	reg.Refresh(context.Background(), 0)
	for id := 1; id <= 50; id++ {
		snap := reg.Refresh(context.Background(), 1000+id)
		assert.Empty(t, snap.Apps)
	}
	reg.Uninstall(context.Background(), "com.missing", 7)
	reg.SetLabel(context.Background(), 8, "Ghost")

	for _, id := range []int{1001, 1050, 7, 8} {
		_, ok := reg.Snapshot(id)
		assert.False(t, ok, id)
	}
	stats := reg.Stats()
	assert.Equal(t, 1, stats.Profiles)
	assert.Equal(t, 1, promtest.CollectAndCount(metrics.SnapshotApps))
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.SnapshotApps.WithLabelValues("0")))
}

func TestWatchedUnreportedProfileKeptUntilCancel(t *testing.T) {
	reg := newRegistry(t, engine.NewMemory(), nil)

	snaps, cancel := reg.Watch(42)
	reg.Refresh(context.Background(), 42)
	snap := receive(t, snaps)
	assert.Empty(t, snap.Apps)

	_, ok := reg.Snapshot(42)
	assert.True(t, ok)

	cancel()
	_, ok = reg.Snapshot(42)
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Stats().Subscribers)
}

func TestTransientLoad(t *testing.T) {
	eng := testutil.NewMockEngine(t)
	eng.On("ListInstalled", mock.Anything, 0, 0).Return(nil, engine.ErrNoResult)
	reg := newRegistry(t, eng, nil)

	snap := reg.Refresh(context.Background(), 0)
	assert.True(t, snap.Transient)
	assert.Empty(t, snap.Apps)
	assert.Equal(t, 3, snap.Attempts)
	assert.Equal(t, int64(1), reg.Stats().TransientLoads)
}

func TestHostCache(t *testing.T) {
	dir := t.TempDir()
	chat := testutil.WriteAPK(t, dir, "com.example.chat", "Chat")
	testutil.WriteAPK(t, dir, "com.example.chess", "Chess")
	testutil.WriteAPK(t, dir, hostPackage, "Prison")

	scanner := host.NewScanner(host.Config{Dir: dir, HostPackage: hostPackage},
		memory.NewGovernor(memory.Percent(10)), nil)
	eng := engine.NewMemory()
	reg := newRegistry(t, eng, scanner)

	assert.Empty(t, reg.HostApps(context.Background(), 0))
	assert.Equal(t, 2, reg.RefreshHostCache(context.Background()))

	require.True(t, reg.Install(context.Background(), chat, 0).Success)

	apps := reg.HostApps(context.Background(), 0)
	require.Len(t, apps, 2)
	assert.Equal(t, "com.example.chat", apps[0].PackageID)
	assert.True(t, apps[0].Installed)
	assert.False(t, apps[1].Installed)

	// copies never leak into the cache
	apps[1].Installed = true
	assert.False(t, reg.HostApps(context.Background(), 0)[1].Installed)

	stats := reg.Stats()
	assert.Equal(t, 2, stats.HostApps)
	assert.NotNil(t, stats.HostScannedAt)
}

func TestHostCacheWithoutScanner(t *testing.T) {
	reg := newRegistry(t, engine.NewMemory(), nil)
	assert.Equal(t, 0, reg.RefreshHostCache(context.Background()))
	assert.Empty(t, reg.HostApps(context.Background(), 0))
}

func TestProfilesAndLabels(t *testing.T) {
	eng := engine.NewMemory()
	eng.Seed(1, testutil.Packages("com.a")...)
	reg := newRegistry(t, eng, nil)

	res := reg.SetLabel(context.Background(), 1, "Work")
	require.True(t, res.Success)

	profiles := reg.Profiles(context.Background())
	assert.Equal(t, []types.Profile{
		{ID: 0, Label: "User 0"},
		{ID: 1, Label: "Work"},
	}, profiles)
}

func TestProfilesEngineFailure(t *testing.T) {
	eng := testutil.NewMockEngine(t)
	eng.On("ListProfiles", mock.Anything).Return(nil, assert.AnError)
	reg := newRegistry(t, eng, nil)

	assert.Empty(t, reg.Profiles(context.Background()))
}

func TestAsyncOperations(t *testing.T) {
	dir := t.TempDir()
	apk := testutil.WriteAPK(t, dir, "com.example.chat", "Chat")
	eng := engine.NewMemory()
	eng.Seed(0, testutil.Packages("com.keep")...)
	reg := newRegistry(t, eng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch := reg.InstallAsync(ctx, apk, 0)
	cancel()
	res := receive(t, ch)
	assert.True(t, res.Success, res.Message)

	res = receive(t, reg.ClearDataAsync(context.Background(), "com.example.chat", 0))
	assert.True(t, res.Success)

	res = receive(t, reg.UninstallAsync(context.Background(), "com.example.chat", 0))
	assert.True(t, res.Success)

	snap, ok := reg.Snapshot(0)
	require.True(t, ok)
	assert.Equal(t, []string{"com.keep"}, snap.PackageIDs())
}

func TestLaunch(t *testing.T) {
	eng := engine.NewMemory()
	eng.Seed(0, testutil.Packages("com.a")...)
	reg := newRegistry(t, eng, nil)

	assert.True(t, reg.Launch(context.Background(), "com.a", 0))
	assert.False(t, reg.Launch(context.Background(), "com.missing", 0))
	assert.Equal(t, 1, eng.Launches("com.a", 0))
}

func TestStatsAndMemory(t *testing.T) {
	eng := engine.NewMemory()
	eng.Seed(0, testutil.Packages("com.a", "com.b")...)
	reg := newRegistry(t, eng, nil)

	reg.Refresh(context.Background(), 0)
	_, cancel := reg.Watch(0)
	defer cancel()

	stats := reg.Stats()
	assert.Equal(t, 1, stats.Profiles)
	assert.Equal(t, 2, stats.SnapshotApps)
	assert.Equal(t, 1, stats.Subscribers)
	assert.NotNil(t, stats.LastRefreshed)

	info := reg.Memory()
	assert.Equal(t, 10, info.UsagePercent)
	assert.Equal(t, "safe", info.StateName)
}
