package host_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prison3/prison/internal/domain/host"
	"github.com/Prison3/prison/internal/infrastructure/archive"
	"github.com/Prison3/prison/internal/infrastructure/memory"
	"github.com/Prison3/prison/tests/helpers/testutil"
)

func newScanner(dir string, usage float64) *host.Scanner {
	return host.NewScanner(host.Config{
		Dir:         dir,
		HostPackage: "com.android.prison",
	}, memory.NewGovernor(memory.Percent(usage)), nil)
}

func TestScanFindsArchives(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteAPK(t, dir, "com.example.chat", "Chat")
	testutil.WriteAPK(t, filepath.Join(dir, "games"), "com.example.chess", "Chess")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	apps, err := newScanner(dir, 10).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 2)

	assert.Equal(t, "com.example.chat", apps[0].PackageID)
	assert.Equal(t, "Chat", apps[0].Name)
	assert.Equal(t, "com.example.chess", apps[1].PackageID)
	assert.Equal(t, filepath.Join(dir, "games", "com.example.chess.apk"), apps[1].SourceDir)

	for _, app := range apps {
		assert.True(t, app.HasIcon)
		require.NotNil(t, app.Icon)
		assert.Equal(t, 96, app.Icon.Bounds().Dx())
		assert.False(t, app.Installed)
	}
}

func TestScanFiltersHostSystemAndABI(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteAPK(t, dir, "com.android.prison", "Prison")
	testutil.WriteAPK(t, dir, "com.android.prison.helper", "Helper")
	testutil.WriteAPK(t, dir, "com.android.prisonx", "Lookalike")
	testutil.WriteArchive(t, dir, "settings.apk", testutil.ArchiveOptions{
		Manifest: "package: com.android.settings\nsystem: true\n",
	})
	testutil.WriteArchive(t, dir, "native.apk", testutil.ArchiveOptions{
		Manifest: "package: com.example.native\nabis: [mips]\n",
	})

	apps, err := newScanner(dir, 10).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "com.android.prisonx", apps[0].PackageID)
}

func TestScanSkipsBrokenArchives(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.apk"), []byte("not a zip"), 0o644))
	testutil.WriteArchive(t, dir, "nomanifest.apk", testutil.ArchiveOptions{
		Extra: map[string][]byte{"classes.dex": []byte("dex")},
	})
	testutil.WriteAPK(t, dir, "com.example.ok", "OK")

	apps, err := newScanner(dir, 10).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "com.example.ok", apps[0].PackageID)
}

func TestScanNameFallsBackToPackage(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteArchive(t, dir, "bare.apk", testutil.ArchiveOptions{
		Manifest: "package: com.example.bare\n",
	})

	apps, err := newScanner(dir, 10).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "com.example.bare", apps[0].Name)
	assert.False(t, apps[0].HasIcon)
	assert.Nil(t, apps[0].Icon)
}

func TestScanSkipsIconsUnderPressure(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteAPK(t, dir, "com.example.chat", "Chat")

	apps, err := newScanner(dir, 80).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "Chat", apps[0].Name)
	assert.False(t, apps[0].HasIcon)
	assert.Nil(t, apps[0].Icon)
}

func TestScanDeduplicatesPackages(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteAPK(t, filepath.Join(dir, "a"), "com.example.chat", "Chat A")
	testutil.WriteAPK(t, filepath.Join(dir, "b"), "com.example.chat", "Chat B")

	apps, err := newScanner(dir, 10).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "Chat A", apps[0].Name)
}

func TestScanCustomPattern(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteAPK(t, dir, "com.example.top", "Top")
	testutil.WriteAPK(t, filepath.Join(dir, "nested"), "com.example.nested", "Nested")

	scanner := host.NewScanner(host.Config{Dir: dir, Pattern: "*.apk"}, memory.NewGovernor(memory.Percent(10)), nil)
	apps, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "com.example.top", apps[0].PackageID)
}

func TestScanMissingDirectory(t *testing.T) {
	apps, err := newScanner(filepath.Join(t.TempDir(), "missing"), 10).Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestScanCancelled(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteAPK(t, dir, "com.example.chat", "Chat")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newScanner(dir, 10).Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestABICheckOverride(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteArchive(t, dir, "native.apk", testutil.ArchiveOptions{
		Manifest: "package: com.example.native\nabis: [arm64-v8a]\n",
	})

	scanner := newScanner(dir, 10).WithABICheck(func(m archive.Manifest) bool {
		return m.SupportsABI("amd64")
	})
	apps, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestIsHostPackage(t *testing.T) {
	scanner := newScanner(t.TempDir(), 10)
	assert.True(t, scanner.IsHostPackage("com.android.prison"))
	assert.True(t, scanner.IsHostPackage("com.android.prison.helper"))
	assert.False(t, scanner.IsHostPackage("com.android.prisonx"))
	assert.False(t, host.NewScanner(host.Config{}, nil, nil).IsHostPackage("com.android.prison"))
}

func TestScanDropsOversizedIcon(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteArchive(t, dir, "huge.apk", testutil.ArchiveOptions{
		Manifest: "package: com.example.huge\nname: Huge\nicon: res/icon.png\n",
		Extra:    map[string][]byte{"res/icon.png": testutil.OversizedPNG(t, 12000, 12000)},
	})

	apps, err := newScanner(dir, 10).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "Huge", apps[0].Name)
	assert.False(t, apps[0].HasIcon)
	assert.Nil(t, apps[0].Icon)
}
