package archive_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prison3/prison/internal/infrastructure/archive"
	"github.com/Prison3/prison/internal/infrastructure/imaging"
	"github.com/Prison3/prison/internal/shared/types"
	"github.com/Prison3/prison/tests/helpers/testutil"
)

func TestInspectManifestFormats(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name         string
		manifestName string
		manifest     string
	}{
		{
			name:         "yaml",
			manifestName: "manifest.yaml",
			manifest:     "package: com.example.notes\nname: Notes\nversion: \"2.1\"\nabis: [arm64-v8a, x86_64]\n",
		},
		{
			name:         "yml",
			manifestName: "manifest.yml",
			manifest:     "package: com.example.notes\nname: Notes\nversion: \"2.1\"\nabis: [arm64-v8a, x86_64]\n",
		},
		{
			name:         "toml",
			manifestName: "manifest.toml",
			manifest:     "package = \"com.example.notes\"\nname = \"Notes\"\nversion = \"2.1\"\nabis = [\"arm64-v8a\", \"x86_64\"]\n",
		},
		{
			name:         "json",
			manifestName: "manifest.json",
			manifest:     `{"package":"com.example.notes","name":"Notes","version":"2.1","abis":["arm64-v8a","x86_64"]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testutil.WriteArchive(t, dir, tt.name+".apk", testutil.ArchiveOptions{
				ManifestName: tt.manifestName,
				Manifest:     tt.manifest,
			})

			pkg, err := archive.Inspect(path)
			require.NoError(t, err)
			assert.Equal(t, "com.example.notes", pkg.Manifest.Package)
			assert.Equal(t, "Notes", pkg.Manifest.Name)
			assert.Equal(t, "2.1", pkg.Manifest.Version)
			assert.Equal(t, []string{"arm64-v8a", "x86_64"}, pkg.Manifest.ABIs)
		})
	}
}

func TestInspectRejectsNonArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.apk")
	require.NoError(t, os.WriteFile(path, []byte("plain text, not a zip"), 0o644))

	_, err := archive.Inspect(path)
	assert.ErrorIs(t, err, archive.ErrNotArchive)
}

func TestInspectMissingManifest(t *testing.T) {
	path := testutil.WriteArchive(t, t.TempDir(), "bare.apk", testutil.ArchiveOptions{
		Extra: map[string][]byte{"classes.bin": []byte{0x1, 0x2}},
	})

	_, err := archive.Inspect(path)
	assert.ErrorIs(t, err, archive.ErrNoManifest)
}

func TestInspectMissingPackage(t *testing.T) {
	path := testutil.WriteArchive(t, t.TempDir(), "anon.apk", testutil.ArchiveOptions{
		Manifest: "name: Anonymous\n",
	})

	_, err := archive.Inspect(path)
	assert.ErrorIs(t, err, archive.ErrNoPackage)
}

func TestDeclaredPackage(t *testing.T) {
	path := testutil.WriteAPK(t, t.TempDir(), "com.android.prison", "Prison")

	pkg, err := archive.DeclaredPackage(path)
	require.NoError(t, err)
	assert.Equal(t, "com.android.prison", pkg)

	_, err = archive.DeclaredPackage(filepath.Join(t.TempDir(), "missing.apk"))
	assert.Error(t, err)
}

func TestPackageIcon(t *testing.T) {
	path := testutil.WriteAPK(t, t.TempDir(), "com.example.camera", "Camera")

	pkg, err := archive.Inspect(path)
	require.NoError(t, err)

	icon, err := pkg.Icon()
	require.NoError(t, err)
	assert.Equal(t, 128, icon.Bounds().Dx())

	noIcon := testutil.WriteArchive(t, t.TempDir(), "plain.apk", testutil.ArchiveOptions{
		Manifest: "package: com.example.plain\n",
	})
	pkg, err = archive.Inspect(noIcon)
	require.NoError(t, err)
	_, err = pkg.Icon()
	assert.ErrorIs(t, err, archive.ErrNoIcon)
}

func TestPackageIconRejectsOversizedImage(t *testing.T) {
	path := testutil.WriteArchive(t, t.TempDir(), "huge.apk", testutil.ArchiveOptions{
		Manifest: "package: com.example.huge\nicon: res/icon.png\n",
		Extra:    map[string][]byte{"res/icon.png": testutil.OversizedPNG(t, 12000, 12000)},
	})

	pkg, err := archive.Inspect(path)
	require.NoError(t, err)
	icon, err := pkg.Icon()
	assert.ErrorIs(t, err, imaging.ErrIconTooLarge)
	assert.Nil(t, icon)
}

func TestSupportsABI(t *testing.T) {
	tests := []struct {
		name   string
		abis   []string
		goarch string
		want   bool
	}{
		{name: "no native code", abis: nil, goarch: "amd64", want: true},
		{name: "arm64 on arm64", abis: []string{"arm64-v8a"}, goarch: "arm64", want: true},
		{name: "armv7 on arm64", abis: []string{"armeabi-v7a"}, goarch: "arm64", want: true},
		{name: "arm64 on arm", abis: []string{"arm64-v8a"}, goarch: "arm", want: false},
		{name: "x86 only on arm64", abis: []string{"x86", "x86_64"}, goarch: "arm64", want: false},
		{name: "case insensitive", abis: []string{"X86_64"}, goarch: "amd64", want: true},
		{name: "unknown arch", abis: []string{"x86_64"}, goarch: "riscv64", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := archive.Manifest{Package: "p", ABIs: tt.abis}
			assert.Equal(t, tt.want, m.SupportsABI(tt.goarch))
		})
	}
}

func TestResolver(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteAPK(t, dir, "com.example.maps", "Maps")
	r := archive.NewResolver()

	label, err := r.Label(types.InstalledPackage{PackageID: "com.example.maps", SourceDir: path})
	require.NoError(t, err)
	assert.Equal(t, "Maps", label)

	label, err = r.Label(types.InstalledPackage{PackageID: "com.example.maps", Name: "Engine Maps"})
	require.NoError(t, err)
	assert.Equal(t, "Engine Maps", label)

	_, err = r.Label(types.InstalledPackage{PackageID: "com.example.gone"})
	assert.Error(t, err)

	icon, err := r.Icon(types.InstalledPackage{PackageID: "com.example.maps", SourceDir: path})
	require.NoError(t, err)
	assert.NotNil(t, icon)

	_, err = r.Icon(types.InstalledPackage{PackageID: "com.example.gone"})
	assert.ErrorIs(t, err, archive.ErrNoIcon)
}
