package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// ArchiveOptions describes a package archive fixture
type ArchiveOptions struct {
	ManifestName string // defaults to manifest.yaml
	Manifest     string
	IconPath     string
	Icon         image.Image
	Extra        map[string][]byte
}

// WriteArchive writes a zip package archive into dir and returns its path
func WriteArchive(t testing.TB, dir, file string, opts ArchiveOptions) string {
	t.Helper()

	path := filepath.Join(dir, file)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)

	name := opts.ManifestName
	if name == "" {
		name = "manifest.yaml"
	}
	if opts.Manifest != "" {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(opts.Manifest))
		require.NoError(t, err)
	}

	if opts.Icon != nil && opts.IconPath != "" {
		w, err := zw.Create(opts.IconPath)
		require.NoError(t, err)
		require.NoError(t, png.Encode(w, opts.Icon))
	}

	for entry, data := range opts.Extra {
		w, err := zw.Create(entry)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())
	return path
}

// WriteAPK writes an archive declaring pkg with a label and a 128x128 icon
func WriteAPK(t testing.TB, dir, pkg, label string) string {
	t.Helper()
	manifest := fmt.Sprintf("package: %s\nname: %s\nversion: \"1.0\"\nicon: res/icon.png\n", pkg, label)
	return WriteArchive(t, dir, pkg+".apk", ArchiveOptions{
		Manifest: manifest,
		IconPath: "res/icon.png",
		Icon:     SolidIcon(128, 128),
	})
}

// SolidIcon returns an opaque single-colour image
func SolidIcon(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 30, G: 144, B: 255, A: 255})
		}
	}
	return img
}

// OversizedPNG returns a valid 1x1 PNG whose header declares w x h pixels
func OversizedPNG(t testing.TB, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))

	data := buf.Bytes()
	require.Equal(t, "IHDR", string(data[12:16]))
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}
