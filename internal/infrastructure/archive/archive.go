// Package archive inspects package archives: a zip holding a manifest and
// an optional icon entry.
package archive

import (
	"errors"
	"fmt"
	"image"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"

	"github.com/Prison3/prison/internal/infrastructure/imaging"
)

// Bound on manifest and icon entry sizes
const maxEntrySize = 4 << 20

var (
	ErrNotArchive = errors.New("not a package archive")
	ErrNoManifest = errors.New("archive has no manifest")
	ErrNoPackage  = errors.New("manifest declares no package")
	ErrNoIcon     = errors.New("archive has no icon")
)

// Package is an opened, inspected archive
type Package struct {
	Path     string
	Manifest Manifest
}

// Inspect validates that path is a zip-based archive and reads its manifest
func Inspect(filePath string) (*Package, error) {
	if err := sniff(filePath); err != nil {
		return nil, err
	}

	r, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	m, err := readManifest(&r.Reader)
	if err != nil {
		return nil, err
	}
	return &Package{Path: filePath, Manifest: m}, nil
}

// DeclaredPackage returns the package id an archive declares
func DeclaredPackage(filePath string) (string, error) {
	pkg, err := Inspect(filePath)
	if err != nil {
		return "", err
	}
	return pkg.Manifest.Package, nil
}

// Icon decodes the icon entry named by the manifest
func (p *Package) Icon() (image.Image, error) {
	if p.Manifest.Icon == "" {
		return nil, ErrNoIcon
	}

	r, err := zip.OpenReader(p.Path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	want := strings.TrimPrefix(path.Clean(p.Manifest.Icon), "/")
	for _, f := range r.File {
		if f.Name != want {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		return imaging.Decode(data)
	}
	return nil, fmt.Errorf("%s: %w", want, ErrNoIcon)
}

func sniff(filePath string) error {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return fmt.Errorf("detect archive type: %w", err)
	}
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return nil
		}
	}
	return fmt.Errorf("%s (%s): %w", filePath, mtype.String(), ErrNotArchive)
}

func readManifest(r *zip.Reader) (Manifest, error) {
	entries := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		entries[f.Name] = f
	}

	for _, name := range manifestNames {
		f, ok := entries[name]
		if !ok {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return Manifest{}, err
		}
		return parseManifest(name, data)
	}
	return Manifest{}, ErrNoManifest
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntrySize {
		return nil, fmt.Errorf("entry %s too large: %d bytes", f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize))
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", f.Name, err)
	}
	return data, nil
}
