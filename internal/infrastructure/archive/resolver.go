package archive

import (
	"fmt"
	"image"
	"strings"

	"github.com/Prison3/prison/internal/shared/types"
)

// Resolver resolves display attributes of installed packages from the
// archives they were installed from
type Resolver struct{}

// NewResolver creates an archive-backed resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// Label returns the engine-reported name, or the manifest name
func (r *Resolver) Label(pkg types.InstalledPackage) (string, error) {
	if name := strings.TrimSpace(pkg.Name); name != "" {
		return name, nil
	}
	if pkg.SourceDir == "" {
		return "", fmt.Errorf("%s: no source archive", pkg.PackageID)
	}
	p, err := Inspect(pkg.SourceDir)
	if err != nil {
		return "", err
	}
	return p.Manifest.DisplayName(), nil
}

// Icon decodes the package icon from its source archive
func (r *Resolver) Icon(pkg types.InstalledPackage) (image.Image, error) {
	if pkg.SourceDir == "" {
		return nil, fmt.Errorf("%s: %w", pkg.PackageID, ErrNoIcon)
	}
	p, err := Inspect(pkg.SourceDir)
	if err != nil {
		return nil, err
	}
	return p.Icon()
}
