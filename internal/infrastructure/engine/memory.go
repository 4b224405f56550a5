package engine

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/Prison3/prison/internal/infrastructure/archive"
	"github.com/Prison3/prison/internal/shared/types"
)

// Memory is an in-process engine. Profiles are allocated densely: an install
// may target an existing profile or the next free id, nothing beyond.
type Memory struct {
	mu       sync.RWMutex
	profiles map[int][]types.InstalledPackage
	data     map[string]int // "<profile>/<pkg>" -> launches since last clear
}

// NewMemory creates an empty in-process engine
func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[int][]types.InstalledPackage),
		data:     make(map[string]int),
	}
}

// Seed installs packages directly, creating the profile if needed
func (m *Memory) Seed(profileID int, pkgs ...types.InstalledPackage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureProfile(profileID)
	for _, p := range pkgs {
		m.put(profileID, p)
	}
}

// ListInstalled returns a copy of a profile's packages in install order
func (m *Memory) ListInstalled(ctx context.Context, flags int, profileID int) ([]types.InstalledPackage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	pkgs := m.profiles[profileID]
	out := make([]types.InstalledPackage, len(pkgs))
	copy(out, pkgs)
	return out, nil
}

// Install installs a local archive, or a remote locator named after its package
func (m *Memory) Install(ctx context.Context, source string, opts types.InstallOptions, profileID int) (types.InstallResult, error) {
	if err := ctx.Err(); err != nil {
		return types.InstallResult{}, err
	}
	if profileID < 0 {
		return types.InstallResult{Message: fmt.Sprintf("invalid profile %d", profileID)}, nil
	}

	var pkg types.InstalledPackage
	if opts.Remote {
		id, err := remotePackageID(source)
		if err != nil {
			return types.InstallResult{Message: err.Error()}, nil
		}
		pkg = types.InstalledPackage{PackageID: id, SourceDir: source}
	} else {
		inspected, err := archive.Inspect(source)
		if err != nil {
			return types.InstallResult{Message: err.Error()}, nil
		}
		if !inspected.Manifest.SupportsHost() {
			return types.InstallResult{
				PackageID: inspected.Manifest.Package,
				Message:   "no compatible native ABI",
			}, nil
		}
		pkg = types.InstalledPackage{
			PackageID: inspected.Manifest.Package,
			SourceDir: source,
			Name:      inspected.Manifest.Name,
			System:    inspected.Manifest.System,
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[profileID]; !ok {
		if next := m.nextProfile(); profileID != next {
			return types.InstallResult{
				PackageID: pkg.PackageID,
				Message:   fmt.Sprintf("profile %d is not allocated, next profile is %d", profileID, next),
			}, nil
		}
	}
	m.ensureProfile(profileID)
	m.put(profileID, pkg)

	return types.InstallResult{Success: true, PackageID: pkg.PackageID, Message: "installed"}, nil
}

// Uninstall removes a package; removing an absent package is a no-op
func (m *Memory) Uninstall(ctx context.Context, packageID string, profileID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pkgs := m.profiles[profileID]
	m.profiles[profileID] = slices.DeleteFunc(pkgs, func(p types.InstalledPackage) bool {
		return p.PackageID == packageID
	})
	delete(m.data, dataKey(profileID, packageID))
	return nil
}

// ClearData resets a package's data
func (m *Memory) ClearData(ctx context.Context, packageID string, profileID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.installed(packageID, profileID) {
		return fmt.Errorf("%s in profile %d: %w", packageID, profileID, ErrUnknownPackage)
	}
	delete(m.data, dataKey(profileID, packageID))
	return nil
}

// IsInstalled reports whether a package is installed in a profile
func (m *Memory) IsInstalled(ctx context.Context, packageID string, profileID int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.installed(packageID, profileID), nil
}

// Launch reports whether the package could be started
func (m *Memory) Launch(ctx context.Context, packageID string, profileID int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.installed(packageID, profileID) {
		return false, nil
	}
	m.data[dataKey(profileID, packageID)]++
	return true, nil
}

// Launches returns how often a package was launched since its data was last cleared
func (m *Memory) Launches(packageID string, profileID int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[dataKey(profileID, packageID)]
}

// ListProfiles returns profiles ascending by id
func (m *Memory) ListProfiles(ctx context.Context) ([]types.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	profiles := make([]types.Profile, 0, len(m.profiles))
	for id := range m.profiles {
		profiles = append(profiles, types.Profile{ID: id})
	}
	sortProfiles(profiles)
	return profiles, nil
}

// DeleteProfile removes a profile and its packages
func (m *Memory) DeleteProfile(ctx context.Context, profileID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[profileID]; !ok {
		return fmt.Errorf("profile %d does not exist", profileID)
	}
	for _, p := range m.profiles[profileID] {
		delete(m.data, dataKey(profileID, p.PackageID))
	}
	delete(m.profiles, profileID)
	return nil
}

// nextProfile returns the id a new profile would get, with mu held
func (m *Memory) nextProfile() int {
	next := 0
	for id := range m.profiles {
		next = max(next, id+1)
	}
	return next
}

// ensureProfile must be called with mu held
func (m *Memory) ensureProfile(profileID int) {
	for id := 0; id <= profileID; id++ {
		if _, ok := m.profiles[id]; !ok {
			m.profiles[id] = nil
		}
	}
}

// put replaces an existing entry in place or appends, with mu held
func (m *Memory) put(profileID int, pkg types.InstalledPackage) {
	pkgs := m.profiles[profileID]
	for i := range pkgs {
		if pkgs[i].PackageID == pkg.PackageID {
			pkgs[i] = pkg
			return
		}
	}
	m.profiles[profileID] = append(pkgs, pkg)
}

func (m *Memory) installed(packageID string, profileID int) bool {
	return slices.ContainsFunc(m.profiles[profileID], func(p types.InstalledPackage) bool {
		return p.PackageID == packageID
	})
}

func dataKey(profileID int, packageID string) string {
	return fmt.Sprintf("%d/%s", profileID, packageID)
}

// remotePackageID names a remote package after the last path segment of its locator
func remotePackageID(source string) (string, error) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid remote locator %q", source)
	}
	base := path.Base(u.Path)
	id := strings.TrimSuffix(base, path.Ext(base))
	if id == "" || id == "." || id == "/" {
		return "", fmt.Errorf("remote locator %q names no package", source)
	}
	return id, nil
}
