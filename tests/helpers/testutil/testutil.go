// Package testutil provides mocks and fixtures shared by package tests.
package testutil

import (
	"context"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/Prison3/prison/internal/shared/types"
)

// MockEngine is a mock implementation of the engine contract for testing.
type MockEngine struct {
	mock.Mock
}

// NewMockEngine creates a mock engine that asserts its expectations on cleanup.
func NewMockEngine(t *testing.T) *MockEngine {
	t.Helper()
	m := new(MockEngine)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// ListInstalled mocks the ListInstalled method.
func (m *MockEngine) ListInstalled(ctx context.Context, flags int, profileID int) ([]types.InstalledPackage, error) {
	args := m.Called(ctx, flags, profileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.InstalledPackage), args.Error(1)
}

// Install mocks the Install method.
func (m *MockEngine) Install(ctx context.Context, source string, opts types.InstallOptions, profileID int) (types.InstallResult, error) {
	args := m.Called(ctx, source, opts, profileID)
	return args.Get(0).(types.InstallResult), args.Error(1)
}

// Uninstall mocks the Uninstall method.
func (m *MockEngine) Uninstall(ctx context.Context, packageID string, profileID int) error {
	return m.Called(ctx, packageID, profileID).Error(0)
}

// ClearData mocks the ClearData method.
func (m *MockEngine) ClearData(ctx context.Context, packageID string, profileID int) error {
	return m.Called(ctx, packageID, profileID).Error(0)
}

// IsInstalled mocks the IsInstalled method.
func (m *MockEngine) IsInstalled(ctx context.Context, packageID string, profileID int) (bool, error) {
	args := m.Called(ctx, packageID, profileID)
	return args.Bool(0), args.Error(1)
}

// Launch mocks the Launch method.
func (m *MockEngine) Launch(ctx context.Context, packageID string, profileID int) (bool, error) {
	args := m.Called(ctx, packageID, profileID)
	return args.Bool(0), args.Error(1)
}

// ListProfiles mocks the ListProfiles method.
func (m *MockEngine) ListProfiles(ctx context.Context) ([]types.Profile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Profile), args.Error(1)
}

// DeleteProfile mocks the DeleteProfile method.
func (m *MockEngine) DeleteProfile(ctx context.Context, profileID int) error {
	return m.Called(ctx, profileID).Error(0)
}

// StubResolver resolves names and icons from maps.
// Packages listed in Panics make Label panic; unknown packages fail.
type StubResolver struct {
	Names  map[string]string
	Icons  map[string]image.Image
	Panics map[string]bool

	mu         sync.Mutex
	iconLookup int
}

// Label implements the resolver contract.
func (r *StubResolver) Label(pkg types.InstalledPackage) (string, error) {
	if r.Panics[pkg.PackageID] {
		panic("label lookup exploded for " + pkg.PackageID)
	}
	if name, ok := r.Names[pkg.PackageID]; ok {
		return name, nil
	}
	return "", errNotFound(pkg.PackageID)
}

// Icon implements the resolver contract.
func (r *StubResolver) Icon(pkg types.InstalledPackage) (image.Image, error) {
	r.mu.Lock()
	r.iconLookup++
	r.mu.Unlock()

	if icon, ok := r.Icons[pkg.PackageID]; ok {
		return icon, nil
	}
	return nil, errNotFound(pkg.PackageID)
}

// IconLookups returns how many icon lookups were made.
func (r *StubResolver) IconLookups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iconLookup
}

type errNotFound string

func (e errNotFound) Error() string { return "no such package: " + string(e) }

// Packages builds raw engine entries for ids.
func Packages(ids ...string) []types.InstalledPackage {
	pkgs := make([]types.InstalledPackage, len(ids))
	for i, id := range ids {
		pkgs[i] = types.InstalledPackage{PackageID: id, SourceDir: "/data/app/" + id + ".apk"}
	}
	return pkgs
}
