// Package engine is the contract with the sandboxing engine that owns
// ground-truth install state, plus its HTTP and in-process implementations.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/Prison3/prison/internal/shared/types"
)

// ErrNoResult is returned when the engine answers without a value.
// Callers treat it as transient, distinct from a valid empty list.
var ErrNoResult = errors.New("engine returned no result")

// ErrUnknownPackage is returned for operations on packages not installed in a profile
var ErrUnknownPackage = errors.New("package not installed")

// Engine is the sandboxing engine as consumed by the registry
type Engine interface {
	// ListInstalled returns the raw installed list of a profile, or ErrNoResult
	ListInstalled(ctx context.Context, flags int, profileID int) ([]types.InstalledPackage, error)
	Install(ctx context.Context, source string, opts types.InstallOptions, profileID int) (types.InstallResult, error)
	Uninstall(ctx context.Context, packageID string, profileID int) error
	ClearData(ctx context.Context, packageID string, profileID int) error
	IsInstalled(ctx context.Context, packageID string, profileID int) (bool, error)
	Launch(ctx context.Context, packageID string, profileID int) (bool, error)
	// ListProfiles returns existing profiles ordered by id ascending
	ListProfiles(ctx context.Context) ([]types.Profile, error)
	DeleteProfile(ctx context.Context, profileID int) error
}

// StatusError is a non-2xx engine response
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("engine %s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("engine %s: status %d: %s", e.Op, e.Code, e.Message)
}

// Temporary reports whether the engine may succeed on a later call
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == 429
}

// IsTransient reports whether err is an absent answer or a temporary engine failure
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoResult) {
		return true
	}
	if errors.Is(err, ErrUnknownPackage) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
