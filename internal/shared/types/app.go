package types

import (
	"fmt"
	"image"
	"time"
)

// Profile is an isolated application environment managed by the engine.
type Profile struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// DefaultLabel returns the label used when a profile has no stored remark.
func DefaultLabel(id int) string {
	return fmt.Sprintf("User %d", id)
}

// InstalledPackage is one raw entry of the engine's installed-application list
type InstalledPackage struct {
	PackageID string `json:"package_id"`
	SourceDir string `json:"source_dir"`
	Name      string `json:"name,omitempty"` // Label as reported by the engine, may be empty
	System    bool   `json:"system,omitempty"`
}

// AppRecord is the display view of one application.
// Name, Icon and SourceDir are resolved fresh on every load and never persisted.
type AppRecord struct {
	Name      string      `json:"name"`
	Icon      image.Image `json:"-"`
	HasIcon   bool        `json:"has_icon"`
	PackageID string      `json:"package_id"`
	SourceDir string      `json:"source_dir"`
	Installed bool        `json:"installed"`
}

// Snapshot is the materialized, ordered application list of one profile.
// A published snapshot is never mutated; the next load replaces it wholesale.
type Snapshot struct {
	ProfileID  int         `json:"profile_id"`
	Apps       []AppRecord `json:"apps"`
	LoadedAt   time.Time   `json:"loaded_at"`
	Attempts   int         `json:"attempts"`
	Transient  bool        `json:"transient,omitempty"` // engine unavailable after all retries
	Error      string      `json:"error,omitempty"`
	Generation uint64      `json:"generation"`
}

// PackageIDs returns the package identifiers in snapshot order
func (s Snapshot) PackageIDs() []string {
	ids := make([]string, len(s.Apps))
	for i, app := range s.Apps {
		ids[i] = app.PackageID
	}
	return ids
}

// Find returns the record for a package identifier
func (s Snapshot) Find(packageID string) (AppRecord, bool) {
	for _, app := range s.Apps {
		if app.PackageID == packageID {
			return app, true
		}
	}
	return AppRecord{}, false
}

// InstallOptions tells the engine how to interpret an install source
type InstallOptions struct {
	Remote bool `json:"remote"`
}

// InstallResult is the engine's answer to an install request
type InstallResult struct {
	Success   bool   `json:"success"`
	PackageID string `json:"package_id"`
	Message   string `json:"message"`
}

// ResultCode classifies the outcome of a lifecycle operation
type ResultCode string

const (
	CodeOK                ResultCode = "ok"
	CodeEngineError       ResultCode = "engine_error"
	CodeSecurityViolation ResultCode = "security_violation"
	CodeInvalidRequest    ResultCode = "invalid_request"
	CodeTransient         ResultCode = "transient"
)

// Result is the outcome of a lifecycle operation. Failures are encoded here,
// never returned as errors.
type Result struct {
	OperationID string     `json:"operation_id"`
	Success     bool       `json:"success"`
	Code        ResultCode `json:"code"`
	Message     string     `json:"message"`
	PackageID   string     `json:"package_id,omitempty"`
	ProfileID   int        `json:"profile_id"`
}

// MemoryState classifies process memory pressure
type MemoryState int

const (
	MemorySafe MemoryState = iota
	MemoryWarn
	MemoryCritical
)

// String returns the string representation of the state
func (s MemoryState) String() string {
	switch s {
	case MemorySafe:
		return "safe"
	case MemoryWarn:
		return "warn"
	case MemoryCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MemoryInfo is a point-in-time memory reading
type MemoryInfo struct {
	UsedBytes    uint64      `json:"used_bytes"`
	MaxBytes     uint64      `json:"max_bytes"`
	UsagePercent int         `json:"usage_percent"`
	State        MemoryState `json:"-"`
	StateName    string      `json:"state"`
	Summary      string      `json:"summary"`
}
