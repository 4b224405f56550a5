package types

import "time"

// Operation names a lifecycle or load operation
type Operation string

const (
	OpRefresh   Operation = "refresh"
	OpInstall   Operation = "install"
	OpUninstall Operation = "uninstall"
	OpClearData Operation = "clear_data"
	OpLaunch    Operation = "launch"
	OpReorder   Operation = "reorder"
	OpLabel     Operation = "label"
)

// RegistryStats contains registry statistics
type RegistryStats struct {
	Profiles       int        `json:"profiles"`
	SnapshotApps   int        `json:"snapshot_apps"`
	HostApps       int        `json:"host_apps"`
	Subscribers    int        `json:"subscribers"`
	LastRefreshed  *time.Time `json:"last_refreshed,omitempty"`
	HostScannedAt  *time.Time `json:"host_scanned_at,omitempty"`
	TransientLoads int64      `json:"transient_loads"`
}
