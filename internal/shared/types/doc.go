// Package types provides shared data structures for the registry service.
//
// Core Types:
//   - Profile: Sandbox profile (id + display label)
//   - InstalledPackage: Raw engine inventory entry
//   - AppRecord: Display record (name, icon, package id, source, installed flag)
//   - Snapshot: Ordered, immutable application list of one profile
//   - Result: Outcome of a lifecycle operation
//   - MemoryState, MemoryInfo: Memory pressure readings
//
// Example Usage:
//
//	snap := registry.Refresh(ctx, 0)
//	for _, app := range snap.Apps {
//	    fmt.Println(app.PackageID, app.Name)
//	}
package types
