// Package registry is the application registry of all sandbox profiles.
//
// The Registry owns one latest-value slot per profile. Each Refresh takes a
// generation number; a finished load publishes only if no newer load of the
// same profile has published first, so overlapping loads converge on the
// newest answer. Subscribers get buffer-1 channels and never block a publish.
//
// Components:
//   - inventory.Loader: retrying, ordered, memory-gated loads
//   - lifecycle.Operations: install, uninstall, clear data, launch, reorder
//   - profile.Pruner: collapses empty tail profiles after lifecycle calls
//   - host.Scanner: fills the host cache behind the available-apps picker
//
// Example Usage:
//
//	reg := registry.New(registry.Deps{Engine: eng, Store: kv})
//	snap := reg.Refresh(ctx, 0)
//	ch, cancel := reg.Watch(0)
//	defer cancel()
//	res := reg.Install(ctx, "/sdcard/chat.apk", 0)
package registry
