// Package registry owns the collection of loaded plugins and their enabled state.
//
// # Overview
//
// The Registry is the single owner of plugin state for a running instance. It
// loads plugins from an ordered list of sources (bundled first, then the
// plugins directory), applies persisted enabled flags, and publishes the result
// as an immutable Snapshot.
//
// # Snapshots
//
// Every mutation builds a complete new Snapshot and swaps it in with an atomic
// pointer store. Readers never lock:
//
//	snap := reg.Snapshot()
//	for _, skill := range snap.ActiveSkills() {
//	    ...
//	}
//
// A reader keeps seeing the snapshot it started with even while a reload is
// publishing a new one. Snapshots and the plugin records inside them are never
// modified after publication.
//
// Mutations (Enable, Disable, Reload) are serialized by one mutex.
//
// # Lookups
//
// Indices only cover usable plugins (enabled and not in error status):
//
//   - GetCommandHandler("legal:triage-nda"): exact fully-qualified lookup
//   - ActiveSkills(): skills in plugin registration order
//   - ActiveConnectorSets(): (plugin id, connector set) pairs
//   - EnabledPlugins(): usable plugins in registration order
//
// # Conflicts
//
//   - Same plugin id in two sources: the later source replaces the record but
//     keeps the earlier position (disk overrides bundled)
//   - Same plugin id twice in one source: first wins, with a warning
//   - Same fully-qualified command: first registered wins, with a warning
//
// Warnings are logged and listed by Warnings().
//
// # Persistence and Events
//
// Enable and Disable write the flag to the StateStore before publishing. A
// failed write leaves the registry unchanged. Every call emits an event on
// events.TopicRegistry so the connector engine and assembler can refresh.
package registry
