// Package connectors merges plugin connector declarations into a namespaced
// Connection Registry and tracks each connection's live status.
//
// # Namespacing
//
// Every (plugin, category) pair becomes one connection under the key
// "pluginId:category". Two plugins declaring the same category each get their
// own connection; that is not a conflict.
//
// # Credential Resolution
//
// ${VAR} placeholders in command, args, url and env values are resolved through
// a Resolver. ChainResolver consults, in order:
//
//  1. the credential store (plugin-scoped value, then global default)
//  2. the process environment
//
// Anything left unresolved marks the connection
// unavailable(MissingCredential: VAR, ...). Resolution never returns an error
// to the caller; it only changes status.
//
// # Status Lifecycle
//
//	unresolved --Start--> starting --runtime update--> available
//	     |                    |
//	     |                    +--start error / runtime update--> unavailable(reason)
//	     +--missing credential--> unavailable(MissingCredential)
//
// The engine never manages processes. Start hands the resolved connection to a
// ToolRuntime and later observes StatusUpdate values from the runtime's
// subscription channel. Updates carry a transition counter; an update whose
// counter is not greater than the last one applied to that key is discarded,
// so duplicated or reordered notifications are harmless.
//
// # Snapshots
//
// Like the plugin registry, the Connection Registry is immutable. Merge, Start,
// and Apply each publish a new one atomically and emit an event on
// events.TopicConnections.
package connectors
