// Package store provides persistence for plugin enabled flags and connector credentials.
//
// # Architecture
//
// The store package exposes three small interfaces:
//
//   - StateStore: enabled/disabled flag per plugin id, read when the registry is
//     constructed and written on every enable or disable
//   - CredentialStore: named values substituted for ${NAME} placeholders in
//     connector declarations
//   - UsageStore: tokens consumed per dispatched command or chat turn, with
//     aggregate reports filtered by plugin and time window
//
// Plugin content (skills, commands, connector declarations) is deliberately not
// stored here. It stays human-readable on disk and is re-read on every reload.
//
// Implementations:
//
//   - SQLiteStore: all three, backed by modernc.org/sqlite
//   - FileStore: StateStore only, a TOML file with a [plugins] table
//   - MockStore: all three, in memory, for tests
//
// # Data Models
//
//   - PluginState: plugin id, enabled flag, last update time
//   - Credential: name, value, optional plugin scope
//   - TokenUsage: invocation id, command, plugin id, model, input and output tokens
//
// Credentials follow a two-level scope. A credential with a nil PluginID is a
// global default; one with a PluginID overrides the default for that plugin
// only. GetEffectiveCredentials returns the merged view for one plugin.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Tables:
//
//	plugin_state  (plugin_id PK, enabled, updated_at)
//	credentials   (id PK, name, value, plugin_id NULL, created_at, updated_at)
//	command_usage (id PK, invocation_id, command, plugin_id, model,
//	               input_tokens, output_tokens, created_at)
//
// Database file locations:
//
//   - Default: ~/.local/share/coven/plugins.db
//   - Testing: :memory: (single connection) or a file under t.TempDir()
//
// # TOML State File
//
//	[plugins]
//	legal = true
//	finance = false
//
// Writes go to a temp file in the same directory and are renamed into place.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateCredential: a credential with the same name and scope exists
//
// Credential values are never logged.
package store
