// Package plugin loads knowledge-pack plugins from a filesystem into immutable records.
//
// # Overview
//
// A plugin is a directory containing instructional markdown (skills), user-invocable
// prompt templates (commands), an optional connector configuration describing external
// tool servers, and an optional user-editable local configuration file. The loader turns
// that layout into a *Plugin value; nothing in this package knows about enable state,
// connection status, or prompt assembly.
//
// # Layout
//
//	legal/
//	  .claude-plugin/plugin.json   manifest (required)
//	  skills/contract-review/SKILL.md
//	  commands/review-contract.md
//	  commands/triage-nda.md
//	  .mcp.json                    connector config (optional)
//	  legal.local.md               local configuration (optional)
//
// The manifest declares the plugin's name, version, description, and glob patterns
// for skill and command files:
//
//	{
//	  "name": "Legal",
//	  "version": "1.2.0",
//	  "description": "Contract review and NDA triage",
//	  "skills": "skills/**/SKILL.md",
//	  "commands": "commands/*.md",
//	  "connectors": ".mcp.json"
//	}
//
// # Error Containment
//
// Problems with individual files never fail the whole plugin. They are appended to
// Plugin.Errors and the remaining content is kept. A plugin only reports StatusError
// when it has errors and not a single skill or command could be loaded. A missing or
// malformed manifest is the only hard failure (ErrMissingManifest, ErrMalformedManifest).
//
// # Filesystems
//
// The loader works on any fs.FS: os.DirFS for the plugins directory, the embedded
// bundle in internal/bundled, or fstest.MapFS in tests. Glob resolution sits behind the
// FileLister interface.
package plugin
