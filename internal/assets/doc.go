// Package assets holds the plugins compiled into the binary.
//
// Bundled plugins register before plugins found on disk, so a disk plugin with
// the same id replaces the bundled one. Hidden paths such as .claude-plugin and
// .mcp.json need the all: embed prefix.
package assets
