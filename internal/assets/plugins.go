// ABOUTME: Embeds the bundled plugin tree and exposes it as a registry source.
// ABOUTME: Bundled plugins load first and can be overridden by disk plugins with the same id.

package assets

import (
	"embed"
	"io/fs"

	"github.com/2389/coven-plugins/internal/plugin"
	"github.com/2389/coven-plugins/internal/registry"
)

// Root is the directory inside FS holding one subdirectory per plugin.
const Root = "plugins"

//go:embed all:plugins
var pluginsFS embed.FS

// FS returns the embedded plugin tree.
func FS() fs.FS {
	return pluginsFS
}

// Source returns the bundled plugins as a registry source.
func Source() registry.Source {
	return registry.Source{Label: plugin.SourceBundled, FS: pluginsFS, Root: Root}
}
