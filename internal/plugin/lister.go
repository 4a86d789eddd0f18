// ABOUTME: Glob resolution behind a small interface so loading is testable on any fs.FS.
// ABOUTME: The default lister uses doublestar to support "**" patterns.

package plugin

import (
	"fmt"
	"io/fs"
	"path"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// FileLister resolves a glob pattern relative to dir within fsys.
// Implementations return matching regular-file paths in a stable order and an
// empty slice when nothing matches.
type FileLister interface {
	ListFiles(fsys fs.FS, dir, pattern string) ([]string, error)
}

// GlobLister is the default FileLister.
type GlobLister struct{}

// ListFiles implements FileLister. The pattern is matched inside dir so that
// metacharacters in directory names are not interpreted.
func (GlobLister) ListFiles(fsys fs.FS, dir, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}

	sub := fsys
	if dir != "." && dir != "" {
		var err error
		if sub, err = fs.Sub(fsys, dir); err != nil {
			return nil, fmt.Errorf("opening %s: %w", dir, err)
		}
	}

	matches, err := doublestar.Glob(sub, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", pattern, err)
	}
	for i, m := range matches {
		matches[i] = path.Join(dir, m)
	}
	slices.Sort(matches)
	return matches, nil
}
