// ABOUTME: Error taxonomy for plugin loading.
// ABOUTME: LoadError carries the failing path and unwraps to a sentinel kind.

package plugin

import (
	"errors"
	"fmt"
)

// ErrMissingManifest indicates the plugin directory has no manifest file.
var ErrMissingManifest = errors.New("missing manifest")

// ErrMalformedManifest indicates the manifest could not be read or failed validation.
var ErrMalformedManifest = errors.New("malformed manifest")

// ErrFileRead indicates a skill, command, or local configuration file could not be read.
var ErrFileRead = errors.New("file read error")

// ErrMalformedConnectorConfig indicates the connector configuration file is invalid.
var ErrMalformedConnectorConfig = errors.New("malformed connector config")

// LoadError describes a failure tied to one file of a plugin.
type LoadError struct {
	Kind error  // one of the sentinel errors above
	Path string // path within the source filesystem
	Err  error  // underlying cause, may be nil
}

func (e *LoadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newLoadError(kind error, path string, err error) *LoadError {
	return &LoadError{Kind: kind, Path: path, Err: err}
}
