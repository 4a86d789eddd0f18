// ABOUTME: TOML file implementation of StateStore for setups without a database
// ABOUTME: Keeps a human-editable [plugins] table of id = enabled flags

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// stateFile is the on-disk TOML document.
type stateFile struct {
	Plugins map[string]bool `toml:"plugins"`
}

// FileStore persists plugin flags in a TOML file. Writes replace the file atomically.
type FileStore struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewFileStore creates a FileStore at path. The file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:   path,
		logger: slog.Default().With("component", "store", "backend", "toml"),
	}
}

// LoadPluginStates implements StateStore. A missing file yields an empty map.
func (f *FileStore) LoadPluginStates(ctx context.Context) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	return doc.Plugins, nil
}

// SetPluginEnabled implements StateStore.
func (f *FileStore) SetPluginEnabled(ctx context.Context, pluginID string, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	doc.Plugins[pluginID] = enabled

	if err := f.write(doc); err != nil {
		return err
	}
	f.logger.Debug("saved plugin state", "plugin_id", pluginID, "enabled", enabled)
	return nil
}

func (f *FileStore) read() (*stateFile, error) {
	doc := &stateFile{}
	if _, err := toml.DecodeFile(f.path, doc); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("decoding state file %s: %w", f.path, err)
		}
	}
	if doc.Plugins == nil {
		doc.Plugins = make(map[string]bool)
	}
	return doc, nil
}

func (f *FileStore) write(doc *stateFile) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".plugins-state-*.toml")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := toml.NewEncoder(tmp).Encode(doc); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encoding state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// Ensure FileStore implements StateStore.
var _ StateStore = (*FileStore)(nil)
