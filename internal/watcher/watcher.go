// ABOUTME: Watches the plugins directory tree and triggers a debounced registry reload.
// ABOUTME: Bursts of filesystem events collapse into one reload after the tree goes quiet.

// Package watcher reloads the plugin registry when files under the plugins
// directory change. fsnotify is not recursive, so every subdirectory is
// watched individually and new ones are added as they appear.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/2389/coven-plugins/internal/dedupe"
)

// Reloader is implemented by *registry.Registry.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration // quiet period before reloading; defaults to 250ms
	Logger   *slog.Logger
	OnReload func(err error) // optional, called after each reload attempt
}

// Watcher turns filesystem changes into registry reloads.
type Watcher struct {
	dir      string
	reloader Reloader
	debounce time.Duration
	onReload func(error)
	logger   *slog.Logger
}

// New creates a Watcher for dir.
func New(dir string, reloader Reloader, opts Options) *Watcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		reloader: reloader,
		debounce: debounce,
		onReload: opts.OnReload,
		logger:   logger.With("component", "watcher"),
	}
}

// Run watches until ctx is cancelled. The directory is created if missing.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("creating plugins directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := w.addTree(fw, w.dir); err != nil {
		return err
	}

	// Each changed path is counted once per burst.
	changed := dedupe.New(w.debounce*4, 4096)
	defer changed.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	var paths []string

	w.logger.Info("watching plugins directory", "dir", w.dir, "debounce", w.debounce)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("plugin watcher stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ignored(ev) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(fw, ev.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			if !changed.CheckAndMark(ev.Name) {
				paths = append(paths, ev.Name)
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filesystem watch error", "error", err)

		case <-timer.C:
			w.logger.Info("plugins changed, reloading", "paths", len(paths))
			w.logger.Debug("changed paths", "paths", paths)
			for _, p := range paths {
				changed.Forget(p)
			}
			paths = nil

			err := w.reloader.Reload(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("plugin reload failed", "error", err)
			}
			if w.onReload != nil {
				w.onReload(err)
			}
		}
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A directory that vanished mid-walk is not fatal.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") && d.Name() != ".claude-plugin" {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// ignored filters editor noise and permission-only changes.
func ignored(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return true
	}
	base := filepath.Base(ev.Name)
	return strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		strings.HasPrefix(base, ".#")
}
