// ABOUTME: Copy-on-write plugin registry with persisted enabled flags and change events.
// ABOUTME: Mutations are serialized; reads go through lock-free atomic snapshots.

package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/2389/coven-plugins/internal/events"
	"github.com/2389/coven-plugins/internal/plugin"
	"github.com/2389/coven-plugins/internal/store"
)

// ErrNotFound indicates the plugin id is not loaded.
var ErrNotFound = errors.New("plugin not found")

// ErrDuplicateCommand indicates two usable plugins registered the same fully-qualified command.
var ErrDuplicateCommand = errors.New("duplicate fully-qualified command")

// Source is one place plugins are discovered from.
type Source struct {
	Label string // plugin.SourceBundled or plugin.SourceDisk
	FS    fs.FS
	Root  string // directory inside FS holding one subdirectory per plugin
}

// Options configures a Registry.
type Options struct {
	Sources       []Source // earlier sources register first; later ones override by id
	State         store.StateStore
	Publisher     events.Publisher // optional
	Logger        *slog.Logger
	LoaderOptions []plugin.LoaderOption
}

// Registry maintains the loaded plugins and their enabled flags.
type Registry struct {
	mu      sync.Mutex // serializes Enable, Disable, Reload
	current atomic.Pointer[Snapshot]

	sources   []Source
	loaders   []*plugin.Loader
	state     store.StateStore
	publisher events.Publisher
	logger    *slog.Logger
}

// New creates a Registry and performs the initial load.
func New(ctx context.Context, opts Options) (*Registry, error) {
	if opts.State == nil {
		return nil, errors.New("registry requires a state store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		sources:   opts.Sources,
		state:     opts.State,
		publisher: opts.Publisher,
		logger:    logger.With("component", "registry"),
	}
	for _, src := range opts.Sources {
		loaderOpts := append([]plugin.LoaderOption{plugin.WithSource(src.Label)}, opts.LoaderOptions...)
		r.loaders = append(r.loaders, plugin.NewLoader(logger, loaderOpts...))
	}
	r.current.Store(buildSnapshot(0, nil, nil, r.logger))

	if err := r.reload(ctx, false); err != nil {
		return nil, err
	}
	return r, nil
}

// Snapshot returns the currently published snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Version returns the current snapshot version.
func (r *Registry) Version() uint64 { return r.Snapshot().Version() }

// Plugins returns every loaded plugin in registration order.
func (r *Registry) Plugins() []*plugin.Plugin { return r.Snapshot().Plugins() }

// Plugin returns the plugin with the given id, or nil.
func (r *Registry) Plugin(id string) *plugin.Plugin { return r.Snapshot().Plugin(id) }

// EnabledPlugins returns usable plugins in registration order.
func (r *Registry) EnabledPlugins() []*plugin.Plugin { return r.Snapshot().EnabledPlugins() }

// ActiveSkills returns skills of usable plugins in registration order.
func (r *Registry) ActiveSkills() []*plugin.Skill { return r.Snapshot().ActiveSkills() }

// ActiveConnectorSets returns connector sets of usable plugins in registration order.
func (r *Registry) ActiveConnectorSets() []ConnectorSetRef { return r.Snapshot().ActiveConnectorSets() }

// GetCommandHandler looks up a command of a usable plugin by fully-qualified name.
func (r *Registry) GetCommandHandler(fq string) *plugin.Command {
	return r.Snapshot().GetCommandHandler(fq)
}

// Warnings returns the current snapshot's warnings.
func (r *Registry) Warnings() []string { return r.Snapshot().Warnings() }

// Enable marks a plugin enabled. Calling it on an enabled plugin changes nothing.
func (r *Registry) Enable(ctx context.Context, id string) error {
	return r.setEnabled(ctx, id, true)
}

// Disable marks a plugin disabled. Calling it on a disabled plugin changes nothing.
func (r *Registry) Disable(ctx context.Context, id string) error {
	return r.setEnabled(ctx, id, false)
}

func (r *Registry) setEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.current.Load()
	p := snap.Plugin(id)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := r.state.SetPluginEnabled(ctx, id, enabled); err != nil {
		return fmt.Errorf("persisting plugin state for %s: %w", id, err)
	}

	kind := events.KindPluginDisabled
	if enabled {
		kind = events.KindPluginEnabled
	}

	if p.Enabled == enabled {
		r.logger.Debug("plugin state unchanged", "plugin_id", id, "enabled", enabled)
		r.emit(kind, snap.Version(), id)
		return nil
	}

	plugins := snap.Plugins()
	for i, existing := range plugins {
		if existing.ID == id {
			plugins[i] = existing.WithEnabled(enabled)
		}
	}
	next := buildSnapshot(snap.Version()+1, plugins, snap.baseWarnings(), r.logger)
	r.current.Store(next)

	if enabled && p.Status() == plugin.StatusError {
		r.logger.Warn("enabled plugin has load errors and contributes nothing",
			"plugin_id", id,
			"errors", len(p.Errors),
		)
	}

	banner := "=== PLUGIN DISABLED ==="
	if enabled {
		banner = "=== PLUGIN ENABLED ==="
	}
	r.logger.Info(banner,
		"plugin_id", id,
		"version", next.Version(),
		"enabled_plugins", len(next.enabled),
		"commands", len(next.commands),
	)

	r.emit(kind, next.Version(), id)
	return nil
}

// Reload re-discovers every source, re-applies persisted flags and publishes the
// result atomically. On error the previous snapshot stays in place.
func (r *Registry) Reload(ctx context.Context) error {
	return r.reload(ctx, true)
}

func (r *Registry) reload(ctx context.Context, notify bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	states, err := r.state.LoadPluginStates(ctx)
	if err != nil {
		return fmt.Errorf("loading plugin state: %w", err)
	}

	var plugins []*plugin.Plugin
	var warnings []string
	position := make(map[string]int)

	for i, src := range r.sources {
		found, err := r.loaders[i].Discover(ctx, src.FS, src.Root)
		if err != nil {
			return fmt.Errorf("discovering %s plugins: %w", src.Label, err)
		}
		warnings = append(warnings, found.Warnings...)
		for _, problem := range found.Problems {
			warnings = append(warnings, problem.Error())
		}

		for _, p := range found.Plugins {
			if at, exists := position[p.ID]; exists {
				r.logger.Info("plugin overridden by later source",
					"plugin_id", p.ID,
					"replaced", plugins[at].Source,
					"by", p.Source,
				)
				plugins[at] = p
				continue
			}
			position[p.ID] = len(plugins)
			plugins = append(plugins, p)
		}
	}

	ids := make([]string, 0, len(plugins))
	for i, p := range plugins {
		plugins[i] = p.WithEnabled(states[p.ID])
		ids = append(ids, p.ID)
	}

	prev := r.current.Load()
	next := buildSnapshot(prev.Version()+1, plugins, warnings, r.logger)
	r.current.Store(next)

	r.logger.Info("=== PLUGINS RELOADED ===",
		"version", next.Version(),
		"plugins", len(next.plugins),
		"enabled_plugins", len(next.enabled),
		"commands", len(next.commands),
		"warnings", len(next.warnings),
	)

	if notify {
		r.emit(events.KindPluginsReloaded, next.Version(), ids...)
	}
	return nil
}

func (r *Registry) emit(kind events.Kind, version uint64, pluginIDs ...string) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(events.TopicRegistry, events.New(events.TopicRegistry, kind, version, pluginIDs...), "")
}
