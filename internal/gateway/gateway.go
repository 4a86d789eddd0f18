// ABOUTME: Gateway owns the plugin runtime components and the event loops between them.
// ABOUTME: Registry changes re-merge connectors; connector changes invalidate assembled context.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/2389/coven-plugins/internal/assembler"
	"github.com/2389/coven-plugins/internal/assets"
	"github.com/2389/coven-plugins/internal/config"
	"github.com/2389/coven-plugins/internal/connectors"
	"github.com/2389/coven-plugins/internal/dedupe"
	"github.com/2389/coven-plugins/internal/dispatch"
	"github.com/2389/coven-plugins/internal/events"
	"github.com/2389/coven-plugins/internal/llm"
	"github.com/2389/coven-plugins/internal/plugin"
	"github.com/2389/coven-plugins/internal/registry"
	"github.com/2389/coven-plugins/internal/store"
	"github.com/2389/coven-plugins/internal/watcher"
)

// Store is what the gateway needs from persistence.
type Store interface {
	store.StateStore
	store.CredentialStore
}

// Options configures a Gateway. Only Config is required.
type Options struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   Store                  // overrides the SQLite database
	Sources []registry.Source      // overrides bundled + plugins dir
	Runtime connectors.ToolRuntime // defaults to a NoopRuntime
	Invoker dispatch.Invoker       // defaults to the configured model provider
	Env     connectors.EnvLookup   // defaults to os.LookupEnv
}

// Gateway is the running plugin runtime.
type Gateway struct {
	config      *config.Config
	store       Store
	db          *store.SQLiteStore // nil when Options.Store was given
	broadcaster *events.Broadcaster
	registry    *registry.Registry
	engine      *connectors.Engine
	runtime     connectors.ToolRuntime
	assembler   *assembler.Assembler
	dispatcher  *dispatch.Dispatcher
	invoker     dispatch.Invoker
	warnings    *dedupe.Cache
	logger      *slog.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// initStore opens the SQLite database named by the config.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("COVEN_PLUGINS_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// stateStore picks the enabled-flag backend.
func stateStore(cfg *config.Config, db Store) store.StateStore {
	if cfg.State.Backend == config.BackendTOML {
		return store.NewFileStore(cfg.State.Path)
	}
	return db
}

// defaultSources lists bundled plugins first so disk plugins override them.
func defaultSources(cfg *config.Config) []registry.Source {
	var sources []registry.Source
	if !cfg.Plugins.DisableBundled {
		sources = append(sources, assets.Source())
	}
	return append(sources, registry.Source{
		Label: plugin.SourceDisk,
		FS:    os.DirFS(cfg.Plugins.Dir),
		Root:  ".",
	})
}

// New builds every component, loads plugins, merges their connectors and
// starts the event loops.
func New(ctx context.Context, opts Options) (*Gateway, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("gateway requires a config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config:  cfg,
		store:   opts.Store,
		runtime: opts.Runtime,
		invoker: opts.Invoker,
		logger:  logger.With("component", "gateway"),
	}

	if gw.store == nil {
		db, err := initStore(cfg)
		if err != nil {
			return nil, err
		}
		gw.db = db
		gw.store = db
	}

	if gw.invoker == nil {
		inv, err := llm.New(cfg.Model, logger)
		if err != nil {
			gw.closeStore()
			return nil, fmt.Errorf("creating model invoker: %w", err)
		}
		gw.invoker = inv
	}

	if gw.runtime == nil {
		gw.runtime = connectors.NewNoopRuntime()
	}
	env := opts.Env
	if env == nil {
		env = os.LookupEnv
	}

	gw.broadcaster = events.NewBroadcaster(logger)
	gw.warnings = dedupe.New(time.Hour, 1024)

	// Subscribe before anything can publish.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	gw.cancel = cancel
	registryEvents, _ := gw.broadcaster.Subscribe(runCtx, events.TopicRegistry)
	connectionEvents, _ := gw.broadcaster.Subscribe(runCtx, events.TopicConnections)

	sources := opts.Sources
	if sources == nil {
		sources = defaultSources(cfg)
	}
	reg, err := registry.New(ctx, registry.Options{
		Sources:       sources,
		State:         stateStore(cfg, gw.store),
		Publisher:     gw.broadcaster,
		Logger:        logger,
		LoaderOptions: []plugin.LoaderOption{plugin.WithConcurrency(cfg.Plugins.Concurrency)},
	})
	if err != nil {
		cancel()
		gw.broadcaster.Close()
		gw.warnings.Close()
		gw.closeStore()
		return nil, fmt.Errorf("loading plugins: %w", err)
	}
	gw.registry = reg
	gw.logWarnings()

	gw.engine = connectors.NewEngine(connectors.Options{
		Resolver:  connectors.ChainResolver(gw.store, env, logger),
		Runtime:   gw.runtime,
		Publisher: gw.broadcaster,
		Logger:    logger,
	})
	initial := reg.Snapshot()
	gw.engine.Merge(ctx, initial.ActiveConnectorSets())

	gw.assembler = assembler.New(logger)
	gw.dispatcher = dispatch.New(dispatch.Options{
		Catalog:    reg,
		Connectors: gw.engine,
		Assembler:  gw.assembler,
		Invoker:    gw.invoker,
		Budget:     cfg.Context.TokenBudget,
		Logger:     logger,
	})

	gw.wg.Go(func() { gw.watchRegistry(runCtx, registryEvents, initial.Version()) })
	gw.wg.Go(func() { gw.watchConnections(runCtx, connectionEvents) })
	gw.wg.Go(func() {
		if err := gw.engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			gw.logger.Error("connector runtime loop stopped", "error", err)
		}
	})

	gw.logger.Info("=== PLUGIN RUNTIME READY ===",
		"plugins", len(reg.Plugins()),
		"enabled", len(reg.EnabledPlugins()),
		"connections", gw.engine.Current().Len(),
		"token_budget", cfg.Context.TokenBudget,
	)
	return gw, nil
}

// watchRegistry re-merges connectors whenever the registry has moved past the
// last merged snapshot. Events only wake the loop: the broadcaster drops them
// when the buffer is full, so their version is not trusted.
func (g *Gateway) watchRegistry(ctx context.Context, ch <-chan *events.Event, merged uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			snap := g.registry.Snapshot()
			if snap.Version() <= merged {
				g.logger.Debug("registry already merged", "kind", ev.Kind, "version", ev.Version)
				continue
			}
			g.engine.Merge(ctx, snap.ActiveConnectorSets())
			merged = snap.Version()
			g.assembler.Invalidate()
			g.logWarnings()
		}
	}
}

// watchConnections drops rendered skills whenever availability changes.
func (g *Gateway) watchConnections(ctx context.Context, ch <-chan *events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			g.logger.Debug("connection change", "kind", ev.Kind, "key", ev.Key, "version", ev.Version)
			g.assembler.Invalidate()
		}
	}
}

// logWarnings reports each registry warning once per hour.
func (g *Gateway) logWarnings() {
	for _, w := range g.registry.Warnings() {
		if !g.warnings.CheckAndMark(w) {
			g.logger.Warn("plugin registry warning", "warning", w)
		}
	}
}

// Run blocks until ctx is cancelled. With plugins.watch set it reloads the
// registry when the plugins directory changes.
func (g *Gateway) Run(ctx context.Context) error {
	if !g.config.Plugins.Watch {
		<-ctx.Done()
		return nil
	}
	w := watcher.New(g.config.Plugins.Dir, g.registry, watcher.Options{
		Debounce: g.config.Plugins.Debounce,
		Logger:   g.logger,
	})
	return w.Run(ctx)
}

// Registry returns the plugin registry.
func (g *Gateway) Registry() *registry.Registry { return g.registry }

// Connectors returns the connector merge engine.
func (g *Gateway) Connectors() *connectors.Engine { return g.engine }

// Dispatcher returns the command dispatcher.
func (g *Gateway) Dispatcher() *dispatch.Dispatcher { return g.dispatcher }

// Broadcaster returns the change-event broadcaster.
func (g *Gateway) Broadcaster() *events.Broadcaster { return g.broadcaster }

// Credentials returns the credential store.
func (g *Gateway) Credentials() store.CredentialStore { return g.store }

// Enable enables a plugin.
func (g *Gateway) Enable(ctx context.Context, id string) error { return g.registry.Enable(ctx, id) }

// Disable disables a plugin.
func (g *Gateway) Disable(ctx context.Context, id string) error { return g.registry.Disable(ctx, id) }

// Reload re-discovers plugins.
func (g *Gateway) Reload(ctx context.Context) error { return g.registry.Reload(ctx) }

// Turn assembles the system context for a conversational turn.
func (g *Gateway) Turn(hint string) *assembler.AssembledContext {
	return g.assembler.Build(g.registry.Plugins(), g.engine.Current(), assembler.Request{
		Hint:   hint,
		Budget: g.config.Context.TokenBudget,
	})
}

// RunCommand executes a slash command end to end.
func (g *Gateway) RunCommand(ctx context.Context, input string, provider dispatch.InputProvider) (*dispatch.Invocation, *dispatch.Response, error) {
	inv, resp, err := g.dispatcher.Execute(ctx, input, provider)
	if err == nil && inv != nil {
		g.recordUsage(ctx, inv.ID, inv.Parsed.QualifiedName(), inv.Parsed.PluginID, resp)
	}
	return inv, resp, err
}

// Chat answers one user message. Slash commands go through the dispatcher;
// anything else is sent with the assembled system context.
func (g *Gateway) Chat(ctx context.Context, text string, provider dispatch.InputProvider) (*dispatch.Response, error) {
	if dispatch.IsCommand(text) {
		_, resp, err := g.RunCommand(ctx, text, provider)
		return resp, err
	}
	assembled := g.Turn(text)
	resp, err := g.invoker.Invoke(ctx, &dispatch.Payload{
		InvocationID:  "turn",
		SystemContext: assembled.Text,
		UserTurn:      text,
		Context:       assembled,
	})
	if err != nil {
		return nil, err
	}
	g.recordUsage(ctx, "turn", "", "", resp)
	return resp, nil
}

// recordUsage saves token counts when the store keeps a usage ledger.
// Failures are logged and never fail the turn.
func (g *Gateway) recordUsage(ctx context.Context, invocationID, command, pluginID string, resp *dispatch.Response) {
	usage, ok := g.store.(store.UsageStore)
	if !ok || resp == nil {
		return
	}
	err := usage.SaveUsage(context.WithoutCancel(ctx), &store.TokenUsage{
		InvocationID: invocationID,
		Command:      command,
		PluginID:     pluginID,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	})
	if err != nil {
		g.logger.Warn("failed to record token usage", "command", command, "error", err)
	}
}

// Usage returns the usage ledger, or nil when the store does not keep one.
func (g *Gateway) Usage() store.UsageStore {
	usage, _ := g.store.(store.UsageStore)
	return usage
}

// Autocomplete suggests commands for a partial slash command.
func (g *Gateway) Autocomplete(prefix string) []dispatch.Group {
	return g.dispatcher.Autocomplete(prefix)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (g *Gateway) closeStore() error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

// Close stops the event loops and releases the store. Safe to call more than once.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.logger.Info("shutting down plugin runtime")

		// Connector starts still in flight need the runtime open.
		g.dispatcher.Wait()
		g.cancel()
		if closer, ok := g.runtime.(interface{ Close() }); ok {
			closer.Close()
		}
		g.wg.Wait()

		g.broadcaster.Close()
		g.warnings.Close()

		var errs []error
		errs = appendCloseError(errs, "store close", g.closeStore())
		g.closeErr = errors.Join(errs...)
	})
	return g.closeErr
}
