// ABOUTME: Connector merge engine: namespaces declarations, resolves credentials, tracks status.
// ABOUTME: Every change publishes a new immutable Registry and a connections event.

package connectors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-plugins/internal/events"
	"github.com/2389/coven-plugins/internal/registry"
)

// Options configures an Engine.
type Options struct {
	Resolver  Resolver         // defaults to EnvResolver
	Runtime   ToolRuntime      // defaults to a NoopRuntime
	Publisher events.Publisher // optional
	Logger    *slog.Logger
	Now       func() time.Time // for tests
}

// Engine owns the Connection Registry.
type Engine struct {
	mu      sync.Mutex // serializes Merge, Start, Apply
	current atomic.Pointer[Registry]

	resolve   Resolver
	runtime   ToolRuntime
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates an Engine with an empty registry.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		resolve:   opts.Resolver,
		runtime:   opts.Runtime,
		publisher: opts.Publisher,
		logger:    logger.With("component", "connectors"),
		now:       opts.Now,
	}
	if e.resolve == nil {
		e.resolve = EnvResolver()
	}
	if e.runtime == nil {
		e.runtime = NewNoopRuntime()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.current.Store(newRegistry(0, map[string]*Connection{}))
	return e
}

// Current returns the published Connection Registry.
func (e *Engine) Current() *Registry { return e.current.Load() }

// Availability returns the live status of a namespaced key.
func (e *Engine) Availability(key string) Status { return e.Current().Availability(key) }

// AllAvailable returns every key and its status, sorted by key.
func (e *Engine) AllAvailable() []KeyStatus { return e.Current().AllAvailable() }

// Merge rebuilds the registry from the active connector sets. Connections whose
// declaration is unchanged and which are starting or available keep their live
// status. Everything else is resolved again. Connections no longer declared are
// stopped.
func (e *Engine) Merge(ctx context.Context, sets []registry.ConnectorSetRef) *Registry {
	e.mu.Lock()
	prev := e.current.Load()

	conns := make(map[string]*Connection)
	var pluginIDs []string
	kept, missing := 0, 0

	for _, ref := range sets {
		pluginIDs = append(pluginIDs, ref.PluginID)
		for _, category := range ref.Set.Categories() {
			decl := ref.Set[category]
			key := Key(ref.PluginID, category)

			old, existed := prev.Get(key)
			if existed && old.Declaration.Equal(decl) &&
				(old.Status.State == StateStarting || old.Status.State == StateAvailable) {
				conns[key] = old
				kept++
				continue
			}

			conn := resolveConnection(ctx, e.resolve, ref.PluginID, category, decl)
			conn.LastTransition = e.now()
			if existed {
				conn.Counter = old.Counter
			}
			if conn.Status.State == StateUnavailable {
				missing++
				e.logger.Warn("connector unavailable",
					"key", key,
					"status", conn.Status.String(),
				)
			}
			conns[key] = conn
		}
	}

	var removed []*Connection
	for _, old := range prev.Connections() {
		if _, still := conns[old.Key]; !still {
			removed = append(removed, old)
		}
	}

	next := newRegistry(prev.Version()+1, conns)
	e.current.Store(next)
	e.mu.Unlock()

	e.logger.Info("=== CONNECTORS MERGED ===",
		"version", next.Version(),
		"connections", next.Len(),
		"kept_live", kept,
		"missing_credentials", missing,
		"removed", len(removed),
	)
	e.emit(next.Version(), "", pluginIDs...)

	for _, old := range removed {
		if old.Status.State != StateStarting && old.Status.State != StateAvailable {
			continue
		}
		if err := e.runtime.Stop(ctx, old.Key); err != nil {
			e.logger.Warn("failed to stop removed connector", "key", old.Key, "error", err)
		}
	}
	return next
}

// Start asks the runtime to bring up an unresolved connection. Starting or
// available connections are left alone; unavailable ones return their reason.
func (e *Engine) Start(ctx context.Context, key string) error {
	e.mu.Lock()
	cur := e.current.Load()
	conn, ok := cur.Get(key)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownConnection, key)
	}
	if conn.Status.State != StateUnresolved {
		e.mu.Unlock()
		return conn.Status.Err()
	}

	starting := conn.withStatus(Status{State: StateStarting}, e.now())
	next := cur.with(starting)
	e.current.Store(next)
	e.mu.Unlock()

	e.logger.Debug("starting connector", "key", key)
	e.emit(next.Version(), key, conn.PluginID)

	startErr := e.runtime.Start(ctx, starting)
	if startErr == nil {
		return nil
	}

	e.mu.Lock()
	cur = e.current.Load()
	latest, ok := cur.Get(key)
	if !ok || latest.Status.State != StateStarting || !latest.Declaration.Equal(starting.Declaration) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", ErrConnectorStartFailure, key, startErr)
	}
	failed := latest.withStatus(Status{
		State:  StateUnavailable,
		Reason: ReasonStartFailure,
		Detail: startErr.Error(),
	}, e.now())
	next = cur.with(failed)
	e.current.Store(next)
	e.mu.Unlock()

	e.logger.Warn("connector failed to start", "key", key, "error", startErr)
	e.emit(next.Version(), key, conn.PluginID)
	return fmt.Errorf("%w: %s: %v", ErrConnectorStartFailure, key, startErr)
}

// StartPlugin starts every unresolved connection of a plugin and joins the errors.
func (e *Engine) StartPlugin(ctx context.Context, pluginID string) error {
	var errs []error
	for _, conn := range e.Current().ForPlugin(pluginID) {
		if conn.Status.State != StateUnresolved {
			continue
		}
		if err := e.Start(ctx, conn.Key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Apply records a runtime status update. It returns false when the update is
// for an unknown key or its counter is not newer than the last applied one.
func (e *Engine) Apply(u StatusUpdate) bool {
	e.mu.Lock()
	cur := e.current.Load()
	conn, ok := cur.Get(u.Key)
	if !ok {
		e.mu.Unlock()
		e.logger.Debug("status update for unknown connector discarded", "key", u.Key)
		return false
	}
	if u.Counter <= conn.Counter {
		e.mu.Unlock()
		e.logger.Debug("stale status update discarded",
			"key", u.Key,
			"counter", u.Counter,
			"last", conn.Counter,
		)
		return false
	}

	at := u.At
	if at.IsZero() {
		at = e.now()
	}
	updated := conn.withStatus(Status{State: u.State, Reason: u.Reason, Detail: u.Detail}, at)
	updated.Counter = u.Counter
	next := cur.with(updated)
	e.current.Store(next)
	e.mu.Unlock()

	if !conn.Status.equal(updated.Status) {
		e.logger.Info("connector status changed",
			"key", u.Key,
			"from", conn.Status.String(),
			"to", updated.Status.String(),
		)
	}
	e.emit(next.Version(), u.Key, conn.PluginID)
	return true
}

// Run applies updates from the runtime until ctx is done or the runtime closes its channel.
func (e *Engine) Run(ctx context.Context) error {
	updates := e.runtime.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				e.logger.Info("tool runtime closed its update channel")
				return nil
			}
			e.Apply(u)
		}
	}
}

func (e *Engine) emit(version uint64, key string, pluginIDs ...string) {
	if e.publisher == nil {
		return
	}
	ev := events.New(events.TopicConnections, events.KindConnectionStatus, version, pluginIDs...)
	ev.Key = key
	e.publisher.Publish(events.TopicConnections, ev, "")
}
