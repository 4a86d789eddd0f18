// ABOUTME: ToolRuntime is the boundary to whatever actually runs connector processes.
// ABOUTME: NoopRuntime reports every started connection available; used by the CLI and tests.

package connectors

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// StatusUpdate is a status transition reported by a ToolRuntime.
type StatusUpdate struct {
	Key     string
	State   State
	Reason  string
	Detail  string
	Counter uint64 // strictly increasing per key; stale values are discarded
	At      time.Time
}

// ToolRuntime starts and stops connector processes. The engine only asks; the
// runtime reports outcomes through the Subscribe channel.
type ToolRuntime interface {
	// Start begins bringing up a resolved connection. A returned error marks
	// the connection unavailable(ConnectorStartFailure).
	Start(ctx context.Context, conn *Connection) error
	// Stop releases a connection that is no longer declared.
	Stop(ctx context.Context, key string) error
	// Subscribe returns the channel of status updates. It is closed when the runtime shuts down.
	Subscribe() <-chan StatusUpdate
}

// NoopRuntime starts nothing and immediately reports each started connection
// available. Stopped keys are forgotten.
type NoopRuntime struct {
	mu      sync.Mutex
	updates chan StatusUpdate
	counter atomic.Uint64
	started map[string]bool
	closed  bool
}

// NewNoopRuntime creates a NoopRuntime with a buffered update channel.
func NewNoopRuntime() *NoopRuntime {
	return &NoopRuntime{
		updates: make(chan StatusUpdate, 64),
		started: make(map[string]bool),
	}
}

// Start implements ToolRuntime.
func (n *NoopRuntime) Start(ctx context.Context, conn *Connection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.started[conn.Key] = true

	update := StatusUpdate{Key: conn.Key, State: StateAvailable, Counter: n.counter.Add(1), At: time.Now()}
	select {
	case n.updates <- update:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Stop implements ToolRuntime.
func (n *NoopRuntime) Stop(ctx context.Context, key string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.started, key)
	return nil
}

// Subscribe implements ToolRuntime.
func (n *NoopRuntime) Subscribe() <-chan StatusUpdate { return n.updates }

// Started reports whether Start was called for key and it was not stopped since.
func (n *NoopRuntime) Started(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started[key]
}

// Close closes the update channel.
func (n *NoopRuntime) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.updates)
	}
}

var _ ToolRuntime = (*NoopRuntime)(nil)
