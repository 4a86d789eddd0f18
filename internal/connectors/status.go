// ABOUTME: Connection status values and the immutable Connection Registry snapshot.
// ABOUTME: Status strings render as unresolved, starting, available, or unavailable(reason).

package connectors

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/2389/coven-plugins/internal/plugin"
)

// ErrMissingCredential indicates a ${VAR} placeholder could not be resolved.
var ErrMissingCredential = errors.New("missing credential")

// ErrConnectorStartFailure indicates the tool runtime could not start a connection.
var ErrConnectorStartFailure = errors.New("connector start failure")

// ErrUnknownConnection indicates no connection is registered under the key.
var ErrUnknownConnection = errors.New("unknown connection")

// State is the coarse status of a connection.
type State string

const (
	StateUnresolved  State = "unresolved"
	StateStarting    State = "starting"
	StateAvailable   State = "available"
	StateUnavailable State = "unavailable"
)

// Reasons attached to StateUnavailable.
const (
	ReasonMissingCredential = "MissingCredential"
	ReasonStartFailure      = "ConnectorStartFailure"
	ReasonNotDeclared       = "NotDeclared"
)

// Status is a connection state plus, when unavailable, why.
type Status struct {
	State   State
	Reason  string   // ReasonMissingCredential, ReasonStartFailure, or a runtime-supplied reason
	Detail  string   // free text from the runtime or the start error
	Missing []string // unresolved variable names for ReasonMissingCredential
}

// Available reports whether the connection can be used right now.
func (s Status) Available() bool { return s.State == StateAvailable }

func (s Status) String() string {
	if s.State != StateUnavailable {
		return string(s.State)
	}
	switch {
	case len(s.Missing) > 0:
		return fmt.Sprintf("unavailable(%s: %s)", s.Reason, strings.Join(s.Missing, ", "))
	case s.Detail != "":
		return fmt.Sprintf("unavailable(%s: %s)", s.Reason, s.Detail)
	case s.Reason != "":
		return fmt.Sprintf("unavailable(%s)", s.Reason)
	}
	return "unavailable"
}

// Err returns the status as an error wrapping the matching sentinel, or nil when not unavailable.
func (s Status) Err() error {
	if s.State != StateUnavailable {
		return nil
	}
	switch s.Reason {
	case ReasonMissingCredential:
		return fmt.Errorf("%w: %s", ErrMissingCredential, strings.Join(s.Missing, ", "))
	case ReasonStartFailure:
		return fmt.Errorf("%w: %s", ErrConnectorStartFailure, s.Detail)
	}
	return errors.New(s.String())
}

func (s Status) equal(o Status) bool {
	return s.State == o.State && s.Reason == o.Reason && s.Detail == o.Detail && slices.Equal(s.Missing, o.Missing)
}

// Key returns the namespaced connection key "pluginId:category".
func Key(pluginID, category string) string {
	return plugin.QualifiedName(pluginID, category)
}

// Connection is one namespaced connector with resolved values and live status.
// Connections are never modified after publication.
type Connection struct {
	Key         string
	PluginID    string
	Category    string
	Declaration plugin.Declaration

	// Resolved copies of the declaration's values; placeholders substituted.
	Command string
	Args    []string
	URL     string
	Env     map[string]string

	Status         Status
	Counter        uint64 // last runtime transition counter applied
	LastTransition time.Time
}

// withStatus returns a copy with a new status and transition time.
func (c *Connection) withStatus(status Status, at time.Time) *Connection {
	cp := *c
	cp.Status = status
	cp.LastTransition = at
	return &cp
}

// KeyStatus pairs a namespaced key with its status.
type KeyStatus struct {
	Key    string
	Status Status
}

// Registry is an immutable snapshot of all connections.
type Registry struct {
	version uint64
	conns   map[string]*Connection
	keys    []string // sorted
}

func newRegistry(version uint64, conns map[string]*Connection) *Registry {
	keys := make([]string, 0, len(conns))
	for k := range conns {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return &Registry{version: version, conns: conns, keys: keys}
}

// with returns a copy of the registry with one connection replaced.
func (r *Registry) with(conn *Connection) *Registry {
	conns := make(map[string]*Connection, len(r.conns))
	for k, v := range r.conns {
		conns[k] = v
	}
	conns[conn.Key] = conn
	return &Registry{version: r.version + 1, conns: conns, keys: r.keys}
}

// Version increases with every published change.
func (r *Registry) Version() uint64 { return r.version }

// Len returns the number of connections.
func (r *Registry) Len() int { return len(r.conns) }

// Get returns the connection under key.
func (r *Registry) Get(key string) (*Connection, bool) {
	c, ok := r.conns[key]
	return c, ok
}

// Connections returns every connection sorted by key.
func (r *Registry) Connections() []*Connection {
	out := make([]*Connection, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.conns[k])
	}
	return out
}

// ForPlugin returns the plugin's connections sorted by category.
func (r *Registry) ForPlugin(pluginID string) []*Connection {
	var out []*Connection
	prefix := pluginID + ":"
	for _, k := range r.keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, r.conns[k])
		}
	}
	return out
}

// Availability returns the status of key. Undeclared keys are unavailable(NotDeclared).
func (r *Registry) Availability(key string) Status {
	if c, ok := r.conns[key]; ok {
		return c.Status
	}
	return Status{State: StateUnavailable, Reason: ReasonNotDeclared}
}

// AllAvailable returns every key with its status, sorted by key.
func (r *Registry) AllAvailable() []KeyStatus {
	out := make([]KeyStatus, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, KeyStatus{Key: k, Status: r.conns[k].Status})
	}
	return out
}

// ToolName returns the display name declared for key, if the key exists.
func (r *Registry) ToolName(key string) (string, bool) {
	c, ok := r.conns[key]
	if !ok {
		return "", false
	}
	return c.Declaration.ToolName, true
}
