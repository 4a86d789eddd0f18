// ABOUTME: Change notification types shared by the registry, connector engine and assembler
// ABOUTME: Events describe what changed; consumers re-read snapshots for the new state

package events

import (
	"time"

	"github.com/google/uuid"
)

// Topics
const (
	TopicRegistry    = "registry"
	TopicConnections = "connections"
)

// Kind identifies what happened.
type Kind string

const (
	KindPluginEnabled    Kind = "plugin_enabled"
	KindPluginDisabled   Kind = "plugin_disabled"
	KindPluginsReloaded  Kind = "plugins_reloaded"
	KindConnectionStatus Kind = "connection_status"
)

// Event is a single change notification.
type Event struct {
	ID        string
	Topic     string
	Kind      Kind
	PluginIDs []string // affected plugins; every plugin for a reload
	Key       string   // namespaced connection key for KindConnectionStatus
	Version   uint64   // snapshot version after the change
	At        time.Time
}

// New creates an event with a fresh id and timestamp.
func New(topic string, kind Kind, version uint64, pluginIDs ...string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		Kind:      kind,
		PluginIDs: pluginIDs,
		Version:   version,
		At:        time.Now().UTC(),
	}
}

// Publisher is the producing side of a Broadcaster.
type Publisher interface {
	Publish(topic string, event *Event, excludeSubID string)
}
