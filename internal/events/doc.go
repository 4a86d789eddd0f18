// Package events provides in-process fan-out of plugin runtime change notifications.
//
// # Overview
//
// The registry, the connector engine and the assembler are decoupled through a
// Broadcaster. Producers publish an Event on a topic; every subscriber of that
// topic receives it on its own buffered channel.
//
// Topics:
//
//   - TopicRegistry: plugin enabled, disabled, reloaded
//   - TopicConnections: connector status transitions
//
// # Delivery
//
// Publishing never blocks. A subscriber whose buffer is full misses the event.
// Events carry the snapshot version they describe, so consumers re-read the
// current snapshot instead of relying on every event arriving.
//
//	ch, subID := b.Subscribe(ctx, events.TopicRegistry)
//	for ev := range ch {
//	    // re-read registry.Snapshot()
//	}
//
// Subscriptions end when ctx is cancelled, on Unsubscribe, or on Close.
// The subscriber channel is closed in every case.
package events
