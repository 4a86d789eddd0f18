// ABOUTME: Tests for Broadcaster fan-out pub/sub system
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation, concurrency, goroutine leaks

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func makeEvent(kind Kind, pluginIDs ...string) *Event {
	return New(TopicRegistry, kind, 1, pluginIDs...)
}

func TestBroadcaster_SingleSubscriberReceivesEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), TopicRegistry)

	event := makeEvent(KindPluginEnabled, "legal")
	b.Publish(TopicRegistry, event, "")

	select {
	case received := <-ch:
		assert.Equal(t, event.ID, received.ID)
		assert.Equal(t, []string{"legal"}, received.PluginIDs)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcaster_MultipleSubscribersReceiveSameEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, TopicRegistry)
	ch2, _ := b.Subscribe(ctx, TopicRegistry)
	ch3, _ := b.Subscribe(ctx, TopicRegistry)

	event := makeEvent(KindPluginsReloaded)
	b.Publish(TopicRegistry, event, "")

	for i, ch := range []<-chan *Event{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, event.ID, received.ID, "subscriber %d got wrong event", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_TopicsAreIsolated(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	reg, _ := b.Subscribe(ctx, TopicRegistry)
	conn, _ := b.Subscribe(ctx, TopicConnections)

	b.Publish(TopicRegistry, makeEvent(KindPluginDisabled, "legal"), "")

	select {
	case received := <-reg:
		assert.Equal(t, KindPluginDisabled, received.Kind)
	case <-time.After(time.Second):
		t.Fatal("registry subscriber timed out")
	}

	select {
	case <-conn:
		t.Fatal("connections subscriber should not receive registry events")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcaster_ExcludeSubIDSkipsOriginator(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, subID1 := b.Subscribe(ctx, TopicRegistry)
	ch2, _ := b.Subscribe(ctx, TopicRegistry)

	b.Publish(TopicRegistry, makeEvent(KindPluginEnabled), subID1)

	select {
	case <-ch1:
		t.Fatal("excluded subscriber should not receive the event")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case <-ch2:
	case <-time.After(time.Second):
		t.Fatal("non-excluded subscriber timed out")
	}
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	_, _ = b.Subscribe(ctx, TopicRegistry) // never read
	ch2, _ := b.Subscribe(ctx, TopicRegistry)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range subscriberBufferSize * 3 {
			b.Publish(TopicRegistry, makeEvent(KindPluginEnabled), "")
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	assert.Len(t, ch2, subscriberBufferSize)
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, TopicRegistry)
	assert.Equal(t, 1, b.SubscriberCount(TopicRegistry))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
	assert.Equal(t, 0, b.SubscriberCount(TopicRegistry))
}

func TestBroadcaster_ManualUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), TopicRegistry)
	b.Unsubscribe(TopicRegistry, subID)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing and unsubscribing again must not panic
	b.Publish(TopicRegistry, makeEvent(KindPluginEnabled), "")
	b.Unsubscribe(TopicRegistry, subID)
}

func TestBroadcaster_CloseClosesAllSubscriptions(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := NewBroadcaster(nil)

	// Contexts that are never cancelled must not pin cleanup goroutines after Close.
	ch1, _ := b.Subscribe(context.Background(), TopicRegistry)
	ch2, _ := b.Subscribe(context.Background(), TopicConnections)

	b.Close()
	b.Close()

	for i, ch := range []<-chan *Event{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after Close()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after Close()", i)
		}
	}

	late, _ := b.Subscribe(context.Background(), TopicRegistry)
	_, ok := <-late
	assert.False(t, ok, "subscribing after Close returns a closed channel")
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	ctx := t.Context()

	for range 10 {
		wg.Go(func() {
			ch, _ := b.Subscribe(ctx, TopicConnections)
			for range 5 {
				select {
				case <-ch:
				case <-time.After(500 * time.Millisecond):
					return
				}
			}
		})
	}

	for range 10 {
		wg.Go(func() {
			for range 10 {
				b.Publish(TopicConnections, New(TopicConnections, KindConnectionStatus, 2), "")
			}
		})
	}

	wg.Wait()
}

func TestBroadcaster_SubscribeReturnsUniqueIDs(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	_, id1 := b.Subscribe(ctx, TopicRegistry)
	_, id2 := b.Subscribe(ctx, TopicRegistry)
	_, id3 := b.Subscribe(ctx, TopicConnections)

	require.NotEqual(t, id1, id2)
	require.NotEqual(t, id1, id3)
	require.NotEqual(t, id2, id3)
}
