// ABOUTME: Tests for the dedupe cache of recently seen keys.
// ABOUTME: Uses an injected clock for TTL behavior; checks eviction, sweeping and concurrency.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestCache_CheckAndMark(t *testing.T) {
	clock := newFakeClock()
	cache := New(time.Second, 10, WithClock(clock.Now))
	defer cache.Close()

	assert.False(t, cache.Check("plugins/legal/skills/a.md"))
	assert.False(t, cache.CheckAndMark("plugins/legal/skills/a.md"), "first sighting is new")
	assert.True(t, cache.CheckAndMark("plugins/legal/skills/a.md"), "second sighting is a repeat")
	assert.True(t, cache.Check("plugins/legal/skills/a.md"))
}

func TestCache_Expiry(t *testing.T) {
	clock := newFakeClock()
	cache := New(time.Second, 10, WithClock(clock.Now))
	defer cache.Close()

	cache.Mark("key")
	clock.Advance(999 * time.Millisecond)
	assert.True(t, cache.Check("key"))

	clock.Advance(time.Millisecond)
	assert.False(t, cache.Check("key"))
	assert.False(t, cache.CheckAndMark("key"), "expired key counts as new")
}

func TestCache_MarkRefreshes(t *testing.T) {
	clock := newFakeClock()
	cache := New(time.Second, 10, WithClock(clock.Now))
	defer cache.Close()

	cache.Mark("key")
	clock.Advance(800 * time.Millisecond)
	cache.Mark("key")
	clock.Advance(800 * time.Millisecond)

	assert.True(t, cache.Check("key"))
}

func TestCache_EvictsLeastRecentlyMarked(t *testing.T) {
	cache := New(time.Hour, 3)
	defer cache.Close()

	cache.Mark("a")
	cache.Mark("b")
	cache.Mark("c")
	cache.Mark("a") // a is now newest
	cache.Mark("d") // evicts b

	assert.True(t, cache.Check("a"))
	assert.False(t, cache.Check("b"))
	assert.True(t, cache.Check("c"))
	assert.True(t, cache.Check("d"))
	assert.Equal(t, 3, cache.Len())
}

func TestCache_Forget(t *testing.T) {
	cache := New(time.Hour, 3)
	defer cache.Close()

	cache.Mark("a")
	cache.Forget("a")
	cache.Forget("never-marked")

	assert.False(t, cache.Check("a"))
	assert.Equal(t, 0, cache.Len())
}

func TestCache_Sweep(t *testing.T) {
	clock := newFakeClock()
	cache := New(time.Second, 10, WithClock(clock.Now))
	defer cache.Close()

	cache.Mark("old")
	clock.Advance(2 * time.Second)
	cache.Mark("new")
	cache.Sweep()

	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.Check("new"))
}

func TestCache_ConcurrentCheckAndMark(t *testing.T) {
	cache := New(time.Hour, 1000)
	defer cache.Close()

	var firsts atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			if !cache.CheckAndMark("shared") {
				firsts.Add(1)
			}
		})
	}
	for i := range 50 {
		wg.Go(func() { cache.Mark(fmt.Sprintf("key-%d", i)) })
	}
	wg.Wait()

	assert.Equal(t, int32(1), firsts.Load(), "exactly one caller sees the key as new")
	assert.Equal(t, 51, cache.Len())
}

func TestCache_CloseStopsSweeper(t *testing.T) {
	defer goleak.VerifyNone(t)

	cache := New(10*time.Millisecond, 10)
	cache.Mark("key")
	cache.Close()
	cache.Close()
}

func TestCache_MinimumSize(t *testing.T) {
	cache := New(time.Hour, 0)
	defer cache.Close()

	cache.Mark("a")
	cache.Mark("b")
	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.Check("b"))
}
