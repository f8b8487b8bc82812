// ABOUTME: Tests for SnapshotBroadcaster latest-wins fan-out
// ABOUTME: Covers delivery, replacement of stale snapshots, unsubscribe, cancellation, concurrency

package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "channel closed")
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func TestBroadcaster_SubscribersReceiveSnapshot(t *testing.T) {
	b := NewSnapshotBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())

	b.Publish(Snapshot{Version: 1, HasMore: true})

	for _, ch := range []<-chan Snapshot{ch1, ch2} {
		s := receive(t, ch)
		assert.Equal(t, uint64(1), s.Version)
		assert.True(t, s.HasMore)
	}
}

func TestBroadcaster_SlowSubscriberGetsLatest(t *testing.T) {
	b := NewSnapshotBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context())

	done := make(chan struct{})
	go func() {
		for v := uint64(1); v <= 100; v++ {
			b.Publish(Snapshot{Version: v})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	assert.Equal(t, uint64(100), receive(t, ch).Version)
}

func TestBroadcaster_IgnoresOlderVersions(t *testing.T) {
	b := NewSnapshotBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context())

	b.Publish(Snapshot{Version: 5})
	b.Publish(Snapshot{Version: 3})

	assert.Equal(t, uint64(5), receive(t, ch).Version)
	select {
	case s := <-ch:
		t.Fatalf("unexpected snapshot %d", s.Version)
	default:
	}
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewSnapshotBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := b.Subscribe(ctx)

	b.mu.Lock()
	_, exists := b.subscribers[subID]
	b.mu.Unlock()
	assert.True(t, exists, "subscription should exist before cancel")

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}

	b.mu.Lock()
	_, exists = b.subscribers[subID]
	b.mu.Unlock()
	assert.False(t, exists)
}

func TestBroadcaster_ManualUnsubscribe(t *testing.T) {
	b := NewSnapshotBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context())
	b.Unsubscribe(subID)
	b.Unsubscribe(subID)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	assert.NotPanics(t, func() { b.Publish(Snapshot{Version: 1}) })
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewSnapshotBroadcaster(nil)

	ch1, _ := b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())

	b.Close()
	b.Close()

	for i, ch := range []<-chan Snapshot{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after Close()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after Close()", i)
		}
	}

	late, _ := b.Subscribe(t.Context())
	_, ok := <-late
	assert.False(t, ok, "subscribing after Close yields a closed channel")
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewSnapshotBroadcaster(nil)
	defer b.Close()

	var version atomic.Uint64
	var wg sync.WaitGroup

	for range 10 {
		wg.Go(func() {
			ch, _ := b.Subscribe(t.Context())
			for range 5 {
				select {
				case <-ch:
				case <-time.After(200 * time.Millisecond):
					return
				}
			}
		})
	}

	for range 10 {
		wg.Go(func() {
			for range 10 {
				b.Publish(Snapshot{Version: version.Add(1)})
			}
		})
	}

	wg.Wait()
}

func TestBroadcaster_SubscribeReturnsUniqueIDs(t *testing.T) {
	b := NewSnapshotBroadcaster(nil)
	defer b.Close()

	_, id1 := b.Subscribe(t.Context())
	_, id2 := b.Subscribe(t.Context())

	require.NotEqual(t, id1, id2)
}
