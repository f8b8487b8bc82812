// ABOUTME: In-memory fan-out of controller view snapshots to any number of subscribers
// ABOUTME: Latest-wins delivery: a slow subscriber only ever sees the newest snapshot

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// snapshotBuffer is the channel buffer for each subscriber. One slot is
// enough because stale snapshots are replaced, never queued.
const snapshotBuffer = 1

// SnapshotBroadcaster provides in-memory pub/sub for view snapshots.
type SnapshotBroadcaster struct {
	mu          sync.Mutex
	subscribers map[string]chan Snapshot // subID -> ch
	lastVersion uint64
	closed      bool
	logger      *slog.Logger
}

// NewSnapshotBroadcaster creates a broadcaster. Pass nil logger for default.
func NewSnapshotBroadcaster(logger *slog.Logger) *SnapshotBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotBroadcaster{
		subscribers: make(map[string]chan Snapshot),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber and returns its channel and id. The
// subscription is removed when ctx is cancelled. Subscribing to a closed
// broadcaster returns an already closed channel.
func (b *SnapshotBroadcaster) Subscribe(ctx context.Context) (<-chan Snapshot, string) {
	subID := uuid.New().String()
	ch := make(chan Snapshot, snapshotBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish offers s to every subscriber, replacing any snapshot still
// waiting in a subscriber's buffer. Snapshots older than the last
// published version are ignored.
func (b *SnapshotBroadcaster) Publish(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || s.Version < b.lastVersion {
		return
	}
	b.lastVersion = s.Version

	for subID, ch := range b.subscribers {
		select {
		case ch <- s:
			continue
		default:
		}
		// Buffer holds an older snapshot; swap it for this one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
			b.logger.Debug("dropped snapshot for slow subscriber", "sub_id", subID, "version", s.Version)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *SnapshotBroadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close closes all subscriber channels. It is safe to call more than once.
func (b *SnapshotBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}

	b.logger.Debug("broadcaster closed")
}
