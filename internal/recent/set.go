// ABOUTME: Thread-safe TTL set of recently sent message ids with bounded size.
// ABOUTME: Marks follow an optimistic id to its server id when the echo arrives.

package recent

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTTL is how long a sent message stays highlighted.
const DefaultTTL = 60 * time.Second

// DefaultMaxSize bounds the number of tracked ids.
const DefaultMaxSize = 256

type entry struct {
	markedAt time.Time
	element  *list.Element
}

// Set is a TTL-based, size-limited set of message ids. Expired ids are
// pruned lazily on Mark, so there is no background goroutine to stop.
type Set struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // ids in mark order, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a Set. A nil now uses time.Now.
func New(ttl time.Duration, maxSize int, now func() time.Time) *Set {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if now == nil {
		now = time.Now
	}
	return &Set{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
	}
}

// Contains reports whether id was marked less than ttl ago.
func (s *Set) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.seen[id]
	if !ok {
		return false
	}
	return s.now().Sub(e.markedAt) < s.ttl
}

// Mark records id as just sent. Marking an existing id refreshes it.
func (s *Set) Mark(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.markLocked(id, s.now())
}

// Rename moves the mark of oldID to newID, keeping the original mark time.
// It is a no-op when oldID is not tracked.
func (s *Set) Rename(oldID, newID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.seen[oldID]
	if !ok {
		return
	}
	markedAt := e.markedAt
	s.order.Remove(e.element)
	delete(s.seen, oldID)
	s.markLocked(newID, markedAt)
}

// Len returns the number of tracked ids, expired or not.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Reset forgets every id.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[string]*entry)
	s.order.Init()
}

// markLocked must be called with mu held.
func (s *Set) markLocked(id string, at time.Time) {
	if e, exists := s.seen[id]; exists {
		e.markedAt = at
		s.order.MoveToBack(e.element)
		return
	}

	if len(s.seen) >= s.maxSize {
		s.evictOldestLocked()
	}

	elem := s.order.PushBack(id)
	s.seen[id] = &entry{markedAt: at, element: elem}
}

func (s *Set) evictOldestLocked() {
	front := s.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.seen, id)
}

// pruneLocked drops expired ids from the front of the order list. Rename
// can leave an older mark behind a newer one, so pruning stops at the
// first live entry rather than scanning everything.
func (s *Set) pruneLocked() {
	now := s.now()
	for front := s.order.Front(); front != nil; front = s.order.Front() {
		id, _ := front.Value.(string)
		if now.Sub(s.seen[id].markedAt) < s.ttl {
			return
		}
		s.order.Remove(front)
		delete(s.seen, id)
	}
}
