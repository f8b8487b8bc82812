// ABOUTME: Scans a thread's messages for recent, unreported handover events
// ABOUTME: Tracks the last processed handover so history reloads do not re-fire

package handover

import (
	"sync"
	"time"

	"github.com/2389/coven-console/internal/message"
)

// DefaultRecencyWindow is how recent a handover must be to be reported.
const DefaultRecencyWindow = 60 * time.Second

// Detector finds new handover events. It is safe for concurrent use but is
// normally driven by a single owner.
type Detector struct {
	mu     sync.Mutex
	lastID string
	lastAt time.Time
	window time.Duration
	now    func() time.Time
}

// NewDetector creates a Detector. A zero window uses DefaultRecencyWindow;
// a nil now uses time.Now.
func NewDetector(window time.Duration, now func() time.Time) *Detector {
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Detector{window: window, now: now}
}

// Scan returns the newest handover in msgs that is inside the recency
// window, is not the last processed one, and is not older than it. When a
// handover is returned it becomes the last processed one.
func (d *Detector) Scan(msgs []message.Message) (message.Message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var found message.Message
	ok := false
	for _, m := range msgs {
		if m.Direction != message.DirectionHandover || m.ID == d.lastID {
			continue
		}
		if now.Sub(m.CreatedAt) >= d.window {
			continue
		}
		if d.lastID != "" && m.CreatedAt.Before(d.lastAt) {
			continue
		}
		if !ok || m.CreatedAt.After(found.CreatedAt) {
			found = m
			ok = true
		}
	}

	if ok {
		d.lastID = found.ID
		d.lastAt = found.CreatedAt
	}
	return found, ok
}

// LastProcessedID returns the id of the last reported handover.
func (d *Detector) LastProcessedID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastID
}

// Reset forgets the last processed handover. Called on thread switch.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastID = ""
	d.lastAt = time.Time{}
}
