// ABOUTME: Merge rules for streamed, paginated and optimistic messages
// ABOUTME: Replaces optimistic entries with their server echo by text, direction and time window

// Package reconcile decides how a record from the push stream, a history
// page, or a local send is merged into a thread's message list.
//
// Optimistic records carry a client timestamp and a temporary id, so they
// cannot be matched to their server echo by id. A streamed message replaces
// an optimistic one when text and direction are equal and the timestamps
// are less than Window apart. This is a heuristic: two identical messages
// sent within the window can be matched to the wrong echo, and an echo
// whose text was modified by the server will not match at all.
package reconcile

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/2389/coven-console/internal/message"
)

// DefaultWindow is the maximum distance between an optimistic record and
// its echo.
const DefaultWindow = 5 * time.Second

// PendingStatus is the status given to optimistic records.
const PendingStatus = "pending"

// Outcome describes what MergeStreamed did with a record.
type Outcome int

const (
	// Duplicate means a record with the same id was already present.
	Duplicate Outcome = iota
	// ReplacedOptimistic means an optimistic record was retired.
	ReplacedOptimistic
	// Inserted means the record was added as a new entry.
	Inserted
)

func (o Outcome) String() string {
	switch o {
	case Duplicate:
		return "duplicate"
	case ReplacedOptimistic:
		return "replaced_optimistic"
	case Inserted:
		return "inserted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result reports the outcome of a streamed merge and, for
// ReplacedOptimistic, the id that was retired.
type Result struct {
	Outcome   Outcome
	RetiredID string
}

// Reconciler merges records into message lists. It holds only the
// optimistic id counter; the lists themselves are owned by the caller.
type Reconciler struct {
	mu     sync.Mutex
	lastID int64
	window time.Duration
	now    func() time.Time
}

// New creates a Reconciler. A zero window uses DefaultWindow; a nil now
// uses time.Now.
func New(window time.Duration, now func() time.Time) *Reconciler {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Reconciler{window: window, now: now}
}

// Window returns the optimistic matching window.
func (r *Reconciler) Window() time.Duration {
	return r.window
}

// MergeStreamed merges a message received from the push stream.
func (r *Reconciler) MergeStreamed(list []message.Message, m message.Message) ([]message.Message, Result) {
	if message.Contains(list, m.ID) {
		return list, Result{Outcome: Duplicate}
	}

	if idx := r.findOptimistic(list, m); idx >= 0 {
		retired := list[idx].ID
		out := make([]message.Message, 0, len(list))
		out = append(out, list[:idx]...)
		out = append(out, list[idx+1:]...)
		return message.InsertOrReplace(out, m), Result{Outcome: ReplacedOptimistic, RetiredID: retired}
	}

	return message.InsertOrReplace(list, m), Result{Outcome: Inserted}
}

// findOptimistic returns the index of the optimistic record that m echoes,
// or -1. When several qualify the closest in time wins.
func (r *Reconciler) findOptimistic(list []message.Message, m message.Message) int {
	best := -1
	var bestDelta time.Duration
	for i, candidate := range list {
		if !candidate.IsOptimistic() {
			continue
		}
		if candidate.Text != m.Text || candidate.Direction != m.Direction {
			continue
		}
		delta := absDuration(candidate.CreatedAt.Sub(m.CreatedAt))
		if delta >= r.window {
			continue
		}
		if best < 0 || delta < bestDelta {
			best = i
			bestDelta = delta
		}
	}
	return best
}

// MergePage merges a page of history. History cannot contain pending local
// writes, so no optimistic matching is done; ids already present are
// skipped.
func MergePage(list []message.Message, page []message.Message) []message.Message {
	out := make([]message.Message, 0, len(list)+len(page))
	out = append(out, list...)
	for _, m := range page {
		if message.Contains(out, m.ID) {
			continue
		}
		out = append(out, m)
	}
	message.SortDescending(out)
	return out
}

// Draft is the content of a message about to be sent.
type Draft struct {
	ThreadID      string
	ParticipantID string
	WorkflowID    string
	WorkflowType  string
	Text          string
	Data          json.RawMessage
	Scope         *string
}

// NewOptimistic synthesizes the local record for a draft. The record is
// attributed to the current actor, which the thread sees as Incoming.
func (r *Reconciler) NewOptimistic(d Draft) message.Message {
	now := r.now()
	return message.Message{
		ID:            r.nextID(now),
		ThreadID:      d.ThreadID,
		ParticipantID: d.ParticipantID,
		WorkflowID:    d.WorkflowID,
		WorkflowType:  d.WorkflowType,
		Direction:     message.DirectionIncoming,
		Type:          message.TypeChat,
		Scope:         d.Scope,
		Text:          d.Text,
		Data:          d.Data,
		Status:        PendingStatus,
		CreatedAt:     now,
	}
}

// InsertOptimistic adds an optimistic record to list.
func InsertOptimistic(list []message.Message, m message.Message) []message.Message {
	return message.InsertOrReplace(list, m)
}

// nextID returns temp-<epoch-ms>, bumped past the previous id when two
// sends land in the same millisecond.
func (r *Reconciler) nextID(now time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ms := now.UnixMilli()
	if ms <= r.lastID {
		ms = r.lastID + 1
	}
	r.lastID = ms
	return fmt.Sprintf("%s%d", message.OptimisticPrefix, ms)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
