// ABOUTME: View state published by the controller and the reply status indicator
// ABOUTME: Reply status is derived lazily from the last send time and an injectable clock

package conversation

import (
	"time"

	"github.com/2389/coven-console/internal/message"
	"github.com/2389/coven-console/internal/scope"
	"github.com/2389/coven-console/internal/stream"
)

// ReplyStatus tells the user whether the agent has answered the last send.
type ReplyStatus int

const (
	// ReplyNone means nothing is awaiting an answer.
	ReplyNone ReplyStatus = iota
	// ReplySent means a message was just sent.
	ReplySent
	// ReplyAwaiting means no answer arrived within the awaiting threshold.
	ReplyAwaiting
	// ReplyPossibleError means no answer arrived within the error threshold.
	ReplyPossibleError
)

func (r ReplyStatus) String() string {
	switch r {
	case ReplyNone:
		return "none"
	case ReplySent:
		return "sent"
	case ReplyAwaiting:
		return "awaiting_reply"
	case ReplyPossibleError:
		return "possible_error"
	default:
		return "unknown"
	}
}

const (
	DefaultAwaitingAfter = 5 * time.Second
	DefaultErrorAfter    = 60 * time.Second
)

func replyStatus(sentAt, now time.Time, awaitingAfter, errorAfter time.Duration) ReplyStatus {
	if sentAt.IsZero() {
		return ReplyNone
	}
	elapsed := now.Sub(sentAt)
	switch {
	case elapsed >= errorAfter:
		return ReplyPossibleError
	case elapsed >= awaitingAfter:
		return ReplyAwaiting
	default:
		return ReplySent
	}
}

// Snapshot is a consistent copy of the controller's view state.
type Snapshot struct {
	// Version increases with every state change.
	Version uint64
	// Thread is nil until a thread is selected.
	Thread    *message.Thread
	Selection scope.Selection
	// Messages are filtered by Selection and sorted newest first.
	Messages    []message.Message
	HasMore     bool
	Loading     bool
	LoadingMore bool
	LoadErr     error
	StreamErr   error
	StreamState stream.State
	Reply       ReplyStatus
}
