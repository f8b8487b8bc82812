// ABOUTME: Push stream session state machine: one live subscription per controller
// ABOUTME: Start supersedes any prior session; Stop cancels and waits for the reader

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-console/internal/message"
)

// Event names on the push stream.
const (
	EventConnected = "connected"
	EventHeartbeat = "heartbeat"
	EventChat      = "Chat"
	EventData      = "Data"
	EventHandoff   = "Handoff"
)

// DefaultHeartbeat is the heartbeat interval requested from the server.
const DefaultHeartbeat = 30 * time.Second

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transport opens the push subscription for a thread. The returned body
// yields SSE frames until the server ends the stream or ctx is cancelled.
type Transport interface {
	Subscribe(ctx context.Context, threadID string, heartbeat time.Duration) (io.ReadCloser, error)
}

// Handler receives the output of a session. Handlers run on the session's
// reader goroutine and must not call Start or Stop on the same Session.
// Every handler call for a session happens before Stop or the next Start
// returns.
type Handler struct {
	// OnMessage receives each Chat, Data or Handoff payload.
	OnMessage func(event string, m message.Message)
	// OnEvent is told about every recognized event, including liveness.
	OnEvent func(event string)
	// OnError receives transport and decode errors while the session is
	// wanted. It is never called for errors caused by Stop.
	OnError func(err error)
}

// Session manages a single live subscription at a time.
type Session struct {
	transport Transport
	heartbeat time.Duration
	now       func() time.Time
	logger    *slog.Logger

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex

	mu           sync.Mutex
	state        State
	id           string
	threadID     string
	cancel       context.CancelFunc
	done         chan struct{}
	lastActivity time.Time
}

// NewSession creates an idle Session. A heartbeat <= 0 uses
// DefaultHeartbeat.
func NewSession(transport Transport, heartbeat time.Duration, logger *slog.Logger) *Session {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		transport: transport,
		heartbeat: heartbeat,
		now:       time.Now,
		logger:    logger.With("component", "stream"),
	}
}

// Start stops any running subscription, then subscribes to threadID. The
// subscription lives until Stop, a later Start, cancellation of parent, or
// the end of the stream. It returns the new session id.
func (s *Session) Start(parent context.Context, threadID string, h Handler) string {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stopLocked()

	ctx, cancel := context.WithCancel(parent)
	id := uuid.New().String()
	done := make(chan struct{})

	s.mu.Lock()
	s.state = StateConnecting
	s.id = id
	s.threadID = threadID
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.logger.Debug("stream starting", "session_id", id, "thread_id", threadID)

	go s.run(ctx, id, threadID, h, done)
	return id
}

// Stop cancels the running subscription and waits for its reader to exit.
// Calling Stop without a running subscription is a no-op.
func (s *Session) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	s.mu.Lock()
	cancel, done, id := s.cancel, s.done, s.id
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.logger.Debug("stream stopped", "session_id", id)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the id of the current or last session.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// ThreadID returns the thread of the current or last session.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// LastActivity returns when the last event of any kind arrived.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) run(ctx context.Context, id, threadID string, h Handler, done chan struct{}) {
	var failure error
	defer func() {
		s.setState(id, StateClosed)
		if failure != nil && h.OnError != nil {
			h.OnError(failure)
		}
		close(done)
	}()

	body, err := s.transport.Subscribe(ctx, threadID, s.heartbeat)
	if err != nil {
		if ctx.Err() == nil {
			failure = fmt.Errorf("subscribing to thread %s: %w", threadID, err)
			s.logger.Warn("stream subscribe failed", "session_id", id, "thread_id", threadID, "error", err)
		}
		return
	}
	defer body.Close()

	// Closing the body unblocks a pending read when the session is cancelled
	stopCloser := context.AfterFunc(ctx, func() { body.Close() })
	defer stopCloser()

	s.setState(id, StateOpen)
	s.logger.Debug("stream open", "session_id", id, "thread_id", threadID)

	reader := newFrameReader(body)
	for {
		frame, err := reader.Next()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) {
			s.logger.Debug("stream ended by server", "session_id", id, "thread_id", threadID)
			return
		}
		if err != nil {
			failure = fmt.Errorf("reading stream for thread %s: %w", threadID, err)
			s.logger.Warn("stream read failed", "session_id", id, "thread_id", threadID, "error", err)
			return
		}
		s.dispatch(id, frame, h)
	}
}

func (s *Session) dispatch(id string, frame Frame, h Handler) {
	switch frame.Event {
	case EventConnected, EventHeartbeat:
		s.touch()
		if h.OnEvent != nil {
			h.OnEvent(frame.Event)
		}

	case EventChat, EventData, EventHandoff:
		s.touch()
		if h.OnEvent != nil {
			h.OnEvent(frame.Event)
		}
		var m message.Message
		if err := json.Unmarshal([]byte(frame.Data), &m); err != nil {
			s.logger.Warn("undecodable stream payload", "session_id", id, "event", frame.Event, "error", err)
			if h.OnError != nil {
				h.OnError(fmt.Errorf("decoding %s event: %w", frame.Event, err))
			}
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(frame.Event, m)
		}

	default:
		s.logger.Debug("ignoring stream event", "session_id", id, "event", frame.Event)
	}
}

func (s *Session) touch() {
	now := s.now()
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// setState updates the state only if id is still the current session.
func (s *Session) setState(id string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == id {
		s.state = state
	}
}
