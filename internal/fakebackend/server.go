// ABOUTME: In-memory platform with threads, messages and per-thread stream subscribers
// ABOUTME: Echoes sends on the stream and schedules canned agent replies and handovers

package fakebackend

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/2389/coven-console/internal/auth"
	"github.com/2389/coven-console/internal/message"
)

// subscriberBuffer is the per-stream event buffer. Events for a full
// subscriber are dropped.
const subscriberBuffer = 64

type event struct {
	name string
	msg  message.Message
}

type threadState struct {
	thread message.Thread
	msgs   []message.Message // chronological
}

type subscriber struct {
	ch chan event
}

// Server is the fake platform.
type Server struct {
	token      string
	jwtSecret  []byte
	verifier   auth.TokenVerifier
	now        func() time.Time
	logger     *slog.Logger
	replyDelay time.Duration
	autoReply  bool
	handover   bool
	router     *mux.Router

	mu       sync.Mutex
	threads  map[string]*threadState
	subs     map[string]map[*subscriber]struct{}
	failMsgs int
	failSend int
	pending  sync.WaitGroup
	closed   bool
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires every request to carry the given bearer token.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithJWTSecret requires every request to carry an HS256 JWT signed with
// secret. Sends must name the token's subject as participant. It takes
// precedence over WithToken.
func WithJWTSecret(secret []byte) Option {
	return func(s *Server) { s.jwtSecret = secret }
}

// WithClock sets the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAgentReply makes the server answer every sent message after delay.
func WithAgentReply(delay time.Duration) Option {
	return func(s *Server) {
		s.autoReply = true
		s.replyDelay = delay
	}
}

// WithHandover makes every agent reply be followed by a handover signal.
func WithHandover() Option {
	return func(s *Server) { s.handover = true }
}

// New creates an empty fake platform.
func New(opts ...Option) *Server {
	s := &Server{
		now:     time.Now,
		logger:  slog.Default(),
		threads: make(map[string]*threadState),
		subs:    make(map[string]map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "fakebackend")
	switch {
	case len(s.jwtSecret) > 0:
		s.verifier = auth.NewJWTVerifier(s.jwtSecret, s.now)
	case s.token != "":
		s.verifier = auth.NewStaticVerifier(s.token)
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler serving the platform API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// CreateThread registers a thread and returns it.
func (s *Server) CreateThread(participantID, workflowType, workflowID string) message.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createThreadLocked(participantID, workflowType, workflowID)
}

func (s *Server) createThreadLocked(participantID, workflowType, workflowID string) message.Thread {
	th := message.Thread{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		WorkflowType:  workflowType,
		WorkflowID:    workflowID,
		UpdatedAt:     s.now().UTC(),
	}
	s.threads[th.ID] = &threadState{thread: th}
	return th
}

// Seed stores messages in a thread without publishing them. Missing ids
// are generated.
func (s *Server) Seed(threadID string, msgs ...message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.threads[threadID]
	if !ok {
		return
	}
	for _, m := range msgs {
		ts.append(s.fill(threadID, m))
	}
}

// Publish stores a message and pushes it to the thread's subscribers
// under the event named after its type.
func (s *Server) Publish(threadID string, m message.Message) message.Message {
	s.mu.Lock()
	ts, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return message.Message{}
	}
	m = s.fill(threadID, m)
	ts.append(m)

	// Sends happen under the lock so DisconnectAll cannot close a channel
	// mid-send.
	ev := event{name: string(m.Type), msg: m}
	for sub := range s.subs[threadID] {
		select {
		case sub.ch <- ev:
		default:
			s.logger.Warn("dropping stream event for slow subscriber", "thread_id", threadID, "message_id", m.ID)
		}
	}
	s.mu.Unlock()
	return m
}

// Messages returns a copy of a thread's messages in chronological order.
func (s *Server) Messages(threadID string) []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.threads[threadID]
	if !ok {
		return nil
	}
	return slices.Clone(ts.msgs)
}

// Subscribers returns the number of open streams for a thread.
func (s *Server) Subscribers(threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[threadID])
}

// FailMessages makes the history endpoint answer with status until it is
// called again with 0.
func (s *Server) FailMessages(status int) {
	s.mu.Lock()
	s.failMsgs = status
	s.mu.Unlock()
}

// FailSend makes the send endpoint answer with status until it is called
// again with 0.
func (s *Server) FailSend(status int) {
	s.mu.Lock()
	s.failSend = status
	s.mu.Unlock()
}

// DisconnectAll closes every open stream.
func (s *Server) DisconnectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for threadID, set := range s.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(s.subs, threadID)
	}
}

// Close stops scheduled replies and disconnects all streams.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.pending.Wait()
	s.DisconnectAll()
}

func (s *Server) fill(threadID string, m message.Message) message.Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.ThreadID = threadID
	if m.Type == "" {
		m.Type = message.TypeChat
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	return m
}

func (ts *threadState) append(m message.Message) {
	ts.msgs = append(ts.msgs, m)
	if m.CreatedAt.After(ts.thread.UpdatedAt) {
		ts.thread.UpdatedAt = m.CreatedAt
	}
}

// addSubscriber returns nil once the server is closed.
func (s *Server) addSubscriber(threadID string) *subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	sub := &subscriber{ch: make(chan event, subscriberBuffer)}
	if s.subs[threadID] == nil {
		s.subs[threadID] = make(map[*subscriber]struct{})
	}
	s.subs[threadID][sub] = struct{}{}
	return sub
}

// removeSubscriber reports whether the subscriber was still registered.
func (s *Server) removeSubscriber(threadID string, sub *subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[threadID][sub]; !ok {
		return false
	}
	delete(s.subs[threadID], sub)
	if len(s.subs[threadID]) == 0 {
		delete(s.subs, threadID)
	}
	return true
}

// scheduleReply answers an incoming message with an agent reply and, when
// configured, a handover signal.
func (s *Server) scheduleReply(in message.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pending.Done()
		if s.replyDelay > 0 {
			time.Sleep(s.replyDelay)
		}
		reply := message.Message{
			ParticipantID: in.ParticipantID,
			WorkflowID:    in.WorkflowID,
			WorkflowType:  in.WorkflowType,
			Direction:     message.DirectionOutgoing,
			Type:          message.TypeChat,
			Scope:         in.Scope,
			Text:          "echo: " + in.Text,
			Status:        "delivered",
		}
		s.Publish(in.ThreadID, reply)

		if s.handover {
			s.Publish(in.ThreadID, message.Message{
				ParticipantID: in.ParticipantID,
				WorkflowID:    in.WorkflowID,
				WorkflowType:  in.WorkflowType,
				Direction:     message.DirectionHandover,
				Type:          message.TypeHandoff,
				Scope:         in.Scope,
				Status:        "delivered",
			})
		}
	}()
}
