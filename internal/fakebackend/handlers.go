// ABOUTME: HTTP routes of the fake platform built on gorilla/mux
// ABOUTME: Serves JSON history pages and a text/event-stream push channel per thread

package fakebackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/2389/coven-console/internal/api"
	"github.com/2389/coven-console/internal/auth"
	"github.com/2389/coven-console/internal/message"
	"github.com/2389/coven-console/internal/paginate"
)

const defaultHeartbeat = 30 * time.Second

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	if s.verifier != nil {
		r.Use(mux.MiddlewareFunc(auth.HTTPAuthMiddleware(s.verifier)))
	}

	r.HandleFunc("/api/threads", s.listThreads).Methods(http.MethodGet)
	r.HandleFunc("/api/threads/{id}/topics", s.listTopics).Methods(http.MethodGet)
	r.HandleFunc("/api/threads/{id}/messages", s.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/threads/{id}/stream", s.stream).Methods(http.MethodGet)
	r.HandleFunc("/api/messages/send", s.send).Methods(http.MethodPost)
	return r
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r, paginate.ListPageSize)

	s.mu.Lock()
	threads := make([]message.Thread, 0, len(s.threads))
	for _, ts := range s.threads {
		threads = append(threads, ts.thread)
	}
	s.mu.Unlock()

	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
	writeJSON(w, http.StatusOK, pageOf(threads, page, pageSize))
}

type topicKey struct {
	set  bool
	name string
}

func (s *Server) listTopics(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r, paginate.ListPageSize)
	msgs, ok := s.threadMessages(mux.Vars(r)["id"])
	if !ok {
		sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}

	byKey := make(map[topicKey]*message.TopicSummary)
	for _, m := range msgs {
		name, set := m.ScopeValue()
		key := topicKey{set: set, name: name}
		sum, ok := byKey[key]
		if !ok {
			sum = &message.TopicSummary{Scope: m.Scope}
			byKey[key] = sum
		}
		sum.MessageCount++
		if m.CreatedAt.After(sum.LastMessageAt) {
			sum.LastMessageAt = m.CreatedAt
		}
	}

	topics := make([]message.TopicSummary, 0, len(byKey))
	for _, sum := range byKey {
		topics = append(topics, *sum)
	}
	sort.SliceStable(topics, func(i, j int) bool {
		return topics[i].LastMessageAt.After(topics[j].LastMessageAt)
	})
	writeJSON(w, http.StatusOK, pageOf(topics, page, pageSize))
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.failMsgs
	s.mu.Unlock()
	if fail != 0 {
		sendJSONError(w, fail, "history unavailable")
		return
	}

	page, pageSize := pageParams(r, paginate.MessagePageSize)
	msgs, ok := s.threadMessages(mux.Vars(r)["id"])
	if !ok {
		sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}

	sel := api.DecodeSelection(r.URL.Query())
	filtered := sel.Filter(msgs)
	message.SortDescending(filtered)
	writeJSON(w, http.StatusOK, pageOf(filtered, page, pageSize))
}

func (s *Server) send(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.failSend
	s.mu.Unlock()
	if fail != 0 {
		sendJSONError(w, fail, "send rejected")
		return
	}

	var req api.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ParticipantID == "" || req.WorkflowType == "" {
		sendJSONError(w, http.StatusBadRequest, "participantId and workflowType are required")
		return
	}
	if caller := auth.FromContext(r.Context()); caller != nil && caller.ParticipantID != "" && caller.ParticipantID != req.ParticipantID {
		sendJSONError(w, http.StatusForbidden, "token does not belong to participant")
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Data) == 0 {
		sendJSONError(w, http.StatusBadRequest, "text or data is required")
		return
	}

	s.mu.Lock()
	threadID := req.ThreadID
	if threadID == "" {
		threadID = s.createThreadLocked(req.ParticipantID, req.WorkflowType, req.WorkflowID).ID
	} else if _, ok := s.threads[threadID]; !ok {
		s.mu.Unlock()
		sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}
	s.mu.Unlock()

	msgType := message.TypeChat
	if req.Text == "" {
		msgType = message.TypeData
	}
	in := s.Publish(threadID, message.Message{
		ParticipantID: req.ParticipantID,
		WorkflowID:    req.WorkflowID,
		WorkflowType:  req.WorkflowType,
		Direction:     message.DirectionIncoming,
		Type:          msgType,
		Scope:         req.Scope,
		Text:          req.Text,
		Data:          req.Data,
		Status:        "delivered",
	})
	s.logger.Debug("message received", "thread_id", threadID, "message_id", in.ID)

	if s.autoReply && msgType == message.TypeChat {
		s.scheduleReply(in)
	}
	writeJSON(w, http.StatusOK, api.SendResponse{ThreadID: threadID})
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]
	if _, ok := s.threadMessages(threadID); !ok {
		sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	heartbeat := defaultHeartbeat
	if raw := r.URL.Query().Get("heartbeatSeconds"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			heartbeat = time.Duration(secs) * time.Second
		}
	}

	sub := s.addSubscriber(threadID)
	if sub == nil {
		sendJSONError(w, http.StatusServiceUnavailable, "server closing")
		return
	}
	defer s.removeSubscriber(threadID, sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s.writeSSEEvent(w, "connected", map[string]string{"threadId": threadID})
	flusher.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			s.writeSSEEvent(w, "heartbeat", map[string]string{"at": s.now().UTC().Format(time.RFC3339)})
			flusher.Flush()
		case ev, ok := <-sub.ch:
			if !ok {
				return
			}
			s.writeSSEEvent(w, ev.name, ev.msg)
			flusher.Flush()
		}
	}
}

func (s *Server) threadMessages(threadID string) ([]message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.threads[threadID]
	if !ok {
		return nil, false
	}
	return append([]message.Message(nil), ts.msgs...), true
}

func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

func pageParams(r *http.Request, defaultSize int) (int, int) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if err != nil || pageSize < 1 {
		pageSize = defaultSize
	}
	return page, pageSize
}

func pageOf[T any](items []T, page, pageSize int) []T {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func sendJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
