package api_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-console/internal/api"
	"github.com/2389/coven-console/internal/fakebackend"
	"github.com/2389/coven-console/internal/message"
	"github.com/2389/coven-console/internal/scope"
)

const testToken = "test-token"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestBackend(t *testing.T, opts ...fakebackend.Option) (*fakebackend.Server, *httptest.Server) {
	t.Helper()
	opts = append([]fakebackend.Option{fakebackend.WithToken(testToken)}, opts...)
	backend := fakebackend.New(opts...)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(func() {
		backend.Close()
		srv.Close()
	})
	return backend, srv
}

func newClient(t *testing.T, baseURL, token string) *api.Client {
	t.Helper()
	c, err := api.NewClient(baseURL, token)
	require.NoError(t, err)
	return c
}

func seedScoped(backend *fakebackend.Server, threadID string) {
	backend.Seed(threadID,
		message.Message{ID: "m1", Direction: message.DirectionIncoming, Text: "no topic", CreatedAt: t0},
		message.Message{ID: "m2", Direction: message.DirectionIncoming, Text: "empty topic", Scope: message.StringPtr(""), CreatedAt: t0.Add(time.Second)},
		message.Message{ID: "m3", Direction: message.DirectionOutgoing, Text: "alpha one", Scope: message.StringPtr("alpha"), CreatedAt: t0.Add(2 * time.Second)},
		message.Message{ID: "m4", Direction: message.DirectionIncoming, Text: "alpha two", Scope: message.StringPtr("alpha"), CreatedAt: t0.Add(3 * time.Second)},
	)
}

func TestNormalizeBaseURL(t *testing.T) {
	got, err := api.NormalizeBaseURL(" http://localhost:8080/ ")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", got)

	_, err = api.NormalizeBaseURL("")
	assert.Error(t, err)

	_, err = api.NormalizeBaseURL("ftp://example.com")
	assert.Error(t, err)
}

func TestEncodeSelection(t *testing.T) {
	tests := []struct {
		name string
		sel  scope.Selection
		want string
	}{
		{"all sends nothing", scope.All(), ""},
		{"no topic", scope.NoTopic(), "noScope=true"},
		{"empty topic keeps the parameter", scope.Named(""), "scope="},
		{"named", scope.Named("alpha"), "scope=alpha"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := url.Values{}
			api.EncodeSelection(q, tt.sel)
			assert.Equal(t, tt.want, q.Encode())
			assert.Equal(t, tt.sel, api.DecodeSelection(q))
		})
	}
}

func TestGetMessages_ScopeFilters(t *testing.T) {
	backend, srv := newTestBackend(t)
	th := backend.CreateThread("p1", "support", "")
	seedScoped(backend, th.ID)
	c := newClient(t, srv.URL, testToken)

	tests := []struct {
		name string
		sel  scope.Selection
		want []string
	}{
		{"all", scope.All(), []string{"m4", "m3", "m2", "m1"}},
		{"no topic", scope.NoTopic(), []string{"m1"}},
		{"empty topic", scope.Named(""), []string{"m2"}},
		{"named", scope.Named("alpha"), []string{"m4", "m3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := c.GetMessages(t.Context(), th.ID, 1, 15, tt.sel)
			require.NoError(t, err)

			ids := make([]string, 0, len(msgs))
			for _, m := range msgs {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestGetMessages_Paging(t *testing.T) {
	backend, srv := newTestBackend(t)
	th := backend.CreateThread("p1", "support", "")
	seedScoped(backend, th.ID)
	c := newClient(t, srv.URL, testToken)

	first, err := c.GetMessages(t.Context(), th.ID, 1, 3, scope.All())
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "m4", first[0].ID)

	second, err := c.GetMessages(t.Context(), th.ID, 2, 3, scope.All())
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "m1", second[0].ID)

	third, err := c.GetMessages(t.Context(), th.ID, 3, 3, scope.All())
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestGetMessages_ServerError(t *testing.T) {
	backend, srv := newTestBackend(t)
	th := backend.CreateThread("p1", "support", "")
	backend.FailMessages(http.StatusServiceUnavailable)
	c := newClient(t, srv.URL, testToken)

	_, err := c.GetMessages(t.Context(), th.ID, 1, 15, scope.All())
	require.Error(t, err)

	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "history unavailable", apiErr.Message)
	assert.True(t, api.IsStatus(err, http.StatusServiceUnavailable))
}

func TestClient_RejectsBadToken(t *testing.T) {
	_, srv := newTestBackend(t)
	c := newClient(t, srv.URL, "wrong")

	_, err := c.ListThreads(t.Context(), 1, 50)
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusUnauthorized))
}

func TestClient_ExpiredJWT(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "p1",
		ExpiresAt: jwt.NewNumericDate(t0.Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, srv := newTestBackend(t)

	now := t0
	c, err := api.NewClient(srv.URL, token, api.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	// Valid JWT but the fake expects a different token.
	_, err = c.ListThreads(t.Context(), 1, 50)
	assert.True(t, api.IsStatus(err, http.StatusUnauthorized))

	now = t0.Add(2 * time.Hour)
	_, err = c.ListThreads(t.Context(), 1, 50)
	assert.ErrorIs(t, err, api.ErrTokenExpired)
}

func TestListThreads_NewestFirst(t *testing.T) {
	now := t0
	backend, srv := newTestBackend(t, fakebackend.WithClock(func() time.Time { return now }))
	older := backend.CreateThread("p1", "support", "")
	now = t0.Add(time.Minute)
	newer := backend.CreateThread("p2", "billing", "wf-2")
	c := newClient(t, srv.URL, testToken)

	threads, err := c.ListThreads(t.Context(), 1, 50)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, newer.ID, threads[0].ID)
	assert.Equal(t, older.ID, threads[1].ID)
	assert.Equal(t, "wf-2", threads[0].WorkflowID)
}

func TestListTopics(t *testing.T) {
	backend, srv := newTestBackend(t)
	th := backend.CreateThread("p1", "support", "")
	seedScoped(backend, th.ID)
	c := newClient(t, srv.URL, testToken)

	topics, err := c.ListTopics(t.Context(), th.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, topics, 3)

	assert.Equal(t, "alpha", *topics[0].Scope)
	assert.Equal(t, 2, topics[0].MessageCount)
	assert.Equal(t, "", *topics[1].Scope)
	assert.Nil(t, topics[2].Scope)
}

func TestSend(t *testing.T) {
	backend, srv := newTestBackend(t)
	c := newClient(t, srv.URL, testToken)

	threadID, err := c.Send(t.Context(), api.SendRequest{
		ParticipantID: "p1",
		WorkflowType:  "support",
		Text:          "hello",
		Scope:         message.StringPtr("alpha"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, threadID)

	stored := backend.Messages(threadID)
	require.Len(t, stored, 1)
	assert.Equal(t, "hello", stored[0].Text)
	assert.Equal(t, message.DirectionIncoming, stored[0].Direction)
	assert.Equal(t, "alpha", *stored[0].Scope)

	again, err := c.Send(t.Context(), api.SendRequest{
		ThreadID:      threadID,
		ParticipantID: "p1",
		WorkflowType:  "support",
		Text:          "second",
	})
	require.NoError(t, err)
	assert.Equal(t, threadID, again)
	assert.Len(t, backend.Messages(threadID), 2)
}

func TestSend_Errors(t *testing.T) {
	backend, srv := newTestBackend(t)
	c := newClient(t, srv.URL, testToken)

	_, err := c.Send(t.Context(), api.SendRequest{WorkflowType: "support", Text: "x"})
	assert.Error(t, err)

	_, err = c.Send(t.Context(), api.SendRequest{ThreadID: "missing", ParticipantID: "p1", WorkflowType: "support", Text: "x"})
	assert.True(t, api.IsStatus(err, http.StatusNotFound))

	backend.FailSend(http.StatusBadGateway)
	_, err = c.Send(t.Context(), api.SendRequest{ParticipantID: "p1", WorkflowType: "support", Text: "x"})
	assert.True(t, api.IsStatus(err, http.StatusBadGateway))
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	backend, srv := newTestBackend(t)
	th := backend.CreateThread("p1", "support", "")
	c := newClient(t, srv.URL, testToken)

	body, err := c.Subscribe(t.Context(), th.ID, 30*time.Second)
	require.NoError(t, err)
	defer body.Close()

	r := bufio.NewReader(body)
	event, _ := readFrame(t, r)
	assert.Equal(t, "connected", event)

	backend.Publish(th.ID, message.Message{ID: "agent-1", Direction: message.DirectionOutgoing, Text: "hi there"})

	event, data := readFrame(t, r)
	assert.Equal(t, "Chat", event)

	var got message.Message
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, "agent-1", got.ID)
	assert.Equal(t, th.ID, got.ThreadID)
}

func TestSubscribe_UnknownThread(t *testing.T) {
	_, srv := newTestBackend(t)
	c := newClient(t, srv.URL, testToken)

	_, err := c.Subscribe(t.Context(), "missing", 0)
	assert.True(t, api.IsStatus(err, http.StatusNotFound))
}

func readFrame(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			return event, data
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}
