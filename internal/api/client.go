// ABOUTME: HTTP client for thread, topic, message history, send and push stream endpoints
// ABOUTME: Encodes topic selections as query parameters and maps failures to APIError

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/coven-console/internal/message"
	"github.com/2389/coven-console/internal/scope"
)

// defaultTimeout bounds plain JSON requests. The push stream has no
// timeout; it lives until cancelled.
const defaultTimeout = 20 * time.Second

// ErrTokenExpired is returned when the configured JWT has expired.
var ErrTokenExpired = errors.New("access token expired")

// APIError represents a non-2xx response from the platform.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type apiErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SendRequest is the body of POST /api/messages/send.
type SendRequest struct {
	ThreadID      string          `json:"threadId,omitempty"`
	ParticipantID string          `json:"participantId"`
	WorkflowType  string          `json:"workflowType"`
	WorkflowID    string          `json:"workflowId,omitempty"`
	Text          string          `json:"text"`
	Data          json.RawMessage `json:"data,omitempty"`
	Scope         *string         `json:"scope,omitempty"`
}

// SendResponse is the body returned by POST /api/messages/send. The
// platform returns only the thread id, never the created message.
type SendResponse struct {
	ThreadID string `json:"threadId"`
}

// Client talks to the platform API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	streamHTTP *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for JSON and stream requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.streamHTTP = hc
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClock sets the clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient constructs a client for baseURL authenticated with token.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:    normalized,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		streamHTTP: &http.Client{},
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "api")
	return c, nil
}

// NormalizeBaseURL trims trailing slashes and requires an http(s) scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("base url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("base url must use http or https scheme")
	}
	return strings.TrimRight(value, "/"), nil
}

// ListThreads returns one page of threads, most recently updated first.
func (c *Client) ListThreads(ctx context.Context, page, pageSize int) ([]message.Thread, error) {
	var threads []message.Thread
	if err := c.doJSON(ctx, http.MethodGet, "/api/threads", pageQuery(page, pageSize), nil, &threads); err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	return threads, nil
}

// ListTopics returns one page of topic summaries for a thread.
func (c *Client) ListTopics(ctx context.Context, threadID string, page, pageSize int) ([]message.TopicSummary, error) {
	var topics []message.TopicSummary
	path := "/api/threads/" + url.PathEscape(threadID) + "/topics"
	if err := c.doJSON(ctx, http.MethodGet, path, pageQuery(page, pageSize), nil, &topics); err != nil {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	return topics, nil
}

// GetMessages returns one page of history for a thread, newest first.
func (c *Client) GetMessages(ctx context.Context, threadID string, page, pageSize int, sel scope.Selection) ([]message.Message, error) {
	query := pageQuery(page, pageSize)
	EncodeSelection(query, sel)

	var msgs []message.Message
	path := "/api/threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &msgs); err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	return msgs, nil
}

// Send posts a message and returns the id of the thread it landed in.
func (c *Client) Send(ctx context.Context, req SendRequest) (string, error) {
	if req.ParticipantID == "" {
		return "", fmt.Errorf("participant id is required")
	}
	if req.WorkflowType == "" {
		return "", fmt.Errorf("workflow type is required")
	}

	var resp SendResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/messages/send", nil, req, &resp); err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return resp.ThreadID, nil
}

// Subscribe opens the push stream for a thread. The caller owns the
// returned body and must close it.
func (c *Client) Subscribe(ctx context.Context, threadID string, heartbeat time.Duration) (io.ReadCloser, error) {
	query := url.Values{}
	if heartbeat > 0 {
		query.Set("heartbeatSeconds", strconv.Itoa(int(heartbeat/time.Second)))
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/threads/"+url.PathEscape(threadID)+"/stream", query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp.Body, nil
}

// EncodeSelection adds the topic filter for sel to query.
func EncodeSelection(query url.Values, sel scope.Selection) {
	switch sel.Kind() {
	case scope.KindNoTopic:
		query.Set("noScope", "true")
	case scope.KindEmptyTopic:
		query.Set("scope", "")
	case scope.KindNamed:
		query.Set("scope", sel.Name())
	}
}

// DecodeSelection is the inverse of EncodeSelection.
func DecodeSelection(query url.Values) scope.Selection {
	if query.Get("noScope") == "true" {
		return scope.NoTopic()
	}
	if _, ok := query["scope"]; ok {
		return scope.Named(query.Get("scope"))
	}
	return scope.All()
}

func pageQuery(page, pageSize int) url.Values {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		query.Set("pageSize", strconv.Itoa(pageSize))
	}
	return query
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, reqBody any, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	started := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", c.now().Sub(started))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	if err := c.checkToken(); err != nil {
		return nil, err
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// checkToken rejects JWTs whose exp claim has passed. Opaque tokens are
// passed through untouched.
func (c *Client) checkToken() error {
	if strings.Count(c.token, ".") != 2 {
		return nil
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && !c.now().Before(claims.ExpiresAt.Time) {
		return ErrTokenExpired
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{Status: resp.StatusCode}

	var payload apiErrorPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		apiErr.Message = payload.Message
		if apiErr.Message == "" {
			apiErr.Message = payload.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
