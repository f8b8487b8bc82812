// ABOUTME: Controller keeps one thread's message list consistent across history pages,
// ABOUTME: the live push stream and optimistic local sends, and reports handovers outward

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-console/internal/api"
	"github.com/2389/coven-console/internal/handover"
	"github.com/2389/coven-console/internal/message"
	"github.com/2389/coven-console/internal/metrics"
	"github.com/2389/coven-console/internal/paginate"
	"github.com/2389/coven-console/internal/recent"
	"github.com/2389/coven-console/internal/reconcile"
	"github.com/2389/coven-console/internal/scope"
	"github.com/2389/coven-console/internal/stream"
)

var (
	// ErrNoThread is returned by operations that need a selected thread.
	ErrNoThread = errors.New("no thread selected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")
	// ErrEmptyMessage is returned when sending neither text nor data.
	ErrEmptyMessage = errors.New("message has no text or data")
)

// Client is what the controller needs from the platform.
type Client interface {
	paginate.Fetcher
	stream.Transport
	Send(ctx context.Context, req api.SendRequest) (string, error)
}

// Identity is the actor the console sends as. Thread values take
// precedence; Identity fills in what the thread leaves empty.
type Identity struct {
	ParticipantID string
	WorkflowType  string
	WorkflowID    string
}

// Options configures a Controller. Zero values use package defaults.
type Options struct {
	Identity         Identity
	PageSize         int
	Heartbeat        time.Duration
	OptimisticWindow time.Duration
	HandoverWindow   time.Duration
	JustSentTTL      time.Duration
	AwaitingAfter    time.Duration
	ErrorAfter       time.Duration

	// OnHandoverDetected is called with the thread id when a new handover
	// signal is merged. It runs on the goroutine that merged the signal,
	// which may be the stream reader, so it must not call SelectThread,
	// SelectScope, Refresh or Close synchronously.
	OnHandoverDetected func(threadID string)
	// OnStreamError is called when the push stream fails while wanted. It
	// runs on the stream reader with the same restrictions as
	// OnHandoverDetected.
	OnStreamError func(err error)

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// SendInput is the content of a message to send on the selected thread.
type SendInput struct {
	Text string
	Data json.RawMessage
}

// Controller orchestrates one thread selection at a time.
type Controller struct {
	client      Client
	opts        Options
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Recorder
	reconciler  *reconcile.Reconciler
	detector    *handover.Detector
	paginator   *paginate.Paginator
	session     *stream.Session
	justSent    *recent.Set
	broadcaster *SnapshotBroadcaster

	ctx    context.Context
	cancel context.CancelFunc

	// switchMu serializes SelectThread, SelectScope, Refresh and Close.
	switchMu sync.Mutex

	mu          sync.Mutex
	closed      bool
	generation  uint64
	version     uint64
	thread      *message.Thread
	selection   scope.Selection
	messages    []message.Message // whole thread, newest first
	hasMore     bool
	loading     bool
	loadingMore bool
	loadErr     error
	streamErr   error
	lastSentAt  time.Time
}

// New creates a Controller with no thread selected.
func New(client Client, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AwaitingAfter <= 0 {
		opts.AwaitingAfter = DefaultAwaitingAfter
	}
	if opts.ErrorAfter <= 0 {
		opts.ErrorAfter = DefaultErrorAfter
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		client:      client,
		opts:        opts,
		now:         opts.Now,
		logger:      opts.Logger.With("component", "conversation"),
		metrics:     opts.Metrics,
		reconciler:  reconcile.New(opts.OptimisticWindow, opts.Now),
		detector:    handover.NewDetector(opts.HandoverWindow, opts.Now),
		paginator:   paginate.New(client, opts.PageSize, opts.Logger),
		session:     stream.NewSession(client, opts.Heartbeat, opts.Logger),
		justSent:    recent.New(opts.JustSentTTL, recent.DefaultMaxSize, opts.Now),
		broadcaster: NewSnapshotBroadcaster(opts.Logger),
		ctx:         ctx,
		cancel:      cancel,
		selection:   scope.All(),
	}
}

// SelectThread makes th the active thread: the previous stream is stopped,
// the store is cleared, page 1 is loaded and a new stream is started. A
// first-page failure leaves the store empty and is returned as well as
// recorded in the snapshot; the stream is started regardless.
func (c *Controller) SelectThread(ctx context.Context, th message.Thread) error {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.session.Stop()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.generation++
	gen := c.generation
	thread := th
	c.thread = &thread
	c.selection = scope.All()
	c.messages = nil
	c.lastSentAt = time.Time{}
	c.resetLoadStateLocked()
	c.paginator.Reset()
	c.mu.Unlock()

	c.detector.Reset()
	c.justSent.Reset()

	c.logger.Info("thread selected", "thread_id", th.ID)
	c.publish()
	return c.reload(ctx, gen)
}

// SelectScope switches the topic filter of the active thread. The stream
// is restarted and page 1 is reloaded with the new filter.
func (c *Controller) SelectScope(ctx context.Context, sel scope.Selection) error {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	gen, err := c.restart(func() { c.selection = sel })
	if err != nil {
		return err
	}
	c.logger.Info("scope selected", "scope", sel.String())
	return c.reload(ctx, gen)
}

// Refresh reloads page 1 and restarts the stream for the active thread and
// scope. It is the recovery path after stream or load errors.
func (c *Controller) Refresh(ctx context.Context) error {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	gen, err := c.restart(nil)
	if err != nil {
		return err
	}
	c.logger.Debug("refreshing thread")
	return c.reload(ctx, gen)
}

// restart stops the stream and begins a new generation for the active
// thread, keeping optimistic entries so their echoes still reconcile.
// Must be called with switchMu held.
func (c *Controller) restart(mutate func()) (uint64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	if c.thread == nil {
		c.mu.Unlock()
		return 0, ErrNoThread
	}
	c.mu.Unlock()

	c.session.Stop()

	c.mu.Lock()
	c.generation++
	gen := c.generation
	if mutate != nil {
		mutate()
	}
	c.messages = pendingOptimistic(c.messages)
	c.resetLoadStateLocked()
	c.paginator.Reset()
	c.mu.Unlock()

	c.publish()
	return gen, nil
}

func (c *Controller) resetLoadStateLocked() {
	c.hasMore = false
	c.loading = true
	c.loadingMore = false
	c.loadErr = nil
	c.streamErr = nil
}

// reload loads page 1 for generation gen and starts the stream. Must be
// called with switchMu held.
func (c *Controller) reload(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	threadID := c.thread.ID
	sel := c.selection
	c.mu.Unlock()

	page, err := c.paginator.LoadFirstPage(ctx, threadID, sel)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.metrics.PageLoad("stale")
		return nil
	}
	c.loading = false
	var detected bool
	if err != nil {
		c.messages = nil
		c.hasMore = false
		c.loadErr = err
	} else {
		c.messages = reconcile.MergePage(c.messages, page.Messages)
		c.hasMore = page.HasMore
		c.clearReplyIfAnsweredLocked(page.Messages)
		_, detected = c.detector.Scan(c.messages)
	}
	c.mu.Unlock()

	if err != nil {
		c.metrics.PageLoad("error")
		c.logger.Warn("first page failed", "thread_id", threadID, "error", err)
	} else {
		c.metrics.PageLoad("ok")
	}
	c.publish()
	if detected {
		c.notifyHandover(threadID)
	}

	c.startStream(gen, threadID)
	return err
}

func (c *Controller) startStream(gen uint64, threadID string) {
	c.session.Start(c.ctx, threadID, stream.Handler{
		OnMessage: func(_ string, m message.Message) {
			c.applyStreamed(gen, m)
		},
		OnEvent: func(event string) {
			c.metrics.StreamEvent(event)
			if event == stream.EventConnected {
				c.publish()
			}
		},
		OnError: func(err error) {
			c.handleStreamError(gen, err)
		},
	})
	// The stream state is part of the snapshot.
	c.publish()
}

// applyStreamed merges one pushed message if it belongs to the current
// generation and thread.
func (c *Controller) applyStreamed(gen uint64, m message.Message) {
	c.mu.Lock()
	if gen != c.generation || c.thread == nil {
		c.mu.Unlock()
		return
	}
	threadID := c.thread.ID
	if m.ThreadID == "" {
		m.ThreadID = threadID
	} else if m.ThreadID != threadID {
		c.mu.Unlock()
		c.logger.Debug("dropping message for another thread", "thread_id", threadID, "message_thread_id", m.ThreadID)
		return
	}

	var res reconcile.Result
	c.messages, res = c.reconciler.MergeStreamed(c.messages, m)
	if res.Outcome == reconcile.ReplacedOptimistic {
		c.justSent.Rename(res.RetiredID, m.ID)
	}
	var detected bool
	if res.Outcome != reconcile.Duplicate {
		c.clearReplyIfAnsweredLocked([]message.Message{m})
		_, detected = c.detector.Scan(c.messages)
	}
	c.mu.Unlock()

	c.metrics.Reconciled(res.Outcome.String())
	if res.Outcome == reconcile.Duplicate {
		return
	}
	c.logger.Debug("message merged",
		"thread_id", threadID,
		"message_id", m.ID,
		"outcome", res.Outcome.String())
	c.publish()
	if detected {
		c.notifyHandover(threadID)
	}
}

func (c *Controller) handleStreamError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.streamErr = err
	c.mu.Unlock()

	c.metrics.StreamError()
	c.logger.Warn("stream error", "error", err)
	c.publish()
	if c.opts.OnStreamError != nil {
		c.opts.OnStreamError(err)
	}
}

// LoadMore merges the next page of older history. A failure keeps the
// loaded messages and is recorded in the snapshot. paginate.ErrNoMore and
// paginate.ErrInFlight are returned unwrapped; ErrInFlight also covers a
// first page that is still loading.
func (c *Controller) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.thread == nil {
		c.mu.Unlock()
		return ErrNoThread
	}
	if c.loading {
		c.mu.Unlock()
		c.metrics.PageLoad("in_flight")
		return paginate.ErrInFlight
	}
	gen := c.generation
	threadID := c.thread.ID
	c.loadingMore = true
	c.mu.Unlock()
	c.publish()

	page, err := c.paginator.LoadNextPage(ctx)
	if errors.Is(err, paginate.ErrInFlight) {
		// The running load owns loadingMore.
		c.metrics.PageLoad("in_flight")
		return err
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.metrics.PageLoad("stale")
		return paginate.ErrStale
	}
	c.loadingMore = false
	if err == nil && page.ThreadID != threadID {
		c.mu.Unlock()
		c.metrics.PageLoad("stale")
		c.publish()
		return paginate.ErrStale
	}
	var detected bool
	switch {
	case err == nil:
		c.messages = reconcile.MergePage(c.messages, page.Messages)
		c.hasMore = page.HasMore
		c.loadErr = nil
		c.clearReplyIfAnsweredLocked(page.Messages)
		_, detected = c.detector.Scan(c.messages)
	case errors.Is(err, paginate.ErrNoMore), errors.Is(err, paginate.ErrNotStarted):
		c.hasMore = false
	case errors.Is(err, paginate.ErrStale):
	default:
		c.loadErr = err
	}
	c.mu.Unlock()

	switch {
	case err == nil:
		c.metrics.PageLoad("ok")
	case errors.Is(err, paginate.ErrNoMore), errors.Is(err, paginate.ErrNotStarted):
		c.metrics.PageLoad("no_more")
	case errors.Is(err, paginate.ErrStale):
		c.metrics.PageLoad("stale")
	default:
		c.metrics.PageLoad("error")
		c.logger.Warn("loading older messages failed", "thread_id", threadID, "error", err)
	}
	c.publish()
	if detected {
		c.notifyHandover(threadID)
	}
	return err
}

// Send inserts an optimistic entry for the message, then posts it. The
// optimistic entry is retired only when the stream echoes the message; a
// failed send leaves it in place. It returns the thread id reported by the
// platform.
func (c *Controller) Send(ctx context.Context, in SendInput) (string, error) {
	if strings.TrimSpace(in.Text) == "" && len(in.Data) == 0 {
		return "", ErrEmptyMessage
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.thread == nil {
		c.mu.Unlock()
		return "", ErrNoThread
	}
	draft := c.draftLocked(in)
	optimistic := c.reconciler.NewOptimistic(draft)
	c.messages = reconcile.InsertOptimistic(c.messages, optimistic)
	c.lastSentAt = optimistic.CreatedAt
	c.mu.Unlock()

	c.justSent.Mark(optimistic.ID)
	c.publish()

	threadID, err := c.client.Send(ctx, api.SendRequest{
		ThreadID:      draft.ThreadID,
		ParticipantID: draft.ParticipantID,
		WorkflowType:  draft.WorkflowType,
		WorkflowID:    draft.WorkflowID,
		Text:          draft.Text,
		Data:          draft.Data,
		Scope:         draft.Scope,
	})
	if err != nil {
		c.mu.Lock()
		if c.lastSentAt.Equal(optimistic.CreatedAt) {
			c.lastSentAt = time.Time{}
		}
		c.mu.Unlock()
		c.publish()
		c.logger.Warn("send failed", "thread_id", draft.ThreadID, "optimistic_id", optimistic.ID, "error", err)
		return "", fmt.Errorf("sending message: %w", err)
	}

	c.logger.Debug("message sent", "thread_id", threadID, "optimistic_id", optimistic.ID)
	return threadID, nil
}

func (c *Controller) draftLocked(in SendInput) reconcile.Draft {
	th := c.thread
	id := c.opts.Identity
	return reconcile.Draft{
		ThreadID:      th.ID,
		ParticipantID: firstNonEmpty(th.ParticipantID, id.ParticipantID),
		WorkflowType:  firstNonEmpty(th.WorkflowType, id.WorkflowType),
		WorkflowID:    firstNonEmpty(th.WorkflowID, id.WorkflowID),
		Text:          in.Text,
		Data:          in.Data,
		Scope:         c.selection.ScopeForSend(),
	}
}

// clearReplyIfAnsweredLocked ends the reply wait when msgs contain an
// agent message created at or after the last send.
func (c *Controller) clearReplyIfAnsweredLocked(msgs []message.Message) {
	if c.lastSentAt.IsZero() {
		return
	}
	for _, m := range msgs {
		if m.Direction == message.DirectionOutgoing && !m.CreatedAt.Before(c.lastSentAt) {
			c.lastSentAt = time.Time{}
			return
		}
	}
}

func (c *Controller) notifyHandover(threadID string) {
	c.metrics.Handover()
	c.logger.Info("handover detected", "thread_id", threadID)
	if c.opts.OnHandoverDetected != nil {
		c.opts.OnHandoverDetected(threadID)
	}
}

// Messages returns the messages visible under the current selection,
// newest first.
func (c *Controller) Messages() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection.Filter(c.messages)
}

// Snapshot returns the current view state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	c.version++
	s := Snapshot{
		Version:     c.version,
		Selection:   c.selection,
		Messages:    c.selection.Filter(c.messages),
		HasMore:     c.hasMore,
		Loading:     c.loading,
		LoadingMore: c.loadingMore,
		LoadErr:     c.loadErr,
		StreamErr:   c.streamErr,
		StreamState: c.session.State(),
		Reply:       replyStatus(c.lastSentAt, c.now(), c.opts.AwaitingAfter, c.opts.ErrorAfter),
	}
	if c.thread != nil {
		th := *c.thread
		s.Thread = &th
	}
	return s
}

func (c *Controller) publish() {
	c.mu.Lock()
	s := c.snapshotLocked()
	c.mu.Unlock()
	c.broadcaster.Publish(s)
}

// Subscribe returns a channel of view snapshots. Slow subscribers only see
// the latest one. The channel is closed when ctx ends or on Close.
func (c *Controller) Subscribe(ctx context.Context) <-chan Snapshot {
	ch, _ := c.broadcaster.Subscribe(ctx)
	return ch
}

// IsJustSent reports whether id was sent from this console recently. The
// mark follows an optimistic entry to its server id.
func (c *Controller) IsJustSent(id string) bool {
	return c.justSent.Contains(id)
}

// ReplyStatus reports how long the last send has gone unanswered.
func (c *Controller) ReplyStatus() ReplyStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return replyStatus(c.lastSentAt, c.now(), c.opts.AwaitingAfter, c.opts.ErrorAfter)
}

// Thread returns the active thread.
func (c *Controller) Thread() (message.Thread, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.thread == nil {
		return message.Thread{}, false
	}
	return *c.thread, true
}

// UpdateThread replaces the metadata of the active thread, such as the
// workflow after a handover. Loaded messages and the stream are kept. It
// reports false when th is not the active thread.
func (c *Controller) UpdateThread(th message.Thread) bool {
	c.mu.Lock()
	if c.closed || c.thread == nil || c.thread.ID != th.ID {
		c.mu.Unlock()
		return false
	}
	thread := th
	c.thread = &thread
	c.mu.Unlock()

	c.logger.Debug("thread metadata updated",
		"thread_id", th.ID,
		"workflow_type", th.WorkflowType,
		"workflow_id", th.WorkflowID)
	c.publish()
	return true
}

// Close stops the stream and closes all subscriptions. It is safe to call
// more than once.
func (c *Controller) Close() {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++
	c.mu.Unlock()

	c.session.Stop()
	c.cancel()
	c.paginator.Reset()
	c.broadcaster.Close()
	c.logger.Debug("controller closed")
}

func pendingOptimistic(msgs []message.Message) []message.Message {
	var out []message.Message
	for _, m := range msgs {
		if m.IsOptimistic() {
			out = append(out, m)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
