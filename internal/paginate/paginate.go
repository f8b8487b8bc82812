// ABOUTME: Page-by-page, backward-in-time loading of a thread's message history
// ABOUTME: Guards against duplicate in-flight loads and discards responses for stale selections

// Package paginate drives history loading for the selected thread.
//
// Page numbers are 1-based. HasMore is estimated as "the page came back
// full", so a thread whose message count is an exact multiple of the page
// size costs one extra, empty fetch at the end.
package paginate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/2389/coven-console/internal/message"
	"github.com/2389/coven-console/internal/scope"
)

// Page sizes used by the console.
const (
	MessagePageSize = 15
	ListPageSize    = 50
)

var (
	// ErrInFlight is returned when a next-page load is already running.
	ErrInFlight = errors.New("page load already in flight")
	// ErrNoMore is returned when the previous page was not full.
	ErrNoMore = errors.New("no more pages")
	// ErrStale is returned when the selection changed while a page loaded.
	ErrStale = errors.New("selection changed while loading")
	// ErrNotStarted is returned by LoadNextPage before LoadFirstPage.
	ErrNotStarted = errors.New("no first page loaded")
)

// Fetcher retrieves one page of history.
type Fetcher interface {
	GetMessages(ctx context.Context, threadID string, page, pageSize int, sel scope.Selection) ([]message.Message, error)
}

// Page is the result of one successful load.
type Page struct {
	ThreadID string
	Number   int
	Messages []message.Message
	HasMore  bool
}

// Paginator loads pages for one selection at a time.
type Paginator struct {
	fetcher  Fetcher
	pageSize int
	loading  *semaphore.Weighted
	logger   *slog.Logger

	mu         sync.Mutex
	generation uint64
	threadID   string
	selection  scope.Selection
	page       int
	hasMore    bool
}

// New creates a Paginator. A pageSize <= 0 uses MessagePageSize.
func New(fetcher Fetcher, pageSize int, logger *slog.Logger) *Paginator {
	if pageSize <= 0 {
		pageSize = MessagePageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Paginator{
		fetcher:  fetcher,
		pageSize: pageSize,
		loading:  semaphore.NewWeighted(1),
		logger:   logger.With("component", "paginator"),
	}
}

// PageSize returns the configured page size.
func (p *Paginator) PageSize() int {
	return p.pageSize
}

// LoadFirstPage starts a new selection and loads its first page. Any load
// still running for a previous selection becomes stale.
func (p *Paginator) LoadFirstPage(ctx context.Context, threadID string, sel scope.Selection) (Page, error) {
	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.threadID = threadID
	p.selection = sel
	p.page = 0
	p.hasMore = false
	p.mu.Unlock()

	return p.load(ctx, gen, threadID, sel, 1)
}

// LoadNextPage loads the page after the last one loaded. It is rejected
// with ErrInFlight while another next-page load runs and with ErrNoMore
// once a short page has been seen.
func (p *Paginator) LoadNextPage(ctx context.Context) (Page, error) {
	if !p.loading.TryAcquire(1) {
		return Page{}, ErrInFlight
	}
	defer p.loading.Release(1)

	p.mu.Lock()
	if p.page == 0 {
		p.mu.Unlock()
		return Page{}, ErrNotStarted
	}
	if !p.hasMore {
		p.mu.Unlock()
		return Page{}, ErrNoMore
	}
	gen := p.generation
	threadID := p.threadID
	sel := p.selection
	next := p.page + 1
	p.mu.Unlock()

	return p.load(ctx, gen, threadID, sel, next)
}

func (p *Paginator) load(ctx context.Context, gen uint64, threadID string, sel scope.Selection, number int) (Page, error) {
	records, err := p.fetcher.GetMessages(ctx, threadID, number, p.pageSize, sel)

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation {
		p.logger.Debug("discarding stale page",
			"thread_id", threadID,
			"page", number)
		return Page{}, ErrStale
	}
	if err != nil {
		return Page{}, fmt.Errorf("loading page %d of thread %s: %w", number, threadID, err)
	}

	p.page = number
	p.hasMore = len(records) == p.pageSize

	p.logger.Debug("page loaded",
		"thread_id", threadID,
		"page", number,
		"count", len(records),
		"has_more", p.hasMore)

	return Page{
		ThreadID: threadID,
		Number:   number,
		Messages: records,
		HasMore:  p.hasMore,
	}, nil
}

// HasMore reports whether another page is expected.
func (p *Paginator) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// Reset abandons the current selection. Loads still running become stale.
func (p *Paginator) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.threadID = ""
	p.selection = scope.All()
	p.page = 0
	p.hasMore = false
}
