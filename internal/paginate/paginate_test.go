// ABOUTME: Tests for history pagination: has-more estimation, in-flight rejection, stale guard
// ABOUTME: Uses a scripted fetcher that can block to simulate slow network responses

package paginate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-console/internal/message"
	"github.com/2389/coven-console/internal/scope"
)

type fetchCall struct {
	threadID string
	page     int
	pageSize int
	sel      scope.Selection
}

// fakeFetcher serves a fixed number of messages per thread. When gate is
// set, every call blocks until the gate is closed.
type fakeFetcher struct {
	mu      sync.Mutex
	totals  map[string]int
	calls   []fetchCall
	gate    chan struct{}
	entered chan struct{}
	err     error
}

func newFakeFetcher(totals map[string]int) *fakeFetcher {
	return &fakeFetcher{totals: totals, entered: make(chan struct{}, 16)}
}

func (f *fakeFetcher) GetMessages(ctx context.Context, threadID string, page, pageSize int, sel scope.Selection) ([]message.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{threadID, page, pageSize, sel})
	gate := f.gate
	err := f.err
	f.mu.Unlock()

	f.entered <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	total := f.totals[threadID]
	start := (page - 1) * pageSize
	var out []message.Message
	for i := start; i < total && i < start+pageSize; i++ {
		out = append(out, message.Message{
			ID:        fmt.Sprintf("%s-%d", threadID, i),
			ThreadID:  threadID,
			CreatedAt: time.Unix(int64(total-i), 0),
		})
	}
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestLoadFirstPage_FullPageHasMore(t *testing.T) {
	f := newFakeFetcher(map[string]int{"t1": 40})
	p := New(f, 0, nil)

	page, err := p.LoadFirstPage(t.Context(), "t1", scope.All())

	require.NoError(t, err)
	assert.Equal(t, 1, page.Number)
	assert.Len(t, page.Messages, MessagePageSize)
	assert.True(t, page.HasMore)
	assert.Equal(t, MessagePageSize, f.calls[0].pageSize)
}

func TestLoadFirstPage_ShortPageHasNoMore(t *testing.T) {
	f := newFakeFetcher(map[string]int{"t1": 3})
	p := New(f, 0, nil)

	page, err := p.LoadFirstPage(t.Context(), "t1", scope.All())

	require.NoError(t, err)
	assert.Len(t, page.Messages, 3)
	assert.False(t, page.HasMore)
	assert.False(t, p.HasMore())
}

func TestLoadFirstPage_PassesSelection(t *testing.T) {
	f := newFakeFetcher(map[string]int{"t1": 1})
	p := New(f, 0, nil)

	_, err := p.LoadFirstPage(t.Context(), "t1", scope.NoTopic())
	require.NoError(t, err)

	assert.Equal(t, scope.NoTopic(), f.calls[0].sel)
}

func TestLoadNextPage_WalksUntilShortPage(t *testing.T) {
	f := newFakeFetcher(map[string]int{"t1": 35})
	p := New(f, 0, nil)

	_, err := p.LoadFirstPage(t.Context(), "t1", scope.All())
	require.NoError(t, err)

	second, err := p.LoadNextPage(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Number)
	assert.True(t, second.HasMore)

	third, err := p.LoadNextPage(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, third.Number)
	assert.Len(t, third.Messages, 5)
	assert.False(t, third.HasMore)

	_, err = p.LoadNextPage(t.Context())
	assert.ErrorIs(t, err, ErrNoMore)
	assert.Equal(t, 3, f.callCount())
}

func TestLoadNextPage_ExactMultipleCostsOneEmptyFetch(t *testing.T) {
	f := newFakeFetcher(map[string]int{"t1": 30})
	p := New(f, 0, nil)

	_, err := p.LoadFirstPage(t.Context(), "t1", scope.All())
	require.NoError(t, err)
	second, err := p.LoadNextPage(t.Context())
	require.NoError(t, err)
	assert.True(t, second.HasMore)

	third, err := p.LoadNextPage(t.Context())
	require.NoError(t, err)
	assert.Empty(t, third.Messages)
	assert.False(t, third.HasMore)
}

func TestLoadNextPage_BeforeFirstPage(t *testing.T) {
	p := New(newFakeFetcher(nil), 0, nil)

	_, err := p.LoadNextPage(t.Context())

	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestLoadNextPage_ConcurrentCallsIssueOneFetch(t *testing.T) {
	f := newFakeFetcher(map[string]int{"t1": 100})
	p := New(f, 0, nil)
	_, err := p.LoadFirstPage(t.Context(), "t1", scope.All())
	require.NoError(t, err)
	<-f.entered

	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := p.LoadNextPage(t.Context())
		done <- err
	}()
	<-f.entered

	_, err = p.LoadNextPage(t.Context())
	assert.ErrorIs(t, err, ErrInFlight)

	close(f.gate)
	require.NoError(t, <-done)
	assert.Equal(t, 2, f.callCount(), "one first-page call plus exactly one next-page call")
}

func TestLoadNextPage_StaleAfterThreadSwitch(t *testing.T) {
	f := newFakeFetcher(map[string]int{"t1": 100, "t2": 100})
	p := New(f, 0, nil)
	_, err := p.LoadFirstPage(t.Context(), "t1", scope.All())
	require.NoError(t, err)
	<-f.entered

	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := p.LoadNextPage(t.Context())
		done <- err
	}()
	<-f.entered

	f.mu.Lock()
	f.gate = nil
	f.mu.Unlock()
	page, err := p.LoadFirstPage(t.Context(), "t2", scope.All())
	require.NoError(t, err)
	assert.Equal(t, "t2", page.ThreadID)

	close(gate)
	assert.ErrorIs(t, <-done, ErrStale)
	assert.True(t, p.HasMore(), "stale response must not alter the new selection")
}

func TestLoad_ErrorIsWrapped(t *testing.T) {
	f := newFakeFetcher(map[string]int{"t1": 10})
	boom := errors.New("boom")
	f.err = boom
	p := New(f, 0, nil)

	_, err := p.LoadFirstPage(t.Context(), "t1", scope.All())

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "page 1")
}

func TestReset_MakesInFlightLoadStale(t *testing.T) {
	f := newFakeFetcher(map[string]int{"t1": 10})
	gate := make(chan struct{})
	f.gate = gate
	p := New(f, 0, nil)

	done := make(chan error, 1)
	go func() {
		_, err := p.LoadFirstPage(context.Background(), "t1", scope.All())
		done <- err
	}()
	<-f.entered

	p.Reset()
	close(gate)

	assert.ErrorIs(t, <-done, ErrStale)
}
