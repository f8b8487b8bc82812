// ABOUTME: Debounced, single-flight metadata refresh triggered by handover events
// ABOUTME: Uses a token bucket for the minimum interval and a semaphore for one in-flight call

package handover

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultRefreshInterval is the minimum time between two refreshes.
const DefaultRefreshInterval = 3 * time.Second

// RefreshFunc reloads conversation metadata for a thread.
type RefreshFunc func(ctx context.Context, threadID string) error

// Refresher calls a RefreshFunc in response to handover notifications.
type Refresher struct {
	refresh  RefreshFunc
	limiter  *rate.Limiter
	inFlight *semaphore.Weighted
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRefresher creates a Refresher. A zero interval uses
// DefaultRefreshInterval, a nil now uses time.Now and a nil logger uses
// slog.Default().
func NewRefresher(refresh RefreshFunc, interval time.Duration, now func() time.Time, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Refresher{
		refresh:  refresh,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		inFlight: semaphore.NewWeighted(1),
		now:      now,
		logger:   logger.With("component", "handover_refresher"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Trigger requests a refresh for threadID. It returns immediately; the
// refresh runs in the background. It reports whether a refresh was
// started. Triggers while a refresh is running, or inside the interval
// since the last started refresh, are dropped.
func (r *Refresher) Trigger(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		return false
	}
	if !r.inFlight.TryAcquire(1) {
		r.logger.Debug("refresh skipped", "thread_id", threadID, "reason", "in_flight")
		return false
	}
	if !r.limiter.AllowN(r.now(), 1) {
		r.inFlight.Release(1)
		r.logger.Debug("refresh skipped", "thread_id", threadID, "reason", "debounced")
		return false
	}

	ctx := r.ctx
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.inFlight.Release(1)

		if err := r.refresh(ctx, threadID); err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("metadata refresh failed", "thread_id", threadID, "error", err)
			}
			return
		}
		r.logger.Debug("metadata refreshed", "thread_id", threadID)
	}()
	return true
}

// Wait blocks until no refresh is running.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

// Close cancels any running refresh and waits for it. It is safe to call
// multiple times.
func (r *Refresher) Close() {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}
