package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tutu-network/engage/internal/domain"
	"github.com/tutu-network/engage/internal/infra/metrics"
)

// ErrQueuedForRetry marks a failed delivery that will be retried.
var ErrQueuedForRetry = errors.New("delivery failed, queued for retry")

// RetryConfig configures the retry queue behavior.
type RetryConfig struct {
	MaxRetries int           // attempts after the first before giving up
	BaseDelay  time.Duration // initial backoff, doubled each retry
	MaxDelay   time.Duration // cap on backoff
	Interval   time.Duration // how often Run drains ready entries
}

// DefaultRetryConfig returns production retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 4,
		BaseDelay:  30 * time.Second,
		MaxDelay:   10 * time.Minute,
		Interval:   5 * time.Second,
	}
}

// RetryEntry tracks a failed delivery.
type RetryEntry struct {
	Notification domain.SmartNotification
	Attempt      int       // retries scheduled so far
	NextRetry    time.Time // earliest time the entry may be retried
	Error        string    // last failure reason
}

// retryHeap orders entries by NextRetry, urgent notifications first on ties.
type retryHeap []RetryEntry

func (h retryHeap) Len() int { return len(h) }
func (h retryHeap) Less(i, j int) bool {
	if !h[i].NextRetry.Equal(h[j].NextRetry) {
		return h[i].NextRetry.Before(h[j].NextRetry)
	}
	return h[i].Notification.Priority.Rank() < h[j].Notification.Priority.Rank()
}
func (h retryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *retryHeap) Push(x any)   { *h = append(*h, x.(RetryEntry)) }
func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// RetryDispatcher wraps a dispatcher and re-attempts failed deliveries with
// exponential backoff until they succeed, run out of attempts or expire.
type RetryDispatcher struct {
	mu     sync.Mutex
	next   domain.Dispatcher
	config RetryConfig
	queue  retryHeap
	clock  domain.Clock
	logger *slog.Logger

	totalRetries   int64
	totalExhausted int64
}

// NewRetryDispatcher creates a retrying wrapper around next.
func NewRetryDispatcher(next domain.Dispatcher, cfg RetryConfig, clock domain.Clock, logger *slog.Logger) *RetryDispatcher {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryDispatcher{
		next:   next,
		config: cfg,
		clock:  clock,
		logger: logger.With(slog.String("component", "retry")),
	}
}

// Dispatch implements domain.Dispatcher. A failure is queued and reported
// wrapped in ErrQueuedForRetry, or returned as-is when retrying is pointless.
func (d *RetryDispatcher) Dispatch(ctx context.Context, n domain.SmartNotification) error {
	err := d.next.Dispatch(ctx, n)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNoDispatcher) {
		return err
	}
	if !d.schedule(RetryEntry{Notification: n, Error: err.Error()}) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrQueuedForRetry, err)
}

// schedule queues entry for its next attempt. Returns false if the entry has
// exceeded MaxRetries or would only be retried after it expires.
func (d *RetryDispatcher) schedule(entry RetryEntry) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry.Attempt++
	if entry.Attempt > d.config.MaxRetries {
		d.totalExhausted++
		metrics.DeliveryRetries.WithLabelValues("exhausted").Inc()
		return false
	}

	// baseDelay * 2^(attempt-1)
	delay := d.config.BaseDelay
	for i := 1; i < entry.Attempt; i++ {
		delay *= 2
		if delay > d.config.MaxDelay {
			delay = d.config.MaxDelay
			break
		}
	}
	entry.NextRetry = d.clock.Now().Add(delay)

	exp := entry.Notification.ExpiresAt
	if !exp.IsZero() && !entry.NextRetry.Before(exp) {
		metrics.DeliveryRetries.WithLabelValues("expired").Inc()
		return false
	}

	heap.Push(&d.queue, entry)
	d.totalRetries++
	metrics.DeliveryRetries.WithLabelValues("scheduled").Inc()
	return true
}

// DrainReady pops every entry whose NextRetry has passed, in retry order.
func (d *RetryDispatcher) DrainReady() []RetryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	var ready []RetryEntry
	for d.queue.Len() > 0 && !now.Before(d.queue[0].NextRetry) {
		ready = append(ready, heap.Pop(&d.queue).(RetryEntry))
	}
	return ready
}

// RetryOnce attempts every ready entry. Failures are re-queued.
func (d *RetryDispatcher) RetryOnce(ctx context.Context) {
	for _, entry := range d.DrainReady() {
		n := entry.Notification
		logger := d.logger.With(
			slog.String("user_id", n.UserID),
			slog.String("notification_id", n.ID),
			slog.Int("attempt", entry.Attempt),
		)

		if !n.ExpiresAt.IsZero() && !d.clock.Now().Before(n.ExpiresAt) {
			metrics.DeliveryRetries.WithLabelValues("expired").Inc()
			logger.Warn("retry dropped: notification expired")
			continue
		}

		if err := d.next.Dispatch(ctx, n); err != nil {
			metrics.DeliveryRetries.WithLabelValues("failed").Inc()
			entry.Error = err.Error()
			if !d.schedule(entry) {
				logger.Error("delivery abandoned", slog.String("error", err.Error()))
			}
			continue
		}
		metrics.DeliveryRetries.WithLabelValues("delivered").Inc()
		logger.Info("delivery succeeded on retry")
	}
}

// Run drains the queue every Interval until ctx is cancelled.
func (d *RetryDispatcher) Run(ctx context.Context) {
	interval := d.config.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RetryOnce(ctx)
		}
	}
}

// Len returns the number of deliveries pending retry.
func (d *RetryDispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

// RetryStats holds retry queue statistics.
type RetryStats struct {
	PendingRetries int   `json:"pending_retries"`
	TotalRetries   int64 `json:"total_retries"`
	TotalExhausted int64 `json:"total_exhausted"`
}

// Stats returns current retry queue statistics.
func (d *RetryDispatcher) Stats() RetryStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return RetryStats{
		PendingRetries: d.queue.Len(),
		TotalRetries:   d.totalRetries,
		TotalExhausted: d.totalExhausted,
	}
}
