package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Clock abstracts wall-clock reads so decisions can run against a fixed time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// RandomSource abstracts uniform draws. *math/rand/v2.Rand satisfies it.
type RandomSource interface {
	// Float64 returns a value in [0.0, 1.0).
	Float64() float64
	// IntN returns a value in [0, n). Panics if n <= 0.
	IntN(n int) int
}

// CounterStore is the expiry-bearing key-value store holding rolling counters.
// Values are int64; timestamps are stored as Unix seconds.
type CounterStore interface {
	// GetCounter returns the live value for key. ok is false when the key is
	// missing or expired.
	GetCounter(ctx context.Context, key string) (value int64, ok bool, err error)

	// IncrCounter atomically adds delta. A missing or expired key starts at
	// zero and receives expiry now+ttl; a live key keeps its expiry.
	IncrCounter(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// SetCounter overwrites key with value and expiry now+ttl in one step.
	SetCounter(ctx context.Context, key string, value int64, ttl time.Duration) error
}

// StreakRepository persists streak snapshots for StreakService.
type StreakRepository interface {
	// GetStreak returns the stored state, or ErrStreakNotFound.
	GetStreak(ctx context.Context, userID string) (*StreakState, error)
	SaveStreak(ctx context.Context, state StreakState) error
}

// InboxStore persists in-app notifications for display.
type InboxStore interface {
	InsertNotification(ctx context.Context, n SmartNotification) error
	ListPendingNotifications(ctx context.Context, userID string, limit int) ([]InboxNotification, error)
	MarkNotificationShown(ctx context.Context, id string) error
}

// Store is the full storage surface a backend provides.
type Store interface {
	CounterStore
	StreakRepository
	InboxStore
	Ping(ctx context.Context) error
	Close() error
}

// Dispatcher delivers a notification over one channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, n SmartNotification) error
}
