// Package memstore is an in-process implementation of domain.Store.
// Expiry is driven by an injected clock so tests can move time forward.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tutu-network/engage/internal/domain"
)

type counter struct {
	value   int64
	expires time.Time
}

// Store keeps counters, streak states and inbox entries in memory.
type Store struct {
	mu       sync.Mutex
	clock    domain.Clock
	counters map[string]counter
	streaks  map[string]domain.StreakState
	inbox    map[string]*domain.InboxNotification
}

// New creates an empty store. A nil clock uses the system clock.
func New(clock domain.Clock) *Store {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Store{
		clock:    clock,
		counters: make(map[string]counter),
		streaks:  make(map[string]domain.StreakState),
		inbox:    make(map[string]*domain.InboxNotification),
	}
}

// ─── Counters ───────────────────────────────────────────────────────────────

// GetCounter implements domain.CounterStore.
func (s *Store) GetCounter(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.live(key)
	return c.value, ok, nil
}

// IncrCounter implements domain.CounterStore.
func (s *Store) IncrCounter(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.live(key)
	if !ok {
		c = counter{expires: s.clock.Now().Add(ttl)}
	}
	c.value += delta
	s.counters[key] = c
	return c.value, nil
}

// SetCounter implements domain.CounterStore.
func (s *Store) SetCounter(_ context.Context, key string, value int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[key] = counter{value: value, expires: s.clock.Now().Add(ttl)}
	return nil
}

// live returns the unexpired counter for key, evicting it if expired.
// Caller holds s.mu.
func (s *Store) live(key string) (counter, bool) {
	c, ok := s.counters[key]
	if !ok {
		return counter{}, false
	}
	if !s.clock.Now().Before(c.expires) {
		delete(s.counters, key)
		return counter{}, false
	}
	return c, true
}

// ─── Streaks ────────────────────────────────────────────────────────────────

// GetStreak implements domain.StreakRepository.
func (s *Store) GetStreak(_ context.Context, userID string) (*domain.StreakState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streaks[userID]
	if !ok {
		return nil, domain.ErrStreakNotFound
	}
	if st.LastCheckIn != nil {
		t := *st.LastCheckIn
		st.LastCheckIn = &t
	}
	return &st, nil
}

// SaveStreak implements domain.StreakRepository.
func (s *Store) SaveStreak(_ context.Context, state domain.StreakState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state.LastCheckIn != nil {
		t := *state.LastCheckIn
		state.LastCheckIn = &t
	}
	s.streaks[state.UserID] = state
	return nil
}

// ─── Inbox ──────────────────────────────────────────────────────────────────

// InsertNotification implements domain.InboxStore. Re-inserting an id is a no-op.
func (s *Store) InsertNotification(_ context.Context, n domain.SmartNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inbox[n.ID]; ok {
		return nil
	}
	s.inbox[n.ID] = &domain.InboxNotification{
		SmartNotification: n,
		CreatedAt:         s.clock.Now(),
	}
	return nil
}

// ListPendingNotifications implements domain.InboxStore, newest first.
func (s *Store) ListPendingNotifications(_ context.Context, userID string, limit int) ([]domain.InboxNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.InboxNotification
	for _, n := range s.inbox {
		if n.UserID == userID && !n.Shown {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkNotificationShown implements domain.InboxStore.
func (s *Store) MarkNotificationShown(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.inbox[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.Shown = true
	return nil
}

// Ping implements domain.Store.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements domain.Store.
func (s *Store) Close() error { return nil }
