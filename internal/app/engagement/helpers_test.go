package engagement_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tutu-network/engage/internal/domain"
)

// manualClock is a settable domain.Clock.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *manualClock { return &manualClock{now: t} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scriptedRNG replays fixed draws. Exhausted Float64 returns 0.999999 (never
// grants); exhausted IntN returns 0.
type scriptedRNG struct {
	floats []float64
	ints   []int
	fi, ii int
}

func (r *scriptedRNG) Float64() float64 {
	if r.fi >= len(r.floats) {
		return 0.999999
	}
	v := r.floats[r.fi]
	r.fi++
	return v
}

func (r *scriptedRNG) IntN(n int) int {
	if r.ii >= len(r.ints) {
		return 0
	}
	v := r.ints[r.ii] % n
	r.ii++
	return v
}

var errStoreDown = errors.New("store down")

// brokenCounters fails the selected operations.
type brokenCounters struct {
	failGet, failIncr, failSet bool
	sets, incrs                int
}

func (b *brokenCounters) GetCounter(context.Context, string) (int64, bool, error) {
	if b.failGet {
		return 0, false, errStoreDown
	}
	return 0, false, nil
}

func (b *brokenCounters) IncrCounter(_ context.Context, _ string, delta int64, _ time.Duration) (int64, error) {
	if b.failIncr {
		return 0, errStoreDown
	}
	b.incrs++
	return delta, nil
}

func (b *brokenCounters) SetCounter(context.Context, string, int64, time.Duration) error {
	if b.failSet {
		return errStoreDown
	}
	b.sets++
	return nil
}

// recordingDispatcher captures dispatched notifications.
type recordingDispatcher struct {
	mu   sync.Mutex
	sent []domain.SmartNotification
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n domain.SmartNotification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, n)
	return nil
}

func ptr(t time.Time) *time.Time { return &t }
