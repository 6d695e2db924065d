package engagement

import (
	"context"
	"sync"

	"github.com/tutu-network/engage/internal/infra/metrics"
)

// UserLocks serializes read-modify-write work for the same user.
// Different users never contend. Entries are dropped once nobody holds or
// waits on them, so the map only grows with concurrently active users.
type UserLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sem  chan struct{}
	refs int // holder + waiters
}

// NewUserLocks creates an empty lock table.
func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[string]*userLock)}
}

// Acquire blocks until userID's lock is held or ctx is done.
// The returned release func is safe to call more than once.
func (l *UserLocks) Acquire(ctx context.Context, userID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{sem: make(chan struct{}, 1)}
		l.locks[userID] = ul
		metrics.UserLocksActive.Set(float64(len(l.locks)))
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-ul.sem
				l.drop(userID, ul)
			})
		}, nil
	case <-ctx.Done():
		l.drop(userID, ul)
		return nil, ctx.Err()
	}
}

// Active returns how many users currently hold or wait on a lock.
func (l *UserLocks) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *UserLocks) drop(userID string, ul *userLock) {
	l.mu.Lock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
		metrics.UserLocksActive.Set(float64(len(l.locks)))
	}
	l.mu.Unlock()
}
