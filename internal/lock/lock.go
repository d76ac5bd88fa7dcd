// Package lock provides per-key exclusive locks used to serialize
// settlement on a single pool. Trades on different pools never contend.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrNotAcquired is returned when the lock could not be taken before the
// context was done.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out exclusive locks keyed by string.
type Locker interface {
	// Acquire blocks until the lock for key is held or ctx is done. The
	// returned release func must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker serializes holders within one process using a weighted
// semaphore of size one per key.
type LocalLocker struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewLocalLocker creates an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{sems: make(map[string]*semaphore.Weighted)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	sem := l.sem(key)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, err)
	}

	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

func (l *LocalLocker) sem(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sems[key]
	if !ok {
		s = semaphore.NewWeighted(1)
		l.sems[key] = s
	}
	return s
}
