// Package lock provides per-user serialization for balance, wager and
// streak updates.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Locker serializes work per key. Implementations: UserLock (in-process)
// and RedisLock (shared by every engine instance on one database).
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// entry is a one-slot semaphore plus the number of goroutines holding or
// waiting on it. The entry is dropped from the map when refs reaches zero.
type entry struct {
	sem  chan struct{}
	refs int
}

// UserLock provides per-user locking inside one process.
type UserLock struct {
	mu      sync.Mutex
	locks   map[string]*entry
	timeout time.Duration
}

// NewUserLock creates a UserLock. A positive timeout bounds how long
// WithLock waits; zero waits until the context is done.
func NewUserLock(timeout time.Duration) *UserLock {
	return &UserLock{
		locks:   make(map[string]*entry),
		timeout: timeout,
	}
}

func (ul *UserLock) ref(key string) *entry {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	e, ok := ul.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		ul.locks[key] = e
	}
	e.refs++
	return e
}

func (ul *UserLock) unref(key string, e *entry) {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(ul.locks, key)
	}
}

// releaser returns the unlock func handed to the holder. Only the holder
// can release, and calling it more than once does nothing.
func (ul *UserLock) releaser(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			ul.unref(key, e)
		})
	}
}

// TryLock attempts to acquire the lock without blocking. On success the
// returned func releases it.
func (ul *UserLock) TryLock(key string) (unlock func(), ok bool) {
	e := ul.ref(key)
	select {
	case e.sem <- struct{}{}:
		return ul.releaser(key, e), true
	default:
		ul.unref(key, e)
		return nil, false
	}
}

// LockContext acquires the lock or gives up when ctx is done or the
// configured timeout elapses. On success the returned func releases it.
func (ul *UserLock) LockContext(ctx context.Context, key string) (unlock func(), err error) {
	if ul.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ul.timeout)
		defer cancel()
	}

	e := ul.ref(key)
	select {
	case e.sem <- struct{}{}:
		return ul.releaser(key, e), nil
	case <-ctx.Done():
		ul.unref(key, e)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrLockTimeout
		}
		return nil, ctx.Err()
	}
}

// WithLock executes fn while holding the user's lock.
func (ul *UserLock) WithLock(ctx context.Context, key string, fn func() error) error {
	unlock, err := ul.LockContext(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// IsLocked reports whether key is currently held. Point-in-time only.
func (ul *UserLock) IsLocked(key string) bool {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	e, ok := ul.locks[key]
	return ok && len(e.sem) == 1
}

// size returns the number of live entries.
func (ul *UserLock) size() int {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return len(ul.locks)
}
