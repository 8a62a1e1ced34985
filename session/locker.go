package session

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// ErrLockTimeout signals the bounded lock wait elapsed before the holder
// finished. Callers degrade to a "try again later" outcome.
var ErrLockTimeout = errors.New("session: lock wait timed out")

// Locker provides session-scoped mutual exclusion with a bounded wait. A
// second caller finding the session locked waits up to `wait` for the holder
// to finish instead of failing outright. The returned func releases the lock
// and must be called on every path.
type Locker interface {
	Lock(ctx context.Context, id string, wait time.Duration) (func(), error)
}

// MemoryLocker is the single-process Locker. Deployments sharing the store
// across processes use PGLocker or RedisLocker instead.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]chan struct{})}
}

func (l *MemoryLocker) Lock(ctx context.Context, id string, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		l.mu.Lock()
		released, locked := l.held[id]
		if !locked {
			ch := make(chan struct{})
			l.held[id] = ch
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, id)
					l.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		l.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrLockTimeout
		}
		timer := time.NewTimer(remaining)
		select {
		case <-released:
			timer.Stop()
		case <-timer.C:
			return nil, ErrLockTimeout
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// lockKey folds a session id into the 64-bit advisory lock keyspace.
func lockKey(id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64())
}
