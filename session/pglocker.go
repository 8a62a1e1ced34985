package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLocker implements Locker with PostgreSQL advisory locks, so the mutual
// exclusion spans every process sharing the session store. The lock rides on
// a pool connection held for the lock's lifetime.
type PGLocker struct {
	pool *pgxpool.Pool
	// poll is the retry interval while waiting on a held lock.
	poll time.Duration
}

func NewPGLocker(pool *pgxpool.Pool) *PGLocker {
	return &PGLocker{pool: pool, poll: 100 * time.Millisecond}
}

func (l *PGLocker) Lock(ctx context.Context, id string, wait time.Duration) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: acquire lock connection: %w", err)
	}

	key := lockKey(id)
	deadline := time.Now().Add(wait)
	for {
		var got bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&got); err != nil {
			conn.Release()
			return nil, fmt.Errorf("session: try advisory lock: %w", err)
		}
		if got {
			return func() {
				// Unlock on a fresh context: the request context may already
				// be cancelled on failure paths.
				unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_, _ = conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, key)
				conn.Release()
			}, nil
		}

		if time.Now().After(deadline) {
			conn.Release()
			return nil, ErrLockTimeout
		}
		timer := time.NewTimer(l.poll)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			conn.Release()
			return nil, ctx.Err()
		}
	}
}
