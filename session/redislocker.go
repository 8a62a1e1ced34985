package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// lockTTL caps how long a crashed holder can keep a session locked.
const lockTTL = 30 * time.Second

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX and an expiry, for deployments
// that already run Redis next to the session store.
type RedisLocker struct {
	client *redis.Client
	poll   time.Duration
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, poll: 100 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, id string, wait time.Duration) (func(), error) {
	key := "paymentflow:session-lock:" + id
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		got, err := l.client.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("session: redis lock: %w", err)
		}
		if got {
			return func() {
				unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = releaseScript.Run(unlockCtx, l.client, []string{key}, token).Err()
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		timer := time.NewTimer(l.poll)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}
