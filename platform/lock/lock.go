// Package lock provides a narrow distributed lock on top of a key-value
// store with atomic set-if-not-exists. The lock carries a TTL so a crashed
// holder cannot wedge its key forever, and acquisition waits are bounded.
// This is part of the platform layer and contains no business logic.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrTimeout is returned when the lock could not be acquired within the
// caller's wait budget.
var ErrTimeout = errors.New("lock: acquisition timed out")

const retryInterval = 100 * time.Millisecond

// releaseScript deletes the key only if it still holds our token, so a
// holder whose TTL expired cannot release a lock someone else re-acquired.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lock is a held lock handle.
type Lock struct {
	key    string
	token  string
	client redis.UniversalClient
}

// Release frees the lock. Releasing an expired or stolen lock is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

// RedisLocker acquires locks against a redis-compatible store.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker creates a locker backed by the given client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire obtains the lock for key, waiting up to wait for a current holder
// to release it. The lock auto-expires after ttl.
func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*Lock, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{key: key, token: token, client: r.client}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}
