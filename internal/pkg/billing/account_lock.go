package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const accountLockKeyPrefix = "billing:lock:account:"

// AccountLocker serializes handlers that mutate the same account.
type AccountLocker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another delivery is not released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisAccountLocker implements AccountLocker with SET NX PX.
type RedisAccountLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisAccountLocker creates a locker. ttl bounds how long a crashed holder
// can block the account.
func NewRedisAccountLocker(client *redis.Client, ttl time.Duration) *RedisAccountLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisAccountLocker{
		client: client,
		ttl:    ttl,
		retry:  50 * time.Millisecond,
	}
}

// Lock blocks until the lock is held or ctx is done.
func (l *RedisAccountLocker) Lock(ctx context.Context, userID string) (func(), error) {
	key := accountLockKeyPrefix + userID
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, userID, ctx.Err())
			}
			return nil, downstream("lock account", err)
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
			}, nil
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, userID, ctx.Err())
		case <-timer.C:
		}
	}
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}
