package billing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*RedisAccountLocker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisAccountLocker(client, ttl), mr
}

func TestRedisAccountLocker_LockAndRelease(t *testing.T) {
	locker, mr := newTestLocker(t, time.Minute)

	unlock, err := locker.Lock(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("billing:lock:account:u1"))

	unlock()
	assert.False(t, mr.Exists("billing:lock:account:u1"))
}

func TestRedisAccountLocker_SecondHolderWaits(t *testing.T) {
	locker, _ := newTestLocker(t, time.Minute)

	unlock, err := locker.Lock(context.Background(), "u1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "u1")
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// Other accounts are not blocked.
	unlockOther, err := locker.Lock(context.Background(), "u2")
	require.NoError(t, err)
	unlockOther()

	unlock()
	unlockAgain, err := locker.Lock(context.Background(), "u1")
	require.NoError(t, err)
	unlockAgain()
}

func TestRedisAccountLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	locker, mr := newTestLocker(t, time.Second)

	unlockOld, err := locker.Lock(context.Background(), "u1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("billing:lock:account:u1"))

	unlockNew, err := locker.Lock(context.Background(), "u1")
	require.NoError(t, err)

	unlockOld()
	assert.True(t, mr.Exists("billing:lock:account:u1"))

	unlockNew()
	assert.False(t, mr.Exists("billing:lock:account:u1"))
}

func TestRedisAccountLocker_RedisDown(t *testing.T) {
	locker, mr := newTestLocker(t, time.Minute)
	mr.Close()

	_, err := locker.Lock(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrDownstreamFailure)
}
