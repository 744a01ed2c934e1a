package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_URL")
	if addr == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestRedisLocker_RenewsWhileHeld(t *testing.T) {
	client := newTestRedis(t)
	ttl := 300 * time.Millisecond
	locker := NewRedisLocker(client, ttl, 50*time.Millisecond)
	key := "manager:" + uuid.NewString()

	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)

	time.Sleep(3 * ttl)

	_, err = locker.Lock(context.Background(), key)
	assert.ErrorIs(t, err, ErrLockTimeout)
	remaining, err := client.PTTL(context.Background(), locker.prefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, remaining, time.Duration(0))

	unlock()

	exists, err := client.Exists(context.Background(), locker.prefix+key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	again, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)
	again()
}

func TestRedisLocker_StopsRenewingLostKey(t *testing.T) {
	client := newTestRedis(t)
	ttl := 300 * time.Millisecond
	locker := NewRedisLocker(client, ttl, 50*time.Millisecond)
	key := "manager:" + uuid.NewString()

	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)
	defer unlock()

	require.NoError(t, client.Set(context.Background(), locker.prefix+key, "other-holder", 0).Err())
	time.Sleep(2 * ttl)

	value, err := client.Get(context.Background(), locker.prefix+key).Result()
	require.NoError(t, err)
	assert.Equal(t, "other-holder", value)
	remaining, err := client.PTTL(context.Background(), locker.prefix+key).Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), remaining)

	require.NoError(t, client.Del(context.Background(), locker.prefix+key).Err())
}
