package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, "test"), mr
}

func TestRedisStore_FixedWindow(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := store.Admit(ctx, "login:1.2.3.4", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d should be admitted", i)
		assert.Equal(t, 5-i, d.Remaining)
	}

	d, err := store.Admit(ctx, "login:1.2.3.4", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)

	// rejected calls are not counted
	val, err := mr.Get("test:login:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "5", val)

	mr.FastForward(61 * time.Second)

	d, err = store.Admit(ctx, "login:1.2.3.4", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestRedisStore_KeysExpireWithWindow(t *testing.T) {
	store, mr := setupRedisStore(t)

	_, err := store.Admit(context.Background(), "global:ip", 10, 30*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, mr.TTL("test:global:ip"))
}

func TestRedisStore_ErrorWhenUnavailable(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.Close()

	_, err := store.Admit(context.Background(), "k", 5, time.Minute)
	assert.Error(t, err)
	assert.Error(t, store.Ping(context.Background()))
}
