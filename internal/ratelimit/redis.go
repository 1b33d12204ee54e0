package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// admitScript applies the fixed-window rule atomically. The key's expiry is
// the window, so an expired key is a new window.
var admitScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
  redis.call('SET', KEYS[1], 1, 'PX', ARGV[2])
  return {1, 1}
end
current = tonumber(current)
if current >= tonumber(ARGV[1]) then
  return {0, current}
end
current = redis.call('INCR', KEYS[1])
return {1, current}
`)

// RedisStore shares windows across every instance pointed at the same Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Admit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	redisKey := fmt.Sprintf("%s:%s", s.prefix, key)

	res, err := admitScript.Run(ctx, s.client, []string{redisKey}, limit, window.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("unexpected script reply: %v", res)
	}

	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)

	if allowed != 1 {
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: window}, nil
	}
	return Decision{Allowed: true, Limit: limit, Remaining: max(limit-int(count), 0)}, nil
}

// Ping checks connectivity for health reporting
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
