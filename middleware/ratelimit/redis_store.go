package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementLua opens the window on the first hit so concurrent increments
// share one expiry.
var incrementLua = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIREAT", KEYS[1], ARGV[1])
end
return count
`)

// RedisStore shares counters between instances. Windows expire with the key.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (int, time.Time, error) {
	k := s.key(key)

	pipe := s.redis.Pipeline()
	get := pipe.Get(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, time.Time{}, fmt.Errorf("rate limit lookup failed: %w", err)
	}

	count, err := get.Int()
	if errors.Is(err, redis.Nil) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("rate limit lookup failed: %w", err)
	}

	remaining := ttl.Val()
	if remaining <= 0 {
		return count, time.Time{}, nil
	}
	return count, time.Now().Add(remaining), nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, resetTime time.Time) (int, error) {
	count, err := incrementLua.Run(ctx, s.redis, []string{s.key(key)}, resetTime.UnixMilli()).Int()
	if err != nil {
		return 0, fmt.Errorf("rate limit increment failed: %w", err)
	}
	return count, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("rate limit reset failed: %w", err)
	}
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
