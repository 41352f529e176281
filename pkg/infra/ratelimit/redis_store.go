package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// incrementScript bumps the counter and starts the window on the first hit in one round trip.
// A key left without expiry (e.g. by a crash between calls) gets its expiry restored.
const incrementScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`

type redisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) CounterStore {
	return &redisStore{client: client}
}

func (s *redisStore) Increment(ctx context.Context, key Key) (Counter, error) {
	res, err := s.client.Eval(ctx, incrementScript, []string{key.String()}, key.Window.Milliseconds()).Result()
	if err != nil {
		return Counter{}, fmt.Errorf("increment %s: %w", key, err)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return Counter{}, fmt.Errorf("increment %s: unexpected script result %T", key, res)
	}
	count, ok := values[0].(int64)
	if !ok {
		return Counter{}, fmt.Errorf("increment %s: unexpected count %T", key, values[0])
	}
	ttl, ok := values[1].(int64)
	if !ok {
		return Counter{}, fmt.Errorf("increment %s: unexpected ttl %T", key, values[1])
	}
	return Counter{Count: count, TTL: time.Duration(ttl) * time.Millisecond}, nil
}
