// Package limiter – shared Redis store.
//
// The window is kept as a sorted set of hit timestamps (score = unix millis,
// member = a unique id so two hits in the same millisecond never collapse).
// The prune/count/record sequence runs inside a single Lua script: Redis
// executes scripts atomically, so concurrent callers for the same key cannot
// interleave between the count and the write, and the whole decision costs
// one round trip.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < max then
    redis.call('ZADD', key, now, member)
    allowed = 1
    count = count + 1
end
redis.call('PEXPIRE', key, window)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest_score = now
if oldest[2] then
    oldest_score = tonumber(oldest[2])
end
return {allowed, count, oldest_score}
`)

// RedisStore is a Store shared by all instances behind one Redis.
type RedisStore struct {
	client redis.Scripter
}

// NewRedisStore wraps a Redis client (or cluster client) as a Store.
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

// Take implements Store via the sliding-window Lua script.
func (s *RedisStore) Take(ctx context.Context, key string, window time.Duration, max int, now time.Time) (TakeResult, error) {
	res, err := slidingWindowScript.Run(ctx, s.client,
		[]string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		max,
		uuid.NewString(),
	).Result()
	if err != nil {
		return TakeResult{}, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return TakeResult{}, fmt.Errorf("unexpected script reply %T", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	oldestMs, _ := vals[2].(int64)

	return TakeResult{
		Allowed: allowed == 1,
		Count:   int(count),
		Oldest:  time.UnixMilli(oldestMs),
	}, nil
}

// Reset implements Store by deleting the key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	type deleter interface {
		Del(ctx context.Context, keys ...string) *redis.IntCmd
	}
	d, ok := s.client.(deleter)
	if !ok {
		return fmt.Errorf("redis client does not support DEL")
	}
	return d.Del(ctx, key).Err()
}
