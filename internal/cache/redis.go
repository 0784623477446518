// Package cache – shared Redis backend.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis adapts a go-redis client to the Backend contract.
type Redis struct {
	client redis.Cmdable
}

// NewRedis wraps client as a cache Backend.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

// Get implements Backend. redis.Nil is a miss, not an error.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set implements Backend.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}
