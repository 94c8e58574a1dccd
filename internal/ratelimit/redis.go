package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is a fixed-window limiter shared by every instance using the same
// Redis server. Each window gets its own counter key, expired after the window.
type Redis struct {
	rdb      *redis.Client
	prefix   string
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewRedis allows limit requests per token per interval. Keys are namespaced
// by prefix.
func NewRedis(rdb *redis.Client, prefix string, limit int, interval time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, limit: limit, interval: interval, now: time.Now}
}

func (r *Redis) Allow(ctx context.Context, token string) error {
	key := r.windowKey(token, r.now())

	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.interval)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to count request: %w", err)
	}
	if incr.Val() > int64(r.limit) {
		return ErrLimited
	}
	return nil
}

func (r *Redis) windowKey(token string, at time.Time) string {
	window := at.UnixNano() / int64(r.interval)
	return fmt.Sprintf("%s%s:%d", r.prefix, token, window)
}
