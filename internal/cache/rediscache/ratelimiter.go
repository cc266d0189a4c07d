package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter считает события в фиксированном окне. В воркере им
// ограничивается частота уведомлений на один чат Telegram.
type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Allow делает INCR по ключу; TTL ставится только при первом попадании,
// так что окно отсчитывается от первого события, а не продлевается каждым.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}
