package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/cerebro/internal/config"
)

var ErrLimitExceeded = errors.New("rate limit exceeded")

const (
	keyPrefix    = "cerebro:limits:"
	semaphoreTTL = 5 * time.Minute
)

type LimitConfig struct {
	RequestsPerMinute int
	ParallelRequests  int
}

// FromConfig converts the rate_limits config section.
func FromConfig(cfg config.RateLimitConfig) LimitConfig {
	return LimitConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		ParallelRequests:  cfg.ParallelRequests,
	}
}

// Enabled reports whether any limit is configured.
func (c LimitConfig) Enabled() bool {
	return c.RequestsPerMinute > 0 || c.ParallelRequests > 0
}

// RateLimiter enforces fixed-window request counts and a parallel-request
// semaphore per caller key. A nil limiter or client allows everything.
type RateLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow admits one request for key. When it returns nil and ParallelRequests
// is set, the caller must call Release once the request finishes.
func (l *RateLimiter) Allow(ctx context.Context, key string, cfg LimitConfig) error {
	if l == nil || l.client == nil {
		return nil
	}
	if cfg.RequestsPerMinute > 0 {
		if err := l.windowCheck(ctx, keyPrefix+"rpm:"+key, time.Minute, cfg.RequestsPerMinute); err != nil {
			return err
		}
	}
	if cfg.ParallelRequests > 0 {
		if err := l.acquire(ctx, keyPrefix+"sem:"+key, cfg.ParallelRequests); err != nil {
			return err
		}
	}
	return nil
}

func (l *RateLimiter) Release(ctx context.Context, key string, cfg LimitConfig) {
	if l == nil || l.client == nil || cfg.ParallelRequests <= 0 {
		return
	}
	redisKey := keyPrefix + "sem:" + key
	if n, err := l.client.Decr(ctx, redisKey).Result(); err == nil && n <= 0 {
		l.client.Del(ctx, redisKey)
	}
}

func (l *RateLimiter) windowCheck(ctx context.Context, key string, window time.Duration, limit int) error {
	bucket := l.now().UTC().Unix() / int64(window.Seconds())
	redisKey := fmt.Sprintf("%s:%d", key, bucket)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rate limit window: %w", err)
	}
	if incr.Val() > int64(limit) {
		return ErrLimitExceeded
	}
	return nil
}

func (l *RateLimiter) acquire(ctx context.Context, key string, max int) error {
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, semaphoreTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rate limit semaphore: %w", err)
	}
	if incr.Val() > int64(max) {
		l.client.Decr(ctx, key)
		return ErrLimitExceeded
	}
	return nil
}
