package app

import (
	"context"
	"sync"
)

// AcquireRateLimit admits one request for the caller key. The returned
// release func is idempotent and must be called when the request finishes.
func (c *Container) AcquireRateLimit(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if c == nil || c.RateLimiter == nil || !c.RateLimits.Enabled() || key == "" {
		return noop, nil
	}

	cfg := c.RateLimits
	storage := "ip:" + key
	if err := c.RateLimiter.Allow(ctx, storage, cfg); err != nil {
		return noop, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			c.RateLimiter.Release(context.WithoutCancel(ctx), storage, cfg)
		})
	}
	return release, nil
}
