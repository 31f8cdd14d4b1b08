package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/cerebro/internal/cache"
	"github.com/ncecere/cerebro/internal/config"
	"github.com/ncecere/cerebro/internal/handler"
	"github.com/ncecere/cerebro/internal/inference"
	"github.com/ncecere/cerebro/internal/limits"
	"github.com/ncecere/cerebro/internal/normalizer"
	"github.com/ncecere/cerebro/internal/observability"
	"github.com/ncecere/cerebro/internal/providers"
	"github.com/ncecere/cerebro/internal/redisclient"
)

// Container aggregates the runtime dependencies of the service. Everything in
// it is safe for concurrent use and immutable after construction.
type Container struct {
	Config        *config.Config
	Logger        *slog.Logger
	Redis         *redis.Client
	Observability *observability.Provider
	Factory       *providers.Factory
	Backend       inference.Backend
	Client        *inference.Client
	Normalizer    *normalizer.Normalizer
	Handler       *handler.Handler
	Responses     *cache.ResponseCache
	RateLimiter   *limits.RateLimiter
	RateLimits    limits.LimitConfig
}

// Options override parts of the default wiring. Zero values use config.
type Options struct {
	Logger        *slog.Logger
	Redis         *redis.Client
	Observability *observability.Provider
	Factory       *providers.Factory
}

// NewContainer builds the dependency graph described by cfg.
func NewContainer(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	redisClient := opts.Redis
	if redisClient == nil {
		rc, err := redisclient.New(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		redisClient = rc
	}

	obs := opts.Observability
	if obs == nil {
		p, err := observability.Setup(ctx, cfg.Observability)
		if err != nil {
			return nil, fmt.Errorf("setup observability: %w", err)
		}
		obs = p
	}

	factory := opts.Factory
	if factory == nil {
		factory = providers.NewFactory(nil)
	}
	backend, err := factory.Build(ctx, cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("init backend: %w", err)
	}

	client, err := inference.NewClient(backend, inference.Options{
		Timeout:      cfg.Backend.Timeout,
		MaxRetries:   cfg.Backend.MaxRetries,
		RetryBackoff: cfg.Backend.RetryBackoff,
		Logger:       logger,
		Metrics:      obs,
	})
	if err != nil {
		return nil, fmt.Errorf("init inference client: %w", err)
	}

	var responses *cache.ResponseCache
	if cfg.Idempotency.Enabled {
		if redisClient == nil {
			return nil, fmt.Errorf("idempotency requires redis.url")
		}
		responses = cache.NewResponseCache(redisClient, cfg.Idempotency.TTL)
	}

	norm := normalizer.New(cfg.Defaults)
	h, err := handler.New(norm, client, handler.Options{
		Cache:   responses,
		Logger:  logger,
		Metrics: obs,
	})
	if err != nil {
		return nil, fmt.Errorf("init handler: %w", err)
	}

	c := &Container{
		Config:        cfg,
		Logger:        logger,
		Redis:         redisClient,
		Observability: obs,
		Factory:       factory,
		Backend:       backend,
		Client:        client,
		Normalizer:    norm,
		Handler:       h,
		Responses:     responses,
		RateLimits:    limits.FromConfig(cfg.RateLimits),
	}
	if redisClient != nil {
		c.RateLimiter = limits.NewRateLimiter(redisClient)
	} else if c.RateLimits.Enabled() {
		logger.Warn("rate limits configured without redis; limiter disabled")
	}

	logger.Info("container ready",
		slog.String("provider", backend.Name()),
		slog.Bool("idempotency", responses != nil),
		slog.Bool("rate_limits", c.RateLimiter != nil && c.RateLimits.Enabled()),
	)
	return c, nil
}

// Close releases external connections and flushes telemetry.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var firstErr error
	if err := c.Observability.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
