package redisclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/cerebro/internal/config"
)

// New constructs a Redis client from cfg. It returns nil, nil when no URL is
// configured; Redis only backs optional features.
func New(cfg config.RedisConfig) (*redis.Client, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, nil
	}

	var opts *redis.Options
	if strings.Contains(raw, "://") {
		parsed, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: raw}
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	client.AddHook(skipMaintNotifications{})
	return client, nil
}

// Ping verifies connectivity with a short timeout.
func Ping(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return nil
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(timeoutCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// skipMaintNotifications drops the CLIENT MAINT_NOTIFICATIONS handshake that
// older servers and miniredis reject.
type skipMaintNotifications struct{}

func (skipMaintNotifications) DialHook(next redis.DialHook) redis.DialHook { return next }

func (skipMaintNotifications) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		kept := cmds[:0]
		for _, cmd := range cmds {
			if !isMaintNotifications(cmd) {
				kept = append(kept, cmd)
			}
		}
		return next(ctx, kept)
	}
}

func (skipMaintNotifications) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if isMaintNotifications(cmd) {
			return nil
		}
		return next(ctx, cmd)
	}
}

func isMaintNotifications(cmd redis.Cmder) bool {
	args := cmd.Args()
	if !strings.EqualFold(cmd.Name(), "client") || len(args) < 2 {
		return false
	}
	sub, ok := args[1].(string)
	return ok && strings.EqualFold(sub, "maint_notifications")
}
