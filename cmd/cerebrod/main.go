package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ncecere/cerebro/internal/app"
	"github.com/ncecere/cerebro/internal/config"
	"github.com/ncecere/cerebro/internal/httpserver"
	"github.com/ncecere/cerebro/internal/observability"
	"github.com/ncecere/cerebro/internal/redisclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := observability.NewLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	redisClient, err := redisclient.New(cfg.Redis)
	if err != nil {
		log.Fatalf("init redis: %v", err)
	}
	if err := redisclient.Ping(ctx, redisClient); err != nil {
		log.Fatalf("connect redis: %v", err)
	}

	container, err := app.NewContainer(ctx, cfg, app.Options{Logger: logger, Redis: redisClient})
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("shutdown", slog.String("error", err.Error()))
		}
	}()

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	logger.Info("listening", slog.String("addr", cfg.Server.ListenAddr))
	if err := server.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server stopped: %v", err)
	}
}
