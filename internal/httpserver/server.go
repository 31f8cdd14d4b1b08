package httpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ncecere/cerebro/internal/app"
	"github.com/ncecere/cerebro/internal/config"
	"github.com/ncecere/cerebro/internal/httpserver/httputil"
)

// Server wraps the Fiber app and configuration.
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	container *app.Container
}

// New constructs a server with baseline middleware ready.
func New(container *app.Container) (*Server, error) {
	if container == nil {
		return nil, fmt.Errorf("dependency container is required")
	}
	cfg := container.Config
	if cfg == nil {
		return nil, fmt.Errorf("container missing config")
	}
	if container.Handler == nil {
		return nil, fmt.Errorf("container missing handler")
	}

	bodyLimit := cfg.Server.BodyLimitMB * 1024 * 1024
	if bodyLimit <= 0 {
		bodyLimit = fiber.DefaultBodyLimit
	}
	fapp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ServerHeader:          "cerebro",
		BodyLimit:             bodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		ReadBufferSize:        8 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			msg := "internal_error"
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
				msg = fe.Message
			}
			return httputil.WriteError(c, status, msg)
		},
	})

	fapp.Use(requestid.New())
	fapp.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} ${latency} ${method} ${path}\n",
	}))
	fapp.Use(recover.New())

	if obs := container.Observability; obs != nil {
		fapp.Use(func(c *fiber.Ctx) error {
			start := time.Now()
			err := c.Next()
			route := ""
			if r := c.Route(); r != nil {
				route = r.Path
			}
			if route == "" {
				route = c.Path()
			}
			obs.RecordHTTPRequest(c.UserContext(), c.Method(), route, c.Response().StatusCode(), time.Since(start))
			return err
		})

		if obs.TracerProvider() != nil {
			tracer := otel.Tracer("cerebro/http")
			fapp.Use(func(c *fiber.Ctx) error {
				spanCtx, span := tracer.Start(c.UserContext(), c.Method()+" "+c.Path())
				defer span.End()
				c.SetUserContext(spanCtx)
				err := c.Next()
				status := c.Response().StatusCode()
				span.SetAttributes(
					attribute.String("http.method", c.Method()),
					attribute.String("http.route", c.Route().Path),
					attribute.Int("http.status_code", status),
				)
				switch {
				case err != nil:
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				case status >= 500:
					span.SetStatus(codes.Error, fmt.Sprintf("status %d", status))
				default:
					span.SetStatus(codes.Ok, "OK")
				}
				return err
			})
		}

		if h := obs.PrometheusHandler(); h != nil {
			fapp.Get("/metrics", adaptor.HTTPHandler(h))
		}
	}

	registerHealthRoutes(fapp, container)
	registerCompletionRoutes(fapp, container)

	return &Server{
		app:       fapp,
		cfg:       cfg,
		container: container,
	}, nil
}

// App exposes the underlying Fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks until context cancellation or a fatal listen error occurs.
func (s *Server) Listen(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.cfg.Server.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.Server.GracefulShutdownDelay
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := s.app.ShutdownWithContext(shutdownCtx)
		if err == nil {
			err = <-errCh
		}
		return err
	case err := <-errCh:
		return err
	}
}

func registerHealthRoutes(fapp *fiber.App, container *app.Container) {
	fapp.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := make(map[string]fiber.Map)
		overall := "ok"

		if container.Redis != nil {
			start := time.Now()
			err := container.Redis.Ping(ctx).Err()
			check := fiber.Map{
				"status":     "ok",
				"latency_ms": time.Since(start).Milliseconds(),
			}
			if err != nil {
				check["status"] = "error"
				check["error"] = err.Error()
				overall = "degraded"
			}
			checks["redis"] = check
		}

		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":   overall,
			"provider": container.Backend.Name(),
			"checks":   checks,
		})
	})
}
