package httpserver

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/cerebro/internal/app"
	"github.com/ncecere/cerebro/internal/gateway"
	"github.com/ncecere/cerebro/internal/httpserver/httputil"
	"github.com/ncecere/cerebro/internal/limits"
)

const completionsPath = "/v1/completions"

func registerCompletionRoutes(fapp *fiber.App, container *app.Container) {
	fapp.Post(completionsPath, rateLimitMiddleware(container), completionsHandler(container))
}

// rateLimitMiddleware applies the per-IP limits. Limiter backend errors let
// the request through.
func rateLimitMiddleware(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		release, err := container.AcquireRateLimit(c.UserContext(), c.IP())
		if err != nil {
			if errors.Is(err, limits.ErrLimitExceeded) {
				return httputil.WriteError(c, fiber.StatusTooManyRequests, "rate_limit_exceeded")
			}
			container.Logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			return c.Next()
		}
		defer release()
		return c.Next()
	}
}

func completionsHandler(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		resp := container.Handler.Handle(c.UserContext(), eventFromRequest(c))
		for k, v := range resp.Headers {
			c.Set(k, v)
		}
		return c.Status(resp.StatusCode).SendString(resp.Body)
	}
}

// eventFromRequest renders the inbound HTTP request as a proxy gateway event.
// Fiber reuses its buffers, so every value is copied.
func eventFromRequest(c *fiber.Ctx) gateway.Event {
	reqHeaders := c.GetReqHeaders()
	headers := make(map[string]string, len(reqHeaders))
	multi := make(map[string][]string, len(reqHeaders))
	for k, values := range reqHeaders {
		if len(values) == 0 {
			continue
		}
		headers[k] = values[len(values)-1]
		multi[k] = append([]string(nil), values...)
	}

	requestID, _ := c.Locals("requestid").(string)
	method := c.Method()
	return gateway.Event{
		HTTPMethod:        method,
		Path:              c.Path(),
		Headers:           headers,
		MultiValueHeaders: multi,
		Body:              string(c.Body()),
		RequestContext: gateway.RequestContext{
			RequestID:    requestID,
			HTTPMethod:   method,
			ResourcePath: completionsPath,
			Identity: gateway.Identity{
				SourceIP: c.IP(),
			},
		},
	}
}
