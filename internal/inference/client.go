package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ncecere/cerebro/internal/apierror"
	"github.com/ncecere/cerebro/internal/models"
	"github.com/ncecere/cerebro/internal/observability"
	"github.com/ncecere/cerebro/internal/requestctx"
)

// Output is the raw backend payload handed to the response formatter.
type Output struct {
	Provider string
	Body     []byte
}

// Backend issues a single completion call against a hosted model. The
// bearer token is forwarded verbatim and must not be retained.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req models.CompletionRequest, token string) (Output, error)
}

// Options configure a Client.
type Options struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       *slog.Logger
	Metrics      *observability.Provider
}

// Client bounds backend calls in time, classifies their failures and
// optionally retries transient ones. It holds no per-request state.
type Client struct {
	backend      Backend
	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration
	logger       *slog.Logger
	metrics      *observability.Provider
}

// NewClient wraps backend with the given options.
func NewClient(backend Backend, opts Options) (*Client, error) {
	if backend == nil {
		return nil, errors.New("inference: backend required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		backend:      backend,
		timeout:      opts.Timeout,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}, nil
}

// Provider returns the name of the wrapped backend.
func (c *Client) Provider() string {
	return c.backend.Name()
}

// Complete calls the backend once, plus up to MaxRetries retries for
// transient failures, all within Timeout. Every failure is a *apierror.BackendError.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest, token string) (Output, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tracer := otel.Tracer("cerebro/inference")
	callCtx, span := tracer.Start(callCtx, "inference.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("backend.provider", c.backend.Name()),
		attribute.Int("request.images", len(req.ImageURLs)),
		attribute.Int("request.max_tokens", req.MaxTokens),
	)

	start := time.Now()
	out, err := c.completeWithRetry(callCtx, req, token)
	outcome := "ok"
	if err != nil {
		outcome = err.Code
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Code)
	} else {
		span.SetStatus(codes.Ok, "OK")
	}
	c.metrics.RecordBackendCall(c.backend.Name(), outcome, time.Since(start))

	if err != nil {
		return Output{}, err
	}
	return out, nil
}

func (c *Client) completeWithRetry(ctx context.Context, req models.CompletionRequest, token string) (Output, *apierror.BackendError) {
	for attempt := 0; ; attempt++ {
		out, err := c.backend.Complete(ctx, req, token)
		if err == nil {
			if out.Provider == "" {
				out.Provider = c.backend.Name()
			}
			return out, nil
		}

		berr := Classify(ctx, err)
		c.logger.Warn("backend call failed",
			slog.String("request_id", requestctx.RequestID(ctx)),
			slog.String("provider", c.backend.Name()),
			slog.Int("attempt", attempt+1),
			slog.String("error_code", berr.Code),
		)
		if attempt >= c.maxRetries || !Retryable(berr) {
			return Output{}, berr
		}

		delay := time.Duration(attempt+1) * c.retryBackoff
		select {
		case <-ctx.Done():
			return Output{}, Classify(ctx, ctx.Err())
		case <-time.After(delay):
		}
	}
}

// Classify converts any backend failure into a *apierror.BackendError.
// An expired deadline always wins so that slow backends surface as timeouts.
func Classify(ctx context.Context, err error) *apierror.BackendError {
	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return &apierror.BackendError{Code: apierror.CodeTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &apierror.BackendError{Code: apierror.CodeTimeout, Err: err}
	}
	var berr *apierror.BackendError
	if errors.As(err, &berr) {
		return berr
	}
	return &apierror.BackendError{Code: apierror.CodeTransport, Err: err}
}

// Retryable reports whether a failed call may be attempted again.
func Retryable(err *apierror.BackendError) bool {
	if err == nil {
		return false
	}
	switch err.Code {
	case apierror.CodeTransport:
		return !errors.Is(err.Err, context.Canceled)
	case apierror.CodeTimeout, apierror.CodePredictionFailed:
		return false
	}
	switch err.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// NewHTTPClient returns the transport shared by backends across invocations.
// Deadlines come from the request context, not from the client.
func NewHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	return &http.Client{Transport: transport}
}

// StatusError builds the backend error for a non-2xx upstream reply,
// keeping a short excerpt of the body for logs only.
func StatusError(status int, body []byte) *apierror.BackendError {
	const maxExcerpt = 512
	if len(body) > maxExcerpt {
		body = body[:maxExcerpt]
	}
	return apierror.UpstreamStatus(status, fmt.Errorf("upstream status %d: %s", status, string(body)))
}
