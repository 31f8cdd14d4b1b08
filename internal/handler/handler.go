// Package handler is the entry point for one completions invocation: it
// turns a gateway event into a gateway response and never fails itself.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ncecere/cerebro/internal/apierror"
	"github.com/ncecere/cerebro/internal/cache"
	"github.com/ncecere/cerebro/internal/formatter"
	"github.com/ncecere/cerebro/internal/gateway"
	"github.com/ncecere/cerebro/internal/inference"
	"github.com/ncecere/cerebro/internal/models"
	"github.com/ncecere/cerebro/internal/normalizer"
	"github.com/ncecere/cerebro/internal/observability"
	"github.com/ncecere/cerebro/internal/requestctx"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	headerRequestID      = "X-Request-Id"
)

// Completer is the inference client as seen by the handler.
type Completer interface {
	Provider() string
	Complete(ctx context.Context, req models.CompletionRequest, token string) (inference.Output, error)
}

// Options carries the optional collaborators of a Handler.
type Options struct {
	Cache   *cache.ResponseCache
	Logger  *slog.Logger
	Metrics *observability.Provider
}

// Handler holds only immutable collaborators; every invocation is independent.
type Handler struct {
	normalizer *normalizer.Normalizer
	client     Completer
	cache      *cache.ResponseCache
	logger     *slog.Logger
	metrics    *observability.Provider
}

func New(n *normalizer.Normalizer, client Completer, opts Options) (*Handler, error) {
	if n == nil {
		return nil, errors.New("handler: normalizer required")
	}
	if client == nil {
		return nil, errors.New("handler: inference client required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		normalizer: n,
		client:     client,
		cache:      opts.Cache,
		logger:     logger,
		metrics:    opts.Metrics,
	}, nil
}

type outcome struct {
	body     []byte
	replayed bool
}

// Handle processes one event. Every failure, panics included, becomes a JSON
// error response with the mapped status.
func (h *Handler) Handle(ctx context.Context, evt gateway.Event) (resp gateway.Response) {
	start := time.Now()
	rc := &requestctx.Context{
		RequestID: evt.RequestContext.RequestID,
		SourceIP:  evt.RequestContext.Identity.SourceIP,
		Path:      evt.Path,
	}
	if rc.RequestID == "" {
		rc.RequestID = uuid.NewString()
	}
	ctx = requestctx.WithContext(ctx, rc)

	var (
		out outcome
		err error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		resp = h.respond(out, err, rc.RequestID)
		h.finish(ctx, resp.StatusCode, err, out.replayed, time.Since(start))
	}()

	out, err = h.process(ctx, evt)
	return resp
}

func (h *Handler) process(ctx context.Context, evt gateway.Event) (outcome, error) {
	req, token, err := h.normalizer.Normalize(evt)
	if err != nil {
		return outcome{}, err
	}

	cacheKey := ""
	if h.cache != nil {
		if idem, ok := evt.Header(headerIdempotencyKey); ok {
			cacheKey = cache.Key(token, idem)
		}
		if body, ok := h.cache.Get(ctx, cacheKey); ok {
			return outcome{body: body, replayed: true}, nil
		}
	}

	raw, err := h.client.Complete(ctx, req, token)
	if err != nil {
		return outcome{}, err
	}
	completion, err := formatter.Format(raw)
	if err != nil {
		return outcome{}, err
	}
	body, err := json.Marshal(completion)
	if err != nil {
		return outcome{}, fmt.Errorf("encode completion: %w", err)
	}

	if cacheKey != "" {
		if err := h.cache.Set(ctx, cacheKey, body); err != nil {
			h.logger.Warn("store idempotent response failed",
				slog.String("request_id", requestctx.RequestID(ctx)),
				slog.String("error", err.Error()),
			)
		}
	}
	return outcome{body: body}, nil
}

func (h *Handler) respond(out outcome, err error, requestID string) gateway.Response {
	var resp gateway.Response
	if err != nil {
		status, msg := apierror.Status(err)
		resp = gateway.JSON(status, models.ErrorBody{Error: msg})
	} else {
		resp = gateway.Response{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       string(out.body),
		}
		if out.replayed {
			resp.Headers[headerReplayed] = "true"
		}
	}
	resp.Headers[headerRequestID] = requestID
	return resp
}

func (h *Handler) finish(ctx context.Context, status int, err error, replayed bool, latency time.Duration) {
	kind := apierror.Kind(err)
	h.metrics.RecordInvocation(status, kind)

	attrs := []any{
		slog.String("request_id", requestctx.RequestID(ctx)),
		slog.Int("status", status),
		slog.Int64("latency_ms", latency.Milliseconds()),
		slog.String("provider", h.client.Provider()),
	}
	if replayed {
		attrs = append(attrs, slog.Bool("replayed", true))
	}
	switch {
	case err == nil:
		h.logger.Info("completion served", attrs...)
	case kind == "unexpected":
		attrs = append(attrs, slog.String("error_kind", kind), slog.String("error", err.Error()))
		h.logger.Error("completion failed", attrs...)
	default:
		_, code := apierror.Status(err)
		attrs = append(attrs, slog.String("error_kind", kind), slog.String("error_code", code))
		if status >= http.StatusInternalServerError {
			h.logger.Error("completion failed", attrs...)
		} else {
			h.logger.Warn("completion rejected", attrs...)
		}
	}
}
