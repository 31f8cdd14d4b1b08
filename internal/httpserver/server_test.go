package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/cerebro/internal/app"
	"github.com/ncecere/cerebro/internal/config"
	"github.com/ncecere/cerebro/internal/fixtures"
	"github.com/ncecere/cerebro/internal/inference"
	"github.com/ncecere/cerebro/internal/models"
	"github.com/ncecere/cerebro/internal/observability"
	"github.com/ncecere/cerebro/internal/providers"
)

const zidane = "https://github.com/JimothyJohn/cerebro/blob/master/data/images/zidane.jpg?raw=true"

type recordingBackend struct {
	mu     sync.Mutex
	tokens []string
}

func (b *recordingBackend) Name() string { return "fake" }

func (b *recordingBackend) Complete(_ context.Context, _ models.CompletionRequest, token string) (inference.Output, error) {
	b.mu.Lock()
	b.tokens = append(b.tokens, token)
	b.mu.Unlock()
	return inference.Output{Body: fixtures.MustRead(fixtures.ReplicateTokens)}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{BodyLimitMB: 1, ReadTimeout: 10 * time.Second},
		Backend: config.BackendConfig{
			Provider:     "fake",
			Timeout:      5 * time.Second,
			RetryBackoff: time.Millisecond,
		},
		Defaults: config.DefaultsConfig{
			MaxTokens:      50,
			Temperature:    0.7,
			DoSample:       true,
			MaxTokensLimit: 4096,
			MaxImages:      8,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, backend inference.Backend, opts app.Options) *Server {
	t.Helper()
	factory := providers.NewFactory(nil)
	factory.Register("fake", func(context.Context, config.BackendConfig, *http.Client) (inference.Backend, error) {
		return backend, nil
	})
	opts.Factory = factory
	container, err := app.NewContainer(context.Background(), cfg, opts)
	require.NoError(t, err)
	srv, err := New(container)
	require.NoError(t, err)
	return srv
}

func completionRequest(body, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func countBody() string {
	return `{"prompt":"Tell me how many people are in this image.","image_urls":"` + zidane + `","max_tokens":10,"temperature":0.0,"do_sample":false}`
}

func TestCompletionsEndToEnd(t *testing.T) {
	backend := &recordingBackend{}
	srv := newTestServer(t, testConfig(), backend, app.Options{})

	resp, err := srv.App().Test(completionRequest(countBody(), "r8_abc"), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var completion models.CompletionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&completion))
	require.Equal(t, "2", strings.TrimSpace(completion.Choices[0].Text))
	require.Equal(t, []string{"r8_abc"}, backend.tokens)
}

func TestCompletionsErrors(t *testing.T) {
	backend := &recordingBackend{}
	srv := newTestServer(t, testConfig(), backend, app.Options{})

	tests := []struct {
		name   string
		req    *http.Request
		status int
		msg    string
	}{
		{name: "no auth", req: completionRequest(countBody(), ""), status: http.StatusUnauthorized, msg: "missing_authorization"},
		{name: "no prompt", req: completionRequest(`{"image_urls":"`+zidane+`"}`, "tok"), status: http.StatusBadRequest, msg: "missing_field: prompt"},
		{name: "no images", req: completionRequest(`{"prompt":"Describe the image."}`, "tok"), status: http.StatusBadRequest, msg: "missing_field: image_urls"},
	}
	for _, tt := range tests {
		resp, err := srv.App().Test(tt.req, -1)
		require.NoError(t, err, tt.name)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.Equal(t, tt.status, resp.StatusCode, tt.name)
		require.JSONEq(t, `{"error":"`+tt.msg+`"}`, string(body), tt.name)
	}
	require.Empty(t, backend.tokens)
}

func TestHealthAndMetrics(t *testing.T) {
	server := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	obs, err := observability.NewMetricsOnly(promreg.NewRegistry())
	require.NoError(t, err)

	srv := newTestServer(t, testConfig(), &recordingBackend{}, app.Options{Redis: rdb, Observability: obs})

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	require.Equal(t, "ok", health["status"])
	require.Equal(t, "fake", health["provider"])
	require.Contains(t, health["checks"], "redis")

	resp, err = srv.App().Test(completionRequest(countBody(), "tok"), -1)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = srv.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(metrics), "cerebro_invocations_total")
	require.Contains(t, string(metrics), `route="/v1/completions"`)
}

func TestRateLimitReturns429(t *testing.T) {
	server := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})

	cfg := testConfig()
	cfg.RateLimits = config.RateLimitConfig{RequestsPerMinute: 1}
	backend := &recordingBackend{}
	srv := newTestServer(t, cfg, backend, app.Options{Redis: rdb})

	resp, err := srv.App().Test(completionRequest(countBody(), "tok"), -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.App().Test(completionRequest(countBody(), "tok"), -1)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.JSONEq(t, `{"error":"rate_limit_exceeded"}`, string(body))
	require.Len(t, backend.tokens, 1)
}

func TestNewRequiresContainer(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	_, err = New(&app.Container{})
	require.Error(t, err)
}
