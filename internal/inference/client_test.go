package inference

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/cerebro/internal/apierror"
	"github.com/ncecere/cerebro/internal/models"
)

type fakeBackend struct {
	calls  atomic.Int32
	tokens []string
	fn     func(ctx context.Context, attempt int) (Output, error)
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Complete(ctx context.Context, _ models.CompletionRequest, token string) (Output, error) {
	n := int(f.calls.Add(1))
	f.tokens = append(f.tokens, token)
	return f.fn(ctx, n)
}

func request() models.CompletionRequest {
	return models.CompletionRequest{
		Prompt:      "How many people?",
		ImageURLs:   []string{"https://a.test/x.jpg"},
		MaxTokens:   10,
		Temperature: 0.7,
		DoSample:    true,
	}
}

func TestCompleteForwardsTokenAndFillsProvider(t *testing.T) {
	backend := &fakeBackend{fn: func(context.Context, int) (Output, error) {
		return Output{Body: []byte(`{"output":"2"}`)}, nil
	}}
	client, err := NewClient(backend, Options{Timeout: time.Second})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), request(), "r8_secret")
	require.NoError(t, err)
	require.Equal(t, "fake", out.Provider)
	require.JSONEq(t, `{"output":"2"}`, string(out.Body))
	require.Equal(t, []string{"r8_secret"}, backend.tokens)
}

func TestCompleteTimesOut(t *testing.T) {
	backend := &fakeBackend{fn: func(ctx context.Context, _ int) (Output, error) {
		<-ctx.Done()
		return Output{}, ctx.Err()
	}}
	client, err := NewClient(backend, Options{Timeout: 20 * time.Millisecond, MaxRetries: 3})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), request(), "tok")
	var berr *apierror.BackendError
	require.ErrorAs(t, err, &berr)
	require.True(t, berr.Timeout())
	require.Equal(t, int32(1), backend.calls.Load())
}

func TestCompleteDoesNotRetryByDefault(t *testing.T) {
	backend := &fakeBackend{fn: func(context.Context, int) (Output, error) {
		return Output{}, StatusError(http.StatusServiceUnavailable, []byte("busy"))
	}}
	client, err := NewClient(backend, Options{Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), request(), "tok")
	require.EqualError(t, err, "upstream_status:503")
	require.Equal(t, int32(1), backend.calls.Load())
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	backend := &fakeBackend{fn: func(_ context.Context, attempt int) (Output, error) {
		if attempt < 3 {
			return Output{}, StatusError(http.StatusTooManyRequests, nil)
		}
		return Output{Body: []byte(`{"output":"ok"}`)}, nil
	}}
	client, err := NewClient(backend, Options{Timeout: time.Second, MaxRetries: 2, RetryBackoff: time.Millisecond})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), request(), "tok")
	require.NoError(t, err)
	require.Equal(t, int32(3), backend.calls.Load())
}

func TestCompleteStopsOnPermanentFailure(t *testing.T) {
	backend := &fakeBackend{fn: func(context.Context, int) (Output, error) {
		return Output{}, StatusError(http.StatusUnauthorized, []byte(`{"detail":"bad token"}`))
	}}
	client, err := NewClient(backend, Options{Timeout: time.Second, MaxRetries: 5, RetryBackoff: time.Millisecond})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), request(), "tok")
	var berr *apierror.BackendError
	require.ErrorAs(t, err, &berr)
	require.Equal(t, http.StatusUnauthorized, berr.StatusCode)
	require.Equal(t, int32(1), backend.calls.Load())
}

func TestClassify(t *testing.T) {
	require.Equal(t, apierror.CodeTimeout, Classify(context.Background(), context.DeadlineExceeded).Code)
	require.Equal(t, apierror.CodeTransport, Classify(context.Background(), errors.New("connection refused")).Code)

	failed := &apierror.BackendError{Code: apierror.CodePredictionFailed}
	require.Same(t, failed, Classify(context.Background(), failed))
}

func TestRetryable(t *testing.T) {
	require.True(t, Retryable(&apierror.BackendError{Code: apierror.CodeTransport, Err: errors.New("reset")}))
	require.False(t, Retryable(&apierror.BackendError{Code: apierror.CodeTransport, Err: context.Canceled}))
	require.False(t, Retryable(&apierror.BackendError{Code: apierror.CodeTimeout}))
	require.True(t, Retryable(StatusError(http.StatusBadGateway, nil)))
	require.False(t, Retryable(StatusError(http.StatusBadRequest, nil)))
	require.False(t, Retryable(nil))
}

func TestNewClientRequiresBackend(t *testing.T) {
	_, err := NewClient(nil, Options{})
	require.Error(t, err)
}
