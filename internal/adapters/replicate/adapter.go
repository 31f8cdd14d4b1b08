package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ncecere/cerebro/internal/apierror"
	"github.com/ncecere/cerebro/internal/inference"
	"github.com/ncecere/cerebro/internal/models"
)

const (
	providerName    = "replicate"
	maxResponseSize = 4 << 20
	maxPreferWait   = 60 * time.Second
)

// Options configure the predictions API adapter.
type Options struct {
	BaseURL string
	// Model is "owner/name". Ignored when Version is set.
	Model        string
	Version      string
	PreferWait   time.Duration
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Adapter runs predictions against the Replicate HTTP API.
type Adapter struct {
	baseURL      string
	model        string
	version      string
	preferWait   time.Duration
	pollInterval time.Duration
	httpClient   *http.Client
}

// New validates opts and returns an adapter.
func New(opts Options) (*Adapter, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("replicate: base url required")
	}
	model := strings.Trim(strings.TrimSpace(opts.Model), "/")
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		if model == "" {
			return nil, errors.New("replicate: model or version required")
		}
		if parts := strings.Split(model, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("replicate: model %q must be owner/name", model)
		}
	}
	if opts.PreferWait > maxPreferWait {
		opts.PreferWait = maxPreferWait
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = inference.NewHTTPClient()
	}
	return &Adapter{
		baseURL:      base,
		model:        model,
		version:      version,
		preferWait:   opts.PreferWait,
		pollInterval: opts.PollInterval,
		httpClient:   opts.HTTPClient,
	}, nil
}

func (a *Adapter) Name() string { return providerName }

// Complete creates a prediction and waits for it to reach a terminal state.
// The returned body is the final prediction document.
func (a *Adapter) Complete(ctx context.Context, req models.CompletionRequest, token string) (inference.Output, error) {
	payload, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return inference.Output{}, fmt.Errorf("replicate: encode request: %w", err)
	}

	pred, raw, err := a.create(ctx, payload, token)
	if err != nil {
		return inference.Output{}, err
	}

	for !pred.terminal() {
		select {
		case <-ctx.Done():
			a.cancel(ctx, pred, token)
			return inference.Output{}, ctx.Err()
		case <-time.After(a.pollInterval):
		}
		pred, raw, err = a.poll(ctx, pred, token)
		if err != nil {
			if ctx.Err() != nil {
				a.cancel(ctx, pred, token)
			}
			return inference.Output{}, err
		}
	}

	if pred.Status != statusSucceeded {
		return inference.Output{}, &apierror.BackendError{
			Code: apierror.CodePredictionFailed,
			Err:  fmt.Errorf("prediction %s %s: %s", pred.ID, pred.Status, string(pred.Error)),
		}
	}
	return inference.Output{Provider: providerName, Body: raw}, nil
}

func (a *Adapter) buildRequest(req models.CompletionRequest) predictionRequest {
	var images any = req.ImageURLs
	if len(req.ImageURLs) == 1 {
		images = req.ImageURLs[0]
	}
	return predictionRequest{
		Version: a.version,
		Input: predictionInput{
			Prompt:      req.Prompt,
			ImageURLs:   images,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			DoSample:    req.DoSample,
		},
	}
}

func (a *Adapter) createURL() string {
	if a.version != "" {
		return a.baseURL + "/v1/predictions"
	}
	owner, name, _ := strings.Cut(a.model, "/")
	return a.baseURL + "/v1/models/" + url.PathEscape(owner) + "/" + url.PathEscape(name) + "/predictions"
}

func (a *Adapter) create(ctx context.Context, payload []byte, token string) (prediction, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.createURL(), bytes.NewReader(payload))
	if err != nil {
		return prediction{}, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.preferWait > 0 {
		httpReq.Header.Set("Prefer", preferHeader(a.preferWait))
	}
	return a.do(httpReq, token)
}

// preferHeader renders the wait in whole seconds, rounding up so a
// sub-second wait never becomes wait=0.
func preferHeader(d time.Duration) string {
	secs := (d + time.Second - 1) / time.Second
	return "wait=" + strconv.Itoa(int(secs))
}

func (a *Adapter) poll(ctx context.Context, pred prediction, token string) (prediction, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.getURL(pred), nil)
	if err != nil {
		return pred, nil, err
	}
	next, raw, err := a.do(httpReq, token)
	if err != nil {
		return pred, nil, err
	}
	return next, raw, nil
}

func (a *Adapter) getURL(pred prediction) string {
	if pred.URLs.Get != "" {
		return pred.URLs.Get
	}
	return a.baseURL + "/v1/predictions/" + url.PathEscape(pred.ID)
}

// cancel asks the API to stop a prediction the caller no longer waits for.
func (a *Adapter) cancel(ctx context.Context, pred prediction, token string) {
	target := pred.URLs.Cancel
	if target == "" {
		if pred.ID == "" {
			return
		}
		target = a.baseURL + "/v1/predictions/" + url.PathEscape(pred.ID) + "/cancel"
	}
	cancelCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer done()
	httpReq, err := http.NewRequestWithContext(cancelCtx, http.MethodPost, target, nil)
	if err != nil {
		return
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (a *Adapter) do(httpReq *http.Request, token string) (prediction, []byte, error) {
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return prediction{}, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return prediction{}, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return prediction{}, nil, inference.StatusError(resp.StatusCode, raw)
	}

	var pred prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return prediction{}, nil, &apierror.BackendError{
			Code: apierror.CodeTransport,
			Err:  fmt.Errorf("replicate: decode prediction: %w", err),
		}
	}
	if pred.Status == "" {
		return prediction{}, nil, &apierror.BackendError{
			Code: apierror.CodeTransport,
			Err:  errors.New("replicate: prediction without status"),
		}
	}
	return pred, raw, nil
}
