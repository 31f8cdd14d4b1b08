package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/ncecere/cerebro/internal/inference"
	"github.com/ncecere/cerebro/internal/models"
)

const (
	providerName = "openai"
	// fixedSeed pins sampling when the caller asks for greedy decoding.
	fixedSeed int64 = 0
)

// Options configure the OpenAI-compatible vision adapter.
type Options struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Extra      []option.RequestOption
}

// Adapter sends vision prompts through the chat completions API. The caller's
// bearer token is attached per request; the SDK client carries no key.
type Adapter struct {
	client *openai.Client
	model  string
}

// New builds an adapter. SDK retries are disabled; the inference client owns retry policy.
func New(opts Options) (*Adapter, error) {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, errors.New("openai: model required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = inference.NewHTTPClient()
	}

	requestOpts := []option.RequestOption{
		option.WithHTTPClient(opts.HTTPClient),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(strings.TrimRight(base, "/")+"/"))
	}
	requestOpts = append(requestOpts, opts.Extra...)

	client := openai.NewClient(requestOpts...)
	return &Adapter{client: &client, model: model}, nil
}

func (a *Adapter) Name() string { return providerName }

// Complete performs one non-streaming chat completion and returns the raw reply.
func (a *Adapter) Complete(ctx context.Context, req models.CompletionRequest, token string) (inference.Output, error) {
	resp, err := a.client.Chat.Completions.New(ctx, buildParams(a.model, req), option.WithAPIKey(token))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return inference.Output{}, inference.StatusError(apiErr.StatusCode, []byte(apiErr.Message))
		}
		return inference.Output{}, err
	}

	body := []byte(resp.RawJSON())
	if len(body) == 0 {
		if body, err = json.Marshal(resp); err != nil {
			return inference.Output{}, fmt.Errorf("openai: encode response: %w", err)
		}
	}
	return inference.Output{Provider: providerName, Body: body}, nil
}

func buildParams(model string, req models.CompletionRequest) openai.ChatCompletionNewParams {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(req.ImageURLs)+1)
	parts = append(parts, openai.TextContentPart(req.Prompt))
	for _, u := range req.ImageURLs {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: u}))
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
	}
	params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	if req.DoSample {
		params.Temperature = param.NewOpt(req.Temperature)
	} else {
		params.Temperature = param.NewOpt(0.0)
		params.Seed = param.NewOpt(fixedSeed)
	}
	return params
}
