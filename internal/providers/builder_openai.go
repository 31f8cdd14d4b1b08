package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	native "github.com/ncecere/cerebro/internal/adapters/openai"
	"github.com/ncecere/cerebro/internal/config"
	"github.com/ncecere/cerebro/internal/inference"
)

func init() {
	RegisterDefinition(Definition{
		Name:        "openai",
		Description: "OpenAI-compatible chat completions with image_url content parts",
		Builder:     buildOpenAIBackend,
	})
}

func buildOpenAIBackend(_ context.Context, cfg config.BackendConfig, httpClient *http.Client) (inference.Backend, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("openai backend requires backend.model")
	}
	return native.New(native.Options{
		BaseURL:    cfg.BaseURL,
		Model:      model,
		HTTPClient: httpClient,
	})
}
