package providers

import (
	"context"
	"net/http"

	"github.com/ncecere/cerebro/internal/adapters/replicate"
	"github.com/ncecere/cerebro/internal/config"
	"github.com/ncecere/cerebro/internal/inference"
)

func init() {
	RegisterDefinition(Definition{
		Name:        "replicate",
		Description: "Replicate predictions API (sync wait with polling fallback)",
		Builder:     buildReplicateBackend,
	})
}

func buildReplicateBackend(_ context.Context, cfg config.BackendConfig, httpClient *http.Client) (inference.Backend, error) {
	return replicate.New(replicate.Options{
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		Version:      cfg.Version,
		PreferWait:   cfg.PreferWait,
		PollInterval: cfg.PollInterval,
		HTTPClient:   httpClient,
	})
}
