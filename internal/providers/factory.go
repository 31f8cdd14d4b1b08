package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ncecere/cerebro/internal/config"
	"github.com/ncecere/cerebro/internal/inference"
)

// Builder constructs the inference backend described by cfg. httpClient is
// shared across invocations.
type Builder func(ctx context.Context, cfg config.BackendConfig, httpClient *http.Client) (inference.Backend, error)

// Factory builds backends from configuration using a registry of builders.
type Factory struct {
	builders   map[string]Builder
	httpClient *http.Client
}

// NewFactory creates a factory with the default registry. A nil httpClient
// gets a fresh pooled client.
func NewFactory(httpClient *http.Client) *Factory {
	if httpClient == nil {
		httpClient = inference.NewHTTPClient()
	}
	return &Factory{builders: cloneDefaultBuilders(), httpClient: httpClient}
}

// Register allows tests or callers to override backend builders.
func (f *Factory) Register(name string, builder Builder) {
	if f.builders == nil {
		f.builders = make(map[string]Builder)
	}
	f.builders[strings.ToLower(name)] = builder
}

// Build instantiates the backend selected by cfg.Provider.
func (f *Factory) Build(ctx context.Context, cfg config.BackendConfig) (inference.Backend, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	builder, ok := f.builders[name]
	if !ok {
		return nil, fmt.Errorf("backend provider %q unsupported", cfg.Provider)
	}
	backend, err := builder(ctx, cfg, f.httpClient)
	if err != nil {
		return nil, fmt.Errorf("backend provider %q: %w", name, err)
	}
	return backend, nil
}
