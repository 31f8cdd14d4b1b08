// Command invokeevent runs the completions handler once against a gateway
// event read from a file or stdin and prints the gateway response.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ncecere/cerebro/internal/app"
	"github.com/ncecere/cerebro/internal/config"
	"github.com/ncecere/cerebro/internal/gateway"
	"github.com/ncecere/cerebro/internal/observability"
)

func main() {
	configFile := flag.String("config", "", "config file (defaults to cerebro.yaml lookup)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	// The event tool never serves traffic.
	cfg.Observability = config.ObservabilityConfig{}
	cfg.Idempotency.Enabled = false
	cfg.Redis = config.RedisConfig{}

	evt, err := readEvent(flag.Arg(0))
	if err != nil {
		log.Fatalf("read event: %v", err)
	}

	logger := observability.NewLogger(cfg.Logging, os.Stderr)
	container, err := app.NewContainer(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		log.Fatalf("build container: %v", err)
	}

	resp := container.Handler.Handle(ctx, evt)
	_ = container.Close(context.Background())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		log.Fatalf("write response: %v", err)
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func readEvent(path string) (gateway.Event, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return gateway.Event{}, err
	}
	var evt gateway.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return gateway.Event{}, fmt.Errorf("decode event: %w", err)
	}
	expandHeaders(&evt)
	return evt, nil
}

// expandHeaders resolves ${VAR} references in header values so tokens can
// stay in the environment. The body is passed through untouched.
func expandHeaders(evt *gateway.Event) {
	for k, v := range evt.Headers {
		evt.Headers[k] = os.ExpandEnv(v)
	}
	for k, vs := range evt.MultiValueHeaders {
		for i, v := range vs {
			vs[i] = os.ExpandEnv(v)
		}
		evt.MultiValueHeaders[k] = vs
	}
}
