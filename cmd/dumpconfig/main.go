package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/ncecere/cerebro/internal/config"
	"github.com/ncecere/cerebro/internal/providers"
)

func main() {
	configFile := flag.String("config", "", "config file (defaults to cerebro.yaml lookup)")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	names := make([]string, 0)
	for _, def := range providers.DefaultDefinitions() {
		names = append(names, def.Name)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"config":    cfg.Redacted(),
		"providers": names,
	}); err != nil {
		log.Fatalf("encode config: %v", err)
	}
}
