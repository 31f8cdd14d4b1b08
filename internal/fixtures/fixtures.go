// Package fixtures embeds recorded backend payloads shared by adapter,
// formatter and handler tests.
package fixtures

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed testdata/*
var files embed.FS

// Recorded payloads.
const (
	ReplicateTokens   = "replicate_prediction_tokens.json"
	ReplicateString   = "replicate_prediction_string.json"
	ReplicateStarting = "replicate_prediction_starting.json"
	OpenAIChat        = "openai_chat_completion.json"
	OpenAILegacy      = "openai_completion_legacy.json"
)

// Load decodes the named JSON fixture file into dest.
func Load(name string, dest any) error {
	data, err := Read(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode fixture %s: %w", name, err)
	}
	return nil
}

// Read returns the raw bytes for a fixture file.
func Read(name string) ([]byte, error) {
	data, err := files.ReadFile("testdata/" + name)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", name, err)
	}
	return data, nil
}

// MustRead is Read for test setup; it panics on unknown names.
func MustRead(name string) []byte {
	data, err := Read(name)
	if err != nil {
		panic(err)
	}
	return data
}

// Names lists every embedded fixture.
func Names() []string {
	entries, err := fs.ReadDir(files, "testdata")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}
