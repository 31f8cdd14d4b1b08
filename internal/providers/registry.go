package providers

import (
	"sort"
	"strings"
	"sync"
)

// Definition captures the metadata required to register a backend builder.
type Definition struct {
	Name        string
	Description string
	Builder     Builder
}

var (
	definitionsMu      sync.RWMutex
	defaultDefinitions = map[string]Definition{}
)

// RegisterDefinition stores a backend definition so factories can resolve builders by name.
func RegisterDefinition(def Definition) {
	if def.Builder == nil {
		panic("providers: definition builder required")
	}
	def.Name = strings.ToLower(strings.TrimSpace(def.Name))
	if def.Name == "" {
		panic("providers: definition name required")
	}
	if def.Description == "" {
		def.Description = def.Name
	}
	definitionsMu.Lock()
	defer definitionsMu.Unlock()
	defaultDefinitions[def.Name] = def
}

// DefaultDefinitions returns the registered definitions sorted by name.
func DefaultDefinitions() []Definition {
	definitionsMu.RLock()
	defer definitionsMu.RUnlock()
	defs := make([]Definition, 0, len(defaultDefinitions))
	for _, def := range defaultDefinitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Name < defs[j].Name
	})
	return defs
}

func cloneDefaultBuilders() map[string]Builder {
	definitionsMu.RLock()
	defer definitionsMu.RUnlock()
	builders := make(map[string]Builder, len(defaultDefinitions))
	for name, def := range defaultDefinitions {
		builders[name] = def.Builder
	}
	return builders
}
