// Package embed is the registry of embedding providers. Providers turn the
// embeddable text fields of memory items, and retrieval query text, into
// vectors for the ANN index.
package embed

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings from text. Vectors shorter than the
// store's fixed dimension are zero-padded by the callers, so providers with
// different native dimensions can share one index.
type Embedder interface {
	// EmbedTexts returns one embedding per input text, in input order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// ModelName identifies the embedding model, stored with each vector.
	ModelName() string
	// Dimension is the provider's native vector dimension.
	Dimension() int
}

// Loader creates an Embedder from the config carried by ctx.
type Loader func(ctx context.Context) (Embedder, error)

// Plugin is one registered provider, selected by name.
type Plugin struct {
	Name   string
	Loader Loader
}

var (
	loaders = map[string]Loader{}
	names   []string
)

// Register adds a provider. Called from init() in plugin packages.
func Register(p Plugin) {
	if _, dup := loaders[p.Name]; !dup {
		names = append(names, p.Name)
	}
	loaders[p.Name] = p.Loader
}

// Names lists the registered providers in registration order.
func Names() []string {
	return names
}

// Select returns the loader for the named provider.
func Select(name string) (Loader, error) {
	loader, ok := loaders[name]
	if !ok {
		return nil, fmt.Errorf("unknown embedder %q; valid: %v", name, Names())
	}
	return loader, nil
}
