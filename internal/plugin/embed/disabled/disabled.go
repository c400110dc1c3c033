// Package disabled registers the "none" embedder. Selecting it runs the
// service without vector retrieval: the retriever serves lexical results
// and the background indexer has nothing to embed.
package disabled

import (
	"context"
	"errors"

	registryembed "github.com/tessellated-ai/temporal-memory-service/internal/registry/embed"
)

// ErrNoProvider is returned by every embedding call in this mode.
var ErrNoProvider = errors.New("no embedding provider configured")

func init() {
	registryembed.Register(registryembed.Plugin{
		Name: "none",
		Loader: func(_ context.Context) (registryembed.Embedder, error) {
			return noProvider{}, nil
		},
	})
}

type noProvider struct{}

func (noProvider) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, ErrNoProvider
}

func (noProvider) ModelName() string { return "none" }
func (noProvider) Dimension() int    { return 0 }

var _ registryembed.Embedder = noProvider{}
