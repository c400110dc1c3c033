// Package local is a deterministic in-process embedder for development and
// tests. It feature-hashes tokens into a fixed-dimension unit vector, so
// identical memory text always embeds identically and overlapping text
// scores a positive cosine similarity. Not a substitute for a learned
// model in production.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	registryembed "github.com/tessellated-ai/temporal-memory-service/internal/registry/embed"
)

const (
	modelName = "feature-hash-v1"
	dimension = 384
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name: "local",
		Loader: func(_ context.Context) (registryembed.Embedder, error) {
			return &HashEmbedder{}, nil
		},
	})
}

// HashEmbedder implements signed feature hashing: each token lands in one
// bucket with sign +1 or -1, which keeps unrelated texts near-orthogonal in
// expectation.
type HashEmbedder struct{}

func (e *HashEmbedder) ModelName() string { return modelName }
func (e *HashEmbedder) Dimension() int    { return dimension }

func (e *HashEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = embedOne(text)
	}
	return out, nil
}

func embedOne(text string) []float32 {
	vec := make([]float32, dimension)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(dimension))
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[bucket] += sign
	}
	return normalize(vec)
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func tokenize(text string) []string {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil
	}
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

var _ registryembed.Embedder = (*HashEmbedder)(nil)
