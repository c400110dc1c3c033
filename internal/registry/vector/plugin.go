package vector

import (
	"context"
	"fmt"

	"github.com/tessellated-ai/temporal-memory-service/internal/model"
	"github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
)

// SearchResult represents a single vector search hit. Score is cosine
// similarity in [0, 1]. An item indexed under several fields can produce
// several hits; callers aggregate per item.
type SearchResult struct {
	ItemID string     `json:"itemId"`
	Kind   model.Kind `json:"kind"`
	Field  string     `json:"field"`
	Score  float64    `json:"score"`
}

// UpsertRequest holds the data for a single embedding upsert.
type UpsertRequest struct {
	ItemID         string
	Kind           model.Kind
	Field          string
	OrganizationID string
	UserID         *string
	Embedding      []float32
	ModelName      string
}

// VectorStore defines the interface for vector search backends.
type VectorStore interface {
	// Search performs a semantic search scoped to one tenant.
	Search(ctx context.Context, embedding []float32, scope store.Scope, kinds []model.Kind, limit int) ([]SearchResult, error)
	// Upsert stores or updates embeddings for a batch of item fields.
	Upsert(ctx context.Context, requests []UpsertRequest) error
	// DeleteItems removes every embedding belonging to the given items.
	DeleteItems(ctx context.Context, kind model.Kind, itemIDs []string) error
	// IsEnabled returns true if the vector store is configured and operational.
	IsEnabled() bool
	// Name returns the plugin name (e.g. "qdrant", "pgvector").
	Name() string
}

// Loader creates a VectorStore from config.
type Loader func(ctx context.Context) (VectorStore, error)

// Plugin represents a vector store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector store %q; valid: %v", name, Names())
}
