package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tessellated-ai/temporal-memory-service/internal/model"
	registryembed "github.com/tessellated-ai/temporal-memory-service/internal/registry/embed"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	registryvector "github.com/tessellated-ai/temporal-memory-service/internal/registry/vector"
)

// BackgroundIndexer polls for unindexed items, generates embeddings for
// their embeddable fields, and stores them in the vector backend.
type BackgroundIndexer struct {
	store    registrystore.MemoryStore
	embedder registryembed.Embedder
	vector   registryvector.VectorStore
	interval time.Duration
	batch    int
	maxDim   int
}

// NewBackgroundIndexer creates a new indexer.
func NewBackgroundIndexer(store registrystore.MemoryStore, embedder registryembed.Embedder, vector registryvector.VectorStore, batchSize, maxDim int) *BackgroundIndexer {
	return &BackgroundIndexer{
		store:    store,
		embedder: embedder,
		vector:   vector,
		interval: 30 * time.Second,
		batch:    batchSize,
		maxDim:   maxDim,
	}
}

// Start begins the background indexing loop. Returns when ctx is cancelled.
func (b *BackgroundIndexer) Start(ctx context.Context) {
	if b.embedder == nil || b.vector == nil || !b.vector.IsEnabled() {
		log.Info("Background indexer disabled (no embedder or vector store)")
		return
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, kind := range model.AllKinds() {
				b.IndexBatch(ctx, kind)
			}
		}
	}
}

// IndexBatch embeds one batch of pending items of the given kind. Returns
// how many items were marked indexed.
func (b *BackgroundIndexer) IndexBatch(ctx context.Context, kind model.Kind) int {
	items, err := b.store.ListUnindexed(ctx, kind, b.batch)
	if err != nil {
		log.Error("Indexer: list unindexed items failed", "kind", kind, "err", err)
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	// One embedding per non-empty embeddable field, batched into a single
	// embed request.
	type pending struct {
		item  model.MemoryItem
		field string
	}
	var texts []string
	var fields []pending
	for _, item := range items {
		for _, ft := range item.EmbeddableFields() {
			if ft.Text == "" {
				continue
			}
			texts = append(texts, ft.Text)
			fields = append(fields, pending{item: item, field: ft.Field})
		}
	}

	if len(texts) > 0 {
		embeddings, err := b.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			log.Error("Indexer: batch embed failed", "kind", kind, "err", err)
			return 0
		}
		upserts := make([]registryvector.UpsertRequest, len(fields))
		for i, p := range fields {
			tenant := p.item.Tenant()
			upserts[i] = registryvector.UpsertRequest{
				ItemID:         p.item.GetID(),
				Kind:           kind,
				Field:          p.field,
				OrganizationID: tenant.OrganizationID,
				UserID:         tenant.UserID,
				Embedding:      padEmbedding(embeddings[i], b.maxDim),
				ModelName:      b.embedder.ModelName(),
			}
		}
		if err := b.vector.Upsert(ctx, upserts); err != nil {
			log.Error("Indexer: batch vector upsert failed", "kind", kind, "err", err)
			return 0
		}
	}

	now := time.Now()
	count := 0
	for _, item := range items {
		if err := b.store.MarkIndexed(ctx, kind, item.GetID(), now); err != nil {
			log.Error("Indexer: mark indexed failed", "itemId", item.GetID(), "err", err)
			continue
		}
		count++
	}
	if count > 0 {
		log.Info("Indexer: indexed items", "kind", kind, "count", count)
	}
	return count
}
