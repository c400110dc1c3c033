package service

import (
	"context"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tessellated-ai/temporal-memory-service/internal/clock"
	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/tessellated-ai/temporal-memory-service/internal/model"
	registryembed "github.com/tessellated-ai/temporal-memory-service/internal/registry/embed"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	registryvector "github.com/tessellated-ai/temporal-memory-service/internal/registry/vector"
	"github.com/tessellated-ai/temporal-memory-service/internal/security"
	"github.com/tessellated-ai/temporal-memory-service/internal/temporal"
)

// Retriever runs the scored retrieval pipeline: gather candidates from the
// lexical and vector indexes, rank by combined relevance and temporal
// utility, then record the access on everything returned.
type Retriever struct {
	store    registrystore.MemoryStore
	vector   registryvector.VectorStore
	embedder registryembed.Embedder
	engine   temporal.Engine
	clock    clock.Clock
	cfg      *config.Config
}

func NewRetriever(store registrystore.MemoryStore, vector registryvector.VectorStore, embedder registryembed.Embedder, cfg *config.Config, clk clock.Clock) *Retriever {
	if clk == nil {
		clk = clock.System()
	}
	return &Retriever{
		store:    store,
		vector:   vector,
		embedder: embedder,
		engine:   temporal.NewEngine(cfg.Temporal),
		clock:    clk,
		cfg:      cfg,
	}
}

// RetrieveRequest describes one retrieval call. A request with neither
// Query nor Vector returns the most recent items ranked by temporal
// utility alone.
type RetrieveRequest struct {
	Scope registrystore.Scope
	Query string
	// Vector is an optional pre-computed query embedding. When set it is
	// used directly and the query text is never embedded.
	Vector []float32
	Kinds  []model.Kind
	Limit  int
	// WeightRelevance and WeightTemporal override the configured combined
	// score weights for this call when non-nil.
	WeightRelevance *float64
	WeightTemporal  *float64
}

// RetrievedItem is one ranked result.
type RetrievedItem struct {
	Item      model.MemoryItem
	Relevance float64
	Temporal  float64
	Combined  float64
	AgeDays   float64
	Rehearsed bool
}

// RetrieveResult carries ranked items plus a degradation marker set when the
// vector backend was unreachable and the result is lexical-only.
type RetrieveResult struct {
	Items          []RetrievedItem
	VectorDegraded bool
	// ScannedCandidates counts the merged candidates scored before the
	// ranking cut, returned items included.
	ScannedCandidates int
	Elapsed           time.Duration
}

type candidate struct {
	item      model.MemoryItem
	relevance float64
}

func (r *Retriever) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	start := time.Now()
	defer func() {
		if security.RetrievalLatency != nil {
			security.RetrievalLatency.Observe(time.Since(start).Seconds())
		}
	}()

	limit := req.Limit
	if limit <= 0 {
		limit = r.cfg.DefaultRetrievalLimit
	}
	// Over-fetch so temporal ranking has room to reorder beyond the top
	// relevance hits.
	candidateLimit := max(limit*5, 50)
	if candidateLimit > r.cfg.CandidateStoreLimit {
		candidateLimit = r.cfg.CandidateStoreLimit
	}

	wRel := r.cfg.Temporal.RetrievalWeightRelevance
	if req.WeightRelevance != nil {
		wRel = *req.WeightRelevance
	}
	wTmp := r.cfg.Temporal.RetrievalWeightTemporal
	if req.WeightTemporal != nil {
		wTmp = *req.WeightTemporal
	}

	now := r.clock.Now()
	result := &RetrieveResult{}

	// Candidates merged by item id, keeping the best relevance seen for an
	// item reported by both indexes.
	merged := map[string]*candidate{}
	add := func(item model.MemoryItem, relevance float64) {
		if existing, ok := merged[item.GetID()]; ok {
			if relevance > existing.relevance {
				existing.relevance = relevance
			}
			return
		}
		merged[item.GetID()] = &candidate{item: item, relevance: relevance}
	}

	if req.Query == "" && len(req.Vector) == 0 {
		recent, err := r.store.SearchRecent(ctx, req.Scope, req.Kinds, candidateLimit)
		if err != nil {
			return nil, err
		}
		for _, item := range recent {
			add(item, 0)
		}
	} else {
		if req.Query != "" {
			hits, err := r.store.SearchLexical(ctx, req.Scope, req.Query, req.Kinds, candidateLimit)
			if err != nil {
				return nil, err
			}
			for _, hit := range hits {
				add(hit.Item, r.engine.NormalizeLexical(hit.Score))
			}
		}
		if err := r.addVectorCandidates(ctx, req, candidateLimit, add); err != nil {
			// Vector search is best-effort: degrade to lexical-only
			// instead of failing the request.
			log.Warn("vector search unavailable, serving lexical-only results", "err", err)
			if security.VectorFallbacksTotal != nil {
				security.VectorFallbacksTotal.Inc()
			}
			result.VectorDegraded = true
		}
	}
	result.ScannedCandidates = len(merged)

	ranked := make([]RetrievedItem, 0, len(merged))
	for _, c := range merged {
		ti := temporal.FromModel(c.item)
		tmp := r.engine.TemporalScore(ti, now)
		ranked = append(ranked, RetrievedItem{
			Item:      c.item,
			Relevance: c.relevance,
			Temporal:  tmp,
			Combined:  r.engine.CombinedScoreWeighted(c.relevance, tmp, wRel, wTmp),
			AgeDays:   r.engine.AgeDays(ti, now),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		return temporal.Less(asRanked(ranked[i]), asRanked(ranked[j]))
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	for i := range ranked {
		ranked[i].Rehearsed = r.engine.ShouldRehearse(ranked[i].Relevance)
	}
	if err := r.touchReturned(ctx, req.Scope, now, ranked); err != nil {
		// The items were already chosen; losing a counter update must not
		// fail the read.
		log.Error("failed to record item accesses", "err", err)
	}

	result.Items = ranked
	result.Elapsed = time.Since(start)
	return result, nil
}

func asRanked(item RetrievedItem) temporal.Ranked {
	return temporal.Ranked{
		ID:        item.Item.GetID(),
		CreatedAt: item.Item.GetCreatedAt(),
		Relevance: item.Relevance,
		Temporal:  item.Temporal,
		Combined:  item.Combined,
	}
}

func (r *Retriever) addVectorCandidates(ctx context.Context, req RetrieveRequest, limit int, add func(model.MemoryItem, float64)) error {
	if r.vector == nil || !r.vector.IsEnabled() {
		return nil
	}
	var query []float32
	if len(req.Vector) > 0 {
		query = padEmbedding(req.Vector, r.cfg.MaxEmbeddingDim)
	} else {
		if r.embedder == nil {
			return nil
		}
		embeddings, err := r.embedder.EmbedTexts(ctx, []string{req.Query})
		if err != nil {
			return err
		}
		query = padEmbedding(embeddings[0], r.cfg.MaxEmbeddingDim)
	}

	hits, err := r.vector.Search(ctx, query, req.Scope, req.Kinds, limit)
	if err != nil {
		return err
	}

	// An item indexed under several fields can hit more than once; keep the
	// best score, then hydrate per kind.
	best := map[model.Kind]map[string]float64{}
	for _, hit := range hits {
		byID := best[hit.Kind]
		if byID == nil {
			byID = map[string]float64{}
			best[hit.Kind] = byID
		}
		if hit.Score > byID[hit.ItemID] {
			byID[hit.ItemID] = hit.Score
		}
	}
	for kind, byID := range best {
		ids := make([]string, 0, len(byID))
		for id := range byID {
			ids = append(ids, id)
		}
		items, err := r.store.GetItems(ctx, req.Scope, kind, ids)
		if err != nil {
			return err
		}
		for _, item := range items {
			add(item, r.engine.NormalizeVector(byID[item.GetID()]))
		}
	}
	return nil
}

// touchReturned records an access on every returned item, rehearsing the
// high-relevance ones. Updates run in one transaction, ordered by id so
// concurrent retrievals never deadlock.
func (r *Retriever) touchReturned(ctx context.Context, scope registrystore.Scope, now time.Time, items []RetrievedItem) error {
	if len(items) == 0 {
		return nil
	}
	updates := make([]registrystore.AccessUpdate, len(items))
	for i, ri := range items {
		updates[i] = registrystore.AccessUpdate{
			Kind:       ri.Item.ItemKind(),
			ID:         ri.Item.GetID(),
			Observed:   ri.Item.Temporal().AccessCount,
			Rehearse:   ri.Rehearsed,
			AccessedAt: now,
		}
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].ID < updates[j].ID })

	rehearsed := 0
	err := r.store.Transaction(ctx, func(tx registrystore.MemoryStore) error {
		for _, u := range updates {
			if err := tx.ApplyAccess(ctx, scope, u); err != nil {
				return err
			}
			if u.Rehearse {
				rehearsed++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if rehearsed > 0 && security.RehearsalsTotal != nil {
		security.RehearsalsTotal.Add(float64(rehearsed))
	}
	return nil
}

// padEmbedding pads with zeros or truncates so every vector matches the
// store's fixed dimension.
func padEmbedding(vec []float32, dim int) []float32 {
	if len(vec) == dim {
		return vec
	}
	if len(vec) > dim {
		return vec[:dim]
	}
	padded := make([]float32, dim)
	copy(padded, vec)
	return padded
}
