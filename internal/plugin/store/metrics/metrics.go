package metrics

import (
	"context"
	"time"

	"github.com/tessellated-ai/temporal-memory-service/internal/model"
	"github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	"github.com/tessellated-ai/temporal-memory-service/internal/security"
)

// Wrap returns a MemoryStore that records StoreLatency for every operation.
func Wrap(inner store.MemoryStore) store.MemoryStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.MemoryStore
}

func observe(op string, start time.Time) {
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) CreateItem(ctx context.Context, item model.MemoryItem) error {
	defer observe("create_item", time.Now())
	return m.inner.CreateItem(ctx, item)
}

func (m *metricsStore) GetItem(ctx context.Context, scope store.Scope, kind model.Kind, id string) (model.MemoryItem, error) {
	defer observe("get_item", time.Now())
	return m.inner.GetItem(ctx, scope, kind, id)
}

func (m *metricsStore) UpdateItem(ctx context.Context, scope store.Scope, item model.MemoryItem) (model.MemoryItem, error) {
	defer observe("update_item", time.Now())
	return m.inner.UpdateItem(ctx, scope, item)
}

func (m *metricsStore) DeleteItem(ctx context.Context, scope store.Scope, kind model.Kind, id string) error {
	defer observe("delete_item", time.Now())
	return m.inner.DeleteItem(ctx, scope, kind, id)
}

func (m *metricsStore) ListItems(ctx context.Context, scope store.Scope, query store.ListQuery) (*store.PagedItems, error) {
	defer observe("list_items", time.Now())
	return m.inner.ListItems(ctx, scope, query)
}

func (m *metricsStore) GetItems(ctx context.Context, scope store.Scope, kind model.Kind, ids []string) ([]model.MemoryItem, error) {
	defer observe("get_items", time.Now())
	return m.inner.GetItems(ctx, scope, kind, ids)
}

func (m *metricsStore) ListSessions(ctx context.Context, scope store.Scope, limit int) ([]store.SessionSummary, error) {
	defer observe("list_sessions", time.Now())
	return m.inner.ListSessions(ctx, scope, limit)
}

func (m *metricsStore) SearchLexical(ctx context.Context, scope store.Scope, query string, kinds []model.Kind, limit int) ([]store.LexicalHit, error) {
	defer observe("search_lexical", time.Now())
	return m.inner.SearchLexical(ctx, scope, query, kinds, limit)
}

func (m *metricsStore) SearchRecent(ctx context.Context, scope store.Scope, kinds []model.Kind, limit int) ([]model.MemoryItem, error) {
	defer observe("search_recent", time.Now())
	return m.inner.SearchRecent(ctx, scope, kinds, limit)
}

func (m *metricsStore) ApplyAccess(ctx context.Context, scope store.Scope, update store.AccessUpdate) error {
	defer observe("apply_access", time.Now())
	return m.inner.ApplyAccess(ctx, scope, update)
}

func (m *metricsStore) ListUnindexed(ctx context.Context, kind model.Kind, limit int) ([]model.MemoryItem, error) {
	defer observe("list_unindexed", time.Now())
	return m.inner.ListUnindexed(ctx, kind, limit)
}

func (m *metricsStore) MarkIndexed(ctx context.Context, kind model.Kind, id string, indexedAt time.Time) error {
	defer observe("mark_indexed", time.Now())
	return m.inner.MarkIndexed(ctx, kind, id, indexedAt)
}

func (m *metricsStore) ScanForDecay(ctx context.Context, organizationID string, userID *string, kind model.Kind, after *store.ScanCursor, limit int) ([]model.MemoryItem, error) {
	defer observe("scan_for_decay", time.Now())
	return m.inner.ScanForDecay(ctx, organizationID, userID, kind, after, limit)
}

func (m *metricsStore) DeleteBatch(ctx context.Context, organizationID string, kind model.Kind, ids []string) (int64, error) {
	defer observe("delete_batch", time.Now())
	return m.inner.DeleteBatch(ctx, organizationID, kind, ids)
}

func (m *metricsStore) ListOrganizations(ctx context.Context) ([]string, error) {
	defer observe("list_organizations", time.Now())
	return m.inner.ListOrganizations(ctx)
}

func (m *metricsStore) CountItems(ctx context.Context, scope store.Scope, kinds []model.Kind) (map[model.Kind]int64, error) {
	defer observe("count_items", time.Now())
	return m.inner.CountItems(ctx, scope, kinds)
}

func (m *metricsStore) Distribution(ctx context.Context, scope store.Scope, kind model.Kind, field store.DistributionField, buckets int) ([]store.HistogramBucket, error) {
	defer observe("distribution", time.Now())
	return m.inner.Distribution(ctx, scope, kind, field, buckets)
}

func (m *metricsStore) Transaction(ctx context.Context, fn func(tx store.MemoryStore) error) error {
	defer observe("transaction", time.Now())
	return m.inner.Transaction(ctx, func(tx store.MemoryStore) error {
		return fn(Wrap(tx))
	})
}

func (m *metricsStore) Ping(ctx context.Context) error {
	return m.inner.Ping(ctx)
}

func (m *metricsStore) Close() error {
	return m.inner.Close()
}
