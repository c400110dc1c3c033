package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/tessellated-ai/temporal-memory-service/internal/model"
	"github.com/tessellated-ai/temporal-memory-service/internal/plugin/store/postgres"
	registrymigrate "github.com/tessellated-ai/temporal-memory-service/internal/registry/migrate"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	"github.com/tessellated-ai/temporal-memory-service/internal/testutil/testpg"
)

func setupTestStore(t *testing.T) (registrystore.MemoryStore, context.Context) {
	t.Helper()

	dbURL := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)

	// Ensure postgres store plugin is registered
	_ = postgres.ForceImport

	err := registrymigrate.RunAll(ctx)
	require.NoError(t, err)

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)

	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store, ctx
}

func orgScope(org string) registrystore.Scope {
	return registrystore.Scope{OrganizationID: org}
}

func userScope(org, user string) registrystore.Scope {
	return registrystore.Scope{OrganizationID: org, UserID: &user}
}

func newSemantic(org, name, summary string) *model.SemanticItem {
	item := &model.SemanticItem{Name: name, Summary: summary}
	item.OrganizationID = org
	item.ImportanceScore = 0.5
	return item
}

func newChat(org, session, role, content string) *model.ChatMessage {
	item := &model.ChatMessage{SessionID: session, Role: role, Content: content}
	item.OrganizationID = org
	item.ImportanceScore = 0.5
	return item
}

func TestCreateAndGetItem(t *testing.T) {
	store, ctx := setupTestStore(t)

	item := newSemantic("org1", "go", "Go is a statically typed language")
	require.NoError(t, store.CreateItem(ctx, item))
	assert.NotEmpty(t, item.GetID())
	assert.Contains(t, item.GetID(), "sem-")
	assert.False(t, item.GetCreatedAt().IsZero())
	assert.Equal(t, model.OpCreated, item.LastModified.Operation)

	got, err := store.GetItem(ctx, orgScope("org1"), model.KindSemantic, item.GetID())
	require.NoError(t, err)
	sem, ok := got.(*model.SemanticItem)
	require.True(t, ok)
	assert.Equal(t, "go", sem.Name)
	assert.Equal(t, "Go is a statically typed language", sem.Summary)
	assert.InDelta(t, 0.5, sem.ImportanceScore, 1e-9)
}

func TestGetItemNotFound(t *testing.T) {
	store, ctx := setupTestStore(t)

	_, err := store.GetItem(ctx, orgScope("org1"), model.KindSemantic, "sem-missing")
	var notFound *registrystore.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "semantic", notFound.Resource)
}

func TestTenantIsolation(t *testing.T) {
	store, ctx := setupTestStore(t)

	orgWide := newSemantic("org1", "shared", "visible to the whole organization")
	require.NoError(t, store.CreateItem(ctx, orgWide))

	alicePrivate := newSemantic("org1", "private", "alice only")
	alice := "alice"
	alicePrivate.UserID = &alice
	require.NoError(t, store.CreateItem(ctx, alicePrivate))

	otherOrg := newSemantic("org2", "elsewhere", "different tenant")
	require.NoError(t, store.CreateItem(ctx, otherOrg))

	// A different org never sees org1 items.
	_, err := store.GetItem(ctx, orgScope("org2"), model.KindSemantic, orgWide.GetID())
	var notFound *registrystore.NotFoundError
	assert.True(t, errors.As(err, &notFound))

	// Bob sees the org-wide item but not alice's.
	_, err = store.GetItem(ctx, userScope("org1", "bob"), model.KindSemantic, orgWide.GetID())
	assert.NoError(t, err)
	_, err = store.GetItem(ctx, userScope("org1", "bob"), model.KindSemantic, alicePrivate.GetID())
	assert.True(t, errors.As(err, &notFound))

	// Alice sees both.
	_, err = store.GetItem(ctx, userScope("org1", "alice"), model.KindSemantic, alicePrivate.GetID())
	assert.NoError(t, err)

	// An org-level call sees everything in the org.
	counts, err := store.CountItems(ctx, orgScope("org1"), []model.Kind{model.KindSemantic})
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.KindSemantic])
}

func TestCreateItemValidation(t *testing.T) {
	store, ctx := setupTestStore(t)

	var invariant *registrystore.InvariantViolationError

	missingOrg := &model.SemanticItem{Name: "x", Summary: "y"}
	err := store.CreateItem(ctx, missingOrg)
	require.True(t, errors.As(err, &invariant))
	assert.Equal(t, "organizationId", invariant.Field)

	badImportance := newSemantic("org1", "x", "y")
	badImportance.ImportanceScore = 1.5
	err = store.CreateItem(ctx, badImportance)
	require.True(t, errors.As(err, &invariant))
	assert.Equal(t, "importanceScore", invariant.Field)

	missingSummary := newSemantic("org1", "x", "")
	err = store.CreateItem(ctx, missingSummary)
	require.True(t, errors.As(err, &invariant))
	assert.Equal(t, "fields", invariant.Field)
}

func TestCreateItemDuplicateID(t *testing.T) {
	store, ctx := setupTestStore(t)

	item := newSemantic("org1", "dup", "first")
	item.SetID("sem-fixed")
	require.NoError(t, store.CreateItem(ctx, item))

	again := newSemantic("org1", "dup", "second")
	again.SetID("sem-fixed")
	err := store.CreateItem(ctx, again)
	var conflict *registrystore.ConflictError
	assert.True(t, errors.As(err, &conflict))
}

func TestUpdateItemKeepsImmutableFields(t *testing.T) {
	store, ctx := setupTestStore(t)

	item := newSemantic("org1", "orig", "original summary")
	require.NoError(t, store.CreateItem(ctx, item))
	createdAt := item.GetCreatedAt()

	item.Summary = "updated summary"
	item.OrganizationID = "org-evil"
	item.SetCreatedAt(time.Now().Add(48 * time.Hour))
	updated, err := store.UpdateItem(ctx, orgScope("org1"), item)
	require.NoError(t, err)

	sem := updated.(*model.SemanticItem)
	assert.Equal(t, "updated summary", sem.Summary)
	assert.Equal(t, "org1", sem.OrganizationID)
	assert.WithinDuration(t, createdAt, sem.GetCreatedAt(), time.Millisecond)
}

func TestUpdateItemNotFound(t *testing.T) {
	store, ctx := setupTestStore(t)

	item := newSemantic("org1", "ghost", "never created")
	item.SetID("sem-ghost")
	_, err := store.UpdateItem(ctx, orgScope("org1"), item)
	var notFound *registrystore.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestDeleteItem(t *testing.T) {
	store, ctx := setupTestStore(t)

	item := newSemantic("org1", "gone", "to be deleted")
	require.NoError(t, store.CreateItem(ctx, item))

	require.NoError(t, store.DeleteItem(ctx, orgScope("org1"), model.KindSemantic, item.GetID()))

	err := store.DeleteItem(ctx, orgScope("org1"), model.KindSemantic, item.GetID())
	var notFound *registrystore.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestListItemsPagination(t *testing.T) {
	store, ctx := setupTestStore(t)

	for i := 0; i < 5; i++ {
		item := newSemantic("org1", fmt.Sprintf("item-%d", i), "pagination test")
		item.SetCreatedAt(time.Now().UTC().Add(time.Duration(i) * time.Second))
		require.NoError(t, store.CreateItem(ctx, item))
	}

	page1, err := store.ListItems(ctx, orgScope("org1"), registrystore.ListQuery{Kind: model.KindSemantic, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page1.Data, 3)
	require.NotNil(t, page1.AfterCursor)
	// Newest first.
	assert.Equal(t, "item-4", page1.Data[0].(*model.SemanticItem).Name)

	page2, err := store.ListItems(ctx, orgScope("org1"), registrystore.ListQuery{
		Kind: model.KindSemantic, Limit: 3, AfterCursor: page1.AfterCursor,
	})
	require.NoError(t, err)
	assert.Len(t, page2.Data, 2)
	assert.Nil(t, page2.AfterCursor)

	seen := map[string]bool{}
	for _, item := range append(page1.Data, page2.Data...) {
		seen[item.GetID()] = true
	}
	assert.Len(t, seen, 5, "pages must not overlap")
}

func TestListChatBySession(t *testing.T) {
	store, ctx := setupTestStore(t)

	require.NoError(t, store.CreateItem(ctx, newChat("org1", "s1", model.RoleUser, "hello")))
	require.NoError(t, store.CreateItem(ctx, newChat("org1", "s1", model.RoleAssistant, "hi there")))
	require.NoError(t, store.CreateItem(ctx, newChat("org1", "s2", model.RoleUser, "other session")))

	session := "s1"
	page, err := store.ListItems(ctx, orgScope("org1"), registrystore.ListQuery{
		Kind: model.KindChat, SessionID: &session, Limit: 10,
	})
	require.NoError(t, err)
	assert.Len(t, page.Data, 2)

	// Session filter is chat-only.
	_, err = store.ListItems(ctx, orgScope("org1"), registrystore.ListQuery{
		Kind: model.KindSemantic, SessionID: &session, Limit: 10,
	})
	var invariant *registrystore.InvariantViolationError
	assert.True(t, errors.As(err, &invariant))
}

func TestListSessions(t *testing.T) {
	store, ctx := setupTestStore(t)

	require.NoError(t, store.CreateItem(ctx, newChat("org1", "s1", model.RoleUser, "first")))
	require.NoError(t, store.CreateItem(ctx, newChat("org1", "s1", model.RoleAssistant, "second")))
	require.NoError(t, store.CreateItem(ctx, newChat("org1", "s2", model.RoleUser, "third")))

	sessions, err := store.ListSessions(ctx, orgScope("org1"), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	bySession := map[string]int64{}
	for _, s := range sessions {
		bySession[s.SessionID] = s.MessageCount
	}
	assert.Equal(t, int64(2), bySession["s1"])
	assert.Equal(t, int64(1), bySession["s2"])
}

func TestSearchLexical(t *testing.T) {
	store, ctx := setupTestStore(t)

	require.NoError(t, store.CreateItem(ctx, newSemantic("org1", "docker", "docker compose configuration for local development")))
	require.NoError(t, store.CreateItem(ctx, newSemantic("org1", "k8s", "kubernetes deployment manifests")))
	require.NoError(t, store.CreateItem(ctx, newChat("org1", "s1", model.RoleUser, "how do I run docker compose?")))
	require.NoError(t, store.CreateItem(ctx, newSemantic("org2", "docker", "docker notes in another org")))

	hits, err := store.SearchLexical(ctx, orgScope("org1"), "docker comp", nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2, "matches across kinds, scoped to the org")
	for _, hit := range hits {
		assert.Greater(t, hit.Score, 0.0)
		assert.Equal(t, "org1", hit.Item.Tenant().OrganizationID)
	}

	// Kind filter narrows the search.
	hits, err = store.SearchLexical(ctx, orgScope("org1"), "docker", []model.Kind{model.KindChat}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, model.KindChat, hits[0].Item.ItemKind())

	// Queries with only special characters match nothing.
	hits, err = store.SearchLexical(ctx, orgScope("org1"), "&&& |||", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchRecent(t *testing.T) {
	store, ctx := setupTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	old := newSemantic("org1", "old", "created first")
	old.SetCreatedAt(base)
	require.NoError(t, store.CreateItem(ctx, old))

	mid := newChat("org1", "s1", model.RoleUser, "created second")
	mid.SetCreatedAt(base.Add(time.Minute))
	require.NoError(t, store.CreateItem(ctx, mid))

	newest := newSemantic("org1", "new", "created last")
	newest.SetCreatedAt(base.Add(2 * time.Minute))
	require.NoError(t, store.CreateItem(ctx, newest))

	items, err := store.SearchRecent(ctx, orgScope("org1"), nil, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, newest.GetID(), items[0].GetID())
	assert.Equal(t, mid.GetID(), items[1].GetID())
}

func TestApplyAccess(t *testing.T) {
	store, ctx := setupTestStore(t)

	item := newSemantic("org1", "hot", "frequently accessed")
	require.NoError(t, store.CreateItem(ctx, item))

	now := time.Now().UTC().Truncate(time.Microsecond)
	err := store.ApplyAccess(ctx, orgScope("org1"), registrystore.AccessUpdate{
		Kind: model.KindSemantic, ID: item.GetID(), Observed: 0, AccessedAt: now,
	})
	require.NoError(t, err)

	got, err := store.GetItem(ctx, orgScope("org1"), model.KindSemantic, item.GetID())
	require.NoError(t, err)
	tf := got.Temporal()
	assert.Equal(t, int64(1), tf.AccessCount)
	require.NotNil(t, tf.LastAccessedAt)
	assert.WithinDuration(t, now, *tf.LastAccessedAt, time.Millisecond)
	assert.Equal(t, model.OpAccessed, tf.LastModified.Operation)

	// A stale observed counter still lands via the retry path.
	err = store.ApplyAccess(ctx, orgScope("org1"), registrystore.AccessUpdate{
		Kind: model.KindSemantic, ID: item.GetID(), Observed: 0, AccessedAt: now,
	})
	require.NoError(t, err)
	got, err = store.GetItem(ctx, orgScope("org1"), model.KindSemantic, item.GetID())
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Temporal().AccessCount)

	// Access on a deleted item is a no-op.
	err = store.ApplyAccess(ctx, orgScope("org1"), registrystore.AccessUpdate{
		Kind: model.KindSemantic, ID: "sem-gone", Observed: 0, AccessedAt: now,
	})
	assert.NoError(t, err)
}

func TestApplyAccessRehearsal(t *testing.T) {
	store, ctx := setupTestStore(t)

	item := newSemantic("org1", "boost", "rehearsed on retrieval")
	item.ImportanceScore = 0.98
	require.NoError(t, store.CreateItem(ctx, item))

	now := time.Now().UTC()
	err := store.ApplyAccess(ctx, orgScope("org1"), registrystore.AccessUpdate{
		Kind: model.KindSemantic, ID: item.GetID(), Observed: 0, Rehearse: true, AccessedAt: now,
	})
	require.NoError(t, err)

	got, err := store.GetItem(ctx, orgScope("org1"), model.KindSemantic, item.GetID())
	require.NoError(t, err)
	tf := got.Temporal()
	assert.Equal(t, int64(1), tf.RehearsalCount)
	assert.InDelta(t, 1.0, tf.ImportanceScore, 1e-9, "boost clamps at the maximum")
	assert.Equal(t, model.OpRehearsed, tf.LastModified.Operation)
}

func TestScanForDecayAndDeleteBatch(t *testing.T) {
	store, ctx := setupTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		item := newSemantic("org1", fmt.Sprintf("decay-%d", i), "decay scan target")
		// Insert newest first so the scan order cannot be insert order.
		item.SetCreatedAt(base.Add(time.Duration(-i) * time.Minute))
		require.NoError(t, store.CreateItem(ctx, item))
		ids = append(ids, item.GetID())
	}
	other := newSemantic("org2", "untouched", "different org")
	require.NoError(t, store.CreateItem(ctx, other))

	var scanned []string
	var scannedAt []time.Time
	var after *registrystore.ScanCursor
	for {
		batch, err := store.ScanForDecay(ctx, "org1", nil, model.KindSemantic, after, 2)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		for _, item := range batch {
			scanned = append(scanned, item.GetID())
			scannedAt = append(scannedAt, item.GetCreatedAt())
		}
		last := batch[len(batch)-1]
		after = &registrystore.ScanCursor{CreatedAt: last.GetCreatedAt(), ID: last.GetID()}
	}
	assert.ElementsMatch(t, ids, scanned)
	assert.IsNonDecreasing(t, scannedAt, "keyset pagination walks oldest first")

	deleted, err := store.DeleteBatch(ctx, "org1", model.KindSemantic, ids[:2])
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	counts, err := store.CountItems(ctx, orgScope("org1"), []model.Kind{model.KindSemantic})
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[model.KindSemantic])
}

func TestListOrganizations(t *testing.T) {
	store, ctx := setupTestStore(t)

	require.NoError(t, store.CreateItem(ctx, newSemantic("org-b", "x", "y")))
	require.NoError(t, store.CreateItem(ctx, newChat("org-a", "s1", model.RoleUser, "hello")))

	orgs, err := store.ListOrganizations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"org-a", "org-b"}, orgs)
}

func TestScanForDecayUserScope(t *testing.T) {
	store, ctx := setupTestStore(t)

	alice := "alice"
	mine := newSemantic("org1", "mine", "belongs to alice")
	mine.UserID = &alice
	require.NoError(t, store.CreateItem(ctx, mine))
	shared := newSemantic("org1", "shared", "organization wide")
	require.NoError(t, store.CreateItem(ctx, shared))

	batch, err := store.ScanForDecay(ctx, "org1", &alice, model.KindSemantic, nil, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1, "a user sweep never touches organization-wide rows")
	assert.Equal(t, mine.GetID(), batch[0].GetID())
}

func TestDistribution(t *testing.T) {
	store, ctx := setupTestStore(t)

	for i, score := range []float64{0.05, 0.15, 0.15, 1.0} {
		item := newSemantic("org1", fmt.Sprintf("dist-%d", i), "distribution sample")
		item.ImportanceScore = score
		item.AccessCount = int64(i * 10)
		require.NoError(t, store.CreateItem(ctx, item))
	}

	buckets, err := store.Distribution(ctx, orgScope("org1"), model.KindSemantic, registrystore.DistImportance, 10)
	require.NoError(t, err)
	require.Len(t, buckets, 10)
	assert.Equal(t, int64(1), buckets[0].Count)
	assert.Equal(t, int64(2), buckets[1].Count)
	assert.Equal(t, int64(1), buckets[9].Count, "importance of exactly 1.0 lands in the top bucket")

	buckets, err = store.Distribution(ctx, orgScope("org1"), model.KindSemantic, registrystore.DistAccessCount, 3)
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	var total int64
	for _, b := range buckets {
		total += b.Count
	}
	assert.Equal(t, int64(4), total)
	assert.InDelta(t, 0, buckets[0].Low, 1e-9)
	assert.InDelta(t, 30, buckets[2].High, 1e-9, "bounds stretch to the scoped max")

	_, err = store.Distribution(ctx, orgScope("org1"), model.KindSemantic, "bogus", 3)
	var invariant *registrystore.InvariantViolationError
	assert.ErrorAs(t, err, &invariant)

	buckets, err = store.Distribution(ctx, orgScope("empty-org"), model.KindSemantic, registrystore.DistAgeDays, 5)
	require.NoError(t, err)
	require.Len(t, buckets, 5)
	for _, b := range buckets {
		assert.Zero(t, b.Count)
	}
}

func TestUnindexedTracking(t *testing.T) {
	store, ctx := setupTestStore(t)

	item := newSemantic("org1", "pending", "awaiting vector indexing")
	require.NoError(t, store.CreateItem(ctx, item))

	pending, err := store.ListUnindexed(ctx, model.KindSemantic, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, item.GetID(), pending[0].GetID())

	require.NoError(t, store.MarkIndexed(ctx, model.KindSemantic, item.GetID(), time.Now().UTC()))

	pending, err = store.ListUnindexed(ctx, model.KindSemantic, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTransactionRollback(t *testing.T) {
	store, ctx := setupTestStore(t)

	boom := errors.New("boom")
	err := store.Transaction(ctx, func(tx registrystore.MemoryStore) error {
		if err := tx.CreateItem(ctx, newSemantic("org1", "tx", "rolled back")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	counts, err := store.CountItems(ctx, orgScope("org1"), []model.Kind{model.KindSemantic})
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[model.KindSemantic])
}
