package retrieve_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/tessellated-ai/temporal-memory-service/internal/model"
	"github.com/tessellated-ai/temporal-memory-service/internal/plugin/route/retrieve"
	"github.com/tessellated-ai/temporal-memory-service/internal/plugin/store/postgres"
	registrymigrate "github.com/tessellated-ai/temporal-memory-service/internal/registry/migrate"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	"github.com/tessellated-ai/temporal-memory-service/internal/service"
	"github.com/tessellated-ai/temporal-memory-service/internal/testutil/testpg"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func setupRetrieveRouter(t *testing.T) (*gin.Engine, registrystore.MemoryStore) {
	t.Helper()

	dbURL := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)

	_ = postgres.ForceImport
	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	retriever := service.NewRetriever(store, nil, nil, &cfg, nil)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	retrieve.MountRoutes(router, retriever)
	return router, store
}

func postRetrieve(t *testing.T, router *gin.Engine, org string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Organization-ID", org)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedSemantic(t *testing.T, store registrystore.MemoryStore, org, name, summary string, importance float64, age time.Duration) {
	t.Helper()
	item := &model.SemanticItem{Name: name, Summary: summary}
	item.OrganizationID = org
	item.ImportanceScore = importance
	item.SetCreatedAt(time.Now().UTC().Add(-age))
	require.NoError(t, store.CreateItem(context.Background(), item))
}

func TestRetrieveResponseContract(t *testing.T) {
	router, store := setupRetrieveRouter(t)
	seedSemantic(t, store, "org-1", "color", "the user prefers dark green themes", 0.8, 48*time.Hour)
	seedSemantic(t, store, "org-1", "editor", "the user writes everything in vim", 0.5, 24*time.Hour)

	resp := postRetrieve(t, router, "org-1", map[string]any{"query": "green themes"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body struct {
		Data []struct {
			Relevance     float64 `json:"relevance"`
			TemporalScore float64 `json:"temporalScore"`
			CombinedScore float64 `json:"combinedScore"`
			AgeDays       float64 `json:"ageDays"`
		} `json:"data"`
		ScannedCandidates int   `json:"scannedCandidates"`
		ElapsedMs         int64 `json:"elapsedMs"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data)
	require.GreaterOrEqual(t, body.ScannedCandidates, len(body.Data))
	require.GreaterOrEqual(t, body.ElapsedMs, int64(0))
	require.InDelta(t, 2, body.Data[0].AgeDays, 0.1, "two-day-old item reports its age")

	// Raw keys, not just zero values decoded by luck.
	raw := map[string]json.RawMessage{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &raw))
	require.Contains(t, raw, "scannedCandidates")
	require.Contains(t, raw, "elapsedMs")
}

func TestRetrieveWeightOverridesFlipRanking(t *testing.T) {
	router, store := setupRetrieveRouter(t)
	// Both items match the query; importance separates them temporally.
	seedSemantic(t, store, "org-1", "important", "shared keyword alpha", 1.0, time.Minute)
	seedSemantic(t, store, "org-1", "unimportant", "shared keyword alpha beta", 0.1, time.Minute)

	temporalOnly := postRetrieve(t, router, "org-1", map[string]any{
		"query":           "alpha",
		"weightOverrides": map[string]any{"relevance": 0.0, "temporal": 1.0},
	})
	require.Equal(t, http.StatusOK, temporalOnly.Code, temporalOnly.Body.String())

	var body struct {
		Data []struct {
			Item map[string]any `json:"item"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(temporalOnly.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	require.Equal(t, "important", body.Data[0].Item["name"])
}

func TestRetrieveRejectsOutOfRangeWeights(t *testing.T) {
	router, _ := setupRetrieveRouter(t)

	resp := postRetrieve(t, router, "org-1", map[string]any{
		"query":           "anything",
		"weightOverrides": map[string]any{"relevance": 2.0},
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, "invalid_query", body["error"])
}
