package items_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/tessellated-ai/temporal-memory-service/internal/plugin/route/items"
	"github.com/tessellated-ai/temporal-memory-service/internal/plugin/store/postgres"
	registrymigrate "github.com/tessellated-ai/temporal-memory-service/internal/registry/migrate"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	"github.com/tessellated-ai/temporal-memory-service/internal/testutil/testpg"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func setupItemsRouter(t *testing.T) *gin.Engine {
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

	gin.SetMode(gin.TestMode)
	router := gin.New()
	items.MountRoutes(router, store, &cfg)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, org string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Organization-ID", org)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestItemLifecycle(t *testing.T) {
	router := setupItemsRouter(t)

	create := doJSON(t, router, http.MethodPost, "/v1/memories/semantic", "org-1", map[string]any{
		"fields": map[string]any{
			"name":    "favorite-color",
			"summary": "The user prefers dark green.",
			"details": "Mentioned while discussing UI themes.",
			"source":  "conversation",
		},
		"importanceScore": 0.8,
		"metadata":        map[string]any{"origin": "test"},
	})
	require.Equal(t, http.StatusCreated, create.Code, create.Body.String())

	var created map[string]any
	require.NoError(t, json.Unmarshal(create.Body.Bytes(), &created))
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	require.Equal(t, 0.8, created["importanceScore"])
	require.Equal(t, "org-1", created["organizationId"])

	get := doJSON(t, router, http.MethodGet, "/v1/memories/semantic/"+id, "org-1", nil)
	require.Equal(t, http.StatusOK, get.Code)

	patch := doJSON(t, router, http.MethodPatch, "/v1/memories/semantic/"+id, "org-1", map[string]any{
		"fields":          map[string]any{"summary": "The user prefers forest green."},
		"importanceScore": 1.5,
	})
	require.Equal(t, http.StatusOK, patch.Code, patch.Body.String())
	var patched map[string]any
	require.NoError(t, json.Unmarshal(patch.Body.Bytes(), &patched))
	require.Equal(t, "The user prefers forest green.", patched["summary"])
	// Importance is clamped into the configured range, not rejected.
	require.Equal(t, 1.0, patched["importanceScore"])

	del := doJSON(t, router, http.MethodDelete, "/v1/memories/semantic/"+id, "org-1", nil)
	require.Equal(t, http.StatusNoContent, del.Code)

	// Deleting again is idempotent.
	again := doJSON(t, router, http.MethodDelete, "/v1/memories/semantic/"+id, "org-1", nil)
	require.Equal(t, http.StatusNoContent, again.Code)

	gone := doJSON(t, router, http.MethodGet, "/v1/memories/semantic/"+id, "org-1", nil)
	require.Equal(t, http.StatusNotFound, gone.Code)
}

func TestCreateRejectsGuardedFields(t *testing.T) {
	router := setupItemsRouter(t)

	resp := doJSON(t, router, http.MethodPost, "/v1/memories/semantic", "org-1", map[string]any{
		"fields": map[string]any{
			"name":        "sneaky",
			"summary":     "x",
			"accessCount": 999,
		},
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, "invariant_violation", body["error"])
	require.Equal(t, "accessCount", body["field"])
}

func TestCreateRequiresOrganizationHeader(t *testing.T) {
	router := setupItemsRouter(t)

	data, err := json.Marshal(map[string]any{"fields": map[string]any{"name": "x", "summary": "y"}})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/memories/semantic", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTenantIsolation(t *testing.T) {
	router := setupItemsRouter(t)

	create := doJSON(t, router, http.MethodPost, "/v1/memories/semantic", "org-1", map[string]any{
		"fields": map[string]any{
			"name":    "private-fact",
			"summary": "only org-1 may see this",
		},
	})
	require.Equal(t, http.StatusCreated, create.Code, create.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(create.Body.Bytes(), &created))
	id := created["id"].(string)

	other := doJSON(t, router, http.MethodGet, "/v1/memories/semantic/"+id, "org-2", nil)
	require.Equal(t, http.StatusNotFound, other.Code)
}

func TestSessionReplay(t *testing.T) {
	router := setupItemsRouter(t)

	for _, msg := range []struct{ role, content string }{
		{"user", "What is the capital of France?"},
		{"assistant", "Paris."},
		{"user", "And of Italy?"},
	} {
		resp := doJSON(t, router, http.MethodPost, "/v1/memories/chat", "org-1", map[string]any{
			"fields": map[string]any{
				"sessionId": "sess-1",
				"role":      msg.role,
				"content":   msg.content,
			},
		})
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	}

	sessions := doJSON(t, router, http.MethodGet, "/v1/sessions", "org-1", nil)
	require.Equal(t, http.StatusOK, sessions.Code)
	var sessionList struct {
		Data []struct {
			SessionID    string `json:"sessionId"`
			MessageCount int64  `json:"messageCount"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(sessions.Body.Bytes(), &sessionList))
	require.Len(t, sessionList.Data, 1)
	require.Equal(t, "sess-1", sessionList.Data[0].SessionID)
	require.EqualValues(t, 3, sessionList.Data[0].MessageCount)

	replay := doJSON(t, router, http.MethodGet, "/v1/sessions/sess-1/messages", "org-1", nil)
	require.Equal(t, http.StatusOK, replay.Code)
	var messages struct {
		Data []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(replay.Body.Bytes(), &messages))
	require.Len(t, messages.Data, 3)
	// Oldest first.
	require.Equal(t, "What is the capital of France?", messages.Data[0].Content)
	require.Equal(t, "And of Italy?", messages.Data[2].Content)
}
