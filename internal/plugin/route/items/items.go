package items

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/tessellated-ai/temporal-memory-service/internal/model"
	registryroute "github.com/tessellated-ai/temporal-memory-service/internal/registry/route"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	"github.com/tessellated-ai/temporal-memory-service/internal/security"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// guardedFields are owned by the service, not the write API. The counters
// belong to the retrieval pipeline and the decay task; identity and tenancy
// are assigned at create time and immutable after.
var guardedFields = map[string]bool{
	"id":              true,
	"organizationId":  true,
	"userId":          true,
	"createdAt":       true,
	"accessCount":     true,
	"rehearsalCount":  true,
	"lastAccessedAt":  true,
	"importanceScore": true,
	"lastModified":    true,
	"metadata":        true,
	"indexedAt":       true,
}

// MountRoutes mounts the per-kind memory item write and listing routes.
func MountRoutes(r *gin.Engine, store registrystore.MemoryStore, cfg *config.Config) {
	tenant := security.TenantMiddleware()
	g := r.Group("/v1", tenant)

	g.POST("/memories/:kind", func(c *gin.Context) { createItem(c, store, cfg) })
	g.GET("/memories/:kind", func(c *gin.Context) { listItems(c, store) })
	g.GET("/memories/:kind/:id", func(c *gin.Context) { getItem(c, store) })
	g.PATCH("/memories/:kind/:id", func(c *gin.Context) { updateItem(c, store, cfg) })
	g.DELETE("/memories/:kind/:id", func(c *gin.Context) { deleteItem(c, store) })

	g.GET("/sessions", func(c *gin.Context) { listSessions(c, store) })
	g.GET("/sessions/:sessionId/messages", func(c *gin.Context) { sessionMessages(c, store) })
}

type writeRequest struct {
	Fields          json.RawMessage        `json:"fields"`
	ImportanceScore *float64               `json:"importanceScore"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// checkFields rejects content payloads that carry service-owned columns.
func checkFields(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return fmt.Errorf("fields must be a JSON object: %w", err)
	}
	for key := range keys {
		if guardedFields[key] {
			return &registrystore.InvariantViolationError{
				Field:   key,
				Message: fmt.Sprintf("%s is not writable through this API", key),
			}
		}
	}
	return nil
}

func clampImportance(v float64, cfg *config.Config) float64 {
	if v < cfg.Temporal.MinImportance {
		return cfg.Temporal.MinImportance
	}
	if v > cfg.Temporal.MaxImportance {
		return cfg.Temporal.MaxImportance
	}
	return v
}

func createItem(c *gin.Context, store registrystore.MemoryStore, cfg *config.Config) {
	kind, err := model.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
		return
	}
	var req writeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
		return
	}
	if err := checkFields(req.Fields); err != nil {
		handleError(c, err)
		return
	}

	item, err := model.NewItem(kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
		return
	}
	if len(req.Fields) > 0 {
		if err := json.Unmarshal(req.Fields, item); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
			return
		}
	}

	scope := security.ScopeFromContext(c)
	item.Tenant().OrganizationID = scope.OrganizationID
	item.Tenant().UserID = scope.UserID

	importance := 0.5
	if req.ImportanceScore != nil {
		importance = *req.ImportanceScore
	}
	item.Temporal().ImportanceScore = clampImportance(importance, cfg)
	if req.Metadata != nil {
		item.SetMetadata(req.Metadata)
	}

	if err := store.CreateItem(c.Request.Context(), item); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func getItem(c *gin.Context, store registrystore.MemoryStore) {
	kind, err := model.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
		return
	}
	item, err := store.GetItem(c.Request.Context(), security.ScopeFromContext(c), kind, c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func updateItem(c *gin.Context, store registrystore.MemoryStore, cfg *config.Config) {
	kind, err := model.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
		return
	}
	var req writeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
		return
	}
	if err := checkFields(req.Fields); err != nil {
		handleError(c, err)
		return
	}

	scope := security.ScopeFromContext(c)
	item, err := store.GetItem(c.Request.Context(), scope, kind, c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	if len(req.Fields) > 0 {
		if err := json.Unmarshal(req.Fields, item); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
			return
		}
	}
	if req.ImportanceScore != nil {
		item.Temporal().ImportanceScore = clampImportance(*req.ImportanceScore, cfg)
	}
	if req.Metadata != nil {
		item.SetMetadata(req.Metadata)
	}
	item.Temporal().LastModified = model.LastModified{Timestamp: time.Now().UTC(), Operation: model.OpUpdated}

	updated, err := store.UpdateItem(c.Request.Context(), scope, item)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func deleteItem(c *gin.Context, store registrystore.MemoryStore) {
	kind, err := model.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
		return
	}
	err = store.DeleteItem(c.Request.Context(), security.ScopeFromContext(c), kind, c.Param("id"))
	if err != nil {
		// Deleting an absent item is idempotent success.
		var notFound *registrystore.NotFoundError
		if !errors.As(err, &notFound) {
			handleError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func listItems(c *gin.Context, store registrystore.MemoryStore) {
	kind, err := model.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
		return
	}
	query := registrystore.ListQuery{
		Kind:        kind,
		SessionID:   queryPtr(c, "sessionId"),
		AfterCursor: queryPtr(c, "afterCursor"),
		Limit:       queryInt(c, "limit", 50),
	}
	page, err := store.ListItems(c.Request.Context(), security.ScopeFromContext(c), query)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func listSessions(c *gin.Context, store registrystore.MemoryStore) {
	sessions, err := store.ListSessions(c.Request.Context(), security.ScopeFromContext(c), queryInt(c, "limit", 50))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sessions})
}

// sessionMessages replays one chat session oldest first. Reading a session
// counts as an access on each returned message, like any retrieval.
func sessionMessages(c *gin.Context, store registrystore.MemoryStore) {
	scope := security.ScopeFromContext(c)
	sessionID := c.Param("sessionId")
	query := registrystore.ListQuery{
		Kind:        model.KindChat,
		SessionID:   &sessionID,
		AfterCursor: queryPtr(c, "afterCursor"),
		Limit:       queryInt(c, "limit", 100),
	}
	page, err := store.ListItems(c.Request.Context(), scope, query)
	if err != nil {
		handleError(c, err)
		return
	}

	// The store pages newest first; the replay view is oldest first.
	items := page.Data
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	updates := sessionAccessUpdates(items, time.Now().UTC())
	err = store.Transaction(c.Request.Context(), func(tx registrystore.MemoryStore) error {
		for _, update := range updates {
			if err := tx.ApplyAccess(c.Request.Context(), scope, update); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Losing a counter update must not fail the read.
		log.Warn("Failed to record session accesses", "sessionId", sessionID, "err", err)
	}

	c.JSON(http.StatusOK, gin.H{"data": items, "afterCursor": page.AfterCursor})
}

// sessionAccessUpdates builds the access updates for a replayed session,
// ordered by id so concurrent retrievals touching the same rows take their
// locks in the same order.
func sessionAccessUpdates(items []model.MemoryItem, now time.Time) []registrystore.AccessUpdate {
	updates := make([]registrystore.AccessUpdate, len(items))
	for i, item := range items {
		updates[i] = registrystore.AccessUpdate{
			Kind:       model.KindChat,
			ID:         item.GetID(),
			Observed:   item.Temporal().AccessCount,
			AccessedAt: now,
		}
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].ID < updates[j].ID })
	return updates
}
