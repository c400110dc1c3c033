package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/tessellated-ai/temporal-memory-service/internal/model"
	registrycache "github.com/tessellated-ai/temporal-memory-service/internal/registry/cache"
	registryroute "github.com/tessellated-ai/temporal-memory-service/internal/registry/route"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	"github.com/tessellated-ai/temporal-memory-service/internal/security"
	"github.com/tessellated-ai/temporal-memory-service/internal/service"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 130,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts the admin statistics routes. Aggregate queries are
// cached per tenant through the stats cache carried by the startup context;
// Prometheus-backed time series proxy to the server named in config.
func MountRoutes(ctx context.Context, r *gin.Engine, store registrystore.MemoryStore, decaySvc *service.DecayService, cfg *config.Config) {
	// Captured once at mount time; request contexts do not carry it.
	cache := registrycache.StatsCacheFromContext(ctx)

	tenant := security.TenantMiddleware()
	g := r.Group("/v1/admin/stats", tenant)

	g.GET("/counts", func(c *gin.Context) { countsHandler(c, store, cache, cfg) })
	g.GET("/forgettable", func(c *gin.Context) { forgettableHandler(c, decaySvc, cache, cfg) })
	g.GET("/distribution", func(c *gin.Context) { distributionHandler(c, store, cache, cfg) })

	mountPrometheusRoutes(g, cfg)
}

type countsResponse struct {
	Counts map[model.Kind]int64 `json:"counts"`
	Total  int64                `json:"total"`
}

func countsHandler(c *gin.Context, store registrystore.MemoryStore, cache registrycache.StatsCache, cfg *config.Config) {
	scope := security.ScopeFromContext(c)
	key := cacheKey("counts", scope, "")

	if body, ok := cacheGet(c, cache, key); ok {
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	counts, err := store.CountItems(c.Request.Context(), scope, model.AllKinds())
	if err != nil {
		handleError(c, err)
		return
	}
	resp := countsResponse{Counts: counts}
	for _, n := range counts {
		resp.Total += n
	}
	cacheSetJSON(c, cache, key, resp, cfg)
	c.JSON(http.StatusOK, resp)
}

type forgettableResponse struct {
	Counts map[model.Kind]int64 `json:"counts"`
	Total  int64                `json:"total"`
}

// forgettableHandler reports how many items a decay sweep would delete right
// now, without deleting anything.
func forgettableHandler(c *gin.Context, decaySvc *service.DecayService, cache registrycache.StatsCache, cfg *config.Config) {
	scope := security.ScopeFromContext(c)
	key := cacheKey("forgettable", scope, "")

	if body, ok := cacheGet(c, cache, key); ok {
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	report, err := decaySvc.RunForTenant(c.Request.Context(), scope.OrganizationID, scope.UserID, service.SweepOptions{DryRun: true})
	if err != nil {
		handleError(c, err)
		return
	}
	resp := forgettableResponse{Counts: map[model.Kind]int64{}}
	for kind, stats := range report.Kinds {
		resp.Counts[kind] = stats.ToDelete
		resp.Total += stats.ToDelete
	}
	cacheSetJSON(c, cache, key, resp, cfg)
	c.JSON(http.StatusOK, resp)
}

type distributionResponse struct {
	Kind    model.Kind                      `json:"kind"`
	Field   registrystore.DistributionField `json:"field"`
	Buckets []registrystore.HistogramBucket `json:"buckets"`
}

func distributionHandler(c *gin.Context, store registrystore.MemoryStore, cache registrycache.StatsCache, cfg *config.Config) {
	kind, err := model.ParseKind(c.Query("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
		return
	}
	field, err := registrystore.ParseDistributionField(c.DefaultQuery("field", string(registrystore.DistImportance)))
	if err != nil {
		handleError(c, err)
		return
	}
	buckets := queryInt(c, "buckets", 10)
	if buckets < 1 || buckets > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": "buckets must be between 1 and 100"})
		return
	}

	scope := security.ScopeFromContext(c)
	key := cacheKey("distribution", scope, fmt.Sprintf("%s:%s:%d", kind, field, buckets))

	if body, ok := cacheGet(c, cache, key); ok {
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	hist, err := store.Distribution(c.Request.Context(), scope, kind, field, buckets)
	if err != nil {
		handleError(c, err)
		return
	}
	resp := distributionResponse{Kind: kind, Field: field, Buckets: hist}
	cacheSetJSON(c, cache, key, resp, cfg)
	c.JSON(http.StatusOK, resp)
}

func cacheKey(stat string, scope registrystore.Scope, extra string) string {
	user := ""
	if scope.UserID != nil {
		user = *scope.UserID
	}
	return fmt.Sprintf("stats:%s:%s:%s:%s", stat, scope.OrganizationID, user, extra)
}

func cacheGet(c *gin.Context, cache registrycache.StatsCache, key string) ([]byte, bool) {
	if cache == nil || !cache.Available() {
		return nil, false
	}
	body, err := cache.Get(c.Request.Context(), key)
	if err != nil {
		log.Warn("Stats cache read failed", "key", key, "err", err)
		return nil, false
	}
	if body == nil {
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
		return nil, false
	}
	if security.CacheHitsTotal != nil {
		security.CacheHitsTotal.Inc()
	}
	return body, true
}

func cacheSetJSON(c *gin.Context, cache registrycache.StatsCache, key string, v any, cfg *config.Config) {
	if cache == nil || !cache.Available() {
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := cache.Set(c.Request.Context(), key, body, cfg.StatsCacheTTL); err != nil {
		log.Warn("Stats cache write failed", "key", key, "err", err)
	}
}

func handleError(c *gin.Context, err error) {
	var invariant *registrystore.InvariantViolationError
	var unavailable *registrystore.BackendUnavailableError

	switch {
	case errors.As(err, &invariant):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invariant_violation", "message": err.Error(), "field": invariant.Field})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend_unavailable", "message": err.Error()})
	default:
		log.Error("Admin API error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal server error"})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return def
	}
	return i
}
