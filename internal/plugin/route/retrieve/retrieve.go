package retrieve

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tessellated-ai/temporal-memory-service/internal/model"
	registryroute "github.com/tessellated-ai/temporal-memory-service/internal/registry/route"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	"github.com/tessellated-ai/temporal-memory-service/internal/security"
	"github.com/tessellated-ai/temporal-memory-service/internal/service"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 110,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

type weightOverrides struct {
	Relevance *float64 `json:"relevance"`
	Temporal  *float64 `json:"temporal"`
}

type retrieveRequest struct {
	Query           string           `json:"query"`
	Vector          []float32        `json:"vector"`
	Kinds           []string         `json:"kinds"`
	Limit           int              `json:"limit"`
	WeightOverrides *weightOverrides `json:"weightOverrides"`
}

type retrievedItem struct {
	Item          model.MemoryItem `json:"item"`
	Relevance     float64          `json:"relevance"`
	TemporalScore float64          `json:"temporalScore"`
	CombinedScore float64          `json:"combinedScore"`
	AgeDays       float64          `json:"ageDays"`
	Rehearsed     bool             `json:"rehearsed"`
}

type retrieveResponse struct {
	Data              []retrievedItem `json:"data"`
	ScannedCandidates int             `json:"scannedCandidates"`
	ElapsedMs         int64           `json:"elapsedMs"`
	VectorUnavailable bool            `json:"vectorUnavailable,omitempty"`
}

// checkWeight rejects weight overrides outside [0, 1].
func checkWeight(name string, w *float64) error {
	if w != nil && (*w < 0 || *w > 1) {
		return fmt.Errorf("%s weight must be within [0, 1]", name)
	}
	return nil
}

// MountRoutes mounts the retrieval route. Called after store initialization.
func MountRoutes(r *gin.Engine, retriever *service.Retriever) {
	tenant := security.TenantMiddleware()

	r.POST("/v1/retrieve", tenant, func(c *gin.Context) {
		var req retrieveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
			return
		}
		if req.Limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": "limit must be >= 1"})
			return
		}
		kinds := make([]model.Kind, 0, len(req.Kinds))
		for _, s := range req.Kinds {
			kind, err := model.ParseKind(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
				return
			}
			kinds = append(kinds, kind)
		}
		svcReq := service.RetrieveRequest{
			Scope:  security.ScopeFromContext(c),
			Query:  req.Query,
			Vector: req.Vector,
			Kinds:  kinds,
			Limit:  req.Limit,
		}
		if req.WeightOverrides != nil {
			if err := checkWeight("relevance", req.WeightOverrides.Relevance); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
				return
			}
			if err := checkWeight("temporal", req.WeightOverrides.Temporal); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
				return
			}
			svcReq.WeightRelevance = req.WeightOverrides.Relevance
			svcReq.WeightTemporal = req.WeightOverrides.Temporal
		}

		result, err := retriever.Retrieve(c.Request.Context(), svcReq)
		if err != nil {
			handleError(c, err)
			return
		}

		data := make([]retrievedItem, len(result.Items))
		for i, ri := range result.Items {
			data[i] = retrievedItem{
				Item:          ri.Item,
				Relevance:     ri.Relevance,
				TemporalScore: ri.Temporal,
				CombinedScore: ri.Combined,
				AgeDays:       ri.AgeDays,
				Rehearsed:     ri.Rehearsed,
			}
		}
		c.JSON(http.StatusOK, retrieveResponse{
			Data:              data,
			ScannedCandidates: result.ScannedCandidates,
			ElapsedMs:         result.Elapsed.Milliseconds(),
			VectorUnavailable: result.VectorDegraded,
		})
	})
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
		log.Error("Retrieve API error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal server error"})
	}
}
