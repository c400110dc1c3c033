package decay

import (
	"errors"
	"net/http"

	registryroute "github.com/tessellated-ai/temporal-memory-service/internal/registry/route"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	"github.com/tessellated-ai/temporal-memory-service/internal/service"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 120,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

type runRequest struct {
	DryRun         bool    `json:"dryRun"`
	OrganizationID string  `json:"organizationId"`
	UserID         *string `json:"userId"`
	// BatchSize overrides the configured sweep batch size when positive.
	BatchSize int `json:"batchSize"`
}

// MountRoutes mounts the on-demand decay sweep route. Sweeps run inline and
// return the full report; the background decay loop covers routine cleanup.
func MountRoutes(r *gin.Engine, svc *service.DecayService) {
	r.POST("/v1/decay/run", func(c *gin.Context) {
		var req runRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": err.Error()})
			return
		}

		if req.BatchSize < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "message": "batchSize must be >= 1"})
			return
		}

		opts := service.SweepOptions{DryRun: req.DryRun, BatchSize: req.BatchSize}
		var report *service.DecayReport
		var err error
		if req.OrganizationID == "" {
			report, err = svc.RunOnce(c.Request.Context(), opts)
		} else {
			report, err = svc.RunForTenant(c.Request.Context(), req.OrganizationID, req.UserID, opts)
		}
		if err != nil {
			var invariant *registrystore.InvariantViolationError
			if errors.As(err, &invariant) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invariant_violation", "message": err.Error(), "field": invariant.Field})
				return
			}
			log.Error("Decay API error", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal server error"})
			return
		}
		c.JSON(http.StatusOK, report)
	})
}
