package items

import (
	"errors"
	"net/http"
	"strconv"

	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var invariant *registrystore.InvariantViolationError
	var conflict *registrystore.ConflictError
	var unavailable *registrystore.BackendUnavailableError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.As(err, &invariant):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invariant_violation", "message": err.Error(), "field": invariant.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend_unavailable", "message": err.Error()})
	default:
		log.Error("Memory API error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal server error"})
	}
}

func queryPtr(c *gin.Context, key string) *string {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	return &v
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
