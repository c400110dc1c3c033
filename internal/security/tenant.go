package security

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
)

// Tenant headers. Authentication happens upstream; these carry the already
// authenticated identity.
const (
	HeaderOrganizationID = "X-Organization-ID"
	HeaderUserID         = "X-User-ID"
)

// Gin context keys set by TenantMiddleware.
const (
	ContextKeyOrganizationID = "organizationID"
	ContextKeyUserID         = "userID"
)

// TenantMiddleware extracts the tenant identity headers. Requests without an
// organization id are rejected; the user id is optional and narrows scope.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		org := c.GetHeader(HeaderOrganizationID)
		if org == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invariant_violation",
				"message": "missing " + HeaderOrganizationID + " header",
			})
			return
		}
		c.Set(ContextKeyOrganizationID, org)
		if user := c.GetHeader(HeaderUserID); user != "" {
			c.Set(ContextKeyUserID, user)
		}
		c.Next()
	}
}

// ScopeFromContext builds the store scope from the tenant headers extracted
// by TenantMiddleware.
func ScopeFromContext(c *gin.Context) store.Scope {
	scope := store.Scope{OrganizationID: c.GetString(ContextKeyOrganizationID)}
	if user := c.GetString(ContextKeyUserID); user != "" {
		scope.UserID = &user
	}
	return scope
}
