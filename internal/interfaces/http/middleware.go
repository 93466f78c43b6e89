package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// Headers set by the upstream gateway
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderActorID  = "X-Actor-ID"
)

// requireTenant rejects API calls that do not name a tenant
func requireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(HeaderTenantID) == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   HeaderTenantID + " header is required",
				Code:    string(domainwf.CodeInvalidRequest),
			})
			return
		}
		c.Next()
	}
}

func tenantID(c *gin.Context) string {
	return c.GetHeader(HeaderTenantID)
}

// actorID may be empty; the engine records such calls as the system actor
func actorID(c *gin.Context) string {
	return c.GetHeader(HeaderActorID)
}
