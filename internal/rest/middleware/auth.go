package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/voxbill/voxbill/internal/config"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/types"
)

// AuthenticateMiddleware checks the admin API key. An empty configured key
// leaves the API open, which is only meant for local mode.
func AuthenticateMiddleware(cfg *config.Configuration, logger *logger.Logger) gin.HandlerFunc {
	expected := []byte(cfg.Server.APIKey)

	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}

		provided := []byte(c.GetHeader(types.HeaderAPIKey))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			logger.Debugw("invalid api key", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// TenantMiddleware scopes the request to the tenant named by the tenant
// header. Without it the admin sees every tenant.
func TenantMiddleware(c *gin.Context) {
	if tenantID := c.GetHeader(types.HeaderTenantID); tenantID != "" {
		c.Request = c.Request.WithContext(types.WithTenant(c.Request.Context(), tenantID))
	}
	c.Next()
}
