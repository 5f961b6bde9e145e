package middleware

import (
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/voxbill/voxbill/internal/config"
	"github.com/voxbill/voxbill/internal/types"
)

// SentryMiddleware attaches a sentry hub to every request. It is a
// pass-through when sentry is disabled.
func SentryMiddleware(cfg *config.Configuration) gin.HandlerFunc {
	if !cfg.Sentry.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}

// SentryScopeMiddleware tags the request hub with the tenant and request id
// so captured errors can be filtered per call center. Runs after TenantMiddleware.
func SentryScopeMiddleware(c *gin.Context) {
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		ctx := c.Request.Context()
		hub.Scope().SetTag("request_id", types.GetRequestID(ctx))
		if tenantID := types.GetTenantID(ctx); tenantID != "" {
			hub.Scope().SetTag("tenant_id", tenantID)
		}
	}
	c.Next()
}
