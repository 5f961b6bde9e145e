package testutil

import (
	"context"

	"github.com/voxbill/voxbill/internal/types"
)

// SetupContext returns a request-shaped context for the default tenant.
func SetupContext() context.Context {
	return SetupTenantContext(types.DefaultTenantID)
}

// SetupTenantContext scopes a fresh context to tenantID the way the
// tenant middleware does, with a request id for log correlation.
func SetupTenantContext(tenantID string) context.Context {
	ctx := types.SetRequestID(context.Background(), types.GenerateUUID())
	ctx = types.SetUserID(ctx, types.DefaultUserID)
	return types.WithTenant(ctx, tenantID)
}
