package cache

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/voxbill/voxbill/internal/types"
)

// StartCacheSpan opens a sentry span around a cache lookup for entity.
// It returns nil when the request carries no sentry hub.
func StartCacheSpan(ctx context.Context, entity, operation, key string) *sentry.Span {
	if sentry.GetHubFromContext(ctx) == nil {
		return nil
	}

	name := "cache." + entity + "." + operation
	span := sentry.StartSpan(ctx, "db.cache", sentry.WithDescription(name))
	span.SetData("cache.key", key)
	span.SetData("tenant_id", types.GetTenantID(ctx))
	return span
}

// RecordHit tags the span with the lookup result.
func RecordHit(span *sentry.Span, hit bool) {
	if span != nil {
		span.SetData("cache.hit", hit)
	}
}

// FinishSpan finishes span if one was started.
func FinishSpan(span *sentry.Span) {
	if span != nil {
		span.Finish()
	}
}
