package usage

import (
	"context"
	"time"

	"github.com/voxbill/voxbill/internal/types"
)

// Repository defines the interface for usage record persistence
type Repository interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	GetBySource(ctx context.Context, tenantID, sourceID string) (*Record, error)
	List(ctx context.Context, filter *types.UsageFilter) ([]*Record, error)

	// Summarize totals every record of the tenant's period grouped by type,
	// regardless of the processed flag.
	Summarize(ctx context.Context, tenantID, period string) (types.UsageSummary, error)

	// MarkProcessed flags the unprocessed records of a subscription period
	// and returns how many rows changed.
	MarkProcessed(ctx context.Context, subscriptionID, period string, at time.Time) (int64, error)

	// SummarizeUnbilled totals the unprocessed records of a subscription whose
	// period key is at or before throughPeriod and that were stored by cutoff.
	// Invoices use it so usage in a month the period boundaries skipped over
	// is still billed exactly once.
	SummarizeUnbilled(ctx context.Context, subscriptionID, throughPeriod string, cutoff time.Time) (types.UsageSummary, error)

	// MarkBilled flags the records SummarizeUnbilled counts for the same
	// arguments and returns how many rows changed.
	MarkBilled(ctx context.Context, subscriptionID, throughPeriod string, cutoff, at time.Time) (int64, error)

	// ListUnprocessedSubscriptionIDs returns the distinct subscriptions owning
	// unprocessed records in the period. An empty tenantID spans all tenants.
	ListUnprocessedSubscriptionIDs(ctx context.Context, period, tenantID string) ([]string, error)
}
