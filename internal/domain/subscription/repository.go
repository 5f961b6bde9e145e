package subscription

import (
	"context"

	"github.com/voxbill/voxbill/internal/types"
)

// Repository defines the interface for subscription persistence.
// Update uses the Version field as an optimistic lock and fails with
// ErrVersionConflict when the row changed since it was read.
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByTenant(ctx context.Context, tenantID string) (*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	List(ctx context.Context, filter *types.SubscriptionFilter) ([]*Subscription, error)
	Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error)
}
