package testutil

import (
	"context"

	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// InMemorySubscriptionStore implements subscription.Repository
type InMemorySubscriptionStore struct {
	*InMemoryStore[*subscription.Subscription]
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		InMemoryStore: NewInMemoryStore[*subscription.Subscription](copySubscription),
	}
}

func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	c := *sub
	if sub.CanceledAt != nil {
		c.CanceledAt = lo.ToPtr(*sub.CanceledAt)
	}
	return &c
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil {
		return ierr.NewError("subscription cannot be nil").
			WithHint("Subscription cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if sub.Version == 0 {
		sub.Version = 1
	}
	return s.InMemoryStore.Create(ctx, sub.ID, sub)
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || !CheckTenantFilter(ctx, "", sub.TenantID) {
		return nil, ierr.NewError("subscription not found").
			WithHint("Subscription not found").
			WithReportableDetails(map[string]any{"subscription_id": id}).
			Mark(ierr.ErrNotFound)
	}
	return sub, nil
}

func (s *InMemorySubscriptionStore) GetByTenant(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	subs, err := s.InMemoryStore.List(ctx, nil, func(sub *subscription.Subscription) bool {
		return CheckTenantFilter(ctx, tenantID, sub.TenantID) &&
			CheckPublished(sub.Status) &&
			sub.SubscriptionStatus != types.SubscriptionStatusCanceled
	}, func(a, b *subscription.Subscription) bool {
		return a.CreatedAt.After(b.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ierr.NewError("tenant has no subscription").
			WithHint("Tenant has no subscription").
			WithReportableDetails(map[string]any{"tenant_id": tenantID}).
			Mark(ierr.ErrNotFound)
	}
	return subs[0], nil
}

// Update enforces the optimistic lock the postgres repository applies
func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	next := copySubscription(sub)
	next.Version = sub.Version + 1
	err := s.InMemoryStore.CompareAndUpdate(ctx, sub.ID, next, func(stored *subscription.Subscription) error {
		if stored.Version != sub.Version {
			return versionConflict("subscription", sub.ID, sub.Version)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sub.Version++
	return nil
}

func (s *InMemorySubscriptionStore) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}
	asc := filter.GetOrder() == types.OrderAsc
	return s.InMemoryStore.List(ctx, filter.QueryFilter, s.matcher(ctx, filter), func(a, b *subscription.Subscription) bool {
		if !a.CurrentPeriodEnd.Equal(b.CurrentPeriodEnd) {
			return a.CurrentPeriodEnd.Before(b.CurrentPeriodEnd) == asc
		}
		return (a.ID < b.ID) == asc
	})
}

func (s *InMemorySubscriptionStore) Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}
	return s.InMemoryStore.Count(ctx, s.matcher(ctx, filter))
}

func (s *InMemorySubscriptionStore) matcher(ctx context.Context, filter *types.SubscriptionFilter) func(*subscription.Subscription) bool {
	return func(sub *subscription.Subscription) bool {
		if !CheckTenantFilter(ctx, filter.TenantID, sub.TenantID) || !CheckPublished(sub.Status) {
			return false
		}
		if len(filter.SubscriptionIDs) > 0 && !lo.Contains(filter.SubscriptionIDs, sub.ID) {
			return false
		}
		if len(filter.SubscriptionStatus) > 0 && !lo.Contains(filter.SubscriptionStatus, sub.SubscriptionStatus) {
			return false
		}
		if filter.CurrentPeriodEndLTE != nil && sub.CurrentPeriodEnd.After(*filter.CurrentPeriodEndLTE) {
			return false
		}
		return true
	}
}
