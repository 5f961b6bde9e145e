package testutil

import (
	"context"
	"sync"

	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/domain/invoice"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// InMemoryInvoiceStore implements invoice.Repository
type InMemoryInvoiceStore struct {
	*InMemoryStore[*invoice.Invoice]
	createMu sync.Mutex
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		InMemoryStore: NewInMemoryStore[*invoice.Invoice](copyInvoice),
	}
}

func copyInvoice(inv *invoice.Invoice) *invoice.Invoice {
	c := *inv
	if inv.PaidAt != nil {
		c.PaidAt = lo.ToPtr(*inv.PaidAt)
	}
	if inv.VoidedAt != nil {
		c.VoidedAt = lo.ToPtr(*inv.VoidedAt)
	}
	c.Items = lo.Map(inv.Items, func(item *invoice.Item, _ int) *invoice.Item {
		ic := *item
		return &ic
	})
	return &c
}

// Create refuses a second non void invoice for a subscription period
func (s *InMemoryInvoiceStore) Create(ctx context.Context, inv *invoice.Invoice) error {
	if inv == nil {
		return ierr.NewError("invoice cannot be nil").
			WithHint("Invoice cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if _, err := s.GetForPeriod(types.SetTenantID(ctx, inv.TenantID), inv.SubscriptionID, inv.BillingPeriod); err == nil {
		return ierr.NewError("duplicate invoice").
			WithHintf("An invoice already exists for billing period %s", inv.BillingPeriod).
			WithReportableDetails(map[string]any{
				"subscription_id": inv.SubscriptionID,
				"billing_period":  inv.BillingPeriod,
			}).
			Mark(ierr.ErrDuplicateInvoice)
	}

	if inv.Version == 0 {
		inv.Version = 1
	}
	for i, item := range inv.Items {
		item.InvoiceID = inv.ID
		item.Position = i
	}
	return s.InMemoryStore.Create(ctx, inv.ID, inv)
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	inv, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || !CheckTenantFilter(ctx, "", inv.TenantID) {
		return nil, ierr.NewError("invoice not found").
			WithHint("Invoice not found").
			WithReportableDetails(map[string]any{"invoice_id": id}).
			Mark(ierr.ErrNotFound)
	}
	return inv, nil
}

func (s *InMemoryInvoiceStore) GetForPeriod(ctx context.Context, subscriptionID, period string) (*invoice.Invoice, error) {
	invoices, err := s.InMemoryStore.List(ctx, nil, func(inv *invoice.Invoice) bool {
		return CheckTenantFilter(ctx, "", inv.TenantID) &&
			CheckPublished(inv.Status) &&
			inv.SubscriptionID == subscriptionID &&
			inv.BillingPeriod == period &&
			inv.InvoiceStatus != types.InvoiceStatusVoid
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, ierr.NewError("no invoice for billing period").
			WithHint("No invoice for billing period").
			WithReportableDetails(map[string]any{
				"subscription_id": subscriptionID,
				"billing_period":  period,
			}).
			Mark(ierr.ErrNotFound)
	}
	return invoices[0], nil
}

// Update persists status and amounts with the optimistic lock on Version
func (s *InMemoryInvoiceStore) Update(ctx context.Context, inv *invoice.Invoice) error {
	next := copyInvoice(inv)
	next.Version = inv.Version + 1
	err := s.InMemoryStore.CompareAndUpdate(ctx, inv.ID, next, func(stored *invoice.Invoice) error {
		if stored.Version != inv.Version {
			return versionConflict("invoice", inv.ID, inv.Version)
		}
		// items are immutable once issued
		next.Items = stored.Items
		return nil
	})
	if err != nil {
		return err
	}
	inv.Version++
	return nil
}

func (s *InMemoryInvoiceStore) List(ctx context.Context, filter *types.InvoiceFilter) ([]*invoice.Invoice, error) {
	if filter == nil {
		filter = &types.InvoiceFilter{QueryFilter: types.NewDefaultQueryFilter()}
	}
	asc := filter.GetOrder() == types.OrderAsc
	return s.InMemoryStore.List(ctx, filter.QueryFilter, s.matcher(ctx, filter), func(a, b *invoice.Invoice) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt) == asc
		}
		return (a.ID < b.ID) == asc
	})
}

func (s *InMemoryInvoiceStore) Count(ctx context.Context, filter *types.InvoiceFilter) (int, error) {
	if filter == nil {
		filter = &types.InvoiceFilter{}
	}
	return s.InMemoryStore.Count(ctx, s.matcher(ctx, filter))
}

func (s *InMemoryInvoiceStore) matcher(ctx context.Context, filter *types.InvoiceFilter) func(*invoice.Invoice) bool {
	return func(inv *invoice.Invoice) bool {
		if !CheckTenantFilter(ctx, filter.TenantID, inv.TenantID) || !CheckPublished(inv.Status) {
			return false
		}
		if filter.SubscriptionID != "" && inv.SubscriptionID != filter.SubscriptionID {
			return false
		}
		if filter.BillingPeriod != "" && inv.BillingPeriod != filter.BillingPeriod {
			return false
		}
		if len(filter.InvoiceStatus) > 0 && !lo.Contains(filter.InvoiceStatus, inv.InvoiceStatus) {
			return false
		}
		return true
	}
}
