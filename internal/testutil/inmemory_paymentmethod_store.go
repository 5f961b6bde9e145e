package testutil

import (
	"context"

	"github.com/voxbill/voxbill/internal/domain/paymentmethod"
	ierr "github.com/voxbill/voxbill/internal/errors"
)

// InMemoryPaymentMethodStore implements paymentmethod.Repository
type InMemoryPaymentMethodStore struct {
	*InMemoryStore[*paymentmethod.PaymentMethod]
}

func NewInMemoryPaymentMethodStore() *InMemoryPaymentMethodStore {
	return &InMemoryPaymentMethodStore{
		InMemoryStore: NewInMemoryStore[*paymentmethod.PaymentMethod](func(m *paymentmethod.PaymentMethod) *paymentmethod.PaymentMethod {
			c := *m
			return &c
		}),
	}
}

func (s *InMemoryPaymentMethodStore) Create(ctx context.Context, m *paymentmethod.PaymentMethod) error {
	if m == nil {
		return ierr.NewError("payment method cannot be nil").
			WithHint("Payment method cannot be nil").
			Mark(ierr.ErrValidation)
	}
	return s.InMemoryStore.Create(ctx, m.ID, m)
}

func (s *InMemoryPaymentMethodStore) Get(ctx context.Context, id string) (*paymentmethod.PaymentMethod, error) {
	m, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || !CheckTenantFilter(ctx, "", m.TenantID) {
		return nil, ierr.NewError("payment method not found").
			WithHint("Payment method not found").
			WithReportableDetails(map[string]any{"payment_method_id": id}).
			Mark(ierr.ErrNotFound)
	}
	return m, nil
}

// ListByTenant returns the default method first, then oldest first
func (s *InMemoryPaymentMethodStore) ListByTenant(ctx context.Context, tenantID string) ([]*paymentmethod.PaymentMethod, error) {
	return s.InMemoryStore.List(ctx, nil, func(m *paymentmethod.PaymentMethod) bool {
		return CheckTenantFilter(ctx, tenantID, m.TenantID) && CheckPublished(m.Status)
	}, func(a, b *paymentmethod.PaymentMethod) bool {
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Delete removes a saved method, used to simulate a tenant dropping a card
func (s *InMemoryPaymentMethodStore) Delete(ctx context.Context, id string) error {
	return s.InMemoryStore.Delete(ctx, id)
}
