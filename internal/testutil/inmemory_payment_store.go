package testutil

import (
	"context"
	"sync"

	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/domain/payment"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// InMemoryPaymentStore implements payment.Repository
type InMemoryPaymentStore struct {
	*InMemoryStore[*payment.Payment]
	createMu sync.Mutex
}

// NewInMemoryPaymentStore creates a new in-memory payment repository
func NewInMemoryPaymentStore() *InMemoryPaymentStore {
	return &InMemoryPaymentStore{
		InMemoryStore: NewInMemoryStore[*payment.Payment](copyPayment),
	}
}

func copyPayment(p *payment.Payment) *payment.Payment {
	c := *p
	if p.GatewayRef != nil {
		c.GatewayRef = lo.ToPtr(*p.GatewayRef)
	}
	if p.FailureReason != nil {
		c.FailureReason = lo.ToPtr(*p.FailureReason)
	}
	if p.ErrorMessage != nil {
		c.ErrorMessage = lo.ToPtr(*p.ErrorMessage)
	}
	if p.SucceededAt != nil {
		c.SucceededAt = lo.ToPtr(*p.SucceededAt)
	}
	if p.FailedAt != nil {
		c.FailedAt = lo.ToPtr(*p.FailedAt)
	}
	return &c
}

// Create stores a new payment, idempotency keys are unique
func (s *InMemoryPaymentStore) Create(ctx context.Context, p *payment.Payment) error {
	if p == nil {
		return ierr.NewError("payment cannot be nil").
			WithHint("Payment cannot be nil").
			Mark(ierr.ErrValidation)
	}

	if p.ID == "" {
		return ierr.NewError("payment ID cannot be empty").
			WithHint("Payment ID cannot be empty").
			Mark(ierr.ErrValidation)
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if p.IdempotencyKey != "" {
		if _, err := s.GetByIdempotencyKey(types.SetTenantID(ctx, p.TenantID), p.IdempotencyKey); err == nil {
			return ierr.NewError("payment already exists").
				WithHint("A payment with this idempotency key already exists").
				Mark(ierr.ErrAlreadyExists)
		}
	}

	if p.Version == 0 {
		p.Version = 1
	}
	return s.InMemoryStore.Create(ctx, p.ID, p)
}

// Get retrieves a payment by ID
func (s *InMemoryPaymentStore) Get(ctx context.Context, id string) (*payment.Payment, error) {
	p, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || !CheckTenantFilter(ctx, "", p.TenantID) {
		return nil, ierr.NewError("payment not found").
			WithHint("Payment not found").
			WithReportableDetails(map[string]any{"payment_id": id}).
			Mark(ierr.ErrNotFound)
	}
	return p, nil
}

// GetByIdempotencyKey retrieves a payment by idempotency key
func (s *InMemoryPaymentStore) GetByIdempotencyKey(ctx context.Context, key string) (*payment.Payment, error) {
	payments, err := s.InMemoryStore.List(ctx, nil, func(p *payment.Payment) bool {
		return CheckTenantFilter(ctx, "", p.TenantID) && p.IdempotencyKey == key
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, ierr.NewError("payment not found").
			WithHintf("Payment not found for idempotency key: %s", key).
			Mark(ierr.ErrNotFound)
	}
	return payments[0], nil
}

// Update persists the payment with the optimistic lock on Version
func (s *InMemoryPaymentStore) Update(ctx context.Context, p *payment.Payment) error {
	if p == nil {
		return ierr.NewError("payment cannot be nil").
			WithHint("Payment cannot be nil").
			Mark(ierr.ErrValidation)
	}

	next := copyPayment(p)
	next.Version = p.Version + 1
	err := s.InMemoryStore.CompareAndUpdate(ctx, p.ID, next, func(stored *payment.Payment) error {
		if stored.Version != p.Version {
			return versionConflict("payment", p.ID, p.Version)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.Version++
	return nil
}

func (s *InMemoryPaymentStore) List(ctx context.Context, filter *types.PaymentFilter) ([]*payment.Payment, error) {
	if filter == nil {
		filter = &types.PaymentFilter{QueryFilter: types.NewDefaultQueryFilter()}
	}
	asc := filter.GetOrder() == types.OrderAsc
	return s.InMemoryStore.List(ctx, filter.QueryFilter, s.matcher(ctx, filter), func(a, b *payment.Payment) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt) == asc
		}
		return (a.ID < b.ID) == asc
	})
}

func (s *InMemoryPaymentStore) Count(ctx context.Context, filter *types.PaymentFilter) (int, error) {
	if filter == nil {
		filter = &types.PaymentFilter{}
	}
	return s.InMemoryStore.Count(ctx, s.matcher(ctx, filter))
}

func (s *InMemoryPaymentStore) matcher(ctx context.Context, filter *types.PaymentFilter) func(*payment.Payment) bool {
	return func(p *payment.Payment) bool {
		if !CheckTenantFilter(ctx, filter.TenantID, p.TenantID) || !CheckPublished(p.Status) {
			return false
		}
		if filter.InvoiceID != "" && p.InvoiceID != filter.InvoiceID {
			return false
		}
		if len(filter.PaymentStatus) > 0 && !lo.Contains(filter.PaymentStatus, p.PaymentStatus) {
			return false
		}
		if filter.UpdatedBefore != nil && !p.UpdatedAt.Before(*filter.UpdatedBefore) {
			return false
		}
		return true
	}
}
