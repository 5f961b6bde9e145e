package testutil

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/domain/retry"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// InMemoryRetryStore implements retry.Repository
type InMemoryRetryStore struct {
	*InMemoryStore[*retry.Attempt]
}

func NewInMemoryRetryStore() *InMemoryRetryStore {
	return &InMemoryRetryStore{
		InMemoryStore: NewInMemoryStore[*retry.Attempt](copyAttempt),
	}
}

func copyAttempt(a *retry.Attempt) *retry.Attempt {
	c := *a
	if a.ProcessedAt != nil {
		c.ProcessedAt = lo.ToPtr(*a.ProcessedAt)
	}
	if a.FailureReason != nil {
		c.FailureReason = lo.ToPtr(*a.FailureReason)
	}
	if a.ErrorMessage != nil {
		c.ErrorMessage = lo.ToPtr(*a.ErrorMessage)
	}
	return &c
}

func (s *InMemoryRetryStore) Create(ctx context.Context, attempt *retry.Attempt) error {
	if attempt == nil {
		return ierr.NewError("retry attempt cannot be nil").
			WithHint("Retry attempt cannot be nil").
			Mark(ierr.ErrValidation)
	}
	return s.InMemoryStore.Create(ctx, attempt.ID, attempt)
}

func (s *InMemoryRetryStore) Get(ctx context.Context, id string) (*retry.Attempt, error) {
	a, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || !CheckTenantFilter(ctx, "", a.TenantID) {
		return nil, ierr.NewError("retry attempt not found").
			WithHint("Retry attempt not found").
			WithReportableDetails(map[string]any{"attempt_id": id}).
			Mark(ierr.ErrNotFound)
	}
	return a, nil
}

func (s *InMemoryRetryStore) Update(ctx context.Context, attempt *retry.Attempt) error {
	return s.InMemoryStore.Update(ctx, attempt.ID, attempt)
}

func (s *InMemoryRetryStore) List(ctx context.Context, filter *types.RetryAttemptFilter) ([]*retry.Attempt, error) {
	if filter == nil {
		filter = &types.RetryAttemptFilter{QueryFilter: types.NewDefaultQueryFilter()}
	}
	asc := filter.GetOrder() == types.OrderAsc
	return s.InMemoryStore.List(ctx, filter.QueryFilter, func(a *retry.Attempt) bool {
		if !CheckTenantFilter(ctx, filter.TenantID, a.TenantID) || !CheckPublished(a.Status) {
			return false
		}
		if filter.PaymentID != "" && a.PaymentID != filter.PaymentID {
			return false
		}
		if len(filter.RetryStatus) > 0 && !lo.Contains(filter.RetryStatus, a.RetryStatus) {
			return false
		}
		if filter.ScheduledAtLTE != nil && a.ScheduledAt.After(*filter.ScheduledAtLTE) {
			return false
		}
		return true
	}, func(a, b *retry.Attempt) bool {
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt) == asc
		}
		return (a.ID < b.ID) == asc
	})
}

func (s *InMemoryRetryStore) ListByPayment(ctx context.Context, paymentID string) ([]*retry.Attempt, error) {
	return s.InMemoryStore.List(ctx, nil, func(a *retry.Attempt) bool {
		return CheckTenantFilter(ctx, "", a.TenantID) && a.PaymentID == paymentID
	}, func(a, b *retry.Attempt) bool {
		if a.AttemptNumber != b.AttemptNumber {
			return a.AttemptNumber < b.AttemptNumber
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (s *InMemoryRetryStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*retry.Attempt, error) {
	due, err := s.InMemoryStore.List(ctx, nil, func(a *retry.Attempt) bool {
		return CheckTenantFilter(ctx, "", a.TenantID) && a.IsDue(before)
	}, func(a, b *retry.Attempt) bool {
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.ID < b.ID
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *InMemoryRetryStore) CancelPending(ctx context.Context, paymentID, message string, at time.Time) (int, error) {
	return s.InMemoryStore.Mutate(func(a *retry.Attempt) bool {
		return a.PaymentID == paymentID && a.RetryStatus == types.RetryStatusPending
	}, func(a *retry.Attempt) bool {
		a.MarkCancelled(message, at)
		a.UpdatedAt = at
		a.UpdatedBy = types.GetUserID(ctx)
		return true
	}), nil
}
