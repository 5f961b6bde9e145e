package retry

import (
	"context"
	"time"

	"github.com/voxbill/voxbill/internal/types"
)

// Repository defines the interface for retry attempt persistence
type Repository interface {
	Create(ctx context.Context, attempt *Attempt) error
	Get(ctx context.Context, id string) (*Attempt, error)
	Update(ctx context.Context, attempt *Attempt) error
	List(ctx context.Context, filter *types.RetryAttemptFilter) ([]*Attempt, error)

	// ListByPayment returns every attempt of a payment ordered by attempt number
	ListByPayment(ctx context.Context, paymentID string) ([]*Attempt, error)

	// ListDue returns pending attempts scheduled at or before the given time,
	// oldest first, across tenants.
	ListDue(ctx context.Context, before time.Time, limit int) ([]*Attempt, error)

	// CancelPending cancels the pending attempts of a payment and returns
	// how many were cancelled.
	CancelPending(ctx context.Context, paymentID, message string, at time.Time) (int, error)
}
