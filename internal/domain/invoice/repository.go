package invoice

import (
	"context"

	"github.com/voxbill/voxbill/internal/types"
)

// Repository defines the interface for invoice persistence.
// Create stores the invoice and its items atomically and fails with
// ErrDuplicateInvoice when a non void invoice already exists for the
// subscription period.
type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	// GetForPeriod returns the non void invoice of a subscription period
	GetForPeriod(ctx context.Context, subscriptionID, period string) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, filter *types.InvoiceFilter) ([]*Invoice, error)
	Count(ctx context.Context, filter *types.InvoiceFilter) (int, error)
}
