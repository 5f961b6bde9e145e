package paymentmethod

import (
	"context"
)

// Repository gives access to saved payment methods
type Repository interface {
	Create(ctx context.Context, method *PaymentMethod) error
	Get(ctx context.Context, id string) (*PaymentMethod, error)
	// ListByTenant returns the methods of a tenant, default first
	ListByTenant(ctx context.Context, tenantID string) ([]*PaymentMethod, error)
}
