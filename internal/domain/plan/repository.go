package plan

import (
	"context"
)

// Repository gives read access to plans owned by the tenant management system
type Repository interface {
	Create(ctx context.Context, plan *Plan) error
	Get(ctx context.Context, id string) (*Plan, error)
	List(ctx context.Context) ([]*Plan, error)
}
