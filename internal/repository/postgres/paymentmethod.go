package postgres

import (
	"context"

	"github.com/voxbill/voxbill/internal/domain/paymentmethod"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/postgres"
)

type paymentMethodRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewPaymentMethodRepository(db *postgres.DB, logger *logger.Logger) paymentmethod.Repository {
	return &paymentMethodRepository{db: db, logger: logger}
}

func (r *paymentMethodRepository) Create(ctx context.Context, m *paymentmethod.PaymentMethod) error {
	query := `
		INSERT INTO payment_methods (
			id, tenant_id, type, gateway_ref, description, is_default,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :tenant_id, :type, :gateway_ref, :description, :is_default,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)`

	r.logger.Debugw("creating payment method", "payment_method_id", m.ID, "tenant_id", m.TenantID)

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, m); err != nil {
		return dbError(err, "Failed to create payment method", map[string]any{"payment_method_id": m.ID})
	}
	return nil
}

func (r *paymentMethodRepository) Get(ctx context.Context, id string) (*paymentmethod.PaymentMethod, error) {
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, "").
		Add("id = ?", id).
		Build(q, "SELECT * FROM payment_methods", "")
	if err != nil {
		return nil, err
	}

	var m paymentmethod.PaymentMethod
	if err := q.GetContext(ctx, &m, query, args...); err != nil {
		return nil, dbError(err, "Payment method not found", map[string]any{"payment_method_id": id})
	}
	return &m, nil
}

func (r *paymentMethodRepository) ListByTenant(ctx context.Context, tenantID string) ([]*paymentmethod.PaymentMethod, error) {
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, tenantID).
		Build(q, "SELECT * FROM payment_methods", "ORDER BY is_default DESC, created_at ASC, id ASC")
	if err != nil {
		return nil, err
	}

	var methods []*paymentmethod.PaymentMethod
	if err := q.SelectContext(ctx, &methods, query, args...); err != nil {
		return nil, dbError(err, "Failed to list payment methods", map[string]any{"tenant_id": tenantID})
	}
	return methods, nil
}
