package postgres

import (
	"context"

	"github.com/voxbill/voxbill/internal/domain/payment"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/postgres"
	"github.com/voxbill/voxbill/internal/types"
)

type paymentRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewPaymentRepository(db *postgres.DB, logger *logger.Logger) payment.Repository {
	return &paymentRepository{db: db, logger: logger}
}

func (r *paymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	query := `
		INSERT INTO payments (
			id, tenant_id, invoice_id, subscription_id, payment_method_id, payment_method_type, gateway,
			amount, currency, payment_status, gateway_ref, failure_reason, error_message, idempotency_key,
			permanently_failed, succeeded_at, failed_at, version, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :tenant_id, :invoice_id, :subscription_id, :payment_method_id, :payment_method_type, :gateway,
			:amount, :currency, :payment_status, :gateway_ref, :failure_reason, :error_message, :idempotency_key,
			:permanently_failed, :succeeded_at, :failed_at, :version, :status, :created_at, :updated_at, :created_by, :updated_by
		)`

	if p.Version == 0 {
		p.Version = 1
	}

	r.logger.Debugw("creating payment",
		"payment_id", p.ID,
		"invoice_id", p.InvoiceID,
		"amount", p.Amount,
		"idempotency_key", p.IdempotencyKey,
	)

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, p); err != nil {
		return dbError(err, "Failed to create payment", map[string]any{
			"payment_id":      p.ID,
			"idempotency_key": p.IdempotencyKey,
		})
	}
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id string) (*payment.Payment, error) {
	return r.getBy(ctx, "id = ?", id, "Payment not found")
}

func (r *paymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*payment.Payment, error) {
	return r.getBy(ctx, "idempotency_key = ?", key, "No payment for idempotency key")
}

func (r *paymentRepository) getBy(ctx context.Context, clause string, value, hint string) (*payment.Payment, error) {
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, "").
		Add(clause, value).
		Build(q, "SELECT * FROM payments", "")
	if err != nil {
		return nil, err
	}

	var p payment.Payment
	if err := q.GetContext(ctx, &p, query, args...); err != nil {
		return nil, dbError(err, hint, map[string]any{"lookup": value})
	}
	return &p, nil
}

func (r *paymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	query := `
		UPDATE payments SET
			amount = :amount,
			payment_status = :payment_status,
			gateway_ref = :gateway_ref,
			failure_reason = :failure_reason,
			error_message = :error_message,
			idempotency_key = :idempotency_key,
			permanently_failed = :permanently_failed,
			succeeded_at = :succeeded_at,
			failed_at = :failed_at,
			version = version + 1,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id AND tenant_id = :tenant_id AND version = :version`

	r.logger.Debugw("updating payment",
		"payment_id", p.ID,
		"payment_status", p.PaymentStatus,
		"version", p.Version,
	)

	res, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, p)
	if err != nil {
		return dbError(err, "Failed to update payment", map[string]any{"payment_id": p.ID})
	}
	if err := checkUpdated(res, "payment", p.ID, p.Version); err != nil {
		return err
	}
	p.Version++
	return nil
}

func (r *paymentRepository) List(ctx context.Context, filter *types.PaymentFilter) ([]*payment.Payment, error) {
	if filter == nil {
		filter = &types.PaymentFilter{QueryFilter: types.NewDefaultQueryFilter()}
	}
	q := r.db.GetQuerier(ctx)
	query, args, err := r.where(ctx, filter).
		Build(q, "SELECT * FROM payments", postgres.Page(filter.QueryFilter, "created_at"))
	if err != nil {
		return nil, err
	}

	var payments []*payment.Payment
	if err := q.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, dbError(err, "Failed to list payments", nil)
	}
	return payments, nil
}

func (r *paymentRepository) Count(ctx context.Context, filter *types.PaymentFilter) (int, error) {
	if filter == nil {
		filter = &types.PaymentFilter{}
	}
	q := r.db.GetQuerier(ctx)
	query, args, err := r.where(ctx, filter).Build(q, "SELECT COUNT(*) FROM payments", "")
	if err != nil {
		return 0, err
	}

	var count int
	if err := q.GetContext(ctx, &count, query, args...); err != nil {
		return 0, dbError(err, "Failed to count payments", nil)
	}
	return count, nil
}

func (r *paymentRepository) where(ctx context.Context, filter *types.PaymentFilter) *postgres.Where {
	return postgres.NewTenantWhere(ctx, filter.TenantID).
		AddIf(filter.InvoiceID != "", "invoice_id = ?", filter.InvoiceID).
		AddIf(len(filter.PaymentStatus) > 0, "payment_status IN (?)", filter.PaymentStatus).
		AddIf(filter.UpdatedBefore != nil, "updated_at < ?", filter.UpdatedBefore)
}
