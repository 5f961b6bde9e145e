package postgres

import (
	"context"
	"time"

	"github.com/voxbill/voxbill/internal/domain/retry"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/postgres"
	"github.com/voxbill/voxbill/internal/types"
)

type retryRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewRetryRepository(db *postgres.DB, logger *logger.Logger) retry.Repository {
	return &retryRepository{db: db, logger: logger}
}

func (r *retryRepository) Create(ctx context.Context, attempt *retry.Attempt) error {
	query := `
		INSERT INTO payment_retry_attempts (
			id, tenant_id, payment_id, attempt_number, retry_status, scheduled_at, processed_at,
			failure_reason, error_message, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :tenant_id, :payment_id, :attempt_number, :retry_status, :scheduled_at, :processed_at,
			:failure_reason, :error_message, :status, :created_at, :updated_at, :created_by, :updated_by
		)`

	r.logger.Debugw("scheduling retry attempt",
		"attempt_id", attempt.ID,
		"payment_id", attempt.PaymentID,
		"attempt_number", attempt.AttemptNumber,
		"scheduled_at", attempt.ScheduledAt,
	)

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, attempt); err != nil {
		return dbError(err, "Failed to schedule retry attempt", map[string]any{
			"payment_id":     attempt.PaymentID,
			"attempt_number": attempt.AttemptNumber,
		})
	}
	return nil
}

func (r *retryRepository) Get(ctx context.Context, id string) (*retry.Attempt, error) {
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, "").
		Add("id = ?", id).
		Build(q, "SELECT * FROM payment_retry_attempts", "")
	if err != nil {
		return nil, err
	}

	var attempt retry.Attempt
	if err := q.GetContext(ctx, &attempt, query, args...); err != nil {
		return nil, dbError(err, "Retry attempt not found", map[string]any{"attempt_id": id})
	}
	return &attempt, nil
}

func (r *retryRepository) Update(ctx context.Context, attempt *retry.Attempt) error {
	query := `
		UPDATE payment_retry_attempts SET
			retry_status = :retry_status,
			scheduled_at = :scheduled_at,
			processed_at = :processed_at,
			failure_reason = :failure_reason,
			error_message = :error_message,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id AND tenant_id = :tenant_id`

	res, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, attempt)
	if err != nil {
		return dbError(err, "Failed to update retry attempt", map[string]any{"attempt_id": attempt.ID})
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, "Failed to read update result", nil)
	}
	if n == 0 {
		return ierr.NewError("retry attempt not found").
			WithHint("Retry attempt not found").
			WithReportableDetails(map[string]any{"attempt_id": attempt.ID}).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *retryRepository) List(ctx context.Context, filter *types.RetryAttemptFilter) ([]*retry.Attempt, error) {
	if filter == nil {
		filter = &types.RetryAttemptFilter{QueryFilter: types.NewDefaultQueryFilter()}
	}
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, filter.TenantID).
		AddIf(filter.PaymentID != "", "payment_id = ?", filter.PaymentID).
		AddIf(len(filter.RetryStatus) > 0, "retry_status IN (?)", filter.RetryStatus).
		AddIf(filter.ScheduledAtLTE != nil, "scheduled_at <= ?", filter.ScheduledAtLTE).
		Build(q, "SELECT * FROM payment_retry_attempts", postgres.Page(filter.QueryFilter, "scheduled_at"))
	if err != nil {
		return nil, err
	}

	var attempts []*retry.Attempt
	if err := q.SelectContext(ctx, &attempts, query, args...); err != nil {
		return nil, dbError(err, "Failed to list retry attempts", nil)
	}
	return attempts, nil
}

func (r *retryRepository) ListByPayment(ctx context.Context, paymentID string) ([]*retry.Attempt, error) {
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, "").
		Add("payment_id = ?", paymentID).
		Build(q, "SELECT * FROM payment_retry_attempts", "ORDER BY attempt_number, created_at")
	if err != nil {
		return nil, err
	}

	var attempts []*retry.Attempt
	if err := q.SelectContext(ctx, &attempts, query, args...); err != nil {
		return nil, dbError(err, "Failed to list retry attempts", map[string]any{"payment_id": paymentID})
	}
	return attempts, nil
}

func (r *retryRepository) ListDue(ctx context.Context, before time.Time, limit int) ([]*retry.Attempt, error) {
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, "").
		Add("retry_status = ?", types.RetryStatusPending).
		Add("scheduled_at <= ?", before).
		Build(q, "SELECT * FROM payment_retry_attempts", "ORDER BY scheduled_at, id LIMIT ?", limit)
	if err != nil {
		return nil, err
	}

	var attempts []*retry.Attempt
	if err := q.SelectContext(ctx, &attempts, query, args...); err != nil {
		return nil, dbError(err, "Failed to list due retry attempts", nil)
	}
	return attempts, nil
}

func (r *retryRepository) CancelPending(ctx context.Context, paymentID, message string, at time.Time) (int, error) {
	query := `
		UPDATE payment_retry_attempts SET
			retry_status = $1,
			error_message = $2,
			processed_at = $3,
			updated_at = $3,
			updated_by = $4
		WHERE payment_id = $5 AND retry_status = $6`

	res, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		types.RetryStatusCancelled, message, at, types.GetUserID(ctx), paymentID, types.RetryStatusPending)
	if err != nil {
		return 0, dbError(err, "Failed to cancel pending retries", map[string]any{"payment_id": paymentID})
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError(err, "Failed to read update result", nil)
	}

	r.logger.Debugw("cancelled pending retry attempts",
		"payment_id", paymentID,
		"cancelled", n,
	)
	return int(n), nil
}
