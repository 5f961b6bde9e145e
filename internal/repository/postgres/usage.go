package postgres

import (
	"context"
	"time"

	"github.com/voxbill/voxbill/internal/domain/usage"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/postgres"
	"github.com/voxbill/voxbill/internal/types"
)

type usageRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewUsageRepository(db *postgres.DB, logger *logger.Logger) usage.Repository {
	return &usageRepository{db: db, logger: logger}
}

func (r *usageRepository) Create(ctx context.Context, record *usage.Record) error {
	query := `
		INSERT INTO usage_records (
			id, tenant_id, subscription_id, usage_type, quantity, billing_period, recorded_at,
			source_id, processed, processed_at, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :tenant_id, :subscription_id, :usage_type, :quantity, :billing_period, :recorded_at,
			:source_id, :processed, :processed_at, :status, :created_at, :updated_at, :created_by, :updated_by
		)`

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, record); err != nil {
		return dbError(err, "Failed to record usage", map[string]any{
			"usage_id":        record.ID,
			"subscription_id": record.SubscriptionID,
		})
	}
	return nil
}

func (r *usageRepository) Get(ctx context.Context, id string) (*usage.Record, error) {
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, "").
		Add("id = ?", id).
		Build(q, "SELECT * FROM usage_records", "")
	if err != nil {
		return nil, err
	}

	var record usage.Record
	if err := q.GetContext(ctx, &record, query, args...); err != nil {
		return nil, dbError(err, "Usage record not found", map[string]any{"usage_id": id})
	}
	return &record, nil
}

func (r *usageRepository) GetBySource(ctx context.Context, tenantID, sourceID string) (*usage.Record, error) {
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, tenantID).
		Add("source_id = ?", sourceID).
		Build(q, "SELECT * FROM usage_records", "")
	if err != nil {
		return nil, err
	}

	var record usage.Record
	if err := q.GetContext(ctx, &record, query, args...); err != nil {
		return nil, dbError(err, "Usage record not found", map[string]any{"source_id": sourceID})
	}
	return &record, nil
}

func (r *usageRepository) List(ctx context.Context, filter *types.UsageFilter) ([]*usage.Record, error) {
	if filter == nil {
		filter = &types.UsageFilter{QueryFilter: types.NewDefaultQueryFilter()}
	}
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, filter.TenantID).
		AddIf(filter.SubscriptionID != "", "subscription_id = ?", filter.SubscriptionID).
		AddIf(filter.BillingPeriod != "", "billing_period = ?", filter.BillingPeriod).
		AddIf(len(filter.UsageTypes) > 0, "usage_type IN (?)", filter.UsageTypes).
		AddIf(filter.Processed != nil, "processed = ?", filter.Processed).
		Build(q, "SELECT * FROM usage_records", postgres.Page(filter.QueryFilter, "recorded_at"))
	if err != nil {
		return nil, err
	}

	var records []*usage.Record
	if err := q.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, dbError(err, "Failed to list usage records", nil)
	}
	return records, nil
}

type usageTotal struct {
	UsageType types.UsageType `db:"usage_type"`
	Total     int64           `db:"total"`
}

func (r *usageRepository) Summarize(ctx context.Context, tenantID, period string) (types.UsageSummary, error) {
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, tenantID).
		Add("billing_period = ?", period).
		Build(q, "SELECT usage_type, COALESCE(SUM(quantity), 0) AS total FROM usage_records", "GROUP BY usage_type")
	if err != nil {
		return nil, err
	}

	var totals []usageTotal
	if err := q.SelectContext(ctx, &totals, query, args...); err != nil {
		return nil, dbError(err, "Failed to summarize usage", map[string]any{
			"tenant_id":      tenantID,
			"billing_period": period,
		})
	}

	summary := make(types.UsageSummary, len(types.UsageTypes))
	for _, t := range types.UsageTypes {
		summary[t] = 0
	}
	for _, t := range totals {
		summary[t.UsageType] = t.Total
	}
	return summary, nil
}

func (r *usageRepository) MarkProcessed(ctx context.Context, subscriptionID, period string, at time.Time) (int64, error) {
	query := `
		UPDATE usage_records SET
			processed = TRUE,
			processed_at = $1,
			updated_at = $1,
			updated_by = $2
		WHERE subscription_id = $3 AND billing_period = $4 AND processed = FALSE`

	res, err := r.db.GetQuerier(ctx).ExecContext(ctx, query, at, types.GetUserID(ctx), subscriptionID, period)
	if err != nil {
		return 0, dbError(err, "Failed to mark usage processed", map[string]any{
			"subscription_id": subscriptionID,
			"billing_period":  period,
		})
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError(err, "Failed to read update result", nil)
	}

	r.logger.Debugw("marked usage processed",
		"subscription_id", subscriptionID,
		"billing_period", period,
		"records", n,
	)
	return n, nil
}

func (r *usageRepository) SummarizeUnbilled(ctx context.Context, subscriptionID, throughPeriod string, cutoff time.Time) (types.UsageSummary, error) {
	query := `
		SELECT usage_type, COALESCE(SUM(quantity), 0) AS total
		FROM usage_records
		WHERE subscription_id = $1 AND status = $2 AND processed = FALSE
			AND billing_period <= $3 AND created_at <= $4
		GROUP BY usage_type`

	var totals []usageTotal
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &totals, query,
		subscriptionID, types.StatusPublished, throughPeriod, cutoff); err != nil {
		return nil, dbError(err, "Failed to summarize unbilled usage", map[string]any{
			"subscription_id": subscriptionID,
			"through_period":  throughPeriod,
		})
	}

	summary := make(types.UsageSummary, len(types.UsageTypes))
	for _, t := range types.UsageTypes {
		summary[t] = 0
	}
	for _, t := range totals {
		summary[t.UsageType] = t.Total
	}
	return summary, nil
}

func (r *usageRepository) MarkBilled(ctx context.Context, subscriptionID, throughPeriod string, cutoff, at time.Time) (int64, error) {
	query := `
		UPDATE usage_records SET
			processed = TRUE,
			processed_at = $1,
			updated_at = $1,
			updated_by = $2
		WHERE subscription_id = $3 AND status = $4 AND processed = FALSE
			AND billing_period <= $5 AND created_at <= $6`

	res, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		at, types.GetUserID(ctx), subscriptionID, types.StatusPublished, throughPeriod, cutoff)
	if err != nil {
		return 0, dbError(err, "Failed to mark usage billed", map[string]any{
			"subscription_id": subscriptionID,
			"through_period":  throughPeriod,
		})
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError(err, "Failed to read update result", nil)
	}
	return n, nil
}

func (r *usageRepository) ListUnprocessedSubscriptionIDs(ctx context.Context, period, tenantID string) ([]string, error) {
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, tenantID).
		Add("billing_period = ?", period).
		Add("processed = ?", false).
		Build(q, "SELECT DISTINCT subscription_id FROM usage_records", "ORDER BY subscription_id")
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := q.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, dbError(err, "Failed to list unprocessed usage", map[string]any{"billing_period": period})
	}
	return ids, nil
}
