package postgres

import (
	"context"

	"github.com/voxbill/voxbill/internal/domain/subscription"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/postgres"
	"github.com/voxbill/voxbill/internal/types"
)

type subscriptionRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewSubscriptionRepository(db *postgres.DB, logger *logger.Logger) subscription.Repository {
	return &subscriptionRepository{db: db, logger: logger}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, tenant_id, plan_id, subscription_status, billing_cycle, current_period_start,
			current_period_end, quantity, cancel_at_period_end, canceled_at, version,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :tenant_id, :plan_id, :subscription_status, :billing_cycle, :current_period_start,
			:current_period_end, :quantity, :cancel_at_period_end, :canceled_at, :version,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)`

	if sub.Version == 0 {
		sub.Version = 1
	}

	r.logger.Debugw("creating subscription",
		"subscription_id", sub.ID,
		"tenant_id", sub.TenantID,
		"plan_id", sub.PlanID,
	)

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, sub); err != nil {
		return dbError(err, "Failed to create subscription", map[string]any{
			"subscription_id": sub.ID,
			"tenant_id":       sub.TenantID,
		})
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, "").
		Add("id = ?", id).
		Build(q, "SELECT * FROM subscriptions", "")
	if err != nil {
		return nil, err
	}

	var sub subscription.Subscription
	if err := q.GetContext(ctx, &sub, query, args...); err != nil {
		return nil, dbError(err, "Subscription not found", map[string]any{"subscription_id": id})
	}
	return &sub, nil
}

// GetByTenant returns the tenant's non canceled subscription
func (r *subscriptionRepository) GetByTenant(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, tenantID).
		Add("subscription_status <> ?", types.SubscriptionStatusCanceled).
		Build(q, "SELECT * FROM subscriptions", "ORDER BY created_at DESC LIMIT 1")
	if err != nil {
		return nil, err
	}

	var sub subscription.Subscription
	if err := q.GetContext(ctx, &sub, query, args...); err != nil {
		return nil, dbError(err, "Tenant has no subscription", map[string]any{"tenant_id": tenantID})
	}
	return &sub, nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	query := `
		UPDATE subscriptions SET
			plan_id = :plan_id,
			subscription_status = :subscription_status,
			billing_cycle = :billing_cycle,
			current_period_start = :current_period_start,
			current_period_end = :current_period_end,
			quantity = :quantity,
			cancel_at_period_end = :cancel_at_period_end,
			canceled_at = :canceled_at,
			version = version + 1,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id AND tenant_id = :tenant_id AND version = :version`

	r.logger.Debugw("updating subscription",
		"subscription_id", sub.ID,
		"subscription_status", sub.SubscriptionStatus,
		"version", sub.Version,
	)

	res, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, sub)
	if err != nil {
		return dbError(err, "Failed to update subscription", map[string]any{"subscription_id": sub.ID})
	}
	if err := checkUpdated(res, "subscription", sub.ID, sub.Version); err != nil {
		return err
	}
	sub.Version++
	return nil
}

func (r *subscriptionRepository) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}
	q := r.db.GetQuerier(ctx)
	query, args, err := r.where(ctx, filter).
		Build(q, "SELECT * FROM subscriptions", postgres.Page(filter.QueryFilter, "current_period_end"))
	if err != nil {
		return nil, err
	}

	var subs []*subscription.Subscription
	if err := q.SelectContext(ctx, &subs, query, args...); err != nil {
		return nil, dbError(err, "Failed to list subscriptions", nil)
	}
	return subs, nil
}

func (r *subscriptionRepository) Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}
	q := r.db.GetQuerier(ctx)
	query, args, err := r.where(ctx, filter).Build(q, "SELECT COUNT(*) FROM subscriptions", "")
	if err != nil {
		return 0, err
	}

	var count int
	if err := q.GetContext(ctx, &count, query, args...); err != nil {
		return 0, dbError(err, "Failed to count subscriptions", nil)
	}
	return count, nil
}

func (r *subscriptionRepository) where(ctx context.Context, filter *types.SubscriptionFilter) *postgres.Where {
	return postgres.NewTenantWhere(ctx, filter.TenantID).
		AddIf(len(filter.SubscriptionIDs) > 0, "id IN (?)", filter.SubscriptionIDs).
		AddIf(len(filter.SubscriptionStatus) > 0, "subscription_status IN (?)", filter.SubscriptionStatus).
		AddIf(filter.CurrentPeriodEndLTE != nil, "current_period_end <= ?", filter.CurrentPeriodEndLTE)
}
