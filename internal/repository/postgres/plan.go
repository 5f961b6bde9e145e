package postgres

import (
	"context"

	"github.com/voxbill/voxbill/internal/cache"
	"github.com/voxbill/voxbill/internal/domain/plan"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/postgres"
)

type planRepository struct {
	db     *postgres.DB
	logger *logger.Logger
	cache  cache.Cache
}

// NewPlanRepository reads plans through the cache, plans change rarely and
// every billed subscription looks its plan up.
func NewPlanRepository(db *postgres.DB, logger *logger.Logger, cache cache.Cache) plan.Repository {
	return &planRepository{db: db, logger: logger, cache: cache}
}

func (r *planRepository) Create(ctx context.Context, p *plan.Plan) error {
	query := `
		INSERT INTO plans (
			id, tenant_id, name, currency, monthly_price, yearly_price, max_extensions,
			max_concurrent_calls, max_users, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :tenant_id, :name, :currency, :monthly_price, :yearly_price, :max_extensions,
			:max_concurrent_calls, :max_users, :status, :created_at, :updated_at, :created_by, :updated_by
		)`

	r.logger.Debugw("creating plan", "plan_id", p.ID)

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, p); err != nil {
		return dbError(err, "Failed to create plan", map[string]any{"plan_id": p.ID})
	}
	r.DeleteCache(ctx, p.ID)
	return nil
}

// Get looks plans up by id alone, plans are shared across tenants
func (r *planRepository) Get(ctx context.Context, id string) (*plan.Plan, error) {
	if cached := r.GetCache(ctx, id); cached != nil {
		return cached, nil
	}

	var p plan.Plan
	query := `SELECT * FROM plans WHERE id = $1 AND status = 'published'`
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &p, query, id); err != nil {
		return nil, dbError(err, "Plan not found", map[string]any{"plan_id": id})
	}
	r.SetCache(ctx, &p)
	return &p, nil
}

func (r *planRepository) List(ctx context.Context) ([]*plan.Plan, error) {
	var plans []*plan.Plan
	query := `SELECT * FROM plans WHERE status = 'published' ORDER BY monthly_price, id`
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &plans, query); err != nil {
		return nil, dbError(err, "Failed to list plans", nil)
	}
	return plans, nil
}

func (r *planRepository) SetCache(ctx context.Context, p *plan.Plan) {
	key := cache.GenerateKey(cache.PrefixPlan, p.ID)
	span := cache.StartCacheSpan(ctx, "plan", "set", key)
	defer cache.FinishSpan(span)

	// callers mutate what they get back, the cache keeps its own copy
	stored := *p
	r.cache.Set(ctx, key, &stored, 0)
}

func (r *planRepository) GetCache(ctx context.Context, id string) *plan.Plan {
	key := cache.GenerateKey(cache.PrefixPlan, id)
	span := cache.StartCacheSpan(ctx, "plan", "get", key)
	defer cache.FinishSpan(span)

	value, found := r.cache.Get(ctx, key)
	cache.RecordHit(span, found)
	if !found {
		return nil
	}
	p := *value.(*plan.Plan)
	return &p
}

func (r *planRepository) DeleteCache(ctx context.Context, id string) {
	key := cache.GenerateKey(cache.PrefixPlan, id)
	span := cache.StartCacheSpan(ctx, "plan", "delete", key)
	defer cache.FinishSpan(span)

	r.cache.Delete(ctx, key)
}
