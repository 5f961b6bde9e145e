package service

import (
	"context"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/domain/plan"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	"github.com/voxbill/voxbill/internal/domain/usage"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// OverageLine is the billable excess of one usage type over the plan allowance
type OverageLine struct {
	UsageType  types.UsageType
	Used       int64
	Allowance  int64
	Quantity   int64
	UnitAmount int64
	Amount     int64
}

// UsageService is the usage ledger: it records metered consumption and
// prices the part of it that exceeds plan allowances.
type UsageService interface {
	RecordUsage(ctx context.Context, req dto.RecordUsageRequest) (*usage.Record, error)
	RecordCallUsage(ctx context.Context, tenantID, callID string, durationSeconds int64) (*usage.Record, error)
	Summarize(ctx context.Context, tenantID, period string) (types.UsageSummary, error)
	MarkProcessed(ctx context.Context, subscriptionID, period string) (int64, error)
	ComputeOverages(p *plan.Plan, sub *subscription.Subscription, summary types.UsageSummary) []OverageLine
	ListUnprocessedSubscriptions(ctx context.Context, period, tenantID string) ([]string, error)
}

type usageService struct {
	ServiceParams
}

func NewUsageService(params ServiceParams) UsageService {
	return &usageService{
		ServiceParams: params,
	}
}

func (s *usageService) RecordUsage(ctx context.Context, req dto.RecordUsageRequest) (*usage.Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tenantID := lo.Ternary(req.TenantID != "", req.TenantID, types.GetTenantID(ctx))
	if tenantID == "" {
		return nil, ierr.NewError("tenant id is required").
			WithHint("Usage must be recorded for a tenant").
			Mark(ierr.ErrValidation)
	}
	ctx = types.WithTenant(ctx, tenantID)

	sub, err := s.SubRepo.GetByTenant(ctx, tenantID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.NewError("tenant has no subscription").
				WithHint("Usage can only be recorded for tenants with a billable subscription").
				WithReportableDetails(map[string]any{"tenant_id": tenantID}).
				Mark(ierr.ErrValidation)
		}
		return nil, err
	}
	if !sub.SubscriptionStatus.IsBillable() {
		return nil, ierr.NewError("subscription is not billable").
			WithHintf("Usage cannot be recorded against a %s subscription", sub.SubscriptionStatus).
			WithReportableDetails(map[string]any{
				"tenant_id":       tenantID,
				"subscription_id": sub.ID,
			}).
			Mark(ierr.ErrValidation)
	}

	if req.SourceID != nil {
		existing, err := s.UsageRepo.GetBySource(ctx, tenantID, *req.SourceID)
		if err == nil {
			s.Logger.Debugw("usage already recorded for source",
				"tenant_id", tenantID,
				"source_id", *req.SourceID,
				"usage_id", existing.ID,
			)
			return existing, nil
		}
		if !ierr.IsNotFound(err) {
			return nil, err
		}
	}

	recordedAt := s.Clock.Now().UTC()
	if req.RecordedAt != nil {
		recordedAt = req.RecordedAt.UTC()
	}

	record := &usage.Record{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USAGE),
		SubscriptionID: sub.ID,
		UsageType:      req.UsageType,
		Quantity:       req.Quantity,
		BillingPeriod:  types.PeriodKey(recordedAt),
		RecordedAt:     recordedAt,
		SourceID:       req.SourceID,
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	if err := s.UsageRepo.Create(ctx, record); err != nil {
		// a concurrent delivery of the same source won the insert
		if ierr.IsAlreadyExists(err) && req.SourceID != nil {
			return s.UsageRepo.GetBySource(ctx, tenantID, *req.SourceID)
		}
		return nil, err
	}

	s.Metrics.UsageRecordsTotal.WithLabelValues(record.UsageType.String()).Inc()
	s.Logger.Debugw("recorded usage",
		"tenant_id", tenantID,
		"subscription_id", sub.ID,
		"usage_type", record.UsageType,
		"quantity", record.Quantity,
		"billing_period", record.BillingPeriod,
	)
	return record, nil
}

// RecordCallUsage bills a completed call in whole minutes, rounding up
func (s *usageService) RecordCallUsage(ctx context.Context, tenantID, callID string, durationSeconds int64) (*usage.Record, error) {
	if callID == "" {
		return nil, ierr.NewError("call id is required").
			WithHint("Call usage must carry the call id").
			Mark(ierr.ErrValidation)
	}
	if durationSeconds < 0 {
		return nil, ierr.NewError("call duration must not be negative").
			WithHint("Call duration must be zero or positive").
			WithReportableDetails(map[string]any{
				"call_id":          callID,
				"duration_seconds": durationSeconds,
			}).
			Mark(ierr.ErrValidation)
	}

	return s.RecordUsage(ctx, dto.RecordUsageRequest{
		TenantID:  tenantID,
		UsageType: types.UsageTypeCallMinutes,
		Quantity:  (durationSeconds + 59) / 60,
		SourceID:  lo.ToPtr(callID),
	})
}

func (s *usageService) Summarize(ctx context.Context, tenantID, period string) (types.UsageSummary, error) {
	if err := types.ValidatePeriodKey(period); err != nil {
		return nil, err
	}
	return s.UsageRepo.Summarize(ctx, tenantID, period)
}

func (s *usageService) MarkProcessed(ctx context.Context, subscriptionID, period string) (int64, error) {
	if err := types.ValidatePeriodKey(period); err != nil {
		return 0, err
	}
	return s.UsageRepo.MarkProcessed(ctx, subscriptionID, period, s.Clock.Now().UTC())
}

// ComputeOverages returns one line per usage type whose consumption exceeds
// the plan allowance and has a configured rate, in invoice line order.
func (s *usageService) ComputeOverages(p *plan.Plan, sub *subscription.Subscription, summary types.UsageSummary) []OverageLine {
	rates := s.Config.Billing.Overage
	allowances := map[types.UsageType]int64{
		types.UsageTypeCallMinutes: int64(p.MaxConcurrentCalls) * rates.MinutesPerConcurrentCall,
		types.UsageTypeSeatCount:   p.SeatAllowance(),
		types.UsageTypeSMSCount:    rates.SMSAllowance,
	}
	unitAmounts := map[types.UsageType]int64{
		types.UsageTypeCallMinutes: rates.CallMinuteRate,
		types.UsageTypeSeatCount:   rates.SeatRate,
		types.UsageTypeSMSCount:    rates.SMSRate,
	}

	lines := make([]OverageLine, 0, len(types.UsageTypes))
	for _, usageType := range types.UsageTypes {
		used := summary[usageType]
		excess := used - allowances[usageType]
		if excess <= 0 || unitAmounts[usageType] <= 0 {
			continue
		}
		lines = append(lines, OverageLine{
			UsageType:  usageType,
			Used:       used,
			Allowance:  allowances[usageType],
			Quantity:   excess,
			UnitAmount: unitAmounts[usageType],
			Amount:     types.MultiplyQuantity(unitAmounts[usageType], decimal.NewFromInt(excess)),
		})
	}
	return lines
}

func (s *usageService) ListUnprocessedSubscriptions(ctx context.Context, period, tenantID string) ([]string, error) {
	if err := types.ValidatePeriodKey(period); err != nil {
		return nil, err
	}
	return s.UsageRepo.ListUnprocessedSubscriptionIDs(ctx, period, tenantID)
}
