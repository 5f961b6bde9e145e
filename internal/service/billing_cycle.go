package service

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/domain/invoice"
	"github.com/voxbill/voxbill/internal/domain/payment"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
	webhookDto "github.com/voxbill/voxbill/internal/webhook/dto"
)

// BillingCycleService drives the periodic billing of due subscriptions
type BillingCycleService interface {
	ProcessBillingCycle(ctx context.Context, req dto.BillingCycleRequest) (*dto.BillingCycleSummary, error)
	TriggerManualBilling(ctx context.Context, tenantID string, dryRun bool) (*dto.BillingCycleSummary, error)
	GetBillingStatus(ctx context.Context) (*dto.BillingStatusResponse, error)
}

type billingCycleService struct {
	ServiceParams
}

func NewBillingCycleService(params ServiceParams) BillingCycleService {
	return &billingCycleService{
		ServiceParams: params,
	}
}

type subscriptionOutcome string

const (
	subscriptionOutcomeCollected subscriptionOutcome = "collected"
	subscriptionOutcomeFailed    subscriptionOutcome = "failed"
	subscriptionOutcomePending   subscriptionOutcome = "pending"
	subscriptionOutcomeZeroTotal subscriptionOutcome = "zero_total"
	subscriptionOutcomeDryRun    subscriptionOutcome = "dry_run"
	subscriptionOutcomeSkipped   subscriptionOutcome = "skipped"
	subscriptionOutcomeError     subscriptionOutcome = "error"
)

type subscriptionResult struct {
	subscriptionID string
	outcome        subscriptionOutcome
	invoice        *invoice.Invoice
	payment        *payment.Payment
	err            error
}

// ProcessBillingCycle invoices and collects every active subscription whose
// period has closed by the end of today. Per subscription failures end up in
// the summary, only a refused guard is returned as an error.
func (s *billingCycleService) ProcessBillingCycle(ctx context.Context, req dto.BillingCycleRequest) (*dto.BillingCycleSummary, error) {
	release, err := s.CycleLock.Acquire(ctx, req.DryRun)
	if err != nil {
		return nil, err
	}
	defer release()

	mode := lo.Ternary(req.DryRun, "dry_run", "live")
	s.Metrics.CycleRunning.Inc()
	defer s.Metrics.CycleRunning.Dec()

	span, ctx := s.Sentry.StartTransaction(ctx, "billing_cycle")
	if span != nil {
		defer span.Finish()
	}

	now := s.Clock.Now().UTC()
	summary := &dto.BillingCycleSummary{
		RunID:     types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BILLING_RUN),
		DryRun:    req.DryRun,
		TenantID:  req.TenantID,
		StartedAt: now,
		Errors:    []string{},
	}
	log := s.Logger.With("run_id", summary.RunID, "dry_run", req.DryRun, "tenant_id", req.TenantID)
	log.Infow("starting billing cycle", "process_overages", req.ProcessOverages)

	// listing is scoped by the explicit tenant only, the run spans tenants otherwise
	listCtx := types.SetTenantID(ctx, req.TenantID)

	due, err := s.listDueSubscriptions(listCtx, req.TenantID, now)
	if err != nil {
		s.finish(ctx, summary, mode, err)
		return summary, nil
	}
	handled := make(map[string]bool, len(due))
	for _, sub := range due {
		handled[sub.ID] = true
	}
	s.processSubscriptions(ctx, due, req.DryRun, summary)

	if req.ProcessOverages && ctx.Err() == nil {
		extra, err := s.listOverageSubscriptions(listCtx, req.TenantID, now, handled)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("overages: %s", err.Error()))
		} else {
			s.processSubscriptions(ctx, extra, req.DryRun, summary)
		}
	}

	s.finish(ctx, summary, mode, nil)
	return summary, nil
}

func (s *billingCycleService) finish(ctx context.Context, summary *dto.BillingCycleSummary, mode string, listErr error) {
	if listErr != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("list subscriptions: %s", listErr.Error()))
		s.Sentry.CaptureException(ctx, listErr, map[string]string{"run_id": summary.RunID})
	}
	if ctx.Err() != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("run interrupted: %s", ctx.Err().Error()))
	}

	summary.FinishedAt = s.Clock.Now().UTC()
	result := lo.Ternary(len(summary.Errors) == 0, "success", "partial")
	s.Metrics.CycleRunsTotal.WithLabelValues(mode, result).Inc()
	s.Metrics.CycleDuration.WithLabelValues(mode).Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())

	s.Logger.Infow("finished billing cycle",
		"run_id", summary.RunID,
		"dry_run", summary.DryRun,
		"subscriptions_processed", summary.SubscriptionsProcessed,
		"invoices_generated", summary.InvoicesGenerated,
		"payments_collected", summary.PaymentsCollected,
		"payments_failed", summary.PaymentsFailed,
		"payments_pending", summary.PaymentsPending,
		"total_amount", summary.TotalAmount,
		"total_collected", summary.TotalCollected,
		"errors", len(summary.Errors),
	)

	if summary.DryRun {
		return
	}
	eventCtx := types.SetUserID(types.SetTenantID(ctx, summary.TenantID), types.SystemUserID)
	s.publishWebhookEvent(eventCtx, types.WebhookEventBillingCycleFinished, webhookDto.InternalBillingCycleEvent{
		RunID:                  summary.RunID,
		TenantID:               summary.TenantID,
		SubscriptionsProcessed: summary.SubscriptionsProcessed,
		InvoicesGenerated:      summary.InvoicesGenerated,
		PaymentsCollected:      summary.PaymentsCollected,
		PaymentsFailed:         summary.PaymentsFailed,
		PaymentsPending:        summary.PaymentsPending,
		TotalAmount:            summary.TotalAmount,
		TotalCollected:         summary.TotalCollected,
		Errors:                 len(summary.Errors),
	})
}

// listDueSubscriptions pages through the due subscriptions before any of
// them is processed, so advancing periods cannot shift the pages.
func (s *billingCycleService) listDueSubscriptions(ctx context.Context, tenantID string, now time.Time) ([]*subscription.Subscription, error) {
	batchSize := s.Config.Billing.BatchSize
	var due []*subscription.Subscription
	for offset := 0; ; offset += batchSize {
		filter := &types.SubscriptionFilter{
			QueryFilter: &types.QueryFilter{
				Limit:  lo.ToPtr(batchSize),
				Offset: lo.ToPtr(offset),
				Order:  lo.ToPtr(types.OrderAsc),
			},
			TenantID:            tenantID,
			SubscriptionStatus:  []types.SubscriptionStatus{types.SubscriptionStatusActive},
			CurrentPeriodEndLTE: lo.ToPtr(types.EndOfDay(now)),
		}
		page, err := s.SubRepo.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		due = append(due, page...)
		if len(page) < batchSize {
			return due, nil
		}
	}
}

// listOverageSubscriptions returns active subscriptions owning unprocessed
// usage in the current period that the run has not handled yet.
func (s *billingCycleService) listOverageSubscriptions(ctx context.Context, tenantID string, now time.Time, handled map[string]bool) ([]*subscription.Subscription, error) {
	ids, err := NewUsageService(s.ServiceParams).ListUnprocessedSubscriptions(ctx, types.PeriodKey(now), tenantID)
	if err != nil {
		return nil, err
	}
	ids = lo.Filter(ids, func(id string, _ int) bool { return !handled[id] })
	if len(ids) == 0 {
		return nil, nil
	}

	return s.SubRepo.List(ctx, &types.SubscriptionFilter{
		QueryFilter:        types.NewNoLimitQueryFilter(),
		TenantID:           tenantID,
		SubscriptionIDs:    ids,
		SubscriptionStatus: []types.SubscriptionStatus{types.SubscriptionStatusActive},
	})
}

func (s *billingCycleService) processSubscriptions(ctx context.Context, subs []*subscription.Subscription, dryRun bool, summary *dto.BillingCycleSummary) {
	if len(subs) == 0 {
		return
	}

	p := pool.NewWithResults[*subscriptionResult]().WithMaxGoroutines(s.Config.Billing.Concurrency)
	for _, sub := range subs {
		p.Go(func() *subscriptionResult {
			if err := ctx.Err(); err != nil {
				return &subscriptionResult{subscriptionID: sub.ID, outcome: subscriptionOutcomeSkipped}
			}
			return s.processSubscription(ctx, sub, dryRun)
		})
	}

	for _, res := range p.Wait() {
		s.Metrics.CycleSubscriptions.WithLabelValues(string(res.outcome)).Inc()
		if res.outcome == subscriptionOutcomeSkipped {
			continue
		}

		summary.SubscriptionsProcessed++
		if res.invoice != nil {
			summary.InvoicesGenerated++
			summary.TotalAmount += res.invoice.Total
		}
		switch res.outcome {
		case subscriptionOutcomeCollected:
			summary.PaymentsCollected++
			summary.TotalCollected += res.payment.Amount
		case subscriptionOutcomeFailed:
			summary.PaymentsFailed++
		case subscriptionOutcomePending:
			summary.PaymentsPending++
		}
		if res.err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s", res.subscriptionID, res.err.Error()))
		}
	}
}

// processSubscription bills the closing period of one subscription
func (s *billingCycleService) processSubscription(ctx context.Context, sub *subscription.Subscription, dryRun bool) *subscriptionResult {
	ctx = types.WithTenant(ctx, sub.TenantID)
	res := &subscriptionResult{subscriptionID: sub.ID}
	log := s.Logger.With("subscription_id", sub.ID, "tenant_id", sub.TenantID, "billing_period", sub.BillingPeriod())

	fail := func(err error) *subscriptionResult {
		res.err = err
		if res.outcome == "" {
			res.outcome = subscriptionOutcomeError
		}
		log.Errorw("failed to bill subscription", "error", err)
		if !isBusinessError(err) {
			s.Sentry.CaptureException(ctx, err, map[string]string{
				"subscription_id": sub.ID,
				"tenant_id":       sub.TenantID,
			})
		}
		return res
	}

	p, err := s.PlanRepo.Get(ctx, sub.PlanID)
	if err != nil {
		return fail(err)
	}

	settler := newSubscriptionSettler(s.ServiceParams)
	var inv *invoice.Invoice
	build := func(ctx context.Context) error {
		var err error
		inv, err = NewInvoiceService(s.ServiceParams).BuildInvoice(ctx, BuildInvoiceRequest{
			Subscription: sub,
			Plan:         p,
			PeriodStart:  sub.CurrentPeriodStart,
			PeriodEnd:    sub.CurrentPeriodEnd,
			DryRun:       dryRun,
		})
		if err != nil {
			return err
		}
		if !dryRun && inv.Total == 0 {
			// nothing to collect, the period closes with the invoice
			return settler.onInvoicePaid(ctx, inv)
		}
		return nil
	}
	if dryRun {
		err = build(ctx)
	} else {
		err = s.DB.WithTx(ctx, build)
	}
	if err != nil {
		return fail(err)
	}
	res.invoice = inv

	if dryRun {
		nextStart, nextEnd := types.NextBillingPeriod(sub.CurrentPeriodEnd, sub.BillingCycle)
		log.Infow("dry run computed invoice",
			"total", inv.Total,
			"next_period_start", nextStart,
			"next_period_end", nextEnd,
		)
		res.outcome = subscriptionOutcomeDryRun
		return res
	}
	if inv.Total == 0 {
		res.outcome = subscriptionOutcomeZeroTotal
		return res
	}

	methods, err := s.PaymentMethodRepo.ListByTenant(ctx, sub.TenantID)
	if err != nil {
		return fail(err)
	}
	if len(methods) > 1 {
		methods = methods[:1]
	}

	pay, err := NewPaymentService(s.ServiceParams).AttemptPayment(ctx, AttemptPaymentRequest{
		InvoiceID:      inv.ID,
		PaymentMethods: methods,
	})
	res.payment = pay
	if err != nil {
		// an invoice that could not be charged leaves the subscription past due
		collected := pay != nil && pay.PaymentStatus == types.PaymentStatusSucceeded
		if !ierr.IsAlreadyPaid(err) && !collected {
			res.outcome = subscriptionOutcomeFailed
			if markErr := settler.markPastDue(ctx, inv); markErr != nil {
				log.Errorw("failed to mark subscription past due", "error", markErr)
			}
		}
		return fail(err)
	}

	switch pay.PaymentStatus {
	case types.PaymentStatusSucceeded:
		res.outcome = subscriptionOutcomeCollected
	case types.PaymentStatusPending:
		res.outcome = subscriptionOutcomePending
	default:
		res.outcome = subscriptionOutcomeFailed
		res.err = ierr.NewError(fmt.Sprintf("payment failed: %s", pay.GetFailureReason())).
			WithHint("Payment failed, a retry may be scheduled").
			Mark(ierr.ErrInvalidOperation)
	}
	log.Infow("billed subscription",
		"invoice_id", inv.ID,
		"payment_id", pay.ID,
		"total", inv.Total,
		"payment_status", pay.PaymentStatus,
	)
	return res
}

func (s *billingCycleService) TriggerManualBilling(ctx context.Context, tenantID string, dryRun bool) (*dto.BillingCycleSummary, error) {
	if tenantID == "" {
		return nil, ierr.NewError("tenant id is required").
			WithHint("Manual billing must target a tenant").
			Mark(ierr.ErrValidation)
	}
	return s.ProcessBillingCycle(ctx, dto.BillingCycleRequest{
		TenantID: tenantID,
		DryRun:   dryRun,
	})
}

func (s *billingCycleService) GetBillingStatus(ctx context.Context) (*dto.BillingStatusResponse, error) {
	status, err := s.CycleLock.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.BillingStatusResponse{
		IsRunning:     status.Live,
		DryRunsActive: status.DryRuns,
	}, nil
}

// isBusinessError reports errors that describe billing state rather than
// a malfunction, which are not worth an error report.
func isBusinessError(err error) bool {
	return ierr.IsValidation(err) ||
		ierr.IsNoPaymentMethod(err) ||
		ierr.IsAlreadyPaid(err) ||
		ierr.IsDuplicateInvoice(err) ||
		ierr.IsInvalidOperation(err) ||
		ierr.IsGatewayUnavailable(err)
}
