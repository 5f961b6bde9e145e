package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/domain/plan"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/gateway"
	"github.com/voxbill/voxbill/internal/testutil"
	"github.com/voxbill/voxbill/internal/types"
)

type BillingCycleServiceSuite struct {
	testutil.BaseServiceTestSuite
	service  BillingCycleService
	invoices InvoiceService
	usage    UsageService
	plan     *plan.Plan
}

func TestBillingCycleService(t *testing.T) {
	suite.Run(t, new(BillingCycleServiceSuite))
}

func (s *BillingCycleServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	s.service = NewBillingCycleService(params)
	s.invoices = NewInvoiceService(params)
	s.usage = NewUsageService(params)
	s.plan = createBasicPlan(&s.BaseServiceTestSuite)
}

func (s *BillingCycleServiceSuite) tenantContext(tenantID string) context.Context {
	return types.SetTenantID(s.GetContext(), tenantID)
}

func (s *BillingCycleServiceSuite) getSubscription(ctx context.Context, id string) *subscription.Subscription {
	sub, err := s.GetStores().SubscriptionRepo.Get(ctx, id)
	s.Require().NoError(err)
	return sub
}

func (s *BillingCycleServiceSuite) countInvoices() int {
	count, err := s.GetStores().InvoiceRepo.Count(context.Background(), &types.InvoiceFilter{
		QueryFilter: types.NewNoLimitQueryFilter(),
	})
	s.Require().NoError(err)
	return count
}

func (s *BillingCycleServiceSuite) TestProcessBillingCycleMixedOutcomes() {
	paidCtx := s.tenantContext("tenant_paid")
	declinedCtx := s.tenantContext("tenant_declined")
	noMethodCtx := s.tenantContext("tenant_no_method")

	paid := createDueSubscription(paidCtx, &s.BaseServiceTestSuite, s.plan)
	s.CreatePaymentMethod(paidCtx, types.PaymentMethodTypeCard, true)

	declined := createDueSubscription(declinedCtx, &s.BaseServiceTestSuite, s.plan)
	s.CreatePaymentMethod(declinedCtx, types.PaymentMethodTypeBankTransfer, true)
	s.GetGateways().Bank.EnqueueFailure(types.FailureReasonInsufficientFunds, 1)

	noMethod := createDueSubscription(noMethodCtx, &s.BaseServiceTestSuite, s.plan)

	summary, err := s.service.ProcessBillingCycle(s.GetContext(), dto.BillingCycleRequest{})
	s.NoError(err)

	s.False(summary.DryRun)
	s.NotEmpty(summary.RunID)
	s.Equal(3, summary.SubscriptionsProcessed)
	s.Equal(3, summary.InvoicesGenerated)
	s.Equal(1, summary.PaymentsCollected)
	s.Equal(2, summary.PaymentsFailed)
	s.Zero(summary.PaymentsPending)
	s.Equal(int64(3*3132), summary.TotalAmount)
	s.Equal(int64(3132), summary.TotalCollected)
	s.Len(summary.Errors, 2)

	nextStart, nextEnd := types.NextBillingPeriod(paid.CurrentPeriodEnd, paid.BillingCycle)
	advanced := s.getSubscription(paidCtx, paid.ID)
	s.Equal(types.SubscriptionStatusActive, advanced.SubscriptionStatus)
	s.Equal(nextStart, advanced.CurrentPeriodStart)
	s.Equal(nextEnd, advanced.CurrentPeriodEnd)

	for _, tc := range []struct {
		ctx context.Context
		sub *subscription.Subscription
	}{
		{ctx: declinedCtx, sub: declined},
		{ctx: noMethodCtx, sub: noMethod},
	} {
		stored := s.getSubscription(tc.ctx, tc.sub.ID)
		s.Equal(types.SubscriptionStatusPastDue, stored.SubscriptionStatus)
		s.Equal(tc.sub.CurrentPeriodEnd, stored.CurrentPeriodEnd)
	}

	s.Contains(s.GetPublishedEvents(), types.WebhookEventBillingCycleFinished)

	running, err := s.service.GetBillingStatus(s.GetContext())
	s.NoError(err)
	s.False(running.IsRunning)
}

func (s *BillingCycleServiceSuite) TestProcessBillingCycleIsIdempotent() {
	ctx := s.GetContext()
	createDueSubscription(ctx, &s.BaseServiceTestSuite, s.plan)
	s.CreatePaymentMethod(ctx, types.PaymentMethodTypeCard, true)

	first, err := s.service.ProcessBillingCycle(ctx, dto.BillingCycleRequest{})
	s.NoError(err)
	s.Equal(1, first.InvoicesGenerated)

	second, err := s.service.ProcessBillingCycle(ctx, dto.BillingCycleRequest{})
	s.NoError(err)
	s.Zero(second.SubscriptionsProcessed)
	s.Zero(second.InvoicesGenerated)
	s.Equal(1, s.countInvoices())
	s.Equal(1, s.GetGateways().Card.Calls())
}

func (s *BillingCycleServiceSuite) TestProcessBillingCycleReportsExistingInvoice() {
	ctx := s.GetContext()
	sub := createDueSubscription(ctx, &s.BaseServiceTestSuite, s.plan)
	s.CreatePaymentMethod(ctx, types.PaymentMethodTypeCard, true)

	_, err := s.invoices.BuildInvoice(ctx, BuildInvoiceRequest{
		Subscription: sub,
		Plan:         s.plan,
		PeriodStart:  sub.CurrentPeriodStart,
		PeriodEnd:    sub.CurrentPeriodEnd,
	})
	s.NoError(err)

	summary, err := s.service.ProcessBillingCycle(ctx, dto.BillingCycleRequest{})
	s.NoError(err)
	s.Equal(1, summary.SubscriptionsProcessed)
	s.Zero(summary.InvoicesGenerated)
	s.Require().Len(summary.Errors, 1)
	s.Contains(summary.Errors[0], sub.ID)
	s.Contains(summary.Errors[0], "invoice already exists")
	s.Equal(1, s.countInvoices())
	s.Zero(s.GetGateways().Card.Calls())

	stored := s.getSubscription(ctx, sub.ID)
	s.Equal(types.SubscriptionStatusActive, stored.SubscriptionStatus)
	s.Equal(sub.CurrentPeriodEnd, stored.CurrentPeriodEnd)
}

func (s *BillingCycleServiceSuite) TestProcessBillingCycleMarksPastDueWhenGatewayMissing() {
	ctx := s.GetContext()
	sub := createDueSubscription(ctx, &s.BaseServiceTestSuite, s.plan)
	s.CreatePaymentMethod(ctx, types.PaymentMethodTypeCard, true)

	// only manual collection is configured, the tenant's card cannot be charged
	registry := gateway.NewRegistry(s.GetConfig(), s.GetLogger())
	registry.Register(types.PaymentMethodTypeManual, s.GetGateways().Manual)
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	params.Gateways = registry

	summary, err := NewBillingCycleService(params).ProcessBillingCycle(ctx, dto.BillingCycleRequest{})
	s.NoError(err)
	s.Equal(1, summary.SubscriptionsProcessed)
	s.Equal(1, summary.InvoicesGenerated)
	s.Equal(1, summary.PaymentsFailed)
	s.Zero(summary.PaymentsCollected)
	s.Require().Len(summary.Errors, 1)
	s.Contains(summary.Errors[0], sub.ID)

	stored := s.getSubscription(ctx, sub.ID)
	s.Equal(types.SubscriptionStatusPastDue, stored.SubscriptionStatus)
	s.Equal(sub.CurrentPeriodEnd, stored.CurrentPeriodEnd)
	s.Contains(s.GetPublishedEvents(), types.WebhookEventSubscriptionPastDue)
	s.Zero(s.GetGateways().Card.Calls())
	s.Zero(s.GetGateways().Manual.Calls())
}

func (s *BillingCycleServiceSuite) TestProcessBillingCycleRecordsUsageSummaryFailure() {
	ctx := s.GetContext()
	sub := createDueSubscription(ctx, &s.BaseServiceTestSuite, s.plan)
	s.CreatePaymentMethod(ctx, types.PaymentMethodTypeCard, true)
	s.GetStores().UsageRepo.FailSummaries(errors.New("connection reset"))

	summary, err := s.service.ProcessBillingCycle(ctx, dto.BillingCycleRequest{})
	s.NoError(err)
	s.Equal(1, summary.SubscriptionsProcessed)
	s.Zero(summary.InvoicesGenerated)
	s.Require().Len(summary.Errors, 1)
	s.Contains(summary.Errors[0], sub.ID)
	s.Zero(s.countInvoices())
	s.Zero(s.GetGateways().Card.Calls())

	stored := s.getSubscription(ctx, sub.ID)
	s.Equal(types.SubscriptionStatusActive, stored.SubscriptionStatus)
	s.Equal(sub.CurrentPeriodEnd, stored.CurrentPeriodEnd)
}

func (s *BillingCycleServiceSuite) TestProcessBillingCycleCommitsInTransactions() {
	ctx := s.GetContext()
	createDueSubscription(ctx, &s.BaseServiceTestSuite, s.plan)
	s.CreatePaymentMethod(ctx, types.PaymentMethodTypeCard, true)

	summary, err := s.service.ProcessBillingCycle(ctx, dto.BillingCycleRequest{})
	s.NoError(err)
	s.Equal(1, summary.PaymentsCollected)
	// one for the invoice, one for the charge outcome and its settlement
	s.Equal(2, s.GetDB().Transactions())

	s.GetDB().Reset()
	_, err = s.service.ProcessBillingCycle(ctx, dto.BillingCycleRequest{DryRun: true})
	s.NoError(err)
	s.Zero(s.GetDB().Transactions())
}

func (s *BillingCycleServiceSuite) TestProcessBillingCycleDryRun() {
	ctx := s.GetContext()
	sub := createDueSubscription(ctx, &s.BaseServiceTestSuite, s.plan)
	s.CreatePaymentMethod(ctx, types.PaymentMethodTypeCard, true)

	summary, err := s.service.ProcessBillingCycle(ctx, dto.BillingCycleRequest{DryRun: true})
	s.NoError(err)
	s.True(summary.DryRun)
	s.Equal(1, summary.SubscriptionsProcessed)
	s.Equal(1, summary.InvoicesGenerated)
	s.Equal(int64(3132), summary.TotalAmount)
	s.Zero(summary.PaymentsCollected)

	s.Zero(s.countInvoices())
	s.Zero(s.GetGateways().Card.Calls())
	s.Empty(s.GetPublishedEvents())

	stored := s.getSubscription(ctx, sub.ID)
	s.Equal(sub.CurrentPeriodEnd, stored.CurrentPeriodEnd)
	s.Equal(sub.Version, stored.Version)
}

func (s *BillingCycleServiceSuite) TestProcessBillingCycleZeroTotal() {
	ctx := s.GetContext()
	free := s.CreatePlan(&plan.Plan{Name: "Free"})
	sub := createDueSubscription(ctx, &s.BaseServiceTestSuite, free)

	summary, err := s.service.ProcessBillingCycle(ctx, dto.BillingCycleRequest{})
	s.NoError(err)
	s.Equal(1, summary.InvoicesGenerated)
	s.Zero(summary.PaymentsCollected)
	s.Zero(summary.PaymentsFailed)
	s.Empty(summary.Errors)

	payments, err := s.GetStores().PaymentRepo.List(ctx, &types.PaymentFilter{QueryFilter: types.NewNoLimitQueryFilter()})
	s.NoError(err)
	s.Empty(payments)

	stored := s.getSubscription(ctx, sub.ID)
	nextStart, _ := types.NextBillingPeriod(sub.CurrentPeriodEnd, sub.BillingCycle)
	s.Equal(nextStart, stored.CurrentPeriodStart)
	s.Equal(types.SubscriptionStatusActive, stored.SubscriptionStatus)
}

func (s *BillingCycleServiceSuite) TestProcessBillingCycleIgnoresSubscriptionsNotDue() {
	ctx := s.GetContext()
	s.CreateSubscription(ctx, s.plan, s.GetNow().AddDate(0, 0, 10))
	s.CreatePaymentMethod(ctx, types.PaymentMethodTypeCard, true)

	summary, err := s.service.ProcessBillingCycle(ctx, dto.BillingCycleRequest{})
	s.NoError(err)
	s.Zero(summary.SubscriptionsProcessed)
	s.Zero(s.countInvoices())
}

func (s *BillingCycleServiceSuite) TestProcessBillingCycleRefusesConcurrentLiveRun() {
	release, err := s.GetCycleLock().Acquire(s.GetContext(), false)
	s.Require().NoError(err)

	running, err := s.service.GetBillingStatus(s.GetContext())
	s.NoError(err)
	s.True(running.IsRunning)

	_, err = s.service.ProcessBillingCycle(s.GetContext(), dto.BillingCycleRequest{})
	s.Error(err)
	s.True(ierr.IsCycleAlreadyRunning(err))

	_, err = s.service.ProcessBillingCycle(s.GetContext(), dto.BillingCycleRequest{DryRun: true})
	s.True(ierr.IsCycleAlreadyRunning(err))

	release()
	_, err = s.service.ProcessBillingCycle(s.GetContext(), dto.BillingCycleRequest{})
	s.NoError(err)
}

func (s *BillingCycleServiceSuite) TestDryRunsMayOverlap() {
	release, err := s.GetCycleLock().Acquire(s.GetContext(), true)
	s.Require().NoError(err)
	defer release()

	status, err := s.service.GetBillingStatus(s.GetContext())
	s.NoError(err)
	s.False(status.IsRunning)
	s.Equal(1, status.DryRunsActive)

	_, err = s.service.ProcessBillingCycle(s.GetContext(), dto.BillingCycleRequest{DryRun: true})
	s.NoError(err)

	_, err = s.service.ProcessBillingCycle(s.GetContext(), dto.BillingCycleRequest{})
	s.True(ierr.IsCycleAlreadyRunning(err))
}

func (s *BillingCycleServiceSuite) TestTriggerManualBilling() {
	mine := s.tenantContext("tenant_mine")
	other := s.tenantContext("tenant_other")
	createDueSubscription(mine, &s.BaseServiceTestSuite, s.plan)
	s.CreatePaymentMethod(mine, types.PaymentMethodTypeCard, true)
	otherSub := createDueSubscription(other, &s.BaseServiceTestSuite, s.plan)
	s.CreatePaymentMethod(other, types.PaymentMethodTypeCard, true)

	_, err := s.service.TriggerManualBilling(s.GetContext(), "", false)
	s.True(ierr.IsValidation(err))

	summary, err := s.service.TriggerManualBilling(s.GetContext(), "tenant_mine", false)
	s.NoError(err)
	s.Equal("tenant_mine", summary.TenantID)
	s.Equal(1, summary.SubscriptionsProcessed)
	s.Equal(1, summary.PaymentsCollected)

	stored := s.getSubscription(other, otherSub.ID)
	s.Equal(otherSub.CurrentPeriodEnd, stored.CurrentPeriodEnd)
}

func (s *BillingCycleServiceSuite) TestProcessBillingCycleWithOverages() {
	ctx := s.GetContext()
	start := types.StartOfDay(s.GetNow())
	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		PlanID:             s.plan.ID,
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingCycle:       types.BillingCycleMonthly,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(0, 1, 0),
		Quantity:           1,
		BaseModel:          types.GetDefaultBaseModel(ctx),
	}
	s.Require().NoError(s.GetStores().SubscriptionRepo.Create(ctx, sub))
	s.CreatePaymentMethod(ctx, types.PaymentMethodTypeCard, true)

	_, err := s.usage.RecordUsage(ctx, dto.RecordUsageRequest{
		UsageType:  types.UsageTypeCallMinutes,
		Quantity:   5100,
		RecordedAt: &start,
	})
	s.NoError(err)

	// without overages the subscription is not due
	summary, err := s.service.ProcessBillingCycle(ctx, dto.BillingCycleRequest{})
	s.NoError(err)
	s.Zero(summary.SubscriptionsProcessed)

	summary, err = s.service.ProcessBillingCycle(ctx, dto.BillingCycleRequest{ProcessOverages: true})
	s.NoError(err)
	s.Equal(1, summary.SubscriptionsProcessed)
	s.Equal(1, summary.PaymentsCollected)

	// 2900 base plus 100 minutes at 5 cents, taxed at 8%
	s.Equal(int64(3400+272), summary.TotalAmount)

	ids, err := s.usage.ListUnprocessedSubscriptions(ctx, types.PeriodKey(start), "")
	s.NoError(err)
	s.Empty(ids)
}

func (s *BillingCycleServiceSuite) TestProcessBillingCycleStopsOnCancelledContext() {
	ctx, cancel := context.WithCancel(s.GetContext())
	createDueSubscription(ctx, &s.BaseServiceTestSuite, s.plan)
	cancel()

	summary, err := s.service.ProcessBillingCycle(ctx, dto.BillingCycleRequest{})
	s.Error(err)
	s.Nil(summary)

	// the guard is released for the next run
	_, err = s.service.ProcessBillingCycle(s.GetContext(), dto.BillingCycleRequest{DryRun: true})
	s.NoError(err)
}
