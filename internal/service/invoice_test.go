package service

import (
	"errors"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/domain/plan"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	"github.com/voxbill/voxbill/internal/domain/usage"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/testutil"
	"github.com/voxbill/voxbill/internal/types"
)

type InvoiceServiceSuite struct {
	testutil.BaseServiceTestSuite
	service  InvoiceService
	usage    UsageService
	testData struct {
		plan *plan.Plan
		sub  *subscription.Subscription
	}
}

func TestInvoiceService(t *testing.T) {
	suite.Run(t, new(InvoiceServiceSuite))
}

func (s *InvoiceServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	s.service = NewInvoiceService(params)
	s.usage = NewUsageService(params)
	s.testData.plan = createBasicPlan(&s.BaseServiceTestSuite)
	s.testData.sub = createDueSubscription(s.GetContext(), &s.BaseServiceTestSuite, s.testData.plan)
}

func (s *InvoiceServiceSuite) buildRequest(dryRun bool) BuildInvoiceRequest {
	return BuildInvoiceRequest{
		Subscription: s.testData.sub,
		Plan:         s.testData.plan,
		PeriodStart:  s.testData.sub.CurrentPeriodStart,
		PeriodEnd:    s.testData.sub.CurrentPeriodEnd,
		DryRun:       dryRun,
	}
}

func (s *InvoiceServiceSuite) TestBuildInvoiceBasePlan() {
	inv, err := s.service.BuildInvoice(s.GetContext(), s.buildRequest(false))
	s.NoError(err)

	s.Equal(types.InvoiceStatusOpen, inv.InvoiceStatus)
	s.Equal(s.testData.sub.BillingPeriod(), inv.BillingPeriod)
	s.Equal(int64(2900), inv.Subtotal)
	s.Equal(int64(232), inv.Tax)
	s.Equal(int64(3132), inv.Total)
	s.Equal(int64(3132), inv.AmountDue)
	s.Require().Len(inv.Items, 1)
	s.Equal("Basic plan (monthly)", inv.Items[0].Description)
	s.Equal(int64(1), inv.Items[0].Quantity)
	s.NotEmpty(inv.InvoiceNumber)

	stored, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Equal(inv.Total, stored.Total)
	s.Contains(s.GetPublishedEvents(), types.WebhookEventInvoiceCreated)
}

func (s *InvoiceServiceSuite) TestBuildInvoiceWithCallMinuteOverage() {
	_, err := s.usage.RecordUsage(s.GetContext(), dto.RecordUsageRequest{
		UsageType:  types.UsageTypeCallMinutes,
		Quantity:   5001,
		RecordedAt: inPeriod(s.testData.sub),
	})
	s.NoError(err)

	inv, err := s.service.BuildInvoice(s.GetContext(), s.buildRequest(false))
	s.NoError(err)

	s.Require().Len(inv.Items, 2)
	overage := inv.Items[1]
	s.Equal(types.UsageTypeCallMinutes, lo.FromPtr(overage.UsageType))
	s.Equal(int64(1), overage.Quantity)
	s.Equal(int64(5), overage.UnitAmount)
	s.Equal(int64(5), overage.Amount)
	s.Equal(1, overage.Position)
	s.Equal("Call minutes overage (5001 used, 5000 included)", overage.Description)

	s.Equal(int64(2905), inv.Subtotal)
	s.Equal(types.MultiplyRate(2905, s.GetConfig().Billing.GetTaxRate()), inv.Tax)
	s.Equal(inv.Subtotal+inv.Tax, inv.Total)
}

func (s *InvoiceServiceSuite) TestBuildInvoiceBillsUsageAcrossMonthBoundary() {
	ctx := s.GetContext()
	sub := s.testData.sub
	sub.CurrentPeriodStart = time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	sub.CurrentPeriodEnd = time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	s.Require().NoError(s.GetStores().SubscriptionRepo.Update(ctx, sub))

	record := func(recordedAt time.Time, quantity int64) string {
		r, err := s.usage.RecordUsage(ctx, dto.RecordUsageRequest{
			UsageType:  types.UsageTypeCallMinutes,
			Quantity:   quantity,
			RecordedAt: lo.ToPtr(recordedAt),
		})
		s.Require().NoError(err)
		return r.ID
	}
	december := record(time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC), 3000)
	january := record(time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC), 2001)

	inv, err := s.service.BuildInvoice(ctx, s.buildRequest(false))
	s.NoError(err)
	s.Equal("2025-12", inv.BillingPeriod)
	s.Require().Len(inv.Items, 2)
	s.Equal("Call minutes overage (5001 used, 5000 included)", inv.Items[1].Description)
	s.Equal(int64(5), inv.Items[1].Amount)

	// arrives for the closed period after the invoice was priced
	late := &usage.Record{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USAGE),
		SubscriptionID: sub.ID,
		UsageType:      types.UsageTypeCallMinutes,
		Quantity:       5002,
		BillingPeriod:  "2026-01",
		RecordedAt:     time.Date(2026, 1, 30, 18, 0, 0, 0, time.UTC),
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}
	late.CreatedAt = inv.CreatedAt.Add(time.Second)
	s.Require().NoError(s.GetStores().UsageRepo.Create(ctx, late))

	paid, err := s.service.ApplyPayment(ctx, inv.ID, inv.AmountDue)
	s.NoError(err)
	s.True(paid.IsPaid())

	for _, id := range []string{december, january} {
		r, err := s.GetStores().UsageRepo.Get(ctx, id)
		s.NoError(err)
		s.True(r.Processed, "record %s should be billed", id)
	}
	pending, err := s.GetStores().UsageRepo.Get(ctx, late.ID)
	s.NoError(err)
	s.False(pending.Processed)

	advanced, err := s.GetStores().SubscriptionRepo.Get(ctx, sub.ID)
	s.NoError(err)
	s.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), advanced.CurrentPeriodStart)

	next, err := s.service.BuildInvoice(ctx, BuildInvoiceRequest{
		Subscription: advanced,
		Plan:         s.testData.plan,
		PeriodStart:  advanced.CurrentPeriodStart,
		PeriodEnd:    advanced.CurrentPeriodEnd,
	})
	s.NoError(err)
	s.Equal("2026-02", next.BillingPeriod)
	s.Require().Len(next.Items, 2)
	s.Equal("Call minutes overage (5002 used, 5000 included)", next.Items[1].Description)
}

func (s *InvoiceServiceSuite) TestBuildInvoiceFailsWhenUsageCannotBeSummarized() {
	s.GetStores().UsageRepo.FailSummaries(errors.New("connection reset"))

	_, err := s.service.BuildInvoice(s.GetContext(), s.buildRequest(false))
	s.Error(err)
	s.True(ierr.IsDatabase(err))

	count, err := s.GetStores().InvoiceRepo.Count(s.GetContext(), &types.InvoiceFilter{QueryFilter: types.NewNoLimitQueryFilter()})
	s.NoError(err)
	s.Zero(count)
	s.Empty(s.GetPublishedEvents())
}

func (s *InvoiceServiceSuite) TestBuildInvoiceRejectsDuplicatePeriod() {
	_, err := s.service.BuildInvoice(s.GetContext(), s.buildRequest(false))
	s.NoError(err)

	_, err = s.service.BuildInvoice(s.GetContext(), s.buildRequest(false))
	s.Error(err)
	s.True(ierr.IsDuplicateInvoice(err))
}

func (s *InvoiceServiceSuite) TestBuildInvoiceDryRunPersistsNothing() {
	inv, err := s.service.BuildInvoice(s.GetContext(), s.buildRequest(true))
	s.NoError(err)
	s.Equal(types.InvoiceStatusDraft, inv.InvoiceStatus)
	s.Equal(int64(3132), inv.Total)

	count, err := s.GetStores().InvoiceRepo.Count(s.GetContext(), &types.InvoiceFilter{QueryFilter: types.NewNoLimitQueryFilter()})
	s.NoError(err)
	s.Zero(count)
	s.Empty(s.GetPublishedEvents())
}

func (s *InvoiceServiceSuite) TestBuildInvoiceZeroTotalIsPaid() {
	free := s.CreatePlan(&plan.Plan{Name: "Free"})
	s.testData.plan = free

	inv, err := s.service.BuildInvoice(s.GetContext(), s.buildRequest(false))
	s.NoError(err)
	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)
	s.Zero(inv.AmountDue)
	s.NotNil(inv.PaidAt)
	s.Contains(s.GetPublishedEvents(), types.WebhookEventInvoicePaid)
}

func (s *InvoiceServiceSuite) TestBuildInvoiceValidation() {
	tests := []struct {
		name string
		req  func() BuildInvoiceRequest
	}{
		{
			name: "missing plan",
			req: func() BuildInvoiceRequest {
				req := s.buildRequest(false)
				req.Plan = nil
				return req
			},
		},
		{
			name: "period end before start",
			req: func() BuildInvoiceRequest {
				req := s.buildRequest(false)
				req.PeriodStart, req.PeriodEnd = req.PeriodEnd, req.PeriodStart
				return req
			},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.BuildInvoice(s.GetContext(), tt.req())
			s.True(ierr.IsValidation(err))
		})
	}
}

func (s *InvoiceServiceSuite) TestApplyPaymentAdvancesSubscription() {
	inv, err := s.service.BuildInvoice(s.GetContext(), s.buildRequest(false))
	s.NoError(err)

	partial, err := s.service.ApplyPayment(s.GetContext(), inv.ID, 1000)
	s.NoError(err)
	s.Equal(int64(2132), partial.AmountDue)
	s.False(partial.IsPaid())

	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), s.testData.sub.ID)
	s.NoError(err)
	s.Equal(s.testData.sub.CurrentPeriodEnd, sub.CurrentPeriodEnd)

	paid, err := s.service.ApplyPayment(s.GetContext(), inv.ID, 2132)
	s.NoError(err)
	s.True(paid.IsPaid())

	sub, err = s.GetStores().SubscriptionRepo.Get(s.GetContext(), s.testData.sub.ID)
	s.NoError(err)
	nextStart, nextEnd := types.NextBillingPeriod(s.testData.sub.CurrentPeriodEnd, s.testData.sub.BillingCycle)
	s.Equal(nextStart, sub.CurrentPeriodStart)
	s.Equal(nextEnd, sub.CurrentPeriodEnd)
	s.Contains(s.GetPublishedEvents(), types.WebhookEventSubscriptionRenewed)
}

func (s *InvoiceServiceSuite) TestVoidInvoice() {
	inv, err := s.service.BuildInvoice(s.GetContext(), s.buildRequest(false))
	s.NoError(err)

	resp, err := s.service.VoidInvoice(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusVoid, resp.InvoiceStatus)
	s.NotNil(resp.VoidedAt)
	s.Contains(s.GetPublishedEvents(), types.WebhookEventInvoiceVoided)

	// voiding twice is a no-op
	_, err = s.service.VoidInvoice(s.GetContext(), inv.ID)
	s.NoError(err)

	_, err = s.service.ApplyPayment(s.GetContext(), inv.ID, 100)
	s.Error(err)
}

func (s *InvoiceServiceSuite) TestListInvoices() {
	_, err := s.service.BuildInvoice(s.GetContext(), s.buildRequest(false))
	s.NoError(err)

	resp, err := s.service.ListInvoices(s.GetContext(), &types.InvoiceFilter{
		SubscriptionID: s.testData.sub.ID,
	})
	s.NoError(err)
	s.Len(resp.Items, 1)
	s.Equal(1, resp.Pagination.Total)

	_, err = s.service.GetInvoice(s.GetContext(), "")
	s.True(ierr.IsValidation(err))

	_, err = s.service.GetInvoice(s.GetContext(), "inv_missing")
	s.True(ierr.IsNotFound(err))
}
