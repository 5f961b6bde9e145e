package service

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/domain/invoice"
	"github.com/voxbill/voxbill/internal/domain/paymentmethod"
	"github.com/voxbill/voxbill/internal/domain/plan"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/gateway"
	"github.com/voxbill/voxbill/internal/testutil"
	"github.com/voxbill/voxbill/internal/types"
)

type PaymentServiceSuite struct {
	testutil.BaseServiceTestSuite
	service  PaymentService
	invoices InvoiceService
	testData struct {
		plan    *plan.Plan
		sub     *subscription.Subscription
		invoice *invoice.Invoice
		card    *paymentmethod.PaymentMethod
	}
}

func TestPaymentService(t *testing.T) {
	suite.Run(t, new(PaymentServiceSuite))
}

func (s *PaymentServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.setupServices()
	s.setupTestData()
}

func (s *PaymentServiceSuite) setupServices() {
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	s.service = NewPaymentService(params)
	s.invoices = NewInvoiceService(params)
}

func (s *PaymentServiceSuite) setupTestData() {
	ctx := s.GetContext()
	s.testData.plan = createBasicPlan(&s.BaseServiceTestSuite)
	s.testData.sub = createDueSubscription(ctx, &s.BaseServiceTestSuite, s.testData.plan)
	s.testData.card = s.CreatePaymentMethod(ctx, types.PaymentMethodTypeCard, true)

	inv, err := s.invoices.BuildInvoice(ctx, BuildInvoiceRequest{
		Subscription: s.testData.sub,
		Plan:         s.testData.plan,
		PeriodStart:  s.testData.sub.CurrentPeriodStart,
		PeriodEnd:    s.testData.sub.CurrentPeriodEnd,
	})
	s.Require().NoError(err)
	s.testData.invoice = inv
}

func (s *PaymentServiceSuite) attempt() (*dto.PaymentResponse, error) {
	p, err := s.service.AttemptPayment(s.GetContext(), AttemptPaymentRequest{
		InvoiceID:      s.testData.invoice.ID,
		PaymentMethods: []*paymentmethod.PaymentMethod{s.testData.card},
	})
	if p == nil {
		return nil, err
	}
	return dto.NewPaymentResponse(p), err
}

func (s *PaymentServiceSuite) TestAttemptPaymentSuccess() {
	resp, err := s.attempt()
	s.NoError(err)
	s.Equal(types.PaymentStatusSucceeded, resp.PaymentStatus)
	s.Equal(int64(3132), resp.Amount)
	s.Equal("mock_ref", lo.FromPtr(resp.GatewayRef))
	s.NotNil(resp.SucceededAt)

	req := s.GetGateways().Card.Requests()
	s.Require().Len(req, 1)
	s.Equal(int64(3132), req[0].AmountCents)
	s.Equal(s.testData.card.GatewayRef, req[0].PaymentMethodRef)
	s.Equal(resp.IdempotencyKey, req[0].IdempotencyKey)

	inv, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), s.testData.invoice.ID)
	s.NoError(err)
	s.True(inv.IsPaid())
	s.Zero(inv.AmountDue)

	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), s.testData.sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, sub.SubscriptionStatus)
	s.True(sub.CurrentPeriodEnd.After(s.testData.sub.CurrentPeriodEnd))

	events := s.GetPublishedEvents()
	s.Contains(events, types.WebhookEventPaymentSuccess)
	s.Contains(events, types.WebhookEventInvoicePaid)
	s.Contains(events, types.WebhookEventSubscriptionRenewed)
}

func (s *PaymentServiceSuite) TestAttemptPaymentDeclinedSchedulesRetry() {
	s.GetGateways().Card.EnqueueFailure(types.FailureReasonCardDeclined, 1)
	now := s.GetNow()

	resp, err := s.attempt()
	s.NoError(err)
	s.Equal(types.PaymentStatusFailed, resp.PaymentStatus)
	s.Equal(types.FailureReasonCardDeclined, lo.FromPtr(resp.FailureReason))
	s.False(resp.PermanentlyFailed)

	attempts, err := s.GetStores().RetryRepo.ListByPayment(s.GetContext(), resp.ID)
	s.NoError(err)
	s.Require().Len(attempts, 1)
	s.Equal(1, attempts[0].AttemptNumber)
	s.Equal(types.RetryStatusPending, attempts[0].RetryStatus)
	s.Equal(now.Add(60*time.Minute), attempts[0].ScheduledAt)

	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), s.testData.sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusPastDue, sub.SubscriptionStatus)
	s.Equal(s.testData.sub.CurrentPeriodEnd, sub.CurrentPeriodEnd)

	events := s.GetPublishedEvents()
	s.Contains(events, types.WebhookEventPaymentFailed)
	s.Contains(events, types.WebhookEventRetryScheduled)
	s.Contains(events, types.WebhookEventSubscriptionPastDue)
}

func (s *PaymentServiceSuite) TestAttemptPaymentNonRetryableFailure() {
	s.GetGateways().Card.EnqueueFailure(types.FailureReasonExpiredCard, 1)

	resp, err := s.attempt()
	s.NoError(err)
	s.Equal(types.PaymentStatusFailed, resp.PaymentStatus)
	s.True(resp.PermanentlyFailed)

	attempts, err := s.GetStores().RetryRepo.ListByPayment(s.GetContext(), resp.ID)
	s.NoError(err)
	s.Empty(attempts)
}

func (s *PaymentServiceSuite) TestAttemptPaymentGatewayTimeout() {
	s.GetConfig().Gateway.Timeout = 20 * time.Millisecond
	s.setupServices()
	s.GetGateways().Card.Enqueue(testutil.MockGatewayResponse{Block: true})

	resp, err := s.attempt()
	s.NoError(err)
	s.Equal(types.PaymentStatusFailed, resp.PaymentStatus)
	s.Equal(types.FailureReasonNetworkError, lo.FromPtr(resp.FailureReason))

	// network errors are retryable
	attempts, err := s.GetStores().RetryRepo.ListByPayment(s.GetContext(), resp.ID)
	s.NoError(err)
	s.Len(attempts, 1)
}

func (s *PaymentServiceSuite) TestAttemptPaymentGuards() {
	tests := []struct {
		name  string
		setup func() AttemptPaymentRequest
		check func(err error) bool
	}{
		{
			name: "no payment method",
			setup: func() AttemptPaymentRequest {
				return AttemptPaymentRequest{InvoiceID: s.testData.invoice.ID}
			},
			check: ierr.IsNoPaymentMethod,
		},
		{
			name: "amount above amount due",
			setup: func() AttemptPaymentRequest {
				return AttemptPaymentRequest{
					InvoiceID:      s.testData.invoice.ID,
					PaymentMethods: []*paymentmethod.PaymentMethod{s.testData.card},
					Amount:         lo.ToPtr(int64(5000)),
				}
			},
			check: ierr.IsValidation,
		},
		{
			name: "zero amount",
			setup: func() AttemptPaymentRequest {
				return AttemptPaymentRequest{
					InvoiceID:      s.testData.invoice.ID,
					PaymentMethods: []*paymentmethod.PaymentMethod{s.testData.card},
					Amount:         lo.ToPtr(int64(0)),
				}
			},
			check: ierr.IsValidation,
		},
		{
			name: "unknown invoice",
			setup: func() AttemptPaymentRequest {
				return AttemptPaymentRequest{
					InvoiceID:      "inv_missing",
					PaymentMethods: []*paymentmethod.PaymentMethod{s.testData.card},
				}
			},
			check: ierr.IsNotFound,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.AttemptPayment(s.GetContext(), tt.setup())
			s.Error(err)
			s.True(tt.check(err))
		})
	}
	s.Zero(s.GetGateways().Card.Calls())
}

func (s *PaymentServiceSuite) TestAttemptPaymentAlreadyPaid() {
	_, err := s.attempt()
	s.NoError(err)

	_, err = s.attempt()
	s.Error(err)
	s.True(ierr.IsAlreadyPaid(err))
	s.Equal(1, s.GetGateways().Card.Calls())
}

func (s *PaymentServiceSuite) TestPartialPaymentKeepsInvoiceOpen() {
	p, err := s.service.AttemptPayment(s.GetContext(), AttemptPaymentRequest{
		InvoiceID:      s.testData.invoice.ID,
		PaymentMethods: []*paymentmethod.PaymentMethod{s.testData.card},
		Amount:         lo.ToPtr(int64(1000)),
	})
	s.NoError(err)
	s.Equal(types.PaymentStatusSucceeded, p.PaymentStatus)

	inv, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), s.testData.invoice.ID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusOpen, inv.InvoiceStatus)
	s.Equal(int64(2132), inv.AmountDue)

	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), s.testData.sub.ID)
	s.NoError(err)
	s.Equal(s.testData.sub.CurrentPeriodEnd, sub.CurrentPeriodEnd)
}

func (s *PaymentServiceSuite) TestCollectInvoiceUsesDefaultMethod() {
	s.CreatePaymentMethod(s.GetContext(), types.PaymentMethodTypeBankTransfer, false)

	resp, err := s.service.CollectInvoice(s.GetContext(), s.testData.invoice.ID, dto.CollectInvoiceRequest{})
	s.NoError(err)
	s.Equal(s.testData.card.ID, resp.PaymentMethodID)
	s.Equal(1, s.GetGateways().Card.Calls())
	s.Zero(s.GetGateways().Bank.Calls())
}

func (s *PaymentServiceSuite) TestSettlePendingPayment() {
	s.GetGateways().Card.Enqueue(testutil.MockGatewayResponse{Outcome: gateway.Pending("pi_pending")})

	pending, err := s.attempt()
	s.NoError(err)
	s.Equal(types.PaymentStatusPending, pending.PaymentStatus)
	s.Contains(s.GetPublishedEvents(), types.WebhookEventPaymentPending)

	inv, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), s.testData.invoice.ID)
	s.NoError(err)
	s.False(inv.IsPaid())

	settled, err := s.service.SettlePayment(s.GetContext(), pending.ID, dto.SettlePaymentRequest{
		Status:     types.GatewayOutcomeSucceeded,
		GatewayRef: "pi_pending",
	})
	s.NoError(err)
	s.Equal(types.PaymentStatusSucceeded, settled.PaymentStatus)

	inv, err = s.GetStores().InvoiceRepo.Get(s.GetContext(), s.testData.invoice.ID)
	s.NoError(err)
	s.True(inv.IsPaid())

	// repeated notification is a no-op
	again, err := s.service.SettlePayment(s.GetContext(), pending.ID, dto.SettlePaymentRequest{
		Status: types.GatewayOutcomeSucceeded,
	})
	s.NoError(err)
	s.Equal(types.PaymentStatusSucceeded, again.PaymentStatus)

	// a contradicting notification is refused
	_, err = s.service.SettlePayment(s.GetContext(), pending.ID, dto.SettlePaymentRequest{
		Status:        types.GatewayOutcomeFailed,
		FailureReason: types.FailureReasonCardDeclined,
	})
	s.True(ierr.IsInvalidOperation(err))
}

func (s *PaymentServiceSuite) TestSettlePendingPaymentAsFailed() {
	s.GetGateways().Card.Enqueue(testutil.MockGatewayResponse{Outcome: gateway.Pending("pi_pending")})

	pending, err := s.attempt()
	s.NoError(err)

	_, err = s.service.SettlePayment(s.GetContext(), pending.ID, dto.SettlePaymentRequest{
		Status: types.GatewayOutcomeFailed,
	})
	s.True(ierr.IsValidation(err))

	failed, err := s.service.SettlePayment(s.GetContext(), pending.ID, dto.SettlePaymentRequest{
		Status:        types.GatewayOutcomeFailed,
		FailureReason: types.FailureReasonInsufficientFunds,
		Message:       "ach returned",
	})
	s.NoError(err)
	s.Equal(types.PaymentStatusFailed, failed.PaymentStatus)

	attempts, err := s.GetStores().RetryRepo.ListByPayment(s.GetContext(), pending.ID)
	s.NoError(err)
	s.Len(attempts, 1)
}

func (s *PaymentServiceSuite) TestExpireStalePending() {
	s.GetGateways().Card.Enqueue(testutil.MockGatewayResponse{Outcome: gateway.Pending("pi_stale")})

	pending, err := s.attempt()
	s.NoError(err)
	s.Equal(types.PaymentStatusPending, pending.PaymentStatus)

	// not stale yet
	expired, err := s.service.ExpireStalePending(s.GetContext(), 2*time.Hour)
	s.NoError(err)
	s.Zero(expired)

	s.GetClock().Advance(3 * time.Hour)
	expired, err = s.service.ExpireStalePending(s.GetContext(), 2*time.Hour)
	s.NoError(err)
	s.Equal(1, expired)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), pending.ID)
	s.NoError(err)
	s.Equal(types.PaymentStatusFailed, p.PaymentStatus)
	s.Equal(types.FailureReasonNetworkError, p.GetFailureReason())

	attempts, err := s.GetStores().RetryRepo.ListByPayment(s.GetContext(), pending.ID)
	s.NoError(err)
	s.Len(attempts, 1)
}

func (s *PaymentServiceSuite) TestListPayments() {
	_, err := s.attempt()
	s.NoError(err)

	resp, err := s.service.ListPayments(s.GetContext(), &types.PaymentFilter{
		InvoiceID: s.testData.invoice.ID,
	})
	s.NoError(err)
	s.Len(resp.Items, 1)
	s.Equal(1, resp.Pagination.Total)

	got, err := s.service.GetPayment(s.GetContext(), resp.Items[0].ID)
	s.NoError(err)
	s.Equal(resp.Items[0].ID, got.ID)
}
