package service

import (
	"context"
	"time"

	"github.com/voxbill/voxbill/internal/domain/plan"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	"github.com/voxbill/voxbill/internal/gateway"
	"github.com/voxbill/voxbill/internal/testutil"
	"github.com/voxbill/voxbill/internal/types"
)

// newTestServiceParams wires services to the in-memory stores and scripted
// gateways of the suite.
func newTestServiceParams(s *testutil.BaseServiceTestSuite) ServiceParams {
	stores := s.GetStores()
	return NewServiceParams(
		s.GetLogger(),
		s.GetConfig(),
		s.GetDB(),
		s.GetClock(),
		s.GetSentry(),
		s.GetMetrics(),
		stores.PlanRepo,
		stores.SubscriptionRepo,
		stores.UsageRepo,
		stores.InvoiceRepo,
		stores.PaymentRepo,
		stores.RetryRepo,
		stores.PaymentMethodRepo,
		s.GetGatewayRegistry(),
		s.GetCycleLock(),
		NewEntityLocker(),
		s.GetWebhookPublisher(),
	)
}

// createBasicPlan stores the Basic plan: 29.00 a month, 5 concurrent calls
// and 5 seats.
func createBasicPlan(s *testutil.BaseServiceTestSuite) *plan.Plan {
	return s.CreatePlan(&plan.Plan{
		Name:               "Basic",
		MonthlyPrice:       2900,
		YearlyPrice:        29000,
		MaxExtensions:      5,
		MaxConcurrentCalls: 5,
		MaxUsers:           5,
	})
}

// createDueSubscription stores a subscription whose period closes today
func createDueSubscription(ctx context.Context, s *testutil.BaseServiceTestSuite, p *plan.Plan) *subscription.Subscription {
	return s.CreateSubscription(ctx, p, types.StartOfDay(s.GetNow()))
}

// inPeriod returns an instant inside the current period of sub
func inPeriod(sub *subscription.Subscription) *time.Time {
	t := sub.CurrentPeriodStart.Add(24 * time.Hour)
	return &t
}

func failedOutcome(reason types.FailureReason) *gateway.Outcome {
	return gateway.Failed("", reason, string(reason))
}
