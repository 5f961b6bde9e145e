package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/voxbill/voxbill/internal/cache"
	"github.com/voxbill/voxbill/internal/config"
	"github.com/voxbill/voxbill/internal/domain/invoice"
	"github.com/voxbill/voxbill/internal/domain/payment"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/postgres"
	"github.com/voxbill/voxbill/internal/types"
)

type RepositorySuite struct {
	suite.Suite
	ctx  context.Context
	mock sqlmock.Sqlmock
	db   *postgres.DB
	log  *logger.Logger
	now  time.Time
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupTest() {
	conn, mock, err := sqlmock.New()
	s.Require().NoError(err)

	s.log = logger.NewNopLogger()
	s.db = postgres.NewFromConn(conn, s.log)
	s.mock = mock
	s.ctx = types.WithTenant(context.Background(), "tenant_1")
	s.now = time.Date(2026, time.October, 18, 12, 0, 0, 0, time.UTC)
}

func (s *RepositorySuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	s.db.Close()
}

func (s *RepositorySuite) TestSubscriptionUpdateBumpsVersion() {
	repo := NewSubscriptionRepository(s.db, s.log)
	sub := &subscription.Subscription{
		ID:                 "sub_1",
		PlanID:             "plan_basic",
		SubscriptionStatus: types.SubscriptionStatusPastDue,
		BillingCycle:       types.BillingCycleMonthly,
		Quantity:           1,
		Version:            3,
		BaseModel:          types.BaseModel{TenantID: "tenant_1"},
	}

	s.mock.ExpectExec(`UPDATE subscriptions SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.Require().NoError(repo.Update(s.ctx, sub))
	s.Equal(4, sub.Version)
}

func (s *RepositorySuite) TestSubscriptionUpdateVersionConflict() {
	repo := NewSubscriptionRepository(s.db, s.log)
	sub := &subscription.Subscription{ID: "sub_1", Version: 3}

	s.mock.ExpectExec(`UPDATE subscriptions SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(s.ctx, sub)
	s.True(ierr.IsVersionConflict(err), "unexpected error: %v", err)
	s.Equal(3, sub.Version)
}

func (s *RepositorySuite) TestSubscriptionListDue() {
	repo := NewSubscriptionRepository(s.db, s.log)
	endOfDay := types.EndOfDay(s.now)

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "plan_id", "subscription_status", "current_period_end", "version"}).
		AddRow("sub_1", "tenant_1", "plan_basic", "active", s.now.AddDate(0, 0, -1), 1).
		AddRow("sub_2", "tenant_2", "plan_basic", "active", s.now, 2)

	s.mock.ExpectQuery(`SELECT \* FROM subscriptions WHERE status = \$1 AND subscription_status IN \(\$2\) AND current_period_end <= \$3 ORDER BY current_period_end ASC, id ASC`).
		WithArgs(types.StatusPublished, types.SubscriptionStatusActive, endOfDay).
		WillReturnRows(rows)

	subs, err := repo.List(context.Background(), &types.SubscriptionFilter{
		QueryFilter:         types.NewNoLimitQueryFilter(),
		SubscriptionStatus:  []types.SubscriptionStatus{types.SubscriptionStatusActive},
		CurrentPeriodEndLTE: &endOfDay,
	})
	s.Require().NoError(err)
	s.Require().Len(subs, 2)
	s.Equal("tenant_2", subs[1].TenantID)
}

func (s *RepositorySuite) TestSubscriptionGetNotFound() {
	repo := NewSubscriptionRepository(s.db, s.log)

	s.mock.ExpectQuery(`SELECT \* FROM subscriptions WHERE tenant_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get(s.ctx, "sub_missing")
	s.True(ierr.IsNotFound(err), "unexpected error: %v", err)
}

func (s *RepositorySuite) TestInvoiceCreateIsAtomic() {
	repo := NewInvoiceRepository(s.db, s.log)
	inv := &invoice.Invoice{
		ID:             "inv_1",
		SubscriptionID: "sub_1",
		BillingPeriod:  "2026-09",
		InvoiceStatus:  types.InvoiceStatusOpen,
		Items: []*invoice.Item{
			{ID: "item_1", Description: "Basic plan", Quantity: 1, UnitAmount: 2900, Amount: 2900},
			{ID: "item_2", Description: "Call minutes overage", Quantity: 1, UnitAmount: 5, Amount: 5},
		},
	}

	s.mock.ExpectBegin()
	s.mock.ExpectExec(`INSERT INTO invoices`).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(`INSERT INTO invoice_items`).WillReturnResult(sqlmock.NewResult(0, 2))
	s.mock.ExpectCommit()

	s.Require().NoError(repo.Create(s.ctx, inv))
	s.Equal(1, inv.Version)
	s.Equal("inv_1", inv.Items[1].InvoiceID)
	s.Equal(1, inv.Items[1].Position)
}

func (s *RepositorySuite) TestInvoiceCreateDuplicatePeriod() {
	repo := NewInvoiceRepository(s.db, s.log)
	inv := &invoice.Invoice{
		ID:             "inv_2",
		SubscriptionID: "sub_1",
		BillingPeriod:  "2026-09",
		Items:          []*invoice.Item{{ID: "item_3", Description: "Basic plan"}},
	}

	s.mock.ExpectBegin()
	s.mock.ExpectExec(`INSERT INTO invoices`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: invoiceIdempotencyIndex})
	s.mock.ExpectRollback()

	err := repo.Create(s.ctx, inv)
	s.True(ierr.IsDuplicateInvoice(err), "unexpected error: %v", err)
}

func (s *RepositorySuite) TestInvoiceGetLoadsOrderedItems() {
	repo := NewInvoiceRepository(s.db, s.log)

	s.mock.ExpectQuery(`SELECT \* FROM invoices WHERE tenant_id = \$1 AND status = \$2 AND id = \$3`).
		WithArgs("tenant_1", types.StatusPublished, "inv_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "invoice_status", "subtotal", "tax", "total", "amount_due", "version"}).
			AddRow("inv_1", "tenant_1", "open", 2900, 232, 3132, 3132, 1))

	s.mock.ExpectQuery(`SELECT \* FROM invoice_items WHERE tenant_id = \$1 AND status = \$2 AND invoice_id IN \(\$3\) ORDER BY invoice_id, position`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_id", "position", "description", "usage_type", "quantity", "unit_amount", "amount"}).
			AddRow("item_1", "inv_1", 0, "Basic plan", nil, 1, 2900, 2900))

	inv, err := repo.Get(s.ctx, "inv_1")
	s.Require().NoError(err)
	s.Equal(int64(3132), inv.Total)
	s.Require().Len(inv.Items, 1)
	s.Nil(inv.Items[0].UsageType)
	s.NoError(inv.Validate())
}

func (s *RepositorySuite) TestUsageSummarizeFillsEveryType() {
	repo := NewUsageRepository(s.db, s.log)

	s.mock.ExpectQuery(`SELECT usage_type, COALESCE\(SUM\(quantity\), 0\) AS total FROM usage_records WHERE tenant_id = \$1 AND status = \$2 AND billing_period = \$3 GROUP BY usage_type`).
		WithArgs("tenant_1", types.StatusPublished, "2026-09").
		WillReturnRows(sqlmock.NewRows([]string{"usage_type", "total"}).
			AddRow("call_minutes", 5001))

	summary, err := repo.Summarize(s.ctx, "tenant_1", "2026-09")
	s.Require().NoError(err)
	s.Equal(types.UsageSummary{
		types.UsageTypeCallMinutes: 5001,
		types.UsageTypeSeatCount:   0,
		types.UsageTypeSMSCount:    0,
	}, summary)
}

func (s *RepositorySuite) TestUsageMarkProcessedReturnsAffectedRows() {
	repo := NewUsageRepository(s.db, s.log)

	s.mock.ExpectExec(`UPDATE usage_records SET`).
		WithArgs(s.now, types.SystemUserID, "sub_1", "2026-09").
		WillReturnResult(sqlmock.NewResult(0, 4))
	s.mock.ExpectExec(`UPDATE usage_records SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := repo.MarkProcessed(s.ctx, "sub_1", "2026-09", s.now)
	s.Require().NoError(err)
	s.Equal(int64(4), n)

	n, err = repo.MarkProcessed(s.ctx, "sub_1", "2026-09", s.now)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *RepositorySuite) TestUsageSummarizeUnbilledSpansEarlierPeriods() {
	repo := NewUsageRepository(s.db, s.log)
	cutoff := s.now.Add(-time.Minute)

	s.mock.ExpectQuery(`FROM usage_records WHERE subscription_id = \$1 AND status = \$2 AND processed = FALSE AND billing_period <= \$3 AND created_at <= \$4 GROUP BY usage_type`).
		WithArgs("sub_1", types.StatusPublished, "2026-10", cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"usage_type", "total"}).
			AddRow("call_minutes", 5001).
			AddRow("sms_count", 12))

	summary, err := repo.SummarizeUnbilled(s.ctx, "sub_1", "2026-10", cutoff)
	s.Require().NoError(err)
	s.Equal(types.UsageSummary{
		types.UsageTypeCallMinutes: 5001,
		types.UsageTypeSeatCount:   0,
		types.UsageTypeSMSCount:    12,
	}, summary)
}

func (s *RepositorySuite) TestUsageMarkBilledStopsAtCutoff() {
	repo := NewUsageRepository(s.db, s.log)
	cutoff := s.now.Add(-time.Minute)

	s.mock.ExpectExec(`UPDATE usage_records SET .* WHERE subscription_id = \$3 AND status = \$4 AND processed = FALSE AND billing_period <= \$5 AND created_at <= \$6`).
		WithArgs(s.now, types.SystemUserID, "sub_1", types.StatusPublished, "2026-10", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.MarkBilled(s.ctx, "sub_1", "2026-10", cutoff, s.now)
	s.Require().NoError(err)
	s.Equal(int64(3), n)
}

func (s *RepositorySuite) TestPaymentCreateDuplicateKey() {
	repo := NewPaymentRepository(s.db, s.log)

	s.mock.ExpectExec(`INSERT INTO payments`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "payments_idempotency_key_key"})

	err := repo.Create(s.ctx, &payment.Payment{ID: "pay_2", IdempotencyKey: "retry:pay_1:1"})
	s.True(ierr.IsAlreadyExists(err), "unexpected error: %v", err)
}

func (s *RepositorySuite) TestRetryListDueSpansTenants() {
	repo := NewRetryRepository(s.db, s.log)

	s.mock.ExpectQuery(`SELECT \* FROM payment_retry_attempts WHERE status = \$1 AND retry_status = \$2 AND scheduled_at <= \$3 ORDER BY scheduled_at, id LIMIT \$4`).
		WithArgs(types.StatusPublished, types.RetryStatusPending, s.now, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "payment_id", "attempt_number", "retry_status", "scheduled_at"}).
			AddRow("retry_1", "tenant_1", "pay_1", 1, "pending", s.now.Add(-time.Minute)).
			AddRow("retry_2", "tenant_2", "pay_2", 2, "pending", s.now))

	attempts, err := repo.ListDue(context.Background(), s.now, 50)
	s.Require().NoError(err)
	s.Require().Len(attempts, 2)
	s.Equal("tenant_2", attempts[1].TenantID)
	s.Equal(2, attempts[1].AttemptNumber)
}

func (s *RepositorySuite) TestRetryCancelPending() {
	repo := NewRetryRepository(s.db, s.log)

	s.mock.ExpectExec(`UPDATE payment_retry_attempts SET`).
		WithArgs(types.RetryStatusCancelled, "payment succeeded", s.now, types.SystemUserID, "pay_1", types.RetryStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.CancelPending(s.ctx, "pay_1", "payment succeeded", s.now)
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *RepositorySuite) TestPlanGetIsCached() {
	repo := NewPlanRepository(s.db, s.log, cache.NewInMemoryCache(config.GetDefaultConfig(), s.log))

	s.mock.ExpectQuery(`SELECT \* FROM plans WHERE id = \$1`).
		WithArgs("plan_basic").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "currency", "monthly_price", "max_concurrent_calls", "max_users"}).
			AddRow("plan_basic", "Basic", "usd", 2900, 5, 10))

	first, err := repo.Get(s.ctx, "plan_basic")
	s.Require().NoError(err)
	first.MonthlyPrice = 1

	second, err := repo.Get(s.ctx, "plan_basic")
	s.Require().NoError(err)
	s.Equal(int64(2900), second.MonthlyPrice)
	s.Equal(int64(10), second.SeatAllowance())
}
