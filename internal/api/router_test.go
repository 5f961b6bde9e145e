package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/suite"
	"github.com/voxbill/voxbill/internal/api/dto"
	v1 "github.com/voxbill/voxbill/internal/api/v1"
	"github.com/voxbill/voxbill/internal/domain/plan"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/service"
	"github.com/voxbill/voxbill/internal/testutil"
	"github.com/voxbill/voxbill/internal/types"
)

type RouterSuite struct {
	testutil.BaseServiceTestSuite
	router *gin.Engine
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.GetConfig().Server.APIKey = "admin-key"

	stores := s.GetStores()
	params := service.NewServiceParams(
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
		service.NewEntityLocker(),
		s.GetWebhookPublisher(),
	)

	paymentService := service.NewPaymentService(params)
	s.router = NewRouter(Handlers{
		Health:  v1.NewHealthHandler(),
		Billing: v1.NewBillingHandler(service.NewBillingCycleService(params), nil, s.GetLogger()),
		Retry:   v1.NewRetryHandler(service.NewRetryService(params), s.GetLogger()),
		Usage:   v1.NewUsageHandler(service.NewUsageService(params), s.GetLogger()),
		Payment: v1.NewPaymentHandler(paymentService, s.GetConfig(), s.GetLogger()),
		Invoice: v1.NewInvoiceHandler(service.NewInvoiceService(params), paymentService, s.GetLogger()),
	}, s.GetConfig(), s.GetLogger(), s.GetMetrics())

	basic := s.CreatePlan(&plan.Plan{
		Name:               "Basic",
		MonthlyPrice:       2900,
		YearlyPrice:        29000,
		MaxConcurrentCalls: 5,
		MaxUsers:           5,
	})
	s.CreateSubscription(s.GetContext(), basic, types.StartOfDay(s.GetNow()))
	s.CreatePaymentMethod(s.GetContext(), types.PaymentMethodTypeCard, true)
}

func (s *RouterSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		var err error
		payload, err = jsoniter.Marshal(body)
		s.Require().NoError(err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(types.HeaderAPIKey, "admin-key")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) decode(rec *httptest.ResponseRecorder, out any) {
	s.Require().NoError(jsoniter.Unmarshal(rec.Body.Bytes(), out))
}

func (s *RouterSuite) errorCode(rec *httptest.ResponseRecorder) string {
	var resp ierr.ErrorResponse
	s.decode(rec, &resp)
	s.False(resp.Success)
	s.NotEmpty(resp.Error.Display)
	return resp.Error.Code
}

func (s *RouterSuite) TestHealthAndMetrics() {
	rec := s.do(http.MethodGet, "/health", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.NotEmpty(rec.Header().Get(types.HeaderRequestID))

	rec = s.do(http.MethodGet, "/metrics", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "voxbill_http_requests_total")
}

func (s *RouterSuite) TestRequiresAPIKey() {
	req := httptest.NewRequest(http.MethodGet, "/v1/billing/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/v1/billing/status", nil)
	s.Equal(http.StatusOK, rec.Code)

	var status dto.BillingStatusResponse
	s.decode(rec, &status)
	s.False(status.IsRunning)
}

func (s *RouterSuite) TestBillingCycle() {
	rec := s.do(http.MethodPost, "/v1/billing/cycle", nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var summary dto.BillingCycleSummary
	s.decode(rec, &summary)
	s.Equal(1, summary.InvoicesGenerated)
	s.Equal(1, summary.PaymentsCollected)
	s.Equal(int64(3132), summary.TotalCollected)

	rec = s.do(http.MethodGet, "/v1/invoices", nil)
	s.Equal(http.StatusOK, rec.Code)
	var invoices dto.ListInvoicesResponse
	s.decode(rec, &invoices)
	s.Require().Len(invoices.Items, 1)
	s.Equal(types.InvoiceStatusPaid, invoices.Items[0].InvoiceStatus)
	s.Equal("31.32", invoices.Items[0].FormattedTotal)
}

func (s *RouterSuite) TestTriggerValidation() {
	rec := s.do(http.MethodPost, "/v1/billing/trigger", map[string]any{"dry_run": true})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(ierr.ErrCodeValidation, s.errorCode(rec))

	rec = s.do(http.MethodPost, "/v1/billing/trigger", dto.TriggerBillingRequest{
		TenantID: types.DefaultTenantID,
		DryRun:   true,
	})
	s.Equal(http.StatusOK, rec.Code)
	var summary dto.BillingCycleSummary
	s.decode(rec, &summary)
	s.True(summary.DryRun)
	s.Equal(1, summary.InvoicesGenerated)
}

func (s *RouterSuite) TestWorkflowEndpointWithoutTemporal() {
	rec := s.do(http.MethodPost, "/v1/billing/cycle/workflow", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(ierr.ErrCodeInvalidOperation, s.errorCode(rec))
}

func (s *RouterSuite) TestNotFound() {
	rec := s.do(http.MethodGet, "/v1/invoices/inv_missing", nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal(ierr.ErrCodeNotFound, s.errorCode(rec))
}

func (s *RouterSuite) TestRetryLifecycle() {
	s.GetGateways().Card.EnqueueFailure(types.FailureReasonCardDeclined, 1)

	rec := s.do(http.MethodPost, "/v1/billing/cycle", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/v1/payments?payment_status=failed", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var payments dto.ListPaymentsResponse
	s.decode(rec, &payments)
	s.Require().Len(payments.Items, 1)
	paymentID := payments.Items[0].ID

	rec = s.do(http.MethodGet, "/v1/retries/"+paymentID, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var status dto.PaymentRetryStatusResponse
	s.decode(rec, &status)
	s.Equal(1, status.TotalAttempts)
	s.True(status.CanRetry)

	rec = s.do(http.MethodPost, "/v1/retries/"+paymentID+"/manual", nil)
	s.Equal(http.StatusCreated, rec.Code)

	rec = s.do(http.MethodPost, "/v1/retries/"+paymentID+"/cancel", nil)
	s.Equal(http.StatusOK, rec.Code)
	var cancelled dto.CancelRetriesResponse
	s.decode(rec, &cancelled)
	s.Equal(1, cancelled.Cancelled)
}

func (s *RouterSuite) TestRecordCallUsage() {
	rec := s.do(http.MethodPost, "/v1/usage/calls", dto.RecordCallUsageRequest{
		TenantID:        types.DefaultTenantID,
		CallID:          "call_1",
		DurationSeconds: 61,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/v1/usage/summary?tenant_id="+types.DefaultTenantID+"&period="+types.PeriodKey(s.GetNow()), nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var summary dto.UsageSummaryResponse
	s.decode(rec, &summary)
	s.Equal(int64(2), summary.Usage[types.UsageTypeCallMinutes])
}

func (s *RouterSuite) TestExpirePendingRejectsBadDuration() {
	rec := s.do(http.MethodPost, "/v1/payments/expire-pending?older_than=soon", nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/v1/payments/expire-pending", nil)
	s.Equal(http.StatusOK, rec.Code)
	var resp dto.ExpirePendingResponse
	s.decode(rec, &resp)
	s.Zero(resp.Expired)
}
