package testutil

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"github.com/voxbill/voxbill/internal/config"
	"github.com/voxbill/voxbill/internal/domain/paymentmethod"
	"github.com/voxbill/voxbill/internal/domain/plan"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	"github.com/voxbill/voxbill/internal/gateway"
	"github.com/voxbill/voxbill/internal/lock"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/metrics"
	"github.com/voxbill/voxbill/internal/sentry"
	"github.com/voxbill/voxbill/internal/types"
	"github.com/voxbill/voxbill/internal/validator"
	webhookPublisher "github.com/voxbill/voxbill/internal/webhook/publisher"
)

// Stores holds all the repository interfaces for testing
type Stores struct {
	PlanRepo          *InMemoryPlanStore
	SubscriptionRepo  *InMemorySubscriptionStore
	UsageRepo         *InMemoryUsageStore
	InvoiceRepo       *InMemoryInvoiceStore
	PaymentRepo       *InMemoryPaymentStore
	RetryRepo         *InMemoryRetryStore
	PaymentMethodRepo *InMemoryPaymentMethodStore
}

// Gateways holds one scripted gateway per payment method type
type Gateways struct {
	Card   *MockGateway
	Bank   *MockGateway
	Manual *MockGateway
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx              context.Context
	stores           Stores
	gateways         Gateways
	registry         *gateway.Registry
	pubsub           *InMemoryPubSub
	webhookPublisher webhookPublisher.WebhookPublisher
	cycleLock        lock.CycleLock
	db               *MockPostgresClient
	logger           *logger.Logger
	config           *config.Configuration
	clock            *clockwork.FakeClock
	sentry           *sentry.Service
	metrics          *metrics.Metrics
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	// Initialize validator
	validator.NewValidator()

	s.logger = logger.NewNopLogger()
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.setupConfig()
	s.setupContext()
	s.setupStores()
	// BaseModel timestamps come from the wall clock, the fake clock starts
	// there so age based queries compare like with like.
	s.clock = clockwork.NewFakeClockAt(time.Now().UTC())
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
}

func (s *BaseServiceTestSuite) setupConfig() {
	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = types.LogLevelInfo
	cfg.Webhook.Enabled = true
	cfg.Sentry.Enabled = false
	cfg.Gateway.RateLimit = 1000
	cfg.Gateway.Burst = 100
	cfg.Gateway.Timeout = 2 * time.Second
	s.config = cfg
}

func (s *BaseServiceTestSuite) setupContext() {
	s.ctx = SetupContext()
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		PlanRepo:          NewInMemoryPlanStore(),
		SubscriptionRepo:  NewInMemorySubscriptionStore(),
		UsageRepo:         NewInMemoryUsageStore(),
		InvoiceRepo:       NewInMemoryInvoiceStore(),
		PaymentRepo:       NewInMemoryPaymentStore(),
		RetryRepo:         NewInMemoryRetryStore(),
		PaymentMethodRepo: NewInMemoryPaymentMethodStore(),
	}

	s.gateways = Gateways{
		Card:   NewMockGateway("card"),
		Bank:   NewMockGateway("bank"),
		Manual: NewMockGateway("manual"),
	}
	s.registry = gateway.NewRegistry(s.config, s.logger)
	s.registry.Register(types.PaymentMethodTypeCard, s.gateways.Card)
	s.registry.Register(types.PaymentMethodTypeBankTransfer, s.gateways.Bank)
	s.registry.Register(types.PaymentMethodTypeManual, s.gateways.Manual)

	s.db = NewMockPostgresClient(s.logger)
	s.cycleLock = lock.NewMemoryCycleLock()
	s.sentry = sentry.NewSentryService(s.config, s.logger)
	s.metrics = metrics.NewMetrics(prometheus.NewRegistry())

	s.pubsub = NewInMemoryPubSub()
	publisher, err := webhookPublisher.NewPublisher(s.pubsub, s.config, s.logger)
	if err != nil {
		s.T().Fatalf("failed to create webhook publisher: %v", err)
	}
	s.webhookPublisher = publisher
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.PlanRepo.Clear()
	s.stores.SubscriptionRepo.Clear()
	s.stores.UsageRepo.Clear()
	s.stores.InvoiceRepo.Clear()
	s.stores.PaymentRepo.Clear()
	s.stores.RetryRepo.Clear()
	s.stores.PaymentMethodRepo.Clear()
	s.pubsub.ClearMessages()
	s.db.Reset()
}

func (s *BaseServiceTestSuite) ClearStores() {
	s.clearStores()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetGateways returns the scripted gateways
func (s *BaseServiceTestSuite) GetGateways() Gateways {
	return s.gateways
}

// GetGatewayRegistry returns the registry wired to the scripted gateways
func (s *BaseServiceTestSuite) GetGatewayRegistry() *gateway.Registry {
	return s.registry
}

// GetPubSub returns the pubsub the webhook publisher writes to
func (s *BaseServiceTestSuite) GetPubSub() *InMemoryPubSub {
	return s.pubsub
}

// GetWebhookPublisher returns the test webhook publisher
func (s *BaseServiceTestSuite) GetWebhookPublisher() webhookPublisher.WebhookPublisher {
	return s.webhookPublisher
}

// GetPublishedEvents returns the webhook event names published so far
func (s *BaseServiceTestSuite) GetPublishedEvents() []string {
	return s.pubsub.GetEventNames(s.config.Webhook.Topic)
}

// GetCycleLock returns the in-process billing cycle guard
func (s *BaseServiceTestSuite) GetCycleLock() lock.CycleLock {
	return s.cycleLock
}

// GetDB returns the test database client
func (s *BaseServiceTestSuite) GetDB() *MockPostgresClient {
	return s.db
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetSentry returns a disabled sentry service
func (s *BaseServiceTestSuite) GetSentry() *sentry.Service {
	return s.sentry
}

// GetMetrics returns metrics bound to a per test registry
func (s *BaseServiceTestSuite) GetMetrics() *metrics.Metrics {
	return s.metrics
}

// GetClock returns the fake clock driving the services
func (s *BaseServiceTestSuite) GetClock() *clockwork.FakeClock {
	return s.clock
}

// GetNow returns the current test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.clock.Now().UTC()
}

// GetUUID returns a new UUID string
func (s *BaseServiceTestSuite) GetUUID() string {
	return types.GenerateUUID()
}

// CreatePlan stores a plan shared by every tenant
func (s *BaseServiceTestSuite) CreatePlan(p *plan.Plan) *plan.Plan {
	if p.ID == "" {
		p.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN)
	}
	if p.Currency == "" {
		p.Currency = s.config.Billing.Currency
	}
	p.BaseModel = types.GetDefaultBaseModel(s.ctx)
	s.Require().NoError(s.stores.PlanRepo.Create(s.ctx, p))
	return p
}

// CreateSubscription stores an active monthly subscription of the tenant in
// ctx whose current period ends at periodEnd.
func (s *BaseServiceTestSuite) CreateSubscription(ctx context.Context, p *plan.Plan, periodEnd time.Time) *subscription.Subscription {
	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		PlanID:             p.ID,
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingCycle:       types.BillingCycleMonthly,
		CurrentPeriodStart: periodEnd.AddDate(0, -1, 0),
		CurrentPeriodEnd:   periodEnd,
		Quantity:           1,
		BaseModel:          types.GetDefaultBaseModel(ctx),
	}
	s.Require().NoError(s.stores.SubscriptionRepo.Create(ctx, sub))
	return sub
}

// CreatePaymentMethod saves a method for the tenant in ctx
func (s *BaseServiceTestSuite) CreatePaymentMethod(ctx context.Context, methodType types.PaymentMethodType, isDefault bool) *paymentmethod.PaymentMethod {
	m := &paymentmethod.PaymentMethod{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT_METHOD),
		Type:        methodType,
		GatewayRef:  "ref_" + types.GenerateUUID(),
		Description: string(methodType),
		IsDefault:   isDefault,
		BaseModel:   types.GetDefaultBaseModel(ctx),
	}
	s.Require().NoError(s.stores.PaymentMethodRepo.Create(ctx, m))
	return m
}
