package service

import (
	"github.com/jonboulle/clockwork"
	"github.com/voxbill/voxbill/internal/config"
	"github.com/voxbill/voxbill/internal/domain/invoice"
	"github.com/voxbill/voxbill/internal/domain/payment"
	"github.com/voxbill/voxbill/internal/domain/paymentmethod"
	"github.com/voxbill/voxbill/internal/domain/plan"
	"github.com/voxbill/voxbill/internal/domain/retry"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	"github.com/voxbill/voxbill/internal/domain/usage"
	"github.com/voxbill/voxbill/internal/gateway"
	"github.com/voxbill/voxbill/internal/lock"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/metrics"
	"github.com/voxbill/voxbill/internal/postgres"
	"github.com/voxbill/voxbill/internal/sentry"
	webhookPublisher "github.com/voxbill/voxbill/internal/webhook/publisher"
	"go.uber.org/fx"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger  *logger.Logger
	Config  *config.Configuration
	DB      postgres.IClient
	Clock   clockwork.Clock
	Sentry  *sentry.Service
	Metrics *metrics.Metrics

	// Repositories
	PlanRepo          plan.Repository
	SubRepo           subscription.Repository
	UsageRepo         usage.Repository
	InvoiceRepo       invoice.Repository
	PaymentRepo       payment.Repository
	RetryRepo         retry.Repository
	PaymentMethodRepo paymentmethod.Repository

	// Collection
	Gateways  *gateway.Registry
	CycleLock lock.CycleLock
	Locks     *EntityLocker

	// Publishers
	WebhookPublisher webhookPublisher.WebhookPublisher
}

// Common service params
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	clock clockwork.Clock,
	sentry *sentry.Service,
	metrics *metrics.Metrics,
	planRepo plan.Repository,
	subRepo subscription.Repository,
	usageRepo usage.Repository,
	invoiceRepo invoice.Repository,
	paymentRepo payment.Repository,
	retryRepo retry.Repository,
	paymentMethodRepo paymentmethod.Repository,
	gateways *gateway.Registry,
	cycleLock lock.CycleLock,
	locks *EntityLocker,
	webhookPublisher webhookPublisher.WebhookPublisher,
) ServiceParams {
	return ServiceParams{
		Logger:            logger,
		Config:            config,
		DB:                db,
		Clock:             clock,
		Sentry:            sentry,
		Metrics:           metrics,
		PlanRepo:          planRepo,
		SubRepo:           subRepo,
		UsageRepo:         usageRepo,
		InvoiceRepo:       invoiceRepo,
		PaymentRepo:       paymentRepo,
		RetryRepo:         retryRepo,
		PaymentMethodRepo: paymentMethodRepo,
		Gateways:          gateways,
		CycleLock:         cycleLock,
		Locks:             locks,
		WebhookPublisher:  webhookPublisher,
	}
}

// Module provides the service params and every service built from them
func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			clockwork.NewRealClock,
			NewEntityLocker,
			NewServiceParams,
			NewUsageService,
			NewInvoiceService,
			NewPaymentService,
			NewRetryService,
			NewBillingCycleService,
			NewUsageConsumer,
		),
	)
}
