package repository

import (
	"github.com/voxbill/voxbill/internal/cache"
	"github.com/voxbill/voxbill/internal/domain/invoice"
	"github.com/voxbill/voxbill/internal/domain/payment"
	"github.com/voxbill/voxbill/internal/domain/paymentmethod"
	"github.com/voxbill/voxbill/internal/domain/plan"
	"github.com/voxbill/voxbill/internal/domain/retry"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	"github.com/voxbill/voxbill/internal/domain/usage"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/postgres"
	postgresRepo "github.com/voxbill/voxbill/internal/repository/postgres"
	"go.uber.org/fx"
)

// Module provides every repository backed by postgres
func Module() fx.Option {
	return fx.Provide(
		NewPlanRepository,
		NewSubscriptionRepository,
		NewUsageRepository,
		NewInvoiceRepository,
		NewPaymentRepository,
		NewRetryRepository,
		NewPaymentMethodRepository,
	)
}

func NewPlanRepository(db *postgres.DB, logger *logger.Logger, cache cache.Cache) plan.Repository {
	return postgresRepo.NewPlanRepository(db, logger, cache)
}

func NewSubscriptionRepository(db *postgres.DB, logger *logger.Logger) subscription.Repository {
	return postgresRepo.NewSubscriptionRepository(db, logger)
}

func NewUsageRepository(db *postgres.DB, logger *logger.Logger) usage.Repository {
	return postgresRepo.NewUsageRepository(db, logger)
}

func NewInvoiceRepository(db *postgres.DB, logger *logger.Logger) invoice.Repository {
	return postgresRepo.NewInvoiceRepository(db, logger)
}

func NewPaymentRepository(db *postgres.DB, logger *logger.Logger) payment.Repository {
	return postgresRepo.NewPaymentRepository(db, logger)
}

func NewRetryRepository(db *postgres.DB, logger *logger.Logger) retry.Repository {
	return postgresRepo.NewRetryRepository(db, logger)
}

func NewPaymentMethodRepository(db *postgres.DB, logger *logger.Logger) paymentmethod.Repository {
	return postgresRepo.NewPaymentMethodRepository(db, logger)
}
