package api

import (
	"github.com/gin-gonic/gin"
	v1 "github.com/voxbill/voxbill/internal/api/v1"
	"github.com/voxbill/voxbill/internal/config"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/metrics"
	"github.com/voxbill/voxbill/internal/rest/middleware"
)

type Handlers struct {
	Health  *v1.HealthHandler
	Billing *v1.BillingHandler
	Retry   *v1.RetryHandler
	Usage   *v1.UsageHandler
	Payment *v1.PaymentHandler
	Invoice *v1.InvoiceHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, logger *logger.Logger, m *metrics.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.CORSMiddleware,
		middleware.SentryMiddleware(cfg),
		m.GinMiddleware(),
		middleware.ErrorHandler(logger),
	)

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	private := router.Group("/v1",
		middleware.AuthenticateMiddleware(cfg, logger),
		middleware.TenantMiddleware,
		middleware.SentryScopeMiddleware,
	)

	billing := private.Group("/billing")
	{
		billing.POST("/cycle", handlers.Billing.ProcessBillingCycle)
		billing.POST("/cycle/workflow", handlers.Billing.StartBillingWorkflow)
		billing.POST("/trigger", handlers.Billing.TriggerManualBilling)
		billing.GET("/status", handlers.Billing.GetBillingStatus)
	}

	retries := private.Group("/retries")
	{
		retries.POST("/process", handlers.Retry.ProcessRetries)
		retries.GET("/:payment_id", handlers.Retry.GetPaymentRetryStatus)
		retries.POST("/:payment_id/manual", handlers.Retry.TriggerManualRetry)
		retries.POST("/:payment_id/cancel", handlers.Retry.CancelRetries)
	}

	usage := private.Group("/usage")
	{
		usage.POST("", handlers.Usage.RecordUsage)
		usage.POST("/calls", handlers.Usage.RecordCallUsage)
		usage.GET("/summary", handlers.Usage.GetUsageSummary)
	}

	payments := private.Group("/payments")
	{
		payments.GET("", handlers.Payment.ListPayments)
		payments.POST("/expire-pending", handlers.Payment.ExpireStalePending)
		payments.GET("/:id", handlers.Payment.GetPayment)
		payments.POST("/:id/settle", handlers.Payment.SettlePayment)
	}

	invoices := private.Group("/invoices")
	{
		invoices.GET("", handlers.Invoice.ListInvoices)
		invoices.GET("/:id", handlers.Invoice.GetInvoice)
		invoices.POST("/:id/void", handlers.Invoice.VoidInvoice)
		invoices.POST("/:id/collect", handlers.Invoice.CollectInvoice)
	}

	return router
}
