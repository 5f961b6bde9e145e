package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/voxbill/voxbill/internal/api"
	v1 "github.com/voxbill/voxbill/internal/api/v1"
	"github.com/voxbill/voxbill/internal/cache"
	"github.com/voxbill/voxbill/internal/config"
	"github.com/voxbill/voxbill/internal/gateway"
	"github.com/voxbill/voxbill/internal/gateway/bank"
	"github.com/voxbill/voxbill/internal/gateway/manual"
	"github.com/voxbill/voxbill/internal/gateway/stripe"
	"github.com/voxbill/voxbill/internal/httpclient"
	"github.com/voxbill/voxbill/internal/lock"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/metrics"
	"github.com/voxbill/voxbill/internal/postgres"
	"github.com/voxbill/voxbill/internal/pubsub/kafka"
	"github.com/voxbill/voxbill/internal/pubsub/memory"
	pubsubRouter "github.com/voxbill/voxbill/internal/pubsub/router"
	"github.com/voxbill/voxbill/internal/repository"
	"github.com/voxbill/voxbill/internal/scheduler"
	"github.com/voxbill/voxbill/internal/sentry"
	"github.com/voxbill/voxbill/internal/service"
	"github.com/voxbill/voxbill/internal/temporal"
	"github.com/voxbill/voxbill/internal/types"
	"github.com/voxbill/voxbill/internal/validator"
	"github.com/voxbill/voxbill/internal/webhook"
	webhookHandler "github.com/voxbill/voxbill/internal/webhook/handler"
	"go.uber.org/fx"
)

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	var opts []fx.Option

	// Core dependencies
	opts = append(opts,
		fx.Provide(
			validator.NewValidator,
			config.NewConfig,
			logger.NewLogger,
			cache.NewInMemoryCache,
			lock.NewCycleLock,
			provideGateways,
			provideUsagePubSub,
			pubsubRouter.NewRouter,
			provideTemporalConfig,
			provideTemporalClient,
			provideTemporalService,
		),
		sentry.Module(),
		metrics.Module(),
		postgres.Module(),
		repository.Module(),
	)

	// Webhook module must be initialised before services
	opts = append(opts, webhook.Module)

	opts = append(opts, service.Module())

	// API, scheduler and temporal
	opts = append(opts,
		fx.Provide(
			provideHandlers,
			provideRouter,
			provideScheduler,
		),
		fx.Invoke(startServer),
	)

	app := fx.New(opts...)
	app.Run()
}

// provideGateways registers a gateway per payment method type. Manual
// methods are always available, card and bank only when configured.
func provideGateways(cfg *config.Configuration, log *logger.Logger) (*gateway.Registry, error) {
	registry := gateway.NewRegistry(cfg, log)
	registry.Register(types.PaymentMethodTypeManual, manual.New())

	if cfg.Gateway.Stripe.Enabled {
		gw, err := stripe.New(cfg, log)
		if err != nil {
			return nil, err
		}
		registry.Register(types.PaymentMethodTypeCard, gw)
	}

	if cfg.Gateway.Bank.Enabled {
		clientCfg := httpclient.DefaultClientConfig()
		clientCfg.Timeout = cfg.Gateway.Timeout
		clientCfg.MaxRetries = cfg.Gateway.Bank.MaxRetries
		gw, err := bank.New(cfg, httpclient.NewDefaultClient(clientCfg, log), log)
		if err != nil {
			return nil, err
		}
		registry.Register(types.PaymentMethodTypeBankTransfer, gw)
	}

	return registry, nil
}

func provideUsagePubSub(cfg *config.Configuration, log *logger.Logger) (service.UsagePubSub, error) {
	switch cfg.Consumer.PubSub {
	case types.KafkaPubSub:
		return kafka.NewPubSub(cfg, log)
	default:
		return memory.NewPubSub(log), nil
	}
}

func provideTemporalConfig(cfg *config.Configuration) *config.TemporalConfig {
	return &cfg.Temporal
}

// provideTemporalClient returns nil when no temporal address is configured
func provideTemporalClient(cfg *config.TemporalConfig, log *logger.Logger) (*temporal.TemporalClient, error) {
	if cfg.Address == "" {
		log.Info("temporal address not configured, workflows disabled")
		return nil, nil
	}
	return temporal.NewTemporalClient(cfg, log)
}

func provideTemporalService(client *temporal.TemporalClient, cfg *config.TemporalConfig, log *logger.Logger) *temporal.Service {
	if client == nil {
		return nil
	}
	return temporal.NewService(client, cfg, log)
}

func provideHandlers(
	cfg *config.Configuration,
	logger *logger.Logger,
	billingCycleService service.BillingCycleService,
	retryService service.RetryService,
	usageService service.UsageService,
	paymentService service.PaymentService,
	invoiceService service.InvoiceService,
	temporalService *temporal.Service,
) api.Handlers {
	return api.Handlers{
		Health:  v1.NewHealthHandler(),
		Billing: v1.NewBillingHandler(billingCycleService, temporalService, logger),
		Retry:   v1.NewRetryHandler(retryService, logger),
		Usage:   v1.NewUsageHandler(usageService, logger),
		Payment: v1.NewPaymentHandler(paymentService, cfg, logger),
		Invoice: v1.NewInvoiceHandler(invoiceService, paymentService, logger),
	}
}

func provideRouter(handlers api.Handlers, cfg *config.Configuration, logger *logger.Logger, m *metrics.Metrics) *gin.Engine {
	return api.NewRouter(handlers, cfg, logger, m)
}

func provideScheduler(
	cfg *config.Configuration,
	logger *logger.Logger,
	billingCycleService service.BillingCycleService,
	retryService service.RetryService,
	paymentService service.PaymentService,
) (*scheduler.Scheduler, error) {
	return scheduler.New(cfg, logger, billingCycleService, retryService, paymentService)
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	r *gin.Engine,
	router *pubsubRouter.Router,
	webhookHandler webhookHandler.Handler,
	usageConsumer service.UsageConsumer,
	sched *scheduler.Scheduler,
	temporalClient *temporal.TemporalClient,
	temporalService *temporal.Service,
	params service.ServiceParams,
	log *logger.Logger,
) {
	mode := cfg.Deployment.Mode
	if mode == "" {
		mode = types.ModeLocal
	}

	switch mode {
	case types.ModeLocal:
		startAPIServer(lc, r, cfg, log)
		startMessageRouter(lc, router, webhookHandler, usageConsumer, cfg, log)
		startScheduler(lc, sched, cfg, log)
		startTemporalWorker(lc, temporalClient, &cfg.Temporal, params, log)
	case types.ModeAPI:
		startAPIServer(lc, r, cfg, log)
		startMessageRouter(lc, router, webhookHandler, nil, cfg, log)
	case types.ModeWorker:
		startMessageRouter(lc, router, webhookHandler, usageConsumer, cfg, log)
		startScheduler(lc, sched, cfg, log)
	case types.ModeTemporalWorker:
		if temporalClient == nil {
			log.Fatal("temporal address is required for temporal_worker mode")
		}
		startTemporalWorker(lc, temporalClient, &cfg.Temporal, params, log)
	default:
		log.Fatalf("Unknown deployment mode: %s", mode)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if temporalService != nil {
				temporalService.Close()
			}
			return nil
		},
	})
}

func startTemporalWorker(
	lc fx.Lifecycle,
	temporalClient *temporal.TemporalClient,
	cfg *config.TemporalConfig,
	params service.ServiceParams,
	log *logger.Logger,
) {
	if temporalClient == nil {
		log.Info("temporal worker not started, no client configured")
		return
	}
	worker := temporal.NewWorker(temporalClient, cfg, params)
	worker.RegisterWithLifecycle(lc)
}

func startScheduler(lc fx.Lifecycle, sched *scheduler.Scheduler, cfg *config.Configuration, log *logger.Logger) {
	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled")
		return
	}
	sched.RegisterWithLifecycle(lc)
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down server...")
			return srv.Shutdown(ctx)
		},
	})
}

// startMessageRouter runs webhook delivery and, when given, the call usage
// consumer on the shared watermill router.
func startMessageRouter(
	lc fx.Lifecycle,
	router *pubsubRouter.Router,
	webhookHandler webhookHandler.Handler,
	usageConsumer service.UsageConsumer,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	webhookHandler.RegisterHandler(router)
	if usageConsumer != nil && cfg.Consumer.Enabled {
		usageConsumer.RegisterHandler(router)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting message router")
			go func() {
				if err := router.Run(context.Background()); err != nil {
					log.Errorw("message router stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Stopping message router")
			return router.Close()
		},
	})
}
