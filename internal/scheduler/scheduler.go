package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/config"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/service"
	"github.com/voxbill/voxbill/internal/types"
	"go.uber.org/fx"
)

// jobTimeout bounds a single scheduled run
const jobTimeout = time.Hour

// Scheduler fires the billing cycle, retry processing and pending sweep on
// their cron specs. Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron                *cron.Cron
	cfg                 *config.Configuration
	logger              *logger.Logger
	billingCycleService service.BillingCycleService
	retryService        service.RetryService
	paymentService      service.PaymentService
}

func New(
	cfg *config.Configuration,
	logger *logger.Logger,
	billingCycleService service.BillingCycleService,
	retryService service.RetryService,
	paymentService service.PaymentService,
) (*Scheduler, error) {
	cronLogger := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		cfg:                 cfg,
		logger:              logger,
		billingCycleService: billingCycleService,
		retryService:        retryService,
		paymentService:      paymentService,
	}

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context)
	}{
		{name: "billing_cycle", spec: cfg.Scheduler.BillingCycleSpec, run: s.RunBillingCycle},
		{name: "retry_processing", spec: cfg.Scheduler.RetryProcessSpec, run: s.RunRetries},
		{name: "pending_sweep", spec: cfg.Scheduler.PendingSweepSpec, run: s.RunPendingSweep},
	}

	for _, job := range jobs {
		if job.spec == "" {
			logger.Infow("scheduled job disabled", "job", job.name)
			continue
		}
		run := job.run
		if _, err := s.cron.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			run(ctx)
		}); err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Invalid cron spec %q for %s", job.spec, job.name).
				Mark(ierr.ErrValidation)
		}
	}

	return s, nil
}

// Entries reports the number of registered jobs
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.logger.Infow("starting scheduler", "jobs", s.Entries())
	s.cron.Start()
}

// Stop waits for running jobs until ctx expires
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with jobs still running")
	}
}

func (s *Scheduler) RegisterWithLifecycle(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Stop(ctx)
			return nil
		},
	})
}

func (s *Scheduler) RunBillingCycle(ctx context.Context) {
	ctx = types.SetUserID(ctx, types.SystemUserID)
	summary, err := s.billingCycleService.ProcessBillingCycle(ctx, dto.BillingCycleRequest{
		ProcessOverages: s.cfg.Scheduler.ProcessOverages,
	})
	if err != nil {
		if ierr.IsCycleAlreadyRunning(err) {
			s.logger.Warnw("billing cycle skipped, another run holds the lock")
			return
		}
		s.logger.Errorw("scheduled billing cycle failed", "error", err)
		return
	}

	s.logger.Infow("scheduled billing cycle finished",
		"run_id", summary.RunID,
		"subscriptions_processed", summary.SubscriptionsProcessed,
		"invoices_generated", summary.InvoicesGenerated,
		"payments_failed", summary.PaymentsFailed)
}

func (s *Scheduler) RunRetries(ctx context.Context) {
	ctx = types.SetUserID(ctx, types.SystemUserID)
	result, err := s.retryService.ProcessRetries(ctx)
	if err != nil {
		s.logger.Errorw("scheduled retry processing failed", "error", err)
		return
	}

	s.logger.Infow("scheduled retry processing finished",
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"cancelled", result.Cancelled)
}

func (s *Scheduler) RunPendingSweep(ctx context.Context) {
	ctx = types.SetUserID(ctx, types.SystemUserID)
	expired, err := s.paymentService.ExpireStalePending(ctx, s.cfg.Retry.PendingTimeout)
	if err != nil {
		s.logger.Errorw("pending sweep failed", "error", err)
		return
	}
	if expired > 0 {
		s.logger.Infow("stale pending payments expired", "expired", expired)
	}
}

// cronLogger adapts the zap logger to cron.Logger
type cronLogger struct {
	logger *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
