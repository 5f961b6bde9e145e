package temporal

import (
	"context"

	"github.com/voxbill/voxbill/internal/config"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/service"
	"github.com/voxbill/voxbill/internal/temporal/activities"
	"github.com/voxbill/voxbill/internal/temporal/models"
	"github.com/voxbill/voxbill/internal/temporal/workflows"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/fx"
)

// Worker manages the Temporal worker instance.
type Worker struct {
	worker worker.Worker
	log    *logger.Logger
}

// NewWorker creates a new Temporal worker and registers workflows and activities.
func NewWorker(client *TemporalClient, cfg *config.TemporalConfig, params service.ServiceParams) *Worker {
	w := worker.New(client.Client, cfg.TaskQueue, worker.Options{})

	RegisterWorkflowsAndActivities(w, params)

	return &Worker{
		worker: w,
		log:    params.Logger,
	}
}

// RegisterWorkflowsAndActivities registers the billing workflows and their
// activities under the names the workflows call them by.
func RegisterWorkflowsAndActivities(w worker.Registry, params service.ServiceParams) {
	w.RegisterWorkflowWithOptions(workflows.BillingCycleWorkflow, workflow.RegisterOptions{
		Name: models.WorkflowTypeBillingCycle.String(),
	})
	w.RegisterWorkflowWithOptions(workflows.RetryProcessingWorkflow, workflow.RegisterOptions{
		Name: models.WorkflowTypeRetryProcessing.String(),
	})

	billingActivities := activities.NewBillingActivities(
		service.NewBillingCycleService(params),
		service.NewRetryService(params),
		service.NewPaymentService(params),
	)
	w.RegisterActivityWithOptions(billingActivities.ProcessBillingCycle, activity.RegisterOptions{Name: models.ActivityProcessBillingCycle})
	w.RegisterActivityWithOptions(billingActivities.ProcessRetries, activity.RegisterOptions{Name: models.ActivityProcessRetries})
	w.RegisterActivityWithOptions(billingActivities.ExpireStalePending, activity.RegisterOptions{Name: models.ActivityExpireStalePending})

	if params.Logger != nil {
		params.Logger.Infow("temporal workflows and activities registered",
			"workflows", []string{models.WorkflowTypeBillingCycle.String(), models.WorkflowTypeRetryProcessing.String()},
			"activities", []string{models.ActivityProcessBillingCycle, models.ActivityProcessRetries, models.ActivityExpireStalePending})
	}
}

// Start starts the Temporal worker.
func (w *Worker) Start() error {
	w.log.Info("Starting temporal worker...")
	return w.worker.Start()
}

// Stop stops the Temporal worker.
func (w *Worker) Stop() {
	w.log.Info("Stopping temporal worker...")
	if w.worker != nil {
		w.worker.Stop()
	}
}

// RegisterWithLifecycle registers the worker with the fx lifecycle.
func (w *Worker) RegisterWithLifecycle(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return w.Start()
		},
		OnStop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				w.Stop()
				close(done)
			}()

			select {
			case <-done:
				w.log.Info("Temporal worker stopped successfully")
			case <-ctx.Done():
				w.log.Error("Timeout while stopping temporal worker")
			}
			return nil
		},
	})
}
