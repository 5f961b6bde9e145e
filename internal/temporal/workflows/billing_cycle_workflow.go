package workflows

import (
	"time"

	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/temporal/models"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// BillingCycleWorkflow runs a billing cycle as a single activity.
// The service owns the cycle lock so a retried activity never double bills.
func BillingCycleWorkflow(ctx workflow.Context, input models.BillingCycleWorkflowInput) (*dto.BillingCycleSummary, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting billing cycle workflow", "tenantID", input.TenantID, "dryRun", input.DryRun)

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: time.Hour,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    models.DefaultInitialInterval,
			BackoffCoefficient: models.DefaultBackoffCoefficient,
			MaximumInterval:    models.DefaultMaximumInterval,
			MaximumAttempts:    models.DefaultMaximumAttempts,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var summary dto.BillingCycleSummary
	if err := workflow.ExecuteActivity(ctx, models.ActivityProcessBillingCycle, input).Get(ctx, &summary); err != nil {
		logger.Error("Billing cycle failed", "tenantID", input.TenantID, "error", err)
		return nil, err
	}

	logger.Info("Billing cycle workflow completed",
		"runID", summary.RunID,
		"processed", summary.SubscriptionsProcessed,
		"invoices", summary.InvoicesGenerated)

	return &summary, nil
}
