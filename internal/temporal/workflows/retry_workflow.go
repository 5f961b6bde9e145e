package workflows

import (
	"time"

	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/temporal/models"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// RetryProcessingWorkflow sweeps stale pending payments and then executes due
// retry attempts. A failed sweep is logged and does not block retries.
func RetryProcessingWorkflow(ctx workflow.Context, input models.RetryProcessingWorkflowInput) (*models.RetryProcessingWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)

	if err := input.Validate(); err != nil {
		return nil, err
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute * 30,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    models.DefaultInitialInterval,
			BackoffCoefficient: models.DefaultBackoffCoefficient,
			MaximumInterval:    models.DefaultMaximumInterval,
			MaximumAttempts:    models.DefaultMaximumAttempts,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	result := &models.RetryProcessingWorkflowResult{}

	if input.PendingTimeout > 0 {
		var expired int
		if err := workflow.ExecuteActivity(ctx, models.ActivityExpireStalePending, input.PendingTimeout).Get(ctx, &expired); err != nil {
			logger.Error("Pending sweep failed", "error", err)
		} else {
			result.Expired = expired
		}
	}

	var retries dto.ProcessRetriesResult
	if err := workflow.ExecuteActivity(ctx, models.ActivityProcessRetries).Get(ctx, &retries); err != nil {
		logger.Error("Retry processing failed", "error", err)
		return nil, err
	}
	result.Retries = &retries

	logger.Info("Retry processing workflow completed",
		"expired", result.Expired,
		"processed", retries.Processed,
		"succeeded", retries.Succeeded)

	return result, nil
}
