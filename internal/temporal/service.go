package temporal

import (
	"context"
	"fmt"
	"time"

	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/config"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/temporal/models"
	"go.temporal.io/sdk/client"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Service starts billing workflows on temporal
type Service struct {
	client *TemporalClient
	log    *logger.Logger
	cfg    *config.TemporalConfig
}

func NewService(client *TemporalClient, cfg *config.TemporalConfig, log *logger.Logger) *Service {
	return &Service{
		client: client,
		log:    log,
		cfg:    cfg,
	}
}

// StartBillingCycle starts a billing cycle workflow and returns without
// waiting for it. The workflow ID is scoped to the tenant and the minute so
// a double trigger is rejected by temporal.
func (s *Service) StartBillingCycle(ctx context.Context, input models.BillingCycleWorkflowInput) (client.WorkflowRun, error) {
	scope := input.TenantID
	if scope == "" {
		scope = "all"
	}
	workflowID := fmt.Sprintf("billing-cycle-%s-%d", scope, time.Now().Truncate(time.Minute).Unix())
	return s.execute(ctx, workflowID, models.WorkflowTypeBillingCycle, input)
}

// RunBillingCycle starts a billing cycle workflow and waits for its summary
func (s *Service) RunBillingCycle(ctx context.Context, input models.BillingCycleWorkflowInput) (*dto.BillingCycleSummary, error) {
	run, err := s.StartBillingCycle(ctx, input)
	if err != nil {
		return nil, err
	}

	var summary dto.BillingCycleSummary
	if err := run.Get(ctx, &summary); err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Billing cycle workflow %s failed", run.GetID()).
			Mark(ierr.ErrSystem)
	}
	return &summary, nil
}

// StartRetryProcessing starts a retry processing workflow
func (s *Service) StartRetryProcessing(ctx context.Context, input models.RetryProcessingWorkflowInput) (client.WorkflowRun, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	workflowID := fmt.Sprintf("retry-processing-%d", time.Now().Truncate(time.Minute).Unix())
	return s.execute(ctx, workflowID, models.WorkflowTypeRetryProcessing, input)
}

func (s *Service) execute(ctx context.Context, workflowID string, workflowType models.WorkflowType, input interface{}) (client.WorkflowRun, error) {
	options := client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                s.cfg.TaskQueue,
		WorkflowExecutionTimeout: 2 * time.Hour,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	}

	run, err := s.client.Client.ExecuteWorkflow(ctx, options, workflowType.String(), input)
	if err != nil {
		s.log.Errorw("failed to start workflow", "workflow_id", workflowID, "workflow_type", workflowType, "error", err)
		return nil, ierr.WithError(err).
			WithHintf("Could not start %s", workflowType).
			Mark(ierr.ErrSystem)
	}

	s.log.Infow("workflow started", "workflow_id", workflowID, "run_id", run.GetRunID(), "workflow_type", workflowType)
	return run, nil
}

// Close closes the temporal client
func (s *Service) Close() {
	if s.client != nil && s.client.Client != nil {
		s.client.Client.Close()
	}
}
