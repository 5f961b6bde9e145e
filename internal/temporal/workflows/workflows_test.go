package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/temporal/models"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

type WorkflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func TestWorkflows(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterActivityWithOptions(
		func(ctx context.Context, input models.BillingCycleWorkflowInput) (*dto.BillingCycleSummary, error) {
			return nil, nil
		},
		activity.RegisterOptions{Name: models.ActivityProcessBillingCycle},
	)
	s.env.RegisterActivityWithOptions(
		func(ctx context.Context) (*dto.ProcessRetriesResult, error) { return nil, nil },
		activity.RegisterOptions{Name: models.ActivityProcessRetries},
	)
	s.env.RegisterActivityWithOptions(
		func(ctx context.Context, olderThan time.Duration) (int, error) { return 0, nil },
		activity.RegisterOptions{Name: models.ActivityExpireStalePending},
	)
}

func (s *WorkflowSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *WorkflowSuite) TestBillingCycleWorkflow() {
	input := models.BillingCycleWorkflowInput{TenantID: "tenant_a", ProcessOverages: true}
	s.env.OnActivity(models.ActivityProcessBillingCycle, mock.Anything, input).Return(&dto.BillingCycleSummary{
		RunID:                  "run_1",
		TenantID:               "tenant_a",
		SubscriptionsProcessed: 2,
		InvoicesGenerated:      2,
	}, nil).Once()

	s.env.ExecuteWorkflow(BillingCycleWorkflow, input)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var summary dto.BillingCycleSummary
	s.NoError(s.env.GetWorkflowResult(&summary))
	s.Equal("run_1", summary.RunID)
	s.Equal(2, summary.InvoicesGenerated)
}

func (s *WorkflowSuite) TestBillingCycleWorkflowRetriesActivity() {
	input := models.BillingCycleWorkflowInput{}
	s.env.OnActivity(models.ActivityProcessBillingCycle, mock.Anything, input).
		Return(nil, errors.New("database unavailable")).Times(models.DefaultMaximumAttempts)

	s.env.ExecuteWorkflow(BillingCycleWorkflow, input)

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *WorkflowSuite) TestRetryProcessingWorkflow() {
	s.env.OnActivity(models.ActivityExpireStalePending, mock.Anything, 2*time.Hour).Return(3, nil).Once()
	s.env.OnActivity(models.ActivityProcessRetries, mock.Anything).Return(&dto.ProcessRetriesResult{
		Processed: 4,
		Succeeded: 1,
		Failed:    3,
	}, nil).Once()

	s.env.ExecuteWorkflow(RetryProcessingWorkflow, models.RetryProcessingWorkflowInput{PendingTimeout: 2 * time.Hour})

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var result models.RetryProcessingWorkflowResult
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Equal(3, result.Expired)
	s.Require().NotNil(result.Retries)
	s.Equal(4, result.Retries.Processed)
}

func (s *WorkflowSuite) TestRetryProcessingWorkflowSkipsSweep() {
	s.env.OnActivity(models.ActivityProcessRetries, mock.Anything).Return(&dto.ProcessRetriesResult{}, nil).Once()

	s.env.ExecuteWorkflow(RetryProcessingWorkflow, models.RetryProcessingWorkflowInput{})

	s.NoError(s.env.GetWorkflowError())
	var result models.RetryProcessingWorkflowResult
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Zero(result.Expired)
}

func (s *WorkflowSuite) TestRetryProcessingWorkflowSweepFailureDoesNotBlockRetries() {
	s.env.OnActivity(models.ActivityExpireStalePending, mock.Anything, time.Hour).
		Return(0, errors.New("sweep failed")).Times(models.DefaultMaximumAttempts)
	s.env.OnActivity(models.ActivityProcessRetries, mock.Anything).Return(&dto.ProcessRetriesResult{Processed: 1}, nil).Once()

	s.env.ExecuteWorkflow(RetryProcessingWorkflow, models.RetryProcessingWorkflowInput{PendingTimeout: time.Hour})

	s.NoError(s.env.GetWorkflowError())
	var result models.RetryProcessingWorkflowResult
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Equal(1, result.Retries.Processed)
}

func (s *WorkflowSuite) TestRetryProcessingWorkflowRejectsNegativeTimeout() {
	s.env.ExecuteWorkflow(RetryProcessingWorkflow, models.RetryProcessingWorkflowInput{PendingTimeout: -time.Minute})

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}
