package models

import (
	"time"

	"github.com/voxbill/voxbill/internal/api/dto"
	ierr "github.com/voxbill/voxbill/internal/errors"
)

const (
	// DefaultTaskQueue is the default task queue name
	DefaultTaskQueue = "billing"

	// DefaultNamespace is the default namespace
	DefaultNamespace = "default"

	// DefaultInitialInterval is the default initial interval for activity retry policies
	DefaultInitialInterval = time.Second

	// DefaultMaximumInterval is the default maximum interval for activity retry policies
	DefaultMaximumInterval = time.Minute

	// DefaultBackoffCoefficient is the default backoff coefficient for activity retry policies
	DefaultBackoffCoefficient = 2.0

	// DefaultMaximumAttempts is the default maximum attempts for activity retry policies
	DefaultMaximumAttempts = 3
)

// WorkflowType names the workflows registered by the worker
type WorkflowType string

const (
	WorkflowTypeBillingCycle    WorkflowType = "BillingCycleWorkflow"
	WorkflowTypeRetryProcessing WorkflowType = "RetryProcessingWorkflow"
)

func (w WorkflowType) String() string {
	return string(w)
}

// Activity names as registered on the worker
const (
	ActivityProcessBillingCycle = "ProcessBillingCycle"
	ActivityProcessRetries      = "ProcessRetries"
	ActivityExpireStalePending  = "ExpireStalePending"
)

// BillingCycleWorkflowInput represents input for the billing cycle workflow
type BillingCycleWorkflowInput struct {
	TenantID        string `json:"tenant_id,omitempty"`
	DryRun          bool   `json:"dry_run"`
	ProcessOverages bool   `json:"process_overages"`
}

func (i *BillingCycleWorkflowInput) ToRequest() dto.BillingCycleRequest {
	return dto.BillingCycleRequest{
		TenantID:        i.TenantID,
		DryRun:          i.DryRun,
		ProcessOverages: i.ProcessOverages,
	}
}

// RetryProcessingWorkflowInput represents input for the retry processing workflow
type RetryProcessingWorkflowInput struct {
	// PendingTimeout fails pending payments older than this before retries
	// run. Zero skips the sweep.
	PendingTimeout time.Duration `json:"pending_timeout"`
}

func (i *RetryProcessingWorkflowInput) Validate() error {
	if i.PendingTimeout < 0 {
		return ierr.NewError("pending timeout must not be negative").
			WithHint("Pending timeout must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// RetryProcessingWorkflowResult represents the outcome of a retry processing run
type RetryProcessingWorkflowResult struct {
	Expired int                       `json:"expired"`
	Retries *dto.ProcessRetriesResult `json:"retries"`
}
