package activities

import (
	"context"
	"time"

	"github.com/voxbill/voxbill/internal/api/dto"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/service"
	"github.com/voxbill/voxbill/internal/temporal/models"
	"go.temporal.io/sdk/temporal"
)

// BillingActivities contains the billing engine activities.
// Methods are registered under their own names, e.g. "ProcessBillingCycle".
type BillingActivities struct {
	billingCycleService service.BillingCycleService
	retryService        service.RetryService
	paymentService      service.PaymentService
}

func NewBillingActivities(
	billingCycleService service.BillingCycleService,
	retryService service.RetryService,
	paymentService service.PaymentService,
) *BillingActivities {
	return &BillingActivities{
		billingCycleService: billingCycleService,
		retryService:        retryService,
		paymentService:      paymentService,
	}
}

// ProcessBillingCycle runs one billing cycle
func (a *BillingActivities) ProcessBillingCycle(ctx context.Context, input models.BillingCycleWorkflowInput) (*dto.BillingCycleSummary, error) {
	summary, err := a.billingCycleService.ProcessBillingCycle(ctx, input.ToRequest())
	if err != nil {
		return nil, nonRetryable(err)
	}
	return summary, nil
}

// ProcessRetries executes every due retry attempt
func (a *BillingActivities) ProcessRetries(ctx context.Context) (*dto.ProcessRetriesResult, error) {
	return a.retryService.ProcessRetries(ctx)
}

// ExpireStalePending fails pending payments older than the timeout
func (a *BillingActivities) ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	return a.paymentService.ExpireStalePending(ctx, olderThan)
}

// nonRetryable stops temporal from retrying errors a retry can not fix.
// A cycle already running is left retryable so the activity waits it out.
func nonRetryable(err error) error {
	if ierr.IsValidation(err) || ierr.IsNotFound(err) {
		return temporal.NewNonRetryableApplicationError(err.Error(), "validation", err)
	}
	return err
}
