package retry

import (
	"time"

	"github.com/samber/lo"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// Attempt is a scheduled re-attempt of a failed payment. Attempt numbers of
// the non cancelled attempts of a payment are contiguous starting at 1.
type Attempt struct {
	ID            string               `db:"id" json:"id"`
	PaymentID     string               `db:"payment_id" json:"payment_id"`
	AttemptNumber int                  `db:"attempt_number" json:"attempt_number"`
	RetryStatus   types.RetryStatus    `db:"retry_status" json:"retry_status"`
	ScheduledAt   time.Time            `db:"scheduled_at" json:"scheduled_at"`
	ProcessedAt   *time.Time           `db:"processed_at" json:"processed_at,omitempty"`
	FailureReason *types.FailureReason `db:"failure_reason" json:"failure_reason,omitempty"`
	ErrorMessage  *string              `db:"error_message" json:"error_message,omitempty"`
	types.BaseModel
}

// IsActive reports whether the attempt counts against the retry ceiling
func (a *Attempt) IsActive() bool {
	return a.RetryStatus != types.RetryStatusCancelled
}

// IsDue reports whether a pending attempt may be processed at now
func (a *Attempt) IsDue(now time.Time) bool {
	return a.RetryStatus == types.RetryStatusPending && !a.ScheduledAt.After(now)
}

func (a *Attempt) MarkProcessing() {
	a.RetryStatus = types.RetryStatusProcessing
}

func (a *Attempt) MarkSucceeded(at time.Time) {
	a.RetryStatus = types.RetryStatusSucceeded
	a.ProcessedAt = lo.ToPtr(at)
}

func (a *Attempt) MarkFailed(reason types.FailureReason, message string, at time.Time) {
	a.RetryStatus = types.RetryStatusFailed
	a.FailureReason = lo.ToPtr(reason)
	a.ErrorMessage = lo.ToPtr(message)
	a.ProcessedAt = lo.ToPtr(at)
}

func (a *Attempt) MarkCancelled(message string, at time.Time) {
	a.RetryStatus = types.RetryStatusCancelled
	a.ErrorMessage = lo.ToPtr(message)
	a.ProcessedAt = lo.ToPtr(at)
}

func (a *Attempt) Validate() error {
	if a.PaymentID == "" {
		return ierr.NewError("payment id is required").
			WithHint("Retry attempt must reference a payment").
			Mark(ierr.ErrValidation)
	}
	if a.AttemptNumber < 1 {
		return ierr.NewError("attempt number must start at 1").
			WithHint("Invalid retry attempt number").
			WithReportableDetails(map[string]any{
				"attempt_number": a.AttemptNumber,
			}).
			Mark(ierr.ErrValidation)
	}
	return a.RetryStatus.Validate()
}
