package types

import (
	"time"

	"github.com/samber/lo"
	ierr "github.com/voxbill/voxbill/internal/errors"
)

// RetryStatus is the state of one scheduled re-attempt of a failed payment
type RetryStatus string

const (
	RetryStatusPending    RetryStatus = "pending"
	RetryStatusProcessing RetryStatus = "processing"
	RetryStatusSucceeded  RetryStatus = "succeeded"
	RetryStatusFailed     RetryStatus = "failed"
	RetryStatusCancelled  RetryStatus = "cancelled"
)

func (s RetryStatus) String() string {
	return string(s)
}

func (s RetryStatus) Validate() error {
	allowed := []RetryStatus{
		RetryStatusPending,
		RetryStatusProcessing,
		RetryStatusSucceeded,
		RetryStatusFailed,
		RetryStatusCancelled,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid retry status").
			WithHint("Invalid retry status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// RetryAttemptFilter narrows retry attempt listings
type RetryAttemptFilter struct {
	*QueryFilter
	TenantID       string        `json:"tenant_id,omitempty" form:"tenant_id"`
	PaymentID      string        `json:"payment_id,omitempty" form:"payment_id"`
	RetryStatus    []RetryStatus `json:"retry_status,omitempty" form:"retry_status"`
	ScheduledAtLTE *time.Time    `json:"scheduled_at_lte,omitempty" form:"scheduled_at_lte"`
}
