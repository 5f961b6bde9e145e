package usage

import (
	"time"

	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// Record is one metered consumption event. Records are immutable except
// for the processed flag, which is set once the period has been billed.
type Record struct {
	ID             string          `db:"id" json:"id"`
	SubscriptionID string          `db:"subscription_id" json:"subscription_id"`
	UsageType      types.UsageType `db:"usage_type" json:"usage_type"`
	Quantity       int64           `db:"quantity" json:"quantity"`
	BillingPeriod  string          `db:"billing_period" json:"billing_period"`
	RecordedAt     time.Time       `db:"recorded_at" json:"recorded_at"`
	// SourceID identifies the producing event, e.g. a call id, and dedups re-deliveries
	SourceID    *string    `db:"source_id" json:"source_id,omitempty"`
	Processed   bool       `db:"processed" json:"processed"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	types.BaseModel
}

func (r *Record) Validate() error {
	if err := r.UsageType.Validate(); err != nil {
		return err
	}
	if r.Quantity < 0 {
		return ierr.NewError("usage quantity must not be negative").
			WithHint("Usage quantity must be zero or positive").
			WithReportableDetails(map[string]any{
				"quantity": r.Quantity,
			}).
			Mark(ierr.ErrValidation)
	}
	if r.SubscriptionID == "" {
		return ierr.NewError("subscription id is required").
			WithHint("Usage must belong to a subscription").
			Mark(ierr.ErrValidation)
	}
	return types.ValidatePeriodKey(r.BillingPeriod)
}
