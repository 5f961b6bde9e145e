package subscription

import (
	"time"

	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// Subscription is a tenant's plan enrollment. A tenant has at most one
// non canceled subscription.
type Subscription struct {
	ID                 string                   `db:"id" json:"id"`
	PlanID             string                   `db:"plan_id" json:"plan_id"`
	SubscriptionStatus types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	BillingCycle       types.BillingCycle       `db:"billing_cycle" json:"billing_cycle"`
	CurrentPeriodStart time.Time                `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd   time.Time                `db:"current_period_end" json:"current_period_end"`
	// Quantity multiplies the plan price, e.g. number of licensed seats
	Quantity          int        `db:"quantity" json:"quantity"`
	CancelAtPeriodEnd bool       `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CanceledAt        *time.Time `db:"canceled_at" json:"canceled_at,omitempty"`
	Version           int        `db:"version" json:"version"`
	types.BaseModel
}

// BillingPeriod is the YYYY-MM key of the current period
func (s *Subscription) BillingPeriod() string {
	return types.PeriodKey(s.CurrentPeriodStart)
}

// IsDue reports whether the current period has closed by the end of now's day
func (s *Subscription) IsDue(now time.Time) bool {
	return s.SubscriptionStatus == types.SubscriptionStatusActive &&
		!s.CurrentPeriodEnd.After(types.EndOfDay(now))
}

// AdvancePeriod moves the subscription into the period that follows the
// current one, sized by its billing cycle, and reactivates it.
func (s *Subscription) AdvancePeriod() {
	s.CurrentPeriodStart, s.CurrentPeriodEnd = types.NextBillingPeriod(s.CurrentPeriodEnd, s.BillingCycle)
	s.SubscriptionStatus = types.SubscriptionStatusActive
}

func (s *Subscription) Validate() error {
	if s.PlanID == "" {
		return ierr.NewError("plan id is required").
			WithHint("Subscription must reference a plan").
			Mark(ierr.ErrValidation)
	}
	if err := s.SubscriptionStatus.Validate(); err != nil {
		return err
	}
	if err := s.BillingCycle.Validate(); err != nil {
		return err
	}
	if s.Quantity < 1 {
		return ierr.NewError("quantity must be at least 1").
			WithHint("Subscription quantity must be at least 1").
			WithReportableDetails(map[string]any{
				"quantity": s.Quantity,
			}).
			Mark(ierr.ErrValidation)
	}
	if !s.CurrentPeriodEnd.After(s.CurrentPeriodStart) {
		return ierr.NewError("current period end must be after start").
			WithHint("Invalid billing period boundaries").
			WithReportableDetails(map[string]any{
				"current_period_start": s.CurrentPeriodStart,
				"current_period_end":   s.CurrentPeriodEnd,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
