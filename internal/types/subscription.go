package types

import (
	"time"

	"github.com/samber/lo"
	ierr "github.com/voxbill/voxbill/internal/errors"
)

// SubscriptionStatus is the lifecycle state of a tenant's plan enrollment
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) Validate() error {
	allowed := []SubscriptionStatus{
		SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusCanceled,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid subscription status").
			WithHint("Invalid subscription status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsBillable reports whether usage may still be recorded against the subscription
func (s SubscriptionStatus) IsBillable() bool {
	return s != SubscriptionStatusCanceled
}

// BillingCycle selects which plan price applies
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

func (b BillingCycle) String() string {
	return string(b)
}

func (b BillingCycle) Validate() error {
	allowed := []BillingCycle{
		BillingCycleMonthly,
		BillingCycleYearly,
	}
	if !lo.Contains(allowed, b) {
		return ierr.NewError("invalid billing cycle").
			WithHint("Billing cycle must be monthly or yearly").
			WithReportableDetails(map[string]any{
				"billing_cycle":  b,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// SubscriptionFilter narrows subscription listings
type SubscriptionFilter struct {
	*QueryFilter
	TenantID            string               `json:"tenant_id,omitempty" form:"tenant_id"`
	SubscriptionIDs     []string             `json:"subscription_ids,omitempty" form:"subscription_ids"`
	SubscriptionStatus  []SubscriptionStatus `json:"subscription_status,omitempty" form:"subscription_status"`
	CurrentPeriodEndLTE *time.Time           `json:"current_period_end_lte,omitempty" form:"current_period_end_lte"`
}

// NewSubscriptionFilter returns a filter with the default page
func NewSubscriptionFilter() *SubscriptionFilter {
	return &SubscriptionFilter{QueryFilter: NewDefaultQueryFilter()}
}

func (f *SubscriptionFilter) Validate() error {
	if f == nil {
		return nil
	}
	for _, s := range f.SubscriptionStatus {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return f.QueryFilter.Validate()
}
