package types

import (
	"github.com/samber/lo"
	ierr "github.com/voxbill/voxbill/internal/errors"
)

// UsageType is the kind of metered consumption
type UsageType string

const (
	UsageTypeCallMinutes UsageType = "call_minutes"
	UsageTypeSeatCount   UsageType = "seat_count"
	UsageTypeSMSCount    UsageType = "sms_count"
)

// UsageTypes lists metered types in invoice line order
var UsageTypes = []UsageType{
	UsageTypeCallMinutes,
	UsageTypeSeatCount,
	UsageTypeSMSCount,
}

func (u UsageType) String() string {
	return string(u)
}

func (u UsageType) Validate() error {
	if !lo.Contains(UsageTypes, u) {
		return ierr.NewError("invalid usage type").
			WithHint("Usage type must be one of call_minutes, seat_count or sms_count").
			WithReportableDetails(map[string]any{
				"usage_type":     u,
				"allowed_values": UsageTypes,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// DisplayName is used in invoice line descriptions
func (u UsageType) DisplayName() string {
	switch u {
	case UsageTypeCallMinutes:
		return "Call minutes"
	case UsageTypeSeatCount:
		return "Seats"
	case UsageTypeSMSCount:
		return "SMS messages"
	default:
		return string(u)
	}
}

// UsageSummary maps a usage type to the total quantity in a period
type UsageSummary map[UsageType]int64

// UsageFilter narrows usage record listings
type UsageFilter struct {
	*QueryFilter
	TenantID       string      `json:"tenant_id,omitempty" form:"tenant_id"`
	SubscriptionID string      `json:"subscription_id,omitempty" form:"subscription_id"`
	BillingPeriod  string      `json:"billing_period,omitempty" form:"billing_period"`
	UsageTypes     []UsageType `json:"usage_types,omitempty" form:"usage_types"`
	Processed      *bool       `json:"processed,omitempty" form:"processed"`
}

func (f *UsageFilter) Validate() error {
	if f == nil {
		return nil
	}
	if f.BillingPeriod != "" {
		if err := ValidatePeriodKey(f.BillingPeriod); err != nil {
			return err
		}
	}
	for _, u := range f.UsageTypes {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	return f.QueryFilter.Validate()
}
