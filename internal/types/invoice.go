package types

import (
	"github.com/samber/lo"
	ierr "github.com/voxbill/voxbill/internal/errors"
)

// InvoiceStatus is the lifecycle of a billing document
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
)

func (s InvoiceStatus) String() string {
	return string(s)
}

func (s InvoiceStatus) Validate() error {
	allowed := []InvoiceStatus{
		InvoiceStatusDraft,
		InvoiceStatusOpen,
		InvoiceStatusPaid,
		InvoiceStatusVoid,
		InvoiceStatusUncollectible,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid invoice status").
			WithHint("Invalid invoice status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsCollectible reports whether payments may still be applied
func (s InvoiceStatus) IsCollectible() bool {
	return s == InvoiceStatusOpen || s == InvoiceStatusDraft || s == InvoiceStatusUncollectible
}

// InvoiceFilter narrows invoice listings
type InvoiceFilter struct {
	*QueryFilter
	TenantID       string          `json:"tenant_id,omitempty" form:"tenant_id"`
	SubscriptionID string          `json:"subscription_id,omitempty" form:"subscription_id"`
	BillingPeriod  string          `json:"billing_period,omitempty" form:"billing_period"`
	InvoiceStatus  []InvoiceStatus `json:"invoice_status,omitempty" form:"invoice_status"`
}

func (f *InvoiceFilter) Validate() error {
	if f == nil {
		return nil
	}
	for _, s := range f.InvoiceStatus {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return f.QueryFilter.Validate()
}
