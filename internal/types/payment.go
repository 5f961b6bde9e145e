package types

import (
	"time"

	"github.com/samber/lo"
	ierr "github.com/voxbill/voxbill/internal/errors"
)

// PaymentStatus represents the status of a payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCanceled  PaymentStatus = "canceled"
)

func (s PaymentStatus) String() string {
	return string(s)
}

func (s PaymentStatus) Validate() error {
	allowed := []PaymentStatus{
		PaymentStatusPending,
		PaymentStatusSucceeded,
		PaymentStatusFailed,
		PaymentStatusCanceled,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid payment status").
			WithHint("Invalid payment status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsTerminal reports whether a gateway attempt has resolved
func (s PaymentStatus) IsTerminal() bool {
	return s != PaymentStatusPending
}

// PaymentMethodType represents the type of a saved payment method.
// Each type is served by one gateway provider.
type PaymentMethodType string

const (
	PaymentMethodTypeCard         PaymentMethodType = "card"
	PaymentMethodTypeBankTransfer PaymentMethodType = "bank_transfer"
	PaymentMethodTypeManual       PaymentMethodType = "manual"
)

func (s PaymentMethodType) String() string {
	return string(s)
}

func (s PaymentMethodType) Validate() error {
	allowed := []PaymentMethodType{
		PaymentMethodTypeCard,
		PaymentMethodTypeBankTransfer,
		PaymentMethodTypeManual,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid payment method type").
			WithHint("Invalid payment method type").
			WithReportableDetails(map[string]any{
				"type":           s,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// GatewayOutcomeStatus is the result reported by a payment gateway
type GatewayOutcomeStatus string

const (
	GatewayOutcomeSucceeded GatewayOutcomeStatus = "succeeded"
	GatewayOutcomePending   GatewayOutcomeStatus = "pending"
	GatewayOutcomeFailed    GatewayOutcomeStatus = "failed"
)

func (s GatewayOutcomeStatus) Validate() error {
	allowed := []GatewayOutcomeStatus{
		GatewayOutcomeSucceeded,
		GatewayOutcomePending,
		GatewayOutcomeFailed,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid gateway outcome").
			WithHint("Gateway outcome must be succeeded, pending or failed").
			WithReportableDetails(map[string]any{
				"status": s,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// FailureReason is the classified cause of a failed payment
type FailureReason string

const (
	FailureReasonInsufficientFunds    FailureReason = "insufficient_funds"
	FailureReasonCardDeclined         FailureReason = "card_declined"
	FailureReasonProcessingError      FailureReason = "processing_error"
	FailureReasonNetworkError         FailureReason = "network_error"
	FailureReasonRateLimitExceeded    FailureReason = "rate_limit_exceeded"
	FailureReasonInvalidPaymentMethod FailureReason = "invalid_payment_method"
	FailureReasonExpiredCard          FailureReason = "expired_card"
	FailureReasonCardClosed           FailureReason = "card_closed"
	FailureReasonAuthenticationNeeded FailureReason = "authentication_required"
	FailureReasonNoPaymentMethod      FailureReason = "no_payment_method"
	FailureReasonUnknown              FailureReason = "unknown"
)

// DefaultRetryableFailureReasons is the allow-list used when none is configured
var DefaultRetryableFailureReasons = []FailureReason{
	FailureReasonInsufficientFunds,
	FailureReasonCardDeclined,
	FailureReasonProcessingError,
	FailureReasonNetworkError,
	FailureReasonRateLimitExceeded,
}

func (r FailureReason) String() string {
	return string(r)
}

// PaymentFilter narrows payment listings
type PaymentFilter struct {
	*QueryFilter
	TenantID      string          `json:"tenant_id,omitempty" form:"tenant_id"`
	InvoiceID     string          `json:"invoice_id,omitempty" form:"invoice_id"`
	PaymentStatus []PaymentStatus `json:"payment_status,omitempty" form:"payment_status"`
	UpdatedBefore *time.Time      `json:"updated_before,omitempty" form:"updated_before"`
}

func (f *PaymentFilter) Validate() error {
	if f == nil {
		return nil
	}
	for _, s := range f.PaymentStatus {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return f.QueryFilter.Validate()
}
