package payment

import (
	"time"

	"github.com/samber/lo"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// Payment is one attempt to collect an invoice. A failed payment may still be
// collected later through its retry lineage, which reuses the same record.
type Payment struct {
	ID                string                  `db:"id" json:"id"`
	InvoiceID         string                  `db:"invoice_id" json:"invoice_id"`
	SubscriptionID    string                  `db:"subscription_id" json:"subscription_id"`
	PaymentMethodID   string                  `db:"payment_method_id" json:"payment_method_id"`
	PaymentMethodType types.PaymentMethodType `db:"payment_method_type" json:"payment_method_type"`
	Gateway           string                  `db:"gateway" json:"gateway"`
	Amount            int64                   `db:"amount" json:"amount"`
	Currency          string                  `db:"currency" json:"currency"`
	PaymentStatus     types.PaymentStatus     `db:"payment_status" json:"payment_status"`
	// GatewayRef is the opaque correlation id assigned by the gateway
	GatewayRef     *string              `db:"gateway_ref" json:"gateway_ref,omitempty"`
	FailureReason  *types.FailureReason `db:"failure_reason" json:"failure_reason,omitempty"`
	ErrorMessage   *string              `db:"error_message" json:"error_message,omitempty"`
	IdempotencyKey string               `db:"idempotency_key" json:"idempotency_key"`
	// PermanentlyFailed is set once no automatic retry will be scheduled
	PermanentlyFailed bool       `db:"permanently_failed" json:"permanently_failed"`
	SucceededAt       *time.Time `db:"succeeded_at" json:"succeeded_at,omitempty"`
	FailedAt          *time.Time `db:"failed_at" json:"failed_at,omitempty"`
	Version           int        `db:"version" json:"version"`
	types.BaseModel
}

// MarkSucceeded moves the payment to its collected state
func (p *Payment) MarkSucceeded(gatewayRef string, at time.Time) {
	p.PaymentStatus = types.PaymentStatusSucceeded
	if gatewayRef != "" {
		p.GatewayRef = lo.ToPtr(gatewayRef)
	}
	p.FailureReason = nil
	p.ErrorMessage = nil
	p.PermanentlyFailed = false
	p.SucceededAt = lo.ToPtr(at)
}

// MarkFailed records a classified gateway failure
func (p *Payment) MarkFailed(reason types.FailureReason, message string, gatewayRef string, at time.Time) {
	p.PaymentStatus = types.PaymentStatusFailed
	p.FailureReason = lo.ToPtr(reason)
	p.ErrorMessage = lo.ToPtr(message)
	if gatewayRef != "" {
		p.GatewayRef = lo.ToPtr(gatewayRef)
	}
	p.FailedAt = lo.ToPtr(at)
}

// MarkPending records an asynchronous gateway outcome
func (p *Payment) MarkPending(gatewayRef string) {
	p.PaymentStatus = types.PaymentStatusPending
	if gatewayRef != "" {
		p.GatewayRef = lo.ToPtr(gatewayRef)
	}
}

// GetFailureReason returns the classified failure or unknown
func (p *Payment) GetFailureReason() types.FailureReason {
	if p.FailureReason == nil {
		return types.FailureReasonUnknown
	}
	return *p.FailureReason
}

func (p *Payment) Validate() error {
	if p.InvoiceID == "" {
		return ierr.NewError("invoice id is required").
			WithHint("Payment must reference an invoice").
			Mark(ierr.ErrValidation)
	}
	if p.Amount <= 0 {
		return ierr.NewError("payment amount must be positive").
			WithHint("Payment amount must be greater than zero").
			WithReportableDetails(map[string]any{
				"amount": p.Amount,
			}).
			Mark(ierr.ErrValidation)
	}
	if err := p.PaymentMethodType.Validate(); err != nil {
		return err
	}
	return p.PaymentStatus.Validate()
}
