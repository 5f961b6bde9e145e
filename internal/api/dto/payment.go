package dto

import (
	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/domain/payment"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// PaymentResponse represents a payment
type PaymentResponse struct {
	*payment.Payment
}

// ListPaymentsResponse represents a paginated list of payments
type ListPaymentsResponse struct {
	Items      []*PaymentResponse       `json:"items"`
	Pagination types.PaginationResponse `json:"pagination"`
}

// SettlePaymentRequest resolves a pending payment from an asynchronous
// gateway notification.
type SettlePaymentRequest struct {
	Status        types.GatewayOutcomeStatus `json:"status" binding:"required"`
	GatewayRef    string                     `json:"gateway_ref,omitempty"`
	FailureReason types.FailureReason        `json:"failure_reason,omitempty"`
	Message       string                     `json:"message,omitempty"`
}

func (r *SettlePaymentRequest) Validate() error {
	if err := r.Status.Validate(); err != nil {
		return err
	}
	if r.Status == types.GatewayOutcomeFailed && r.FailureReason == "" {
		return ierr.NewError("failure reason is required").
			WithHint("Failed settlements must carry a failure reason").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ExpirePendingResponse reports how many stale pending payments were failed
type ExpirePendingResponse struct {
	Expired int `json:"expired"`
}

func NewPaymentResponse(p *payment.Payment) *PaymentResponse {
	if p == nil {
		return nil
	}
	return &PaymentResponse{Payment: p}
}

func NewListPaymentsResponse(payments []*payment.Payment, total int, filter *types.QueryFilter) *ListPaymentsResponse {
	return &ListPaymentsResponse{
		Items:      lo.Map(payments, func(p *payment.Payment, _ int) *PaymentResponse { return NewPaymentResponse(p) }),
		Pagination: types.NewPaginationResponse(total, filter.GetLimit(), filter.GetOffset()),
	}
}
