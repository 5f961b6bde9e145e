package service

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/domain/payment"
	"github.com/voxbill/voxbill/internal/domain/paymentmethod"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/gateway"
	"github.com/voxbill/voxbill/internal/idempotency"
	"github.com/voxbill/voxbill/internal/types"
)

// AttemptPaymentRequest charges an invoice with the first of the given
// methods, which callers order default first.
type AttemptPaymentRequest struct {
	InvoiceID      string
	PaymentMethods []*paymentmethod.PaymentMethod
	// Amount defaults to the invoice amount due
	Amount *int64
}

// PaymentService is the payment orchestrator
type PaymentService interface {
	AttemptPayment(ctx context.Context, req AttemptPaymentRequest) (*payment.Payment, error)
	// CollectInvoice charges an invoice with the tenant's saved methods
	CollectInvoice(ctx context.Context, invoiceID string, req dto.CollectInvoiceRequest) (*dto.PaymentResponse, error)
	SettlePayment(ctx context.Context, paymentID string, req dto.SettlePaymentRequest) (*dto.PaymentResponse, error)
	ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error)
	GetPayment(ctx context.Context, id string) (*dto.PaymentResponse, error)
	ListPayments(ctx context.Context, filter *types.PaymentFilter) (*dto.ListPaymentsResponse, error)
}

type paymentService struct {
	ServiceParams
	collector *collector
	idempGen  *idempotency.Generator
}

func NewPaymentService(params ServiceParams) PaymentService {
	return &paymentService{
		ServiceParams: params,
		collector:     newCollector(params),
		idempGen:      idempotency.NewGenerator(),
	}
}

func (s *paymentService) AttemptPayment(ctx context.Context, req AttemptPaymentRequest) (*payment.Payment, error) {
	if len(req.PaymentMethods) == 0 {
		return nil, ierr.NewError("no saved payment method").
			WithHint("Add a payment method before collecting this invoice").
			WithReportableDetails(map[string]any{"invoice_id": req.InvoiceID}).
			Mark(ierr.ErrNoPaymentMethod)
	}

	unlock := s.Locks.Lock(invoiceLockKey(req.InvoiceID))
	defer unlock()

	inv, err := s.InvoiceRepo.Get(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	ctx = withTenant(ctx, inv.TenantID)

	if inv.IsPaid() {
		return nil, ierr.NewError("invoice already paid").
			WithHint("Invoice is already paid").
			WithReportableDetails(map[string]any{"invoice_id": inv.ID}).
			Mark(ierr.ErrAlreadyPaid)
	}
	if inv.InvoiceStatus == types.InvoiceStatusVoid {
		return nil, ierr.NewError("invoice is void").
			WithHint("A void invoice cannot be collected").
			WithReportableDetails(map[string]any{"invoice_id": inv.ID}).
			Mark(ierr.ErrInvalidOperation)
	}

	amount := lo.FromPtrOr(req.Amount, inv.AmountDue)
	if amount <= 0 || amount > inv.AmountDue {
		return nil, ierr.NewError("payment amount exceeds amount due").
			WithHint("Payment amount must be positive and not exceed the invoice amount due").
			WithReportableDetails(map[string]any{
				"invoice_id": inv.ID,
				"amount":     amount,
				"amount_due": inv.AmountDue,
			}).
			Mark(ierr.ErrValidation)
	}

	method := req.PaymentMethods[0]
	gw, err := s.Gateways.Get(method.Type)
	if err != nil {
		return nil, err
	}

	p := &payment.Payment{
		ID:                types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT),
		InvoiceID:         inv.ID,
		SubscriptionID:    inv.SubscriptionID,
		PaymentMethodID:   method.ID,
		PaymentMethodType: method.Type,
		Gateway:           gw.Name(),
		Amount:            amount,
		Currency:          inv.Currency,
		PaymentStatus:     types.PaymentStatusPending,
		BaseModel:         types.GetDefaultBaseModel(ctx),
	}
	p.IdempotencyKey = s.idempGen.PaymentKey(p.ID)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.PaymentRepo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.Logger.Infow("attempting payment",
		"payment_id", p.ID,
		"invoice_id", inv.ID,
		"amount", amount,
		"gateway", p.Gateway,
	)

	outcome := s.collector.charge(ctx, p, method, p.IdempotencyKey)
	if err := s.collector.applyOutcome(ctx, p, outcome); err != nil {
		return p, err
	}
	return p, nil
}

func (s *paymentService) CollectInvoice(ctx context.Context, invoiceID string, req dto.CollectInvoiceRequest) (*dto.PaymentResponse, error) {
	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	methods, err := s.PaymentMethodRepo.ListByTenant(ctx, inv.TenantID)
	if err != nil {
		return nil, err
	}

	p, err := s.AttemptPayment(ctx, AttemptPaymentRequest{
		InvoiceID:      inv.ID,
		PaymentMethods: methods,
		Amount:         req.Amount,
	})
	if err != nil {
		return nil, err
	}
	return dto.NewPaymentResponse(p), nil
}

// SettlePayment resolves a pending payment from an asynchronous gateway
// notification. Repeating a notification that matches the current state is
// a no-op.
func (s *paymentService) SettlePayment(ctx context.Context, paymentID string, req dto.SettlePaymentRequest) (*dto.PaymentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, err := s.PaymentRepo.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	unlock := s.Locks.Lock(invoiceLockKey(p.InvoiceID))
	defer unlock()

	// re-read under the lock, a retry or the stale sweep may have resolved it
	p, err = s.PaymentRepo.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	ctx = withTenant(ctx, p.TenantID)

	if p.PaymentStatus != types.PaymentStatusPending {
		if string(p.PaymentStatus) == string(req.Status) {
			return dto.NewPaymentResponse(p), nil
		}
		return nil, ierr.NewError("payment is not pending").
			WithHintf("Payment is already %s", p.PaymentStatus).
			WithReportableDetails(map[string]any{
				"payment_id":     p.ID,
				"payment_status": p.PaymentStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	outcome := &gateway.Outcome{
		Status:        req.Status,
		GatewayRef:    req.GatewayRef,
		FailureReason: req.FailureReason,
		Message:       req.Message,
	}
	if outcome.Status == types.GatewayOutcomePending {
		return dto.NewPaymentResponse(p), nil
	}

	if err := s.collector.applyOutcome(ctx, p, outcome); err != nil {
		return nil, err
	}
	return dto.NewPaymentResponse(p), nil
}

// ExpireStalePending fails payments left pending longer than olderThan with
// network_error and hands them to the retry scheduler.
func (s *paymentService) ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.Clock.Now().UTC().Add(-olderThan)

	// the sweep spans every tenant
	stale, err := s.PaymentRepo.List(types.SetTenantID(ctx, ""), &types.PaymentFilter{
		QueryFilter:   types.NewNoLimitQueryFilter(),
		PaymentStatus: []types.PaymentStatus{types.PaymentStatusPending},
		UpdatedBefore: lo.ToPtr(cutoff),
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range stale {
		ok, err := s.expire(ctx, candidate.ID, candidate.TenantID, cutoff, olderThan)
		if err != nil {
			s.Logger.Errorw("failed to expire pending payment",
				"error", err,
				"payment_id", candidate.ID,
			)
			continue
		}
		if ok {
			expired++
		}
	}

	if expired > 0 {
		s.Logger.Infow("expired stale pending payments", "count", expired, "older_than", olderThan)
	}
	return expired, nil
}

func (s *paymentService) expire(ctx context.Context, paymentID, tenantID string, cutoff time.Time, olderThan time.Duration) (bool, error) {
	ctx = types.WithTenant(ctx, tenantID)

	p, err := s.PaymentRepo.Get(ctx, paymentID)
	if err != nil {
		return false, err
	}

	unlock := s.Locks.Lock(invoiceLockKey(p.InvoiceID))
	defer unlock()

	p, err = s.PaymentRepo.Get(ctx, paymentID)
	if err != nil {
		return false, err
	}
	if p.PaymentStatus != types.PaymentStatusPending || !p.UpdatedAt.Before(cutoff) {
		return false, nil
	}

	outcome := gateway.Failed(lo.FromPtr(p.GatewayRef), types.FailureReasonNetworkError,
		fmt.Sprintf("payment pending for longer than %s", olderThan))
	if err := s.collector.applyOutcome(ctx, p, outcome); err != nil {
		return false, err
	}
	return true, nil
}

func (s *paymentService) GetPayment(ctx context.Context, id string) (*dto.PaymentResponse, error) {
	if id == "" {
		return nil, ierr.NewError("payment id is required").
			WithHint("Payment ID is required").
			Mark(ierr.ErrValidation)
	}

	p, err := s.PaymentRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewPaymentResponse(p), nil
}

func (s *paymentService) ListPayments(ctx context.Context, filter *types.PaymentFilter) (*dto.ListPaymentsResponse, error) {
	if filter == nil {
		filter = &types.PaymentFilter{}
	}
	if filter.QueryFilter == nil {
		filter.QueryFilter = types.NewDefaultQueryFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	payments, err := s.PaymentRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.PaymentRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	return dto.NewListPaymentsResponse(payments, total, filter.QueryFilter), nil
}
