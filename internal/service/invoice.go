package service

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/domain/invoice"
	"github.com/voxbill/voxbill/internal/domain/plan"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/idempotency"
	"github.com/voxbill/voxbill/internal/types"
)

// BuildInvoiceRequest asks for the invoice of one subscription period
type BuildInvoiceRequest struct {
	Subscription *subscription.Subscription
	Plan         *plan.Plan
	PeriodStart  time.Time
	PeriodEnd    time.Time
	// DryRun computes a draft invoice without persisting it
	DryRun bool
}

// InvoiceService builds and maintains billing documents
type InvoiceService interface {
	BuildInvoice(ctx context.Context, req BuildInvoiceRequest) (*invoice.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error)
	ListInvoices(ctx context.Context, filter *types.InvoiceFilter) (*dto.ListInvoicesResponse, error)
	VoidInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error)
	ApplyPayment(ctx context.Context, invoiceID string, amount int64) (*invoice.Invoice, error)
}

type invoiceService struct {
	ServiceParams
	idempGen *idempotency.Generator
}

func NewInvoiceService(params ServiceParams) InvoiceService {
	return &invoiceService{
		ServiceParams: params,
		idempGen:      idempotency.NewGenerator(),
	}
}

func (s *invoiceService) BuildInvoice(ctx context.Context, req BuildInvoiceRequest) (*invoice.Invoice, error) {
	sub, p := req.Subscription, req.Plan
	if sub == nil || p == nil {
		return nil, ierr.NewError("subscription and plan are required").
			WithHint("Invoice requires a subscription and its plan").
			Mark(ierr.ErrValidation)
	}
	if !req.PeriodEnd.After(req.PeriodStart) {
		return nil, ierr.NewError("invalid invoice period").
			WithHint("Invoice period end must be after its start").
			WithReportableDetails(map[string]any{
				"period_start": req.PeriodStart,
				"period_end":   req.PeriodEnd,
			}).
			Mark(ierr.ErrValidation)
	}

	ctx = withTenant(ctx, sub.TenantID)
	period := types.PeriodKey(req.PeriodStart)

	existing, err := s.InvoiceRepo.GetForPeriod(ctx, sub.ID, period)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		return nil, ierr.NewError("invoice already exists for billing period").
			WithHintf("Subscription already has invoice %s for %s", existing.InvoiceNumber, period).
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"billing_period":  period,
				"invoice_id":      existing.ID,
			}).
			Mark(ierr.ErrDuplicateInvoice)
	}

	now := s.Clock.Now().UTC()
	inv := &invoice.Invoice{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		InvoiceNumber:  types.GenerateShortIDWithPrefix(types.SHORT_ID_PREFIX_INVOICE),
		SubscriptionID: sub.ID,
		BillingPeriod:  period,
		PeriodStart:    req.PeriodStart,
		PeriodEnd:      req.PeriodEnd,
		Currency:       lo.Ternary(p.Currency != "", p.Currency, s.Config.Billing.Currency),
		InvoiceStatus:  lo.Ternary(req.DryRun, types.InvoiceStatusDraft, types.InvoiceStatusOpen),
		DueDate:        req.PeriodEnd.AddDate(0, 0, s.Config.Billing.PaymentTermsDays),
		IdempotencyKey: s.idempGen.InvoiceKey(sub.ID, period),
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}
	items, err := s.buildItems(ctx, inv, sub, p)
	if err != nil {
		return nil, err
	}
	inv.Items = items

	tax := types.MultiplyRate(lo.SumBy(inv.Items, func(item *invoice.Item) int64 { return item.Amount }), s.Config.Billing.GetTaxRate())
	inv.ApplyTotals(tax)

	if !req.DryRun {
		inv.MarkPaidWithoutCollection(now)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	if req.DryRun {
		return inv, nil
	}

	if err := s.InvoiceRepo.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.Metrics.InvoicesTotal.WithLabelValues(inv.InvoiceStatus.String()).Inc()
	s.Metrics.InvoicedAmountCents.Add(float64(inv.Total))
	s.Logger.Infow("created invoice",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"subscription_id", sub.ID,
		"billing_period", period,
		"total", inv.Total,
		"status", inv.InvoiceStatus,
	)

	s.publishInvoiceEvent(ctx, types.WebhookEventInvoiceCreated, inv)
	if inv.IsPaid() {
		s.publishInvoiceEvent(ctx, types.WebhookEventInvoicePaid, inv)
	}
	return inv, nil
}

// buildItems prices the plan base line followed by one line per overage
func (s *invoiceService) buildItems(ctx context.Context, inv *invoice.Invoice, sub *subscription.Subscription, p *plan.Plan) ([]*invoice.Item, error) {
	unitPrice := p.PriceFor(sub.BillingCycle)
	quantity := int64(lo.Max([]int{sub.Quantity, 1}))

	items := []*invoice.Item{
		{
			ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_ITEM),
			InvoiceID:   inv.ID,
			Description: fmt.Sprintf("%s plan (%s)", p.Name, sub.BillingCycle),
			Quantity:    quantity,
			UnitAmount:  unitPrice,
			Amount:      unitPrice * quantity,
			BaseModel:   types.GetDefaultBaseModel(ctx),
		},
	}

	// usage is taken from every month up to the period end that is still
	// unbilled, period boundaries do not line up with calendar months
	usageService := NewUsageService(s.ServiceParams)
	summary, err := s.UsageRepo.SummarizeUnbilled(ctx, sub.ID, types.PeriodKey(inv.PeriodEnd), inv.CreatedAt)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to summarize usage for the invoice").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"billing_period":  inv.BillingPeriod,
			}).
			Mark(ierr.ErrDatabase)
	}

	for _, line := range usageService.ComputeOverages(p, sub, summary) {
		items = append(items, &invoice.Item{
			ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_ITEM),
			InvoiceID: inv.ID,
			Description: fmt.Sprintf("%s overage (%d used, %d included)",
				line.UsageType.DisplayName(), line.Used, line.Allowance),
			UsageType:  lo.ToPtr(line.UsageType),
			Quantity:   line.Quantity,
			UnitAmount: line.UnitAmount,
			Amount:     line.Amount,
			BaseModel:  types.GetDefaultBaseModel(ctx),
		})
	}

	for i, item := range items {
		item.Position = i
	}
	return items, nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	if id == "" {
		return nil, ierr.NewError("invoice id is required").
			WithHint("Invoice ID is required").
			Mark(ierr.ErrValidation)
	}

	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewInvoiceResponse(inv), nil
}

func (s *invoiceService) ListInvoices(ctx context.Context, filter *types.InvoiceFilter) (*dto.ListInvoicesResponse, error) {
	if filter == nil {
		filter = &types.InvoiceFilter{}
	}
	if filter.QueryFilter == nil {
		filter.QueryFilter = types.NewDefaultQueryFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	invoices, err := s.InvoiceRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.InvoiceRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	return dto.NewListInvoicesResponse(invoices, total, filter.QueryFilter), nil
}

// VoidInvoice cancels an unpaid invoice and any retries still scheduled
// against its payments.
func (s *invoiceService) VoidInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	unlock := s.Locks.Lock(invoiceLockKey(id))
	defer unlock()

	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.InvoiceStatus == types.InvoiceStatusVoid {
		return dto.NewInvoiceResponse(inv), nil
	}

	now := s.Clock.Now().UTC()
	if err := inv.Void(now); err != nil {
		return nil, err
	}
	inv.Touch(ctx)
	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return nil, err
	}

	payments, err := s.PaymentRepo.List(ctx, &types.PaymentFilter{
		QueryFilter: types.NewNoLimitQueryFilter(),
		InvoiceID:   inv.ID,
	})
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		cancelled, err := s.RetryRepo.CancelPending(ctx, p.ID, "invoice voided", now)
		if err != nil {
			return nil, err
		}
		if cancelled > 0 {
			s.publishRetryEvent(ctx, types.WebhookEventRetryCancelled, p.ID, nil, "invoice voided")
		}
	}

	s.Logger.Infow("voided invoice", "invoice_id", inv.ID, "subscription_id", inv.SubscriptionID)
	s.publishInvoiceEvent(ctx, types.WebhookEventInvoiceVoided, inv)
	return dto.NewInvoiceResponse(inv), nil
}

// ApplyPayment records a settled amount against an invoice
func (s *invoiceService) ApplyPayment(ctx context.Context, invoiceID string, amount int64) (*invoice.Invoice, error) {
	unlock := s.Locks.Lock(invoiceLockKey(invoiceID))
	defer unlock()

	inv, err := s.applyPaymentLocked(ctx, invoiceID, amount)
	if err != nil {
		return nil, err
	}
	if inv.IsPaid() {
		if err := newSubscriptionSettler(s.ServiceParams).onInvoicePaid(ctx, inv); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// applyPaymentLocked expects the caller to hold the invoice lock
func (s *invoiceService) applyPaymentLocked(ctx context.Context, invoiceID string, amount int64) (*invoice.Invoice, error) {
	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	wasPaid := inv.IsPaid()
	if err := inv.ApplyPayment(amount, s.Clock.Now().UTC()); err != nil {
		return nil, err
	}
	inv.Touch(ctx)
	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return nil, err
	}

	if !wasPaid && inv.IsPaid() {
		s.Logger.Infow("invoice paid", "invoice_id", inv.ID, "subscription_id", inv.SubscriptionID)
		s.publishInvoiceEvent(ctx, types.WebhookEventInvoicePaid, inv)
	}
	return inv, nil
}
