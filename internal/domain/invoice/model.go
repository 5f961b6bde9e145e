package invoice

import (
	"time"

	"github.com/samber/lo"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// Invoice is the billing document of one subscription billing period.
// Amounts are in cents and always satisfy Total = Subtotal + Tax and
// AmountDue = Total - AmountPaid, except for void invoices whose AmountDue is 0.
type Invoice struct {
	ID             string              `db:"id" json:"id"`
	InvoiceNumber  string              `db:"invoice_number" json:"invoice_number"`
	SubscriptionID string              `db:"subscription_id" json:"subscription_id"`
	BillingPeriod  string              `db:"billing_period" json:"billing_period"`
	PeriodStart    time.Time           `db:"period_start" json:"period_start"`
	PeriodEnd      time.Time           `db:"period_end" json:"period_end"`
	Currency       string              `db:"currency" json:"currency"`
	InvoiceStatus  types.InvoiceStatus `db:"invoice_status" json:"invoice_status"`
	Subtotal       int64               `db:"subtotal" json:"subtotal"`
	Tax            int64               `db:"tax" json:"tax"`
	Total          int64               `db:"total" json:"total"`
	AmountPaid     int64               `db:"amount_paid" json:"amount_paid"`
	AmountDue      int64               `db:"amount_due" json:"amount_due"`
	DueDate        time.Time           `db:"due_date" json:"due_date"`
	PaidAt         *time.Time          `db:"paid_at" json:"paid_at,omitempty"`
	VoidedAt       *time.Time          `db:"voided_at" json:"voided_at,omitempty"`
	IdempotencyKey string              `db:"idempotency_key" json:"idempotency_key"`
	Items          []*Item             `db:"-" json:"items"`
	Version        int                 `db:"version" json:"version"`
	types.BaseModel
}

// Item is one ordered line of an invoice
type Item struct {
	ID          string           `db:"id" json:"id"`
	InvoiceID   string           `db:"invoice_id" json:"invoice_id"`
	Position    int              `db:"position" json:"position"`
	Description string           `db:"description" json:"description"`
	UsageType   *types.UsageType `db:"usage_type" json:"usage_type,omitempty"`
	Quantity    int64            `db:"quantity" json:"quantity"`
	UnitAmount  int64            `db:"unit_amount" json:"unit_amount"`
	Amount      int64            `db:"amount" json:"amount"`
	types.BaseModel
}

// ApplyTotals sets subtotal from the items, then tax, total and amount due.
// Only valid before any payment has been applied.
func (i *Invoice) ApplyTotals(tax int64) {
	i.Subtotal = lo.SumBy(i.Items, func(item *Item) int64 { return item.Amount })
	i.Tax = tax
	i.Total = i.Subtotal + i.Tax
	i.AmountPaid = 0
	i.AmountDue = i.Total
}

// IsPaid reports whether the invoice has been fully settled
func (i *Invoice) IsPaid() bool {
	return i.InvoiceStatus == types.InvoiceStatusPaid
}

// ApplyPayment records a settled payment amount
func (i *Invoice) ApplyPayment(amount int64, at time.Time) error {
	if i.InvoiceStatus == types.InvoiceStatusVoid {
		return ierr.NewError("invoice is void").
			WithHint("Payments cannot be applied to a void invoice").
			WithReportableDetails(map[string]any{"invoice_id": i.ID}).
			Mark(ierr.ErrInvalidOperation)
	}
	if i.IsPaid() {
		return ierr.NewError("invoice already paid").
			WithHint("Invoice is already paid").
			WithReportableDetails(map[string]any{"invoice_id": i.ID}).
			Mark(ierr.ErrAlreadyPaid)
	}
	if amount <= 0 || amount > i.AmountDue {
		return ierr.NewError("payment amount exceeds amount due").
			WithHint("Payment amount must be positive and not exceed the amount due").
			WithReportableDetails(map[string]any{
				"invoice_id": i.ID,
				"amount":     amount,
				"amount_due": i.AmountDue,
			}).
			Mark(ierr.ErrValidation)
	}

	i.AmountPaid += amount
	i.AmountDue = i.Total - i.AmountPaid
	if i.AmountDue == 0 {
		i.InvoiceStatus = types.InvoiceStatusPaid
		i.PaidAt = lo.ToPtr(at)
	}
	return nil
}

// MarkPaidWithoutCollection settles a zero total invoice
func (i *Invoice) MarkPaidWithoutCollection(at time.Time) {
	if i.Total != 0 {
		return
	}
	i.InvoiceStatus = types.InvoiceStatusPaid
	i.PaidAt = lo.ToPtr(at)
}

// Void cancels the invoice, zeroing the amount due
func (i *Invoice) Void(at time.Time) error {
	if i.IsPaid() {
		return ierr.NewError("paid invoices cannot be voided").
			WithHint("Invoice is already paid and cannot be voided").
			WithReportableDetails(map[string]any{"invoice_id": i.ID}).
			Mark(ierr.ErrAlreadyPaid)
	}
	if i.InvoiceStatus == types.InvoiceStatusVoid {
		return nil
	}
	i.InvoiceStatus = types.InvoiceStatusVoid
	i.AmountDue = 0
	i.VoidedAt = lo.ToPtr(at)
	return nil
}

// Validate checks the monetary invariants of the invoice
func (i *Invoice) Validate() error {
	if err := i.InvoiceStatus.Validate(); err != nil {
		return err
	}

	itemSum := lo.SumBy(i.Items, func(item *Item) int64 { return item.Amount })
	details := map[string]any{
		"invoice_id":  i.ID,
		"subtotal":    i.Subtotal,
		"tax":         i.Tax,
		"total":       i.Total,
		"amount_paid": i.AmountPaid,
		"amount_due":  i.AmountDue,
	}

	switch {
	case i.Subtotal < 0 || i.Tax < 0 || i.AmountPaid < 0 || i.AmountDue < 0:
		return ierr.NewError("invoice amounts must not be negative").
			WithHint("Invoice amounts must not be negative").
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	case itemSum != i.Subtotal:
		return ierr.NewError("subtotal does not match line items").
			WithHint("Invoice subtotal must equal the sum of its line items").
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	case i.Total != i.Subtotal+i.Tax:
		return ierr.NewError("total must equal subtotal plus tax").
			WithHint("Invoice total must equal subtotal plus tax").
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	case i.InvoiceStatus != types.InvoiceStatusVoid && i.AmountDue != i.Total-i.AmountPaid:
		return ierr.NewError("amount due must equal total minus amount paid").
			WithHint("Invoice amount due is inconsistent").
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	case i.InvoiceStatus == types.InvoiceStatusVoid && i.AmountDue != 0:
		return ierr.NewError("void invoice must have no amount due").
			WithHint("Void invoices must have zero amount due").
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	}

	for _, item := range i.Items {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (item *Item) Validate() error {
	if item.Description == "" {
		return ierr.NewError("line item description is required").
			WithHint("Invoice line items must have a description").
			Mark(ierr.ErrValidation)
	}
	if item.Quantity < 0 || item.UnitAmount < 0 || item.Amount < 0 {
		return ierr.NewError("line item amounts must not be negative").
			WithHint("Invoice line item amounts must not be negative").
			WithReportableDetails(map[string]any{
				"description": item.Description,
				"quantity":    item.Quantity,
				"unit_amount": item.UnitAmount,
				"amount":      item.Amount,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
