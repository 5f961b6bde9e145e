package dto

import (
	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/domain/invoice"
	"github.com/voxbill/voxbill/internal/types"
)

// InvoiceResponse represents an invoice with its ordered items
type InvoiceResponse struct {
	*invoice.Invoice
	// FormattedTotal is the total in major units, e.g. "31.32"
	FormattedTotal string `json:"formatted_total"`
}

// ListInvoicesResponse represents a paginated list of invoices
type ListInvoicesResponse struct {
	Items      []*InvoiceResponse       `json:"items"`
	Pagination types.PaginationResponse `json:"pagination"`
}

// CollectInvoiceRequest asks the engine to charge an invoice now with the
// tenant's saved payment methods.
type CollectInvoiceRequest struct {
	// Amount defaults to the amount due
	Amount *int64 `json:"amount,omitempty"`
}

func NewInvoiceResponse(inv *invoice.Invoice) *InvoiceResponse {
	if inv == nil {
		return nil
	}
	if inv.Items == nil {
		inv.Items = []*invoice.Item{}
	}
	return &InvoiceResponse{
		Invoice:        inv,
		FormattedTotal: types.FormatCents(inv.Total),
	}
}

func NewListInvoicesResponse(invoices []*invoice.Invoice, total int, filter *types.QueryFilter) *ListInvoicesResponse {
	return &ListInvoicesResponse{
		Items:      lo.Map(invoices, func(inv *invoice.Invoice, _ int) *InvoiceResponse { return NewInvoiceResponse(inv) }),
		Pagination: types.NewPaginationResponse(total, filter.GetLimit(), filter.GetOffset()),
	}
}
