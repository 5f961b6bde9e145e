package postgres

import (
	"context"

	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/domain/invoice"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/postgres"
	"github.com/voxbill/voxbill/internal/types"
)

const invoiceIdempotencyIndex = "idx_invoices_idempotency_key"

type invoiceRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewInvoiceRepository(db *postgres.DB, logger *logger.Logger) invoice.Repository {
	return &invoiceRepository{db: db, logger: logger}
}

// Create stores the invoice with its items in one transaction
func (r *invoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	invoiceQuery := `
		INSERT INTO invoices (
			id, tenant_id, invoice_number, subscription_id, billing_period, period_start, period_end,
			currency, invoice_status, subtotal, tax, total, amount_paid, amount_due, due_date,
			paid_at, voided_at, idempotency_key, version, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :tenant_id, :invoice_number, :subscription_id, :billing_period, :period_start, :period_end,
			:currency, :invoice_status, :subtotal, :tax, :total, :amount_paid, :amount_due, :due_date,
			:paid_at, :voided_at, :idempotency_key, :version, :status, :created_at, :updated_at, :created_by, :updated_by
		)`

	itemQuery := `
		INSERT INTO invoice_items (
			id, tenant_id, invoice_id, position, description, usage_type, quantity, unit_amount, amount,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :tenant_id, :invoice_id, :position, :description, :usage_type, :quantity, :unit_amount, :amount,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)`

	if inv.Version == 0 {
		inv.Version = 1
	}
	for i, item := range inv.Items {
		item.InvoiceID = inv.ID
		item.Position = i
	}

	r.logger.Debugw("creating invoice",
		"invoice_id", inv.ID,
		"subscription_id", inv.SubscriptionID,
		"billing_period", inv.BillingPeriod,
		"items", len(inv.Items),
	)

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.GetQuerier(ctx)
		if _, err := q.NamedExecContext(ctx, invoiceQuery, inv); err != nil {
			if constraint, ok := uniqueConstraint(err); ok && constraint == invoiceIdempotencyIndex {
				return ierr.WithError(err).
					WithHintf("An invoice already exists for billing period %s", inv.BillingPeriod).
					WithReportableDetails(map[string]any{
						"subscription_id": inv.SubscriptionID,
						"billing_period":  inv.BillingPeriod,
					}).
					Mark(ierr.ErrDuplicateInvoice)
			}
			return dbError(err, "Failed to create invoice", map[string]any{"invoice_id": inv.ID})
		}

		if len(inv.Items) == 0 {
			return nil
		}
		if _, err := q.NamedExecContext(ctx, itemQuery, inv.Items); err != nil {
			return dbError(err, "Failed to create invoice items", map[string]any{"invoice_id": inv.ID})
		}
		return nil
	})
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, "").
		Add("id = ?", id).
		Build(q, "SELECT * FROM invoices", "")
	if err != nil {
		return nil, err
	}

	var inv invoice.Invoice
	if err := q.GetContext(ctx, &inv, query, args...); err != nil {
		return nil, dbError(err, "Invoice not found", map[string]any{"invoice_id": id})
	}
	if err := r.loadItems(ctx, q, []*invoice.Invoice{&inv}); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepository) GetForPeriod(ctx context.Context, subscriptionID, period string) (*invoice.Invoice, error) {
	q := r.db.GetQuerier(ctx)
	query, args, err := postgres.NewTenantWhere(ctx, "").
		Add("subscription_id = ?", subscriptionID).
		Add("billing_period = ?", period).
		Add("invoice_status <> ?", types.InvoiceStatusVoid).
		Build(q, "SELECT * FROM invoices", "LIMIT 1")
	if err != nil {
		return nil, err
	}

	var inv invoice.Invoice
	if err := q.GetContext(ctx, &inv, query, args...); err != nil {
		return nil, dbError(err, "No invoice for billing period", map[string]any{
			"subscription_id": subscriptionID,
			"billing_period":  period,
		})
	}
	if err := r.loadItems(ctx, q, []*invoice.Invoice{&inv}); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Update persists status and amounts. Items are immutable once issued.
func (r *invoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	query := `
		UPDATE invoices SET
			invoice_status = :invoice_status,
			amount_paid = :amount_paid,
			amount_due = :amount_due,
			paid_at = :paid_at,
			voided_at = :voided_at,
			version = version + 1,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id AND tenant_id = :tenant_id AND version = :version`

	r.logger.Debugw("updating invoice",
		"invoice_id", inv.ID,
		"invoice_status", inv.InvoiceStatus,
		"amount_due", inv.AmountDue,
		"version", inv.Version,
	)

	res, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, inv)
	if err != nil {
		return dbError(err, "Failed to update invoice", map[string]any{"invoice_id": inv.ID})
	}
	if err := checkUpdated(res, "invoice", inv.ID, inv.Version); err != nil {
		return err
	}
	inv.Version++
	return nil
}

func (r *invoiceRepository) List(ctx context.Context, filter *types.InvoiceFilter) ([]*invoice.Invoice, error) {
	if filter == nil {
		filter = &types.InvoiceFilter{QueryFilter: types.NewDefaultQueryFilter()}
	}
	q := r.db.GetQuerier(ctx)
	query, args, err := r.where(ctx, filter).
		Build(q, "SELECT * FROM invoices", postgres.Page(filter.QueryFilter, "created_at"))
	if err != nil {
		return nil, err
	}

	var invoices []*invoice.Invoice
	if err := q.SelectContext(ctx, &invoices, query, args...); err != nil {
		return nil, dbError(err, "Failed to list invoices", nil)
	}
	if err := r.loadItems(ctx, q, invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *invoiceRepository) Count(ctx context.Context, filter *types.InvoiceFilter) (int, error) {
	if filter == nil {
		filter = &types.InvoiceFilter{}
	}
	q := r.db.GetQuerier(ctx)
	query, args, err := r.where(ctx, filter).Build(q, "SELECT COUNT(*) FROM invoices", "")
	if err != nil {
		return 0, err
	}

	var count int
	if err := q.GetContext(ctx, &count, query, args...); err != nil {
		return 0, dbError(err, "Failed to count invoices", nil)
	}
	return count, nil
}

func (r *invoiceRepository) where(ctx context.Context, filter *types.InvoiceFilter) *postgres.Where {
	return postgres.NewTenantWhere(ctx, filter.TenantID).
		AddIf(filter.SubscriptionID != "", "subscription_id = ?", filter.SubscriptionID).
		AddIf(filter.BillingPeriod != "", "billing_period = ?", filter.BillingPeriod).
		AddIf(len(filter.InvoiceStatus) > 0, "invoice_status IN (?)", filter.InvoiceStatus)
}

// loadItems attaches line items to the invoices with a single query
func (r *invoiceRepository) loadItems(ctx context.Context, q postgres.Querier, invoices []*invoice.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}

	ids := lo.Map(invoices, func(inv *invoice.Invoice, _ int) string { return inv.ID })
	query, args, err := postgres.NewTenantWhere(ctx, "").
		Add("invoice_id IN (?)", ids).
		Build(q, "SELECT * FROM invoice_items", "ORDER BY invoice_id, position")
	if err != nil {
		return err
	}

	var items []*invoice.Item
	if err := q.SelectContext(ctx, &items, query, args...); err != nil {
		return dbError(err, "Failed to load invoice items", map[string]any{"invoice_ids": ids})
	}

	byInvoice := lo.GroupBy(items, func(item *invoice.Item) string { return item.InvoiceID })
	for _, inv := range invoices {
		inv.Items = byInvoice[inv.ID]
		if inv.Items == nil {
			inv.Items = []*invoice.Item{}
		}
	}
	return nil
}
