package dto

import (
	"time"

	"github.com/voxbill/voxbill/internal/validator"
)

// BillingCycleRequest selects which subscriptions a cycle run bills
type BillingCycleRequest struct {
	// TenantID restricts the run to one tenant, empty bills every tenant
	TenantID string `json:"tenant_id,omitempty"`
	// DryRun computes invoices without persisting or charging anything
	DryRun bool `json:"dry_run"`
	// ProcessOverages also bills subscriptions owning unprocessed usage in
	// the current period even when their period has not closed
	ProcessOverages bool `json:"process_overages"`
}

// TriggerBillingRequest is the admin request to bill a single tenant now
type TriggerBillingRequest struct {
	TenantID string `json:"tenant_id" binding:"required" validate:"required"`
	DryRun   bool   `json:"dry_run"`
}

func (r *TriggerBillingRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// BillingCycleSummary reports what one billing cycle run did
type BillingCycleSummary struct {
	RunID                  string    `json:"run_id"`
	DryRun                 bool      `json:"dry_run"`
	TenantID               string    `json:"tenant_id,omitempty"`
	StartedAt              time.Time `json:"started_at"`
	FinishedAt             time.Time `json:"finished_at"`
	SubscriptionsProcessed int       `json:"subscriptions_processed"`
	InvoicesGenerated      int       `json:"invoices_generated"`
	PaymentsCollected      int       `json:"payments_collected"`
	PaymentsFailed         int       `json:"payments_failed"`
	PaymentsPending        int       `json:"payments_pending"`
	// TotalAmount is the sum of generated invoice totals in cents
	TotalAmount int64 `json:"total_amount"`
	// TotalCollected is the sum of successfully collected payments in cents
	TotalCollected int64    `json:"total_collected"`
	Errors         []string `json:"errors"`
}

// BillingStatusResponse reports whether a live billing cycle is in progress.
// Dry runs only show up in DryRunsActive.
type BillingStatusResponse struct {
	IsRunning     bool `json:"is_running"`
	DryRunsActive int  `json:"dry_runs_active"`
}
