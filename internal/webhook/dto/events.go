package dto

import "time"

// InternalInvoiceEvent is the payload of invoice.* events
type InternalInvoiceEvent struct {
	InvoiceID      string `json:"invoice_id"`
	InvoiceNumber  string `json:"invoice_number"`
	SubscriptionID string `json:"subscription_id"`
	BillingPeriod  string `json:"billing_period"`
	Total          int64  `json:"total"`
	AmountDue      int64  `json:"amount_due"`
	Currency       string `json:"currency"`
	TenantID       string `json:"tenant_id"`
}

// InternalPaymentEvent is the payload of payment.* events
type InternalPaymentEvent struct {
	PaymentID     string `json:"payment_id"`
	InvoiceID     string `json:"invoice_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PaymentStatus string `json:"payment_status"`
	FailureReason string `json:"failure_reason,omitempty"`
	TenantID      string `json:"tenant_id"`
}

// InternalRetryEvent is the payload of payment.retry.* events
type InternalRetryEvent struct {
	PaymentID     string     `json:"payment_id"`
	AttemptID     string     `json:"attempt_id,omitempty"`
	AttemptNumber int        `json:"attempt_number,omitempty"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	Message       string     `json:"message,omitempty"`
	TenantID      string     `json:"tenant_id"`
}

// InternalSubscriptionEvent is the payload of subscription.* events
type InternalSubscriptionEvent struct {
	SubscriptionID     string    `json:"subscription_id"`
	SubscriptionStatus string    `json:"subscription_status"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	TenantID           string    `json:"tenant_id"`
}

// InternalBillingCycleEvent is the payload of billing_cycle.completed
type InternalBillingCycleEvent struct {
	RunID                  string `json:"run_id"`
	TenantID               string `json:"tenant_id,omitempty"`
	SubscriptionsProcessed int    `json:"subscriptions_processed"`
	InvoicesGenerated      int    `json:"invoices_generated"`
	PaymentsCollected      int    `json:"payments_collected"`
	PaymentsFailed         int    `json:"payments_failed"`
	PaymentsPending        int    `json:"payments_pending"`
	TotalAmount            int64  `json:"total_amount"`
	TotalCollected         int64  `json:"total_collected"`
	Errors                 int    `json:"errors"`
}
