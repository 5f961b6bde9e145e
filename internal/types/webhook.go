package types

import (
	"encoding/json"
	"time"
)

// WebhookEvent represents a billing event delivered to subscribers
type WebhookEvent struct {
	ID        string          `json:"id"`
	EventName string          `json:"event_name"`
	TenantID  string          `json:"tenant_id"`
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// invoice event names
const (
	WebhookEventInvoiceCreated = "invoice.created"
	WebhookEventInvoicePaid    = "invoice.paid"
	WebhookEventInvoiceVoided  = "invoice.voided"
)

// payment event names
const (
	WebhookEventPaymentSuccess = "payment.success"
	WebhookEventPaymentFailed  = "payment.failed"
	WebhookEventPaymentPending = "payment.pending"
)

// retry event names
const (
	WebhookEventRetryScheduled = "payment.retry.scheduled"
	WebhookEventRetryExhausted = "payment.retry.exhausted"
	WebhookEventRetryCancelled = "payment.retry.cancelled"
)

// subscription event names
const (
	WebhookEventSubscriptionPastDue  = "subscription.past_due"
	WebhookEventSubscriptionRenewed  = "subscription.renewed"
	WebhookEventBillingCycleFinished = "billing_cycle.completed"
)
