package service

import (
	"context"
	"encoding/json"

	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/domain/invoice"
	"github.com/voxbill/voxbill/internal/domain/payment"
	"github.com/voxbill/voxbill/internal/domain/retry"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	"github.com/voxbill/voxbill/internal/types"
	webhookDto "github.com/voxbill/voxbill/internal/webhook/dto"
)

// publishWebhookEvent marshals the payload and hands the event to the
// webhook publisher. Failures are logged, never returned: billing state is
// already committed when events go out.
func (p *ServiceParams) publishWebhookEvent(ctx context.Context, eventName string, payload interface{}) {
	webhookPayload, err := jsoniter.Marshal(payload)
	if err != nil {
		p.Logger.Errorw("failed to marshal webhook payload", "error", err, "event_name", eventName)
		return
	}

	webhookEvent := &types.WebhookEvent{
		ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WEBHOOK_EVENT),
		EventName: eventName,
		TenantID:  types.GetTenantID(ctx),
		UserID:    types.GetUserID(ctx),
		Timestamp: p.Clock.Now().UTC(),
		Payload:   json.RawMessage(webhookPayload),
	}
	if err := p.WebhookPublisher.PublishWebhook(ctx, webhookEvent); err != nil {
		p.Logger.Errorf("failed to publish %s event: %v", webhookEvent.EventName, err)
	}
}

func (p *ServiceParams) publishInvoiceEvent(ctx context.Context, eventName string, inv *invoice.Invoice) {
	p.publishWebhookEvent(ctx, eventName, webhookDto.InternalInvoiceEvent{
		InvoiceID:      inv.ID,
		InvoiceNumber:  inv.InvoiceNumber,
		SubscriptionID: inv.SubscriptionID,
		BillingPeriod:  inv.BillingPeriod,
		Total:          inv.Total,
		AmountDue:      inv.AmountDue,
		Currency:       inv.Currency,
		TenantID:       inv.TenantID,
	})
}

func (p *ServiceParams) publishPaymentEvent(ctx context.Context, eventName string, pay *payment.Payment) {
	event := webhookDto.InternalPaymentEvent{
		PaymentID:     pay.ID,
		InvoiceID:     pay.InvoiceID,
		Amount:        pay.Amount,
		Currency:      pay.Currency,
		PaymentStatus: pay.PaymentStatus.String(),
		TenantID:      pay.TenantID,
	}
	if pay.PaymentStatus == types.PaymentStatusFailed {
		event.FailureReason = pay.GetFailureReason().String()
	}
	p.publishWebhookEvent(ctx, eventName, event)
}

func (p *ServiceParams) publishRetryEvent(ctx context.Context, eventName string, paymentID string, attempt *retry.Attempt, message string) {
	event := webhookDto.InternalRetryEvent{
		PaymentID: paymentID,
		Message:   message,
		TenantID:  types.GetTenantID(ctx),
	}
	if attempt != nil {
		event.AttemptID = attempt.ID
		event.AttemptNumber = attempt.AttemptNumber
		event.ScheduledAt = lo.ToPtr(attempt.ScheduledAt)
	}
	p.publishWebhookEvent(ctx, eventName, event)
}

func (p *ServiceParams) publishSubscriptionEvent(ctx context.Context, eventName string, sub *subscription.Subscription) {
	p.publishWebhookEvent(ctx, eventName, webhookDto.InternalSubscriptionEvent{
		SubscriptionID:     sub.ID,
		SubscriptionStatus: sub.SubscriptionStatus.String(),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		TenantID:           sub.TenantID,
	})
}

// withTenant scopes ctx to the tenant owning a row unless a tenant is
// already present.
func withTenant(ctx context.Context, tenantID string) context.Context {
	if types.GetTenantID(ctx) != "" {
		return ctx
	}
	return types.WithTenant(ctx, tenantID)
}
