package service

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/domain/payment"
	"github.com/voxbill/voxbill/internal/domain/paymentmethod"
	"github.com/voxbill/voxbill/internal/gateway"
	"github.com/voxbill/voxbill/internal/types"
)

// collector charges payments through the gateways and applies the outcome
// to payments, invoices, retry lineages and subscriptions. Every method
// expects the caller to hold the invoice lock of the payment.
type collector struct {
	ServiceParams
	invoices  *invoiceService
	scheduler *retryScheduler
	settler   *subscriptionSettler
}

func newCollector(params ServiceParams) *collector {
	return &collector{
		ServiceParams: params,
		invoices:      NewInvoiceService(params).(*invoiceService),
		scheduler:     newRetryScheduler(params),
		settler:       newSubscriptionSettler(params),
	}
}

// charge asks the gateway serving the method to collect the payment amount.
// Transport errors and timeouts are reported as network_error failures, so
// the returned outcome is never nil.
func (c *collector) charge(ctx context.Context, p *payment.Payment, method *paymentmethod.PaymentMethod, idempotencyKey string) *gateway.Outcome {
	span, ctx := c.Sentry.StartGatewaySpan(ctx, p.Gateway, map[string]interface{}{
		"payment_id": p.ID,
		"invoice_id": p.InvoiceID,
		"amount":     p.Amount,
	})
	if span != nil {
		defer span.Finish()
	}

	chargeCtx, cancel := context.WithTimeout(ctx, c.Config.Gateway.Timeout)
	defer cancel()

	start := time.Now()
	outcome, err := c.Gateways.Authorize(chargeCtx, method.Type, &gateway.AuthorizeRequest{
		AmountCents:      p.Amount,
		Currency:         p.Currency,
		PaymentMethodRef: method.GatewayRef,
		IdempotencyKey:   idempotencyKey,
		Metadata: map[string]string{
			"tenant_id":       p.TenantID,
			"invoice_id":      p.InvoiceID,
			"payment_id":      p.ID,
			"subscription_id": p.SubscriptionID,
		},
	})
	c.Metrics.GatewayDuration.WithLabelValues(p.Gateway).Observe(time.Since(start).Seconds())

	if err != nil {
		c.Logger.Warnw("gateway call failed",
			"error", err,
			"payment_id", p.ID,
			"gateway", p.Gateway,
		)
		return gateway.Failed("", types.FailureReasonNetworkError, err.Error())
	}
	if outcome == nil || outcome.Status.Validate() != nil {
		return gateway.Failed("", types.FailureReasonProcessingError, "gateway returned an unrecognized outcome")
	}
	if outcome.Status == types.GatewayOutcomeFailed && outcome.FailureReason == "" {
		outcome.FailureReason = types.FailureReasonUnknown
	}
	return outcome
}

// applyOutcome records a gateway outcome on the payment and propagates it:
// success pays the invoice and settles the subscription, failure hands the
// payment to the retry scheduler, pending waits for settlement.
func (c *collector) applyOutcome(ctx context.Context, p *payment.Payment, outcome *gateway.Outcome) error {
	now := c.Clock.Now().UTC()

	switch outcome.Status {
	case types.GatewayOutcomeSucceeded:
		p.MarkSucceeded(outcome.GatewayRef, now)
	case types.GatewayOutcomeFailed:
		p.MarkFailed(outcome.FailureReason, outcome.Message, outcome.GatewayRef, now)
	default:
		p.MarkPending(outcome.GatewayRef)
	}
	p.Touch(ctx)

	// the payment, the invoice balance and the subscription state commit together
	return c.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := c.PaymentRepo.Update(ctx, p); err != nil {
			return err
		}

		c.Metrics.PaymentsTotal.WithLabelValues(
			p.Gateway,
			p.PaymentStatus.String(),
			lo.Ternary(p.PaymentStatus == types.PaymentStatusFailed, p.GetFailureReason().String(), ""),
		).Inc()
		c.Logger.Infow("payment attempt resolved",
			"payment_id", p.ID,
			"invoice_id", p.InvoiceID,
			"gateway", p.Gateway,
			"status", p.PaymentStatus,
			"failure_reason", lo.FromPtr(p.FailureReason),
		)

		if p.PaymentStatus.IsTerminal() {
			if err := c.resolveProcessingAttempts(ctx, p, now); err != nil {
				return err
			}
		}

		switch p.PaymentStatus {
		case types.PaymentStatusSucceeded:
			return c.onSucceeded(ctx, p, now)
		case types.PaymentStatusFailed:
			return c.onFailed(ctx, p)
		default:
			c.publishPaymentEvent(ctx, types.WebhookEventPaymentPending, p)
			return nil
		}
	})
}

func (c *collector) onSucceeded(ctx context.Context, p *payment.Payment, now time.Time) error {
	c.Metrics.CollectedAmountCents.Add(float64(p.Amount))
	c.publishPaymentEvent(ctx, types.WebhookEventPaymentSuccess, p)

	cancelled, err := c.RetryRepo.CancelPending(ctx, p.ID, "payment succeeded", now)
	if err != nil {
		return err
	}
	if cancelled > 0 {
		c.publishRetryEvent(ctx, types.WebhookEventRetryCancelled, p.ID, nil, "payment succeeded")
	}

	inv, err := c.invoices.applyPaymentLocked(ctx, p.InvoiceID, p.Amount)
	if err != nil {
		// the money is collected, the invoice needs manual reconciliation
		c.Logger.Errorw("failed to apply collected payment to invoice",
			"error", err,
			"payment_id", p.ID,
			"invoice_id", p.InvoiceID,
		)
		c.Sentry.CaptureException(ctx, err, map[string]string{
			"payment_id": p.ID,
			"invoice_id": p.InvoiceID,
		})
		return err
	}
	if !inv.IsPaid() {
		return nil
	}
	return c.settler.onInvoicePaid(ctx, inv)
}

func (c *collector) onFailed(ctx context.Context, p *payment.Payment) error {
	c.publishPaymentEvent(ctx, types.WebhookEventPaymentFailed, p)

	if _, err := c.scheduler.HandleFailure(ctx, p); err != nil {
		return err
	}

	inv, err := c.InvoiceRepo.Get(ctx, p.InvoiceID)
	if err != nil {
		return err
	}
	return c.settler.markPastDue(ctx, inv)
}

// resolveProcessingAttempts closes the retry attempt that produced a
// terminal outcome, including one left processing by a pending gateway.
func (c *collector) resolveProcessingAttempts(ctx context.Context, p *payment.Payment, now time.Time) error {
	attempts, err := c.RetryRepo.ListByPayment(ctx, p.ID)
	if err != nil {
		return err
	}

	for _, a := range attempts {
		if a.RetryStatus != types.RetryStatusProcessing {
			continue
		}
		if p.PaymentStatus == types.PaymentStatusSucceeded {
			a.MarkSucceeded(now)
		} else {
			a.MarkFailed(p.GetFailureReason(), lo.FromPtr(p.ErrorMessage), now)
		}
		a.Touch(ctx)
		if err := c.RetryRepo.Update(ctx, a); err != nil {
			return err
		}
		c.Metrics.RetryAttemptsTotal.WithLabelValues(a.RetryStatus.String()).Inc()
	}
	return nil
}
