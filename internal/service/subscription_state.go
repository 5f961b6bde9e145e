package service

import (
	"context"

	"github.com/voxbill/voxbill/internal/domain/invoice"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// SettlementAction is what a billing outcome does to a subscription
type SettlementAction string

const (
	SettlementActionAdvance    SettlementAction = "advance"
	SettlementActionReactivate SettlementAction = "reactivate"
	SettlementActionPastDue    SettlementAction = "past_due"
	SettlementActionSkip       SettlementAction = "skip"
)

// DetermineSettlement decides how an invoice outcome moves the subscription.
// Periods advance only when the invoice of the current period is paid.
func DetermineSettlement(sub *subscription.Subscription, inv *invoice.Invoice, paid bool) (SettlementAction, string) {
	if sub.SubscriptionStatus == types.SubscriptionStatusCanceled {
		return SettlementActionSkip, "subscription is canceled"
	}

	currentPeriod := sub.BillingPeriod() == inv.BillingPeriod
	if paid {
		switch {
		case currentPeriod:
			return SettlementActionAdvance, "invoice of the current period paid"
		case sub.SubscriptionStatus == types.SubscriptionStatusPastDue:
			return SettlementActionReactivate, "invoice of a past period paid"
		default:
			return SettlementActionSkip, "period already settled"
		}
	}

	if currentPeriod && sub.SubscriptionStatus == types.SubscriptionStatusActive {
		return SettlementActionPastDue, "collection of the current period failed"
	}
	return SettlementActionSkip, "subscription not affected"
}

// subscriptionSettler applies invoice outcomes to subscriptions
type subscriptionSettler struct {
	ServiceParams
}

func newSubscriptionSettler(params ServiceParams) *subscriptionSettler {
	return &subscriptionSettler{ServiceParams: params}
}

// onInvoicePaid advances the subscription into its next period and closes
// the period's usage, or lifts a past_due state left by an older period.
func (s *subscriptionSettler) onInvoicePaid(ctx context.Context, inv *invoice.Invoice) error {
	return s.settle(ctx, inv, true)
}

// markPastDue flags an active subscription whose current period could not
// be collected.
func (s *subscriptionSettler) markPastDue(ctx context.Context, inv *invoice.Invoice) error {
	return s.settle(ctx, inv, false)
}

func (s *subscriptionSettler) settle(ctx context.Context, inv *invoice.Invoice, paid bool) error {
	unlock := s.Locks.Lock(subscriptionLockKey(inv.SubscriptionID))
	defer unlock()

	sub, err := s.SubRepo.Get(ctx, inv.SubscriptionID)
	if err != nil {
		return err
	}

	action, reason := DetermineSettlement(sub, inv, paid)
	s.Logger.Debugw("settling subscription",
		"subscription_id", sub.ID,
		"invoice_id", inv.ID,
		"action", action,
		"reason", reason,
	)

	var eventName string
	switch action {
	case SettlementActionAdvance:
		sub.AdvancePeriod()
		eventName = types.WebhookEventSubscriptionRenewed
	case SettlementActionReactivate:
		sub.SubscriptionStatus = types.SubscriptionStatusActive
		eventName = types.WebhookEventSubscriptionRenewed
	case SettlementActionPastDue:
		sub.SubscriptionStatus = types.SubscriptionStatusPastDue
		eventName = types.WebhookEventSubscriptionPastDue
	default:
		return nil
	}

	sub.Touch(ctx)
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to move subscription to %s", action).
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"invoice_id":      inv.ID,
			}).
			Mark(ierr.ErrDatabase)
	}

	if paid {
		// closes exactly the usage the invoice priced
		updated, err := s.UsageRepo.MarkBilled(ctx, sub.ID, types.PeriodKey(inv.PeriodEnd), inv.CreatedAt, s.Clock.Now().UTC())
		if err != nil {
			return err
		}
		s.Logger.Debugw("marked usage processed",
			"subscription_id", sub.ID,
			"invoice_id", inv.ID,
			"records", updated,
		)
	}

	s.Logger.Infow("subscription settled",
		"subscription_id", sub.ID,
		"action", action,
		"status", sub.SubscriptionStatus,
		"current_period_end", sub.CurrentPeriodEnd,
	)
	s.publishSubscriptionEvent(ctx, eventName, sub)
	return nil
}
