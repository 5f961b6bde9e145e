package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/voxbill/voxbill/internal/domain/invoice"
	"github.com/voxbill/voxbill/internal/domain/subscription"
	"github.com/voxbill/voxbill/internal/types"
)

func TestDetermineSettlement(t *testing.T) {
	periodStart := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	current := &invoice.Invoice{BillingPeriod: "2025-01"}
	previous := &invoice.Invoice{BillingPeriod: "2024-12"}

	newSub := func(status types.SubscriptionStatus) *subscription.Subscription {
		return &subscription.Subscription{
			SubscriptionStatus: status,
			CurrentPeriodStart: periodStart,
			CurrentPeriodEnd:   periodStart.AddDate(0, 1, 0),
		}
	}

	tests := []struct {
		name   string
		sub    *subscription.Subscription
		inv    *invoice.Invoice
		paid   bool
		action SettlementAction
	}{
		{name: "paid current period advances", sub: newSub(types.SubscriptionStatusActive), inv: current, paid: true, action: SettlementActionAdvance},
		{name: "paid current period of past due advances", sub: newSub(types.SubscriptionStatusPastDue), inv: current, paid: true, action: SettlementActionAdvance},
		{name: "paid older period reactivates past due", sub: newSub(types.SubscriptionStatusPastDue), inv: previous, paid: true, action: SettlementActionReactivate},
		{name: "paid older period of active is a no-op", sub: newSub(types.SubscriptionStatusActive), inv: previous, paid: true, action: SettlementActionSkip},
		{name: "unpaid current period marks past due", sub: newSub(types.SubscriptionStatusActive), inv: current, paid: false, action: SettlementActionPastDue},
		{name: "unpaid current period of past due stays", sub: newSub(types.SubscriptionStatusPastDue), inv: current, paid: false, action: SettlementActionSkip},
		{name: "unpaid older period is ignored", sub: newSub(types.SubscriptionStatusActive), inv: previous, paid: false, action: SettlementActionSkip},
		{name: "canceled is never touched", sub: newSub(types.SubscriptionStatusCanceled), inv: current, paid: true, action: SettlementActionSkip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, reason := DetermineSettlement(tt.sub, tt.inv, tt.paid)
			assert.Equal(t, tt.action, action)
			assert.NotEmpty(t, reason)
		})
	}
}
