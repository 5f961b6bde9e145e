package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/voxbill/voxbill/internal/types"
)

func TestIsDue(t *testing.T) {
	now := time.Date(2026, time.October, 18, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		status types.SubscriptionStatus
		end    time.Time
		want   bool
	}{
		{name: "ended yesterday", status: types.SubscriptionStatusActive, end: now.AddDate(0, 0, -1), want: true},
		{name: "ends later today", status: types.SubscriptionStatusActive, end: now.Add(10 * time.Hour), want: true},
		{name: "ends tomorrow", status: types.SubscriptionStatusActive, end: now.AddDate(0, 0, 1), want: false},
		{name: "past due is not selected", status: types.SubscriptionStatusPastDue, end: now.AddDate(0, 0, -1), want: false},
		{name: "trialing is not selected", status: types.SubscriptionStatusTrialing, end: now.AddDate(0, 0, -1), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{SubscriptionStatus: tt.status, CurrentPeriodEnd: tt.end}
			assert.Equal(t, tt.want, sub.IsDue(now))
		})
	}
}

func TestAdvancePeriod(t *testing.T) {
	tests := []struct {
		name      string
		cycle     types.BillingCycle
		end       time.Time
		wantStart time.Time
		wantEnd   time.Time
		wantKey   string
	}{
		{
			name:      "monthly",
			cycle:     types.BillingCycleMonthly,
			end:       time.Date(2026, time.September, 30, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC),
			wantKey:   "2026-10",
		},
		{
			name:      "yearly lasts a year",
			cycle:     types.BillingCycleYearly,
			end:       time.Date(2026, time.September, 30, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2027, time.October, 1, 0, 0, 0, 0, time.UTC),
			wantKey:   "2026-10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{
				PlanID:             "plan_basic",
				SubscriptionStatus: types.SubscriptionStatusPastDue,
				BillingCycle:       tt.cycle,
				Quantity:           1,
				CurrentPeriodStart: tt.end.AddDate(0, -1, 0),
				CurrentPeriodEnd:   tt.end,
			}

			sub.AdvancePeriod()

			assert.Equal(t, tt.wantStart, sub.CurrentPeriodStart)
			assert.Equal(t, tt.wantEnd, sub.CurrentPeriodEnd)
			assert.Equal(t, types.SubscriptionStatusActive, sub.SubscriptionStatus)
			assert.Equal(t, tt.wantKey, sub.BillingPeriod())
			assert.NoError(t, sub.Validate())

			// a yearly subscriber is not due again a month later
			assert.Equal(t, tt.cycle == types.BillingCycleMonthly, sub.IsDue(tt.wantStart.AddDate(0, 1, 0)))
		})
	}
}

func TestValidateRejectsInvertedPeriod(t *testing.T) {
	start := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{
		PlanID:             "plan_basic",
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingCycle:       types.BillingCycleMonthly,
		Quantity:           1,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start,
	}
	assert.Error(t, sub.Validate())
}
