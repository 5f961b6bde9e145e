package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodKey(t *testing.T) {
	ist := time.FixedZone("IST", 5*60*60+30*60)

	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{name: "mid month", in: time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC), want: "2026-03"},
		{name: "first instant", in: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), want: "2026-01"},
		{name: "converted to utc", in: time.Date(2026, time.February, 1, 2, 0, 0, 0, ist), want: "2026-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PeriodKey(tt.in))
		})
	}
}

func TestValidatePeriodKey(t *testing.T) {
	assert.NoError(t, ValidatePeriodKey("2026-12"))
	assert.Error(t, ValidatePeriodKey("2026-13"))
	assert.Error(t, ValidatePeriodKey("26-01"))
	assert.Error(t, ValidatePeriodKey(""))

	start, err := ParsePeriodKey("2026-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), start)
}

func TestNextBillingPeriod(t *testing.T) {
	tests := []struct {
		name      string
		periodEnd time.Time
		cycle     BillingCycle
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "end of january",
			periodEnd: time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC),
			cycle:     BillingCycleMonthly,
			wantStart: time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "cross year boundary",
			periodEnd: time.Date(2026, time.December, 14, 0, 0, 0, 0, time.UTC),
			cycle:     BillingCycleMonthly,
			wantStart: time.Date(2026, time.December, 15, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2027, time.January, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "yearly",
			periodEnd: time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC),
			cycle:     BillingCycleYearly,
			wantStart: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2027, time.March, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := NextBillingPeriod(tt.periodEnd, tt.cycle)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
			assert.True(t, end.After(start))
		})
	}
}

func TestEndOfDay(t *testing.T) {
	in := time.Date(2026, time.October, 18, 9, 30, 0, 0, time.UTC)
	eod := EndOfDay(in)

	assert.Equal(t, time.Date(2026, time.October, 18, 23, 59, 59, 999999999, time.UTC), eod)
	assert.True(t, StartOfDay(in).Before(in))
	assert.Equal(t, time.Date(2027, time.October, 18, 0, 0, 0, 0, time.UTC), PeriodEndFor(StartOfDay(in), BillingCycleYearly))
}
