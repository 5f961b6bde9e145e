package types

import (
	"regexp"
	"time"

	ierr "github.com/voxbill/voxbill/internal/errors"
)

// PeriodKeyLayout is the calendar month key used to bucket usage and invoices
const PeriodKeyLayout = "2006-01"

var periodKeyRegex = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// PeriodKey returns the YYYY-MM key of the month t falls in (UTC)
func PeriodKey(t time.Time) string {
	return t.UTC().Format(PeriodKeyLayout)
}

// ValidatePeriodKey checks a YYYY-MM billing period key
func ValidatePeriodKey(period string) error {
	if !periodKeyRegex.MatchString(period) {
		return ierr.NewError("invalid billing period").
			WithHintf("Billing period must be in YYYY-MM format, got %q", period).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ParsePeriodKey returns the first instant of the month a key refers to
func ParsePeriodKey(period string) (time.Time, error) {
	if err := ValidatePeriodKey(period); err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(PeriodKeyLayout, period, time.UTC)
	if err != nil {
		return time.Time{}, ierr.WithError(err).
			WithHint("Invalid billing period").
			Mark(ierr.ErrValidation)
	}
	return t, nil
}

// StartOfDay returns 00:00:00 of t's day in UTC
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last representable instant of t's day in UTC
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// NextBillingPeriod computes the period that follows one ending at periodEnd:
// it starts one day after periodEnd and lasts one cycle.
func NextBillingPeriod(periodEnd time.Time, cycle BillingCycle) (start time.Time, end time.Time) {
	start = periodEnd.AddDate(0, 0, 1)
	return start, PeriodEndFor(start, cycle)
}

// PeriodEndFor returns the end of a period starting at start for the given cycle
func PeriodEndFor(start time.Time, cycle BillingCycle) time.Time {
	if cycle == BillingCycleYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}
