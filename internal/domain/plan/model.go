package plan

import (
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// Plan is the priced offering a subscription enrolls in. Prices are in cents.
type Plan struct {
	ID                 string `db:"id" json:"id"`
	Name               string `db:"name" json:"name"`
	Currency           string `db:"currency" json:"currency"`
	MonthlyPrice       int64  `db:"monthly_price" json:"monthly_price"`
	YearlyPrice        int64  `db:"yearly_price" json:"yearly_price"`
	MaxExtensions      int    `db:"max_extensions" json:"max_extensions"`
	MaxConcurrentCalls int    `db:"max_concurrent_calls" json:"max_concurrent_calls"`
	MaxUsers           int    `db:"max_users" json:"max_users"`
	types.BaseModel
}

// PriceFor returns the unit price charged for one billing period of the cycle
func (p *Plan) PriceFor(cycle types.BillingCycle) int64 {
	if cycle == types.BillingCycleYearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

// SeatAllowance is the number of seats included in the plan
func (p *Plan) SeatAllowance() int64 {
	if p.MaxUsers > 0 {
		return int64(p.MaxUsers)
	}
	return int64(p.MaxExtensions)
}

func (p *Plan) Validate() error {
	if p.ID == "" {
		return ierr.NewError("plan id is required").
			WithHint("Plan ID is required").
			Mark(ierr.ErrValidation)
	}
	if p.MonthlyPrice < 0 || p.YearlyPrice < 0 {
		return ierr.NewError("plan price must not be negative").
			WithHint("Plan prices must be zero or positive").
			WithReportableDetails(map[string]any{
				"monthly_price": p.MonthlyPrice,
				"yearly_price":  p.YearlyPrice,
			}).
			Mark(ierr.ErrValidation)
	}
	if p.MaxExtensions < 0 || p.MaxConcurrentCalls < 0 || p.MaxUsers < 0 {
		return ierr.NewError("plan limits must not be negative").
			WithHint("Plan limits must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	return nil
}
