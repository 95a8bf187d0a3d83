package proration

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storehubhq/storehub-backend/pkg/enums"
)

// Input describes a plan change midway through a paid period.
type Input struct {
	CurrentPrice  decimal.Decimal
	NewPrice      decimal.Decimal
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Now           time.Time
	BillingPeriod enums.BillingPeriod
}

// Result is the prorated outcome of a plan change.
type Result struct {
	// RemainingFraction is the unused share of the current period, in [0, 1].
	RemainingFraction decimal.Decimal
	// Credit is the unused value of the current plan.
	Credit decimal.Decimal
	// Charge is the cost of the new plan for the remainder of the period.
	Charge decimal.Decimal
	// NetAmount is Charge minus Credit, rounded to cents. Positive means the
	// user owes money before the change takes effect.
	NetAmount decimal.Decimal
	// IsUpgrade reports whether the new plan costs more than the current one.
	// Independent of NetAmount, which can hit zero at the period boundary.
	IsUpgrade bool
}

// Compute derives the prorated amount owed (or forfeited) when switching
// plans mid-period. The remaining fraction is measured in whole seconds
// against the full period length.
func Compute(in Input) (*Result, error) {
	if !in.PeriodEnd.After(in.PeriodStart) {
		return nil, fmt.Errorf("period end %s must be after period start %s", in.PeriodEnd, in.PeriodStart)
	}
	if in.CurrentPrice.IsNegative() || in.NewPrice.IsNegative() {
		return nil, fmt.Errorf("plan prices must not be negative")
	}
	if in.BillingPeriod != "" && !in.BillingPeriod.IsValid() {
		return nil, fmt.Errorf("invalid billing period %q", in.BillingPeriod)
	}

	total := in.PeriodEnd.Sub(in.PeriodStart)
	if total < time.Second {
		return nil, fmt.Errorf("period %s too short to prorate", total)
	}
	remaining := in.PeriodEnd.Sub(in.Now)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > total {
		remaining = total
	}

	fraction := decimal.NewFromInt(int64(remaining / time.Second)).
		Div(decimal.NewFromInt(int64(total / time.Second)))

	credit := in.CurrentPrice.Mul(fraction)
	charge := in.NewPrice.Mul(fraction)
	net := charge.Sub(credit).Round(2)

	return &Result{
		RemainingFraction: fraction,
		Credit:            credit,
		Charge:            charge,
		NetAmount:         net,
		IsUpgrade:         in.NewPrice.GreaterThan(in.CurrentPrice),
	}, nil
}
