package enums

import (
	"fmt"
	"time"
)

// BillingPeriod is the cadence a subscription is charged on.
type BillingPeriod string

const (
	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodAnnual  BillingPeriod = "annual"
)

var validBillingPeriods = []BillingPeriod{
	BillingPeriodMonthly,
	BillingPeriodAnnual,
}

// String implements fmt.Stringer.
func (p BillingPeriod) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p BillingPeriod) IsValid() bool {
	for _, candidate := range validBillingPeriods {
		if candidate == p {
			return true
		}
	}
	return false
}

// Advance returns from moved forward by one billing period.
func (p BillingPeriod) Advance(from time.Time) time.Time {
	switch p {
	case BillingPeriodAnnual:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// ParseBillingPeriod converts raw input into a BillingPeriod.
func ParseBillingPeriod(value string) (BillingPeriod, error) {
	for _, candidate := range validBillingPeriods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing period %q", value)
}
