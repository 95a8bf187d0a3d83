package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storehubhq/storehub-backend/pkg/enums"
)

// FeatureEntitlement is a single feature grant inside a plan. A nil Limit
// means unbounded usage.
type FeatureEntitlement struct {
	Enabled     bool   `json:"enabled"`
	Limit       *int64 `json:"limit,omitempty"`
	Description string `json:"description,omitempty"`
}

// FeatureMap is the plan's feature matrix, stored as jsonb.
type FeatureMap map[string]FeatureEntitlement

// Value implements driver.Valuer.
func (m FeatureMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("feature map: %w", err)
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (m *FeatureMap) Scan(value interface{}) error {
	if value == nil {
		*m = FeatureMap{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("feature map: unsupported scan type %T", value)
	}
	if len(raw) == 0 {
		*m = FeatureMap{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

// Plan is a purchasable subscription tier. Rows are immutable once a live
// subscription references them; catalog changes create new versions instead
// of mutating price or entitlements retroactively.
type Plan struct {
	ID           string           `gorm:"column:id;primaryKey"`
	Name         string           `gorm:"column:name;not null"`
	Description  string           `gorm:"column:description"`
	Status       enums.PlanStatus `gorm:"column:status;not null;default:'active'"`
	MonthlyPrice decimal.Decimal  `gorm:"column:monthly_price;type:numeric(12,2);not null"`
	AnnualPrice  decimal.Decimal  `gorm:"column:annual_price;type:numeric(12,2);not null"`
	CurrencyCode string           `gorm:"column:currency_code;not null;default:'USD'"`
	TrialDays    int              `gorm:"column:trial_days;not null;default:0"`
	IsDefault    bool             `gorm:"column:is_default;not null;default:false"`
	Features     FeatureMap       `gorm:"column:features;type:jsonb"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// Price returns the price for the given billing period.
func (p *Plan) Price(period enums.BillingPeriod) decimal.Decimal {
	if period == enums.BillingPeriodAnnual {
		return p.AnnualPrice
	}
	return p.MonthlyPrice
}

// Feature returns the entitlement for a named feature, if declared.
func (p *Plan) Feature(name string) (FeatureEntitlement, bool) {
	if p == nil || p.Features == nil {
		return FeatureEntitlement{}, false
	}
	entry, ok := p.Features[name]
	return entry, ok
}

// HasTrial reports whether new subscriptions start with a trial window.
func (p *Plan) HasTrial() bool {
	return p != nil && p.TrialDays > 0
}

// ParsePrice parses a decimal price string and rejects negative values.
func ParsePrice(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	price, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", value, err)
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("price %q must not be negative", value)
	}
	return price, nil
}
