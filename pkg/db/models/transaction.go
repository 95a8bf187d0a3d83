package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storehubhq/storehub-backend/pkg/enums"
)

// Transaction records a single payment attempt against the gateway. Rows are
// append-only: a pending transaction resolves to a terminal status exactly
// once and is never deleted, only superseded by a fresh attempt.
type Transaction struct {
	ID             uuid.UUID               `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	SubscriptionID *uuid.UUID              `gorm:"column:subscription_id;type:uuid"`
	Type           enums.TransactionType   `gorm:"column:type;not null;default:'new_subscription'"`
	Status         enums.TransactionStatus `gorm:"column:status;not null;default:'pending'"`
	Amount         decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null"`
	CurrencyCode   string                  `gorm:"column:currency_code;not null;default:'USD'"`
	Reference      string                  `gorm:"column:reference;not null;uniqueIndex"`
	ProviderTxID   *string                 `gorm:"column:provider_tx_id;uniqueIndex"`
	PaymentLink    *string                 `gorm:"column:payment_link"`
	Metadata       json.RawMessage         `gorm:"column:metadata;type:jsonb"`
	ResolvedAt     *time.Time              `gorm:"column:resolved_at"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// TransactionMeta is the payload round-tripped through the gateway so the
// webhook and verify paths can reconstruct intent.
type TransactionMeta struct {
	UserID         uuid.UUID           `json:"user_id"`
	PlanID         string              `json:"plan_id"`
	BillingPeriod  enums.BillingPeriod `json:"billing_period"`
	SubscriptionID *uuid.UUID          `json:"subscription_id,omitempty"`
}

// Meta decodes the metadata blob. Missing metadata yields a zero value.
func (t *Transaction) Meta() (TransactionMeta, error) {
	var meta TransactionMeta
	if t == nil || len(t.Metadata) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(t.Metadata, &meta); err != nil {
		return TransactionMeta{}, err
	}
	return meta, nil
}
