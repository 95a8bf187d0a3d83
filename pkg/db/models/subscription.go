package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/storehubhq/storehub-backend/pkg/enums"
)

// UniqueLiveSubscriptionConstraint names the partial unique index enforcing
// at most one non-terminal subscription per user.
const UniqueLiveSubscriptionConstraint = "uniq_subscriptions_live_user"

// Subscription is a user's instance of a plan over a billing period. Only the
// lifecycle service mutates rows; every update goes through an optimistic
// version check.
type Subscription struct {
	ID                 uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID             uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID             string                   `gorm:"column:plan_id;not null"`
	BillingPeriod      enums.BillingPeriod      `gorm:"column:billing_period;not null;default:'monthly'"`
	Status             enums.SubscriptionStatus `gorm:"column:status;not null;default:'pending_payment'"`
	CurrentPeriodStart *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd   *time.Time               `gorm:"column:current_period_end"`
	TrialEnd           *time.Time               `gorm:"column:trial_end"`
	CancelAtPeriodEnd  bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CancelledAt        *time.Time               `gorm:"column:cancelled_at"`
	CancelReason       *string                  `gorm:"column:cancel_reason"`
	GraceDeadline      *time.Time               `gorm:"column:grace_deadline"`
	TransactionID      *uuid.UUID               `gorm:"column:transaction_id;type:uuid"`
	PendingPlanID      *string                  `gorm:"column:pending_plan_id"`
	PendingPeriod      *enums.BillingPeriod     `gorm:"column:pending_billing_period"`
	Version            int64                    `gorm:"column:version;not null;default:1"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// IsActive reports whether the subscription currently entitles the user to
// its plan's features.
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status.GrantsAccess()
}

// InPeriod reports whether now falls inside the current billing window.
func (s *Subscription) InPeriod(now time.Time) bool {
	if s == nil || s.CurrentPeriodStart == nil || s.CurrentPeriodEnd == nil {
		return false
	}
	return !now.Before(*s.CurrentPeriodStart) && now.Before(*s.CurrentPeriodEnd)
}
