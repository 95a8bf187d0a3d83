package models

import (
	"time"

	"github.com/google/uuid"
)

// FeatureUsage is the durable mirror of the redis usage meter. It is a
// derived cache, never the authority for entitlement: losing it resets
// counters to zero and can only under-count, not grant access.
type FeatureUsage struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:uniq_feature_usage_user_feature"`
	Feature     string    `gorm:"column:feature;not null;uniqueIndex:uniq_feature_usage_user_feature"`
	Used        int64     `gorm:"column:used;not null;default:0"`
	LimitAtUse  *int64    `gorm:"column:limit_at_use"`
	PeriodStart time.Time `gorm:"column:period_start;not null"`
	ResetsAt    time.Time `gorm:"column:resets_at;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName keeps gorm aligned with the singular table name in the schema.
func (FeatureUsage) TableName() string {
	return "feature_usage"
}
