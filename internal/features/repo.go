package features

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storehubhq/storehub-backend/pkg/db/models"
)

// Repository mirrors usage counters into Postgres for reporting. Redis holds
// the authoritative live counters.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, usage *models.FeatureUsage) error
	GetByUserFeature(ctx context.Context, userID uuid.UUID, feature string) (*models.FeatureUsage, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a feature usage repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Upsert(ctx context.Context, usage *models.FeatureUsage) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "feature"}},
			DoUpdates: clause.AssignmentColumns([]string{"used", "limit_at_use", "period_start", "resets_at", "updated_at"}),
		}).
		Create(usage).Error
}

func (r *repository) GetByUserFeature(ctx context.Context, userID uuid.UUID, feature string) (*models.FeatureUsage, error) {
	var usage models.FeatureUsage
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND feature = ?", userID, feature).
		First(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &usage, nil
}

func (r *repository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.FeatureUsage{}).Error
}
