package plans

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storehubhq/storehub-backend/pkg/db/models"
	"github.com/storehubhq/storehub-backend/pkg/enums"
)

// Repository manages persistence for the plan catalog.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetByID(ctx context.Context, id string) (*models.Plan, error)
	ListByStatus(ctx context.Context, status enums.PlanStatus) ([]models.Plan, error)
	GetDefault(ctx context.Context) (*models.Plan, error)
	Upsert(ctx context.Context, plan *models.Plan) error
	SetStatus(ctx context.Context, id string, status enums.PlanStatus) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetByID(ctx context.Context, id string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).First(&plan, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListByStatus(ctx context.Context, status enums.PlanStatus) ([]models.Plan, error) {
	var plans []models.Plan
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("monthly_price ASC").
		Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) GetDefault(ctx context.Context) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).
		Where("is_default = ? AND status = ?", true, enums.PlanStatusActive).
		First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) Upsert(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(plan).Error
}

func (r *repository) SetStatus(ctx context.Context, id string, status enums.PlanStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Plan{}).
		Where("id = ?", id).
		Update("status", status).Error
}
