package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storehubhq/storehub-backend/pkg/db/models"
	"github.com/storehubhq/storehub-backend/pkg/enums"
)

// Repository manages persistence for subscription rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	// GetLiveByUser returns the user's non-terminal subscription, if any.
	GetLiveByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	// UpdateWithVersion persists the row only if its version column still
	// matches, bumping the version on success. Returns false when another
	// writer got there first.
	UpdateWithVersion(ctx context.Context, sub *models.Subscription) (bool, error)
	ListRenewalDue(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error)
	ListPeriodEnded(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) GetLiveByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, enums.NonTerminalSubscriptionStatuses).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) UpdateWithVersion(ctx context.Context, sub *models.Subscription) (bool, error) {
	currentVersion := sub.Version
	sub.Version = currentVersion + 1

	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, currentVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(sub)
	if res.Error != nil {
		sub.Version = currentVersion
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		sub.Version = currentVersion
		return false, nil
	}
	return true, nil
}

func (r *repository) ListRenewalDue(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND cancel_at_period_end = ? AND current_period_end <= ?",
			[]enums.SubscriptionStatus{enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing},
			false, cutoff).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListPeriodEnded(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND cancel_at_period_end = ? AND current_period_end <= ?",
			[]enums.SubscriptionStatus{enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing},
			true, now).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ? AND grace_deadline <= ?", enums.SubscriptionStatusPastDue, now).
		Order("grace_deadline ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", enums.SubscriptionStatusPendingPayment, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
