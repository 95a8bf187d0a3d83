package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/storehubhq/storehub-backend/pkg/db"
	"github.com/storehubhq/storehub-backend/pkg/db/models"
	"github.com/storehubhq/storehub-backend/pkg/enums"
)

func setupSubscriptionsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  billing_period TEXT NOT NULL DEFAULT 'monthly',
  status TEXT NOT NULL DEFAULT 'pending_payment',
  current_period_start DATETIME,
  current_period_end DATETIME,
  trial_end DATETIME,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  cancelled_at DATETIME,
  cancel_reason TEXT,
  grace_deadline DATETIME,
  transaction_id TEXT,
  pending_plan_id TEXT,
  pending_billing_period TEXT,
  version INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`
	liveIndex := `
CREATE UNIQUE INDEX IF NOT EXISTS uniq_subscriptions_live_user ON subscriptions (user_id)
  WHERE status IN ('pending_payment', 'trialing', 'active', 'past_due');`
	require.NoError(t, conn.Exec(schema).Error)
	require.NoError(t, conn.Exec(liveIndex).Error)
	return conn
}

func newSubscription(t *testing.T, conn *gorm.DB, userID uuid.UUID, status enums.SubscriptionStatus, mutate func(*models.Subscription)) *models.Subscription {
	t.Helper()

	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:            uuid.New(),
		UserID:        userID,
		PlanID:        "starter",
		BillingPeriod: enums.BillingPeriodMonthly,
		Status:        status,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, conn.Create(sub).Error)
	return sub
}

func TestRepositoryOneLiveSubscriptionPerUser(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	repo := NewRepository(conn)

	userID := uuid.New()
	newSubscription(t, conn, userID, enums.SubscriptionStatusActive, nil)

	dup := &models.Subscription{
		ID:            uuid.New(),
		UserID:        userID,
		PlanID:        "growth",
		BillingPeriod: enums.BillingPeriodMonthly,
		Status:        enums.SubscriptionStatusPendingPayment,
		Version:       1,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	err := repo.Create(context.Background(), dup)
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err, models.UniqueLiveSubscriptionConstraint))

	// Terminal rows do not count against the live index.
	cancelled := &models.Subscription{
		ID:            uuid.New(),
		UserID:        userID,
		PlanID:        "starter",
		BillingPeriod: enums.BillingPeriodMonthly,
		Status:        enums.SubscriptionStatusCancelled,
		Version:       1,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), cancelled))
}

func TestRepositoryGetLiveByUser(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	repo := NewRepository(conn)

	userID := uuid.New()
	newSubscription(t, conn, userID, enums.SubscriptionStatusCancelled, nil)
	live := newSubscription(t, conn, userID, enums.SubscriptionStatusPastDue, nil)

	got, err := repo.GetLiveByUser(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, live.ID, got.ID)

	none, err := repo.GetLiveByUser(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRepositoryUpdateWithVersionOptimisticLock(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	repo := NewRepository(conn)

	sub := newSubscription(t, conn, uuid.New(), enums.SubscriptionStatusActive, nil)

	stale := *sub

	sub.Status = enums.SubscriptionStatusPastDue
	ok, err := repo.UpdateWithVersion(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), sub.Version)

	// A writer holding the old version loses the race.
	stale.Status = enums.SubscriptionStatusCancelled
	ok, err = repo.UpdateWithVersion(context.Background(), &stale)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), stale.Version)

	got, err := repo.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, enums.SubscriptionStatusPastDue, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestRepositorySweepQueries(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	repo := NewRepository(conn)

	now := time.Now().UTC()
	soon := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	renewal := newSubscription(t, conn, uuid.New(), enums.SubscriptionStatusActive, func(s *models.Subscription) {
		s.CurrentPeriodEnd = &past
	})
	ending := newSubscription(t, conn, uuid.New(), enums.SubscriptionStatusActive, func(s *models.Subscription) {
		s.CancelAtPeriodEnd = true
		s.CurrentPeriodEnd = &past
	})
	graced := newSubscription(t, conn, uuid.New(), enums.SubscriptionStatusPastDue, func(s *models.Subscription) {
		s.GraceDeadline = &past
	})
	stale := newSubscription(t, conn, uuid.New(), enums.SubscriptionStatusPendingPayment, func(s *models.Subscription) {
		s.CreatedAt = past
	})
	// Not yet due on any sweep.
	newSubscription(t, conn, uuid.New(), enums.SubscriptionStatusActive, func(s *models.Subscription) {
		s.CurrentPeriodEnd = &soon
	})

	due, err := repo.ListRenewalDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, renewal.ID, due[0].ID)

	ended, err := repo.ListPeriodEnded(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Equal(t, ending.ID, ended[0].ID)

	expired, err := repo.ListGraceExpired(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, graced.ID, expired[0].ID)

	abandoned, err := repo.ListStalePending(context.Background(), now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, abandoned, 1)
	assert.Equal(t, stale.ID, abandoned[0].ID)
}
