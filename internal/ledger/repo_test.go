package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/storehubhq/storehub-backend/pkg/db/models"
	"github.com/storehubhq/storehub-backend/pkg/enums"
	"github.com/storehubhq/storehub-backend/pkg/pagination"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  subscription_id TEXT,
  type TEXT NOT NULL DEFAULT 'new_subscription',
  status TEXT NOT NULL DEFAULT 'pending',
  amount NUMERIC NOT NULL,
  currency_code TEXT NOT NULL DEFAULT 'USD',
  reference TEXT NOT NULL UNIQUE,
  provider_tx_id TEXT UNIQUE,
  payment_link TEXT,
  metadata TEXT,
  resolved_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, conn.Exec(schema).Error)
	return conn
}

func newTransaction(t *testing.T, conn *gorm.DB, userID uuid.UUID, reference string, created time.Time) *models.Transaction {
	t.Helper()

	txn := &models.Transaction{
		ID:           uuid.New(),
		UserID:       userID,
		Type:         enums.TransactionTypeNewSubscription,
		Status:       enums.TransactionStatusPending,
		Amount:       decimal.RequireFromString("49.99"),
		CurrencyCode: "USD",
		Reference:    reference,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	require.NoError(t, conn.Create(txn).Error)
	return txn
}

func TestRepositoryResolvePendingFirstWriterWins(t *testing.T) {
	conn := setupLedgerTestDB(t)
	repo := NewRepository(conn)

	now := time.Now().UTC()
	txn := newTransaction(t, conn, uuid.New(), "shtx-resolve-1", now)

	providerID := "flw-900100"
	rows, err := repo.ResolvePending(context.Background(), txn.ID, enums.TransactionStatusSuccessful, &providerID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	// A second resolution finds no pending row and changes nothing.
	rows, err = repo.ResolvePending(context.Background(), txn.ID, enums.TransactionStatusFailed, nil, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	got, err := repo.GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, enums.TransactionStatusSuccessful, got.Status)
	require.NotNil(t, got.ProviderTxID)
	assert.Equal(t, providerID, *got.ProviderTxID)
	require.NotNil(t, got.ResolvedAt)
}

func TestRepositoryLookups(t *testing.T) {
	conn := setupLedgerTestDB(t)
	repo := NewRepository(conn)

	now := time.Now().UTC()
	txn := newTransaction(t, conn, uuid.New(), "shtx-lookup-1", now)

	providerID := "flw-900200"
	_, err := repo.ResolvePending(context.Background(), txn.ID, enums.TransactionStatusSuccessful, &providerID, now)
	require.NoError(t, err)

	byRef, err := repo.GetByReference(context.Background(), "shtx-lookup-1")
	require.NoError(t, err)
	require.NotNil(t, byRef)
	assert.Equal(t, txn.ID, byRef.ID)

	byProvider, err := repo.GetByProviderTxID(context.Background(), providerID)
	require.NoError(t, err)
	require.NotNil(t, byProvider)
	assert.Equal(t, txn.ID, byProvider.ID)

	missing, err := repo.GetByReference(context.Background(), "shtx-lookup-none")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositoryLinkSubscription(t *testing.T) {
	conn := setupLedgerTestDB(t)
	repo := NewRepository(conn)

	txn := newTransaction(t, conn, uuid.New(), "shtx-link-1", time.Now().UTC())
	subID := uuid.New()

	require.NoError(t, repo.LinkSubscription(context.Background(), txn.ID, subID))

	got, err := repo.GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.SubscriptionID)
	assert.Equal(t, subID, *got.SubscriptionID)
}

func TestRepositoryListByUserCursorPagination(t *testing.T) {
	conn := setupLedgerTestDB(t)
	repo := NewRepository(conn)

	userID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	oldest := newTransaction(t, conn, userID, "shtx-page-1", now.Add(-2*time.Hour))
	middle := newTransaction(t, conn, userID, "shtx-page-2", now.Add(-time.Hour))
	newest := newTransaction(t, conn, userID, "shtx-page-3", now)
	newTransaction(t, conn, uuid.New(), "shtx-page-other", now)

	first, err := repo.ListByUser(context.Background(), userID, nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, newest.ID, first[0].ID)
	assert.Equal(t, middle.ID, first[1].ID)

	cursor := &pagination.Cursor{CreatedAt: first[1].CreatedAt, ID: first[1].ID}
	second, err := repo.ListByUser(context.Background(), userID, cursor, 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, oldest.ID, second[0].ID)
}
