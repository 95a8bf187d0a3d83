package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/storehubhq/storehub-backend/pkg/db/models"
	"github.com/storehubhq/storehub-backend/pkg/enums"
	pkgerrors "github.com/storehubhq/storehub-backend/pkg/errors"
	"github.com/storehubhq/storehub-backend/pkg/logger"
	"github.com/storehubhq/storehub-backend/pkg/pagination"
)

type fakeRepository struct {
	createFn         func(ctx context.Context, txn *models.Transaction) error
	getByIDFn        func(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	resolvePendingFn func(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, providerTxID *string, resolvedAt time.Time) (int64, error)
	listByUserFn     func(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Transaction, error)
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) Create(ctx context.Context, txn *models.Transaction) error {
	if f.createFn != nil {
		return f.createFn(ctx, txn)
	}
	return nil
}

func (f *fakeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeRepository) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return nil, nil
}

func (f *fakeRepository) GetByProviderTxID(ctx context.Context, providerTxID string) (*models.Transaction, error) {
	return nil, nil
}

func (f *fakeRepository) ResolvePending(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, providerTxID *string, resolvedAt time.Time) (int64, error) {
	if f.resolvePendingFn != nil {
		return f.resolvePendingFn(ctx, id, status, providerTxID, resolvedAt)
	}
	return 1, nil
}

func (f *fakeRepository) LinkSubscription(ctx context.Context, id uuid.UUID, subscriptionID uuid.UUID) error {
	return nil
}

func (f *fakeRepository) ListByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Transaction, error) {
	if f.listByUserFn != nil {
		return f.listByUserFn(ctx, userID, cursor, limit)
	}
	return nil, nil
}

func newTestService(t *testing.T, repo Repository) Service {
	t.Helper()
	svc, err := NewService(Params{Repo: repo, Logger: logger.New(logger.Options{})})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestService_Record(t *testing.T) {
	var created *models.Transaction
	repo := &fakeRepository{
		createFn: func(ctx context.Context, txn *models.Transaction) error {
			created = txn
			return nil
		},
	}
	svc := newTestService(t, repo)

	userID := uuid.New()
	txn, err := svc.Record(context.Background(), RecordTransactionInput{
		UserID: userID,
		Type:   enums.TransactionTypeNewSubscription,
		Amount: decimal.RequireFromString("29.99"),
		Meta: models.TransactionMeta{
			UserID:        userID,
			PlanID:        "starter",
			BillingPeriod: enums.BillingPeriodMonthly,
		},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if created == nil {
		t.Fatal("expected transaction to be created")
	}
	if txn.Status != enums.TransactionStatusPending {
		t.Errorf("expected pending status, got %q", txn.Status)
	}
	if txn.Reference == "" {
		t.Error("expected a generated reference")
	}
	if txn.CurrencyCode != "USD" {
		t.Errorf("expected USD default, got %q", txn.CurrencyCode)
	}

	meta, err := txn.Meta()
	if err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if meta.PlanID != "starter" || meta.UserID != userID {
		t.Errorf("metadata did not round-trip: %+v", meta)
	}
}

func TestService_RecordValidation(t *testing.T) {
	svc := newTestService(t, &fakeRepository{})

	cases := []RecordTransactionInput{
		{Type: enums.TransactionTypeNewSubscription, Amount: decimal.NewFromInt(1)},
		{UserID: uuid.New(), Type: "bogus", Amount: decimal.NewFromInt(1)},
		{UserID: uuid.New(), Type: enums.TransactionTypeRenewal, Amount: decimal.NewFromInt(-1)},
	}
	for _, input := range cases {
		if _, err := svc.Record(context.Background(), input); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Errorf("expected VALIDATION_ERROR for %+v, got %v", input, err)
		}
	}
}

func TestService_ResolveFirstWins(t *testing.T) {
	id := uuid.New()
	repo := &fakeRepository{
		resolvePendingFn: func(ctx context.Context, gotID uuid.UUID, status enums.TransactionStatus, providerTxID *string, resolvedAt time.Time) (int64, error) {
			if gotID != id {
				t.Errorf("unexpected id %s", gotID)
			}
			return 1, nil
		},
		getByIDFn: func(ctx context.Context, gotID uuid.UUID) (*models.Transaction, error) {
			return &models.Transaction{ID: gotID, Status: enums.TransactionStatusSuccessful, Reference: "shtx-x"}, nil
		},
	}
	svc := newTestService(t, repo)

	txn, alreadyTerminal, err := svc.Resolve(context.Background(), ResolveTransactionInput{
		ID:     id,
		Status: enums.TransactionStatusSuccessful,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if alreadyTerminal {
		t.Error("first resolution should not report already terminal")
	}
	if txn.Status != enums.TransactionStatusSuccessful {
		t.Errorf("unexpected status %q", txn.Status)
	}
}

func TestService_ResolveAlreadyTerminal(t *testing.T) {
	id := uuid.New()
	repo := &fakeRepository{
		resolvePendingFn: func(ctx context.Context, gotID uuid.UUID, status enums.TransactionStatus, providerTxID *string, resolvedAt time.Time) (int64, error) {
			return 0, nil
		},
		getByIDFn: func(ctx context.Context, gotID uuid.UUID) (*models.Transaction, error) {
			return &models.Transaction{ID: gotID, Status: enums.TransactionStatusFailed, Reference: "shtx-x"}, nil
		},
	}
	svc := newTestService(t, repo)

	txn, alreadyTerminal, err := svc.Resolve(context.Background(), ResolveTransactionInput{
		ID:     id,
		Status: enums.TransactionStatusSuccessful,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !alreadyTerminal {
		t.Error("expected already terminal")
	}
	if txn.Status != enums.TransactionStatusFailed {
		t.Errorf("stored terminal status must win, got %q", txn.Status)
	}
}

func TestService_ResolveRejectsNonTerminalStatus(t *testing.T) {
	svc := newTestService(t, &fakeRepository{})

	_, _, err := svc.Resolve(context.Background(), ResolveTransactionInput{
		ID:     uuid.New(),
		Status: enums.TransactionStatusPending,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestService_ListByUserPaginates(t *testing.T) {
	userID := uuid.New()
	now := time.Now().UTC()

	rows := make([]models.Transaction, 0, 4)
	for i := 0; i < 4; i++ {
		rows = append(rows, models.Transaction{
			ID:        uuid.New(),
			UserID:    userID,
			CreatedAt: now.Add(-time.Duration(i) * time.Hour),
		})
	}

	repo := &fakeRepository{
		listByUserFn: func(ctx context.Context, gotUser uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Transaction, error) {
			if limit != 4 {
				t.Errorf("expected buffered limit 4, got %d", limit)
			}
			return rows, nil
		},
	}
	svc := newTestService(t, repo)

	page, err := svc.ListByUser(context.Background(), userID, pagination.Params{Limit: 3})
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(page.Transactions) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(page.Transactions))
	}
	if page.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	cursor, err := pagination.ParseCursor(page.NextCursor)
	if err != nil {
		t.Fatalf("parse next cursor: %v", err)
	}
	if cursor.ID != rows[2].ID {
		t.Errorf("cursor should point at the last returned row")
	}
}

func TestService_RecordRepoError(t *testing.T) {
	expectedErr := errors.New("boom")
	repo := &fakeRepository{
		createFn: func(ctx context.Context, txn *models.Transaction) error {
			return expectedErr
		},
	}
	svc := newTestService(t, repo)

	_, err := svc.Record(context.Background(), RecordTransactionInput{
		UserID: uuid.New(),
		Type:   enums.TransactionTypeRenewal,
		Amount: decimal.NewFromInt(10),
	})
	if !errors.Is(err, expectedErr) {
		t.Fatalf("expected repo error to bubble up, got %v", err)
	}
}
