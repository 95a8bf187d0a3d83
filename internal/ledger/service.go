package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storehubhq/storehub-backend/pkg/db/models"
	"github.com/storehubhq/storehub-backend/pkg/enums"
	"github.com/storehubhq/storehub-backend/pkg/errors"
	"github.com/storehubhq/storehub-backend/pkg/logger"
	"github.com/storehubhq/storehub-backend/pkg/pagination"
)

// Service records payment attempts and resolves their outcomes.
type Service interface {
	Record(ctx context.Context, input RecordTransactionInput) (*models.Transaction, error)
	// Resolve flips a pending transaction to a terminal status. The boolean
	// reports whether the row was already terminal, in which case nothing
	// was written and the stored row is returned untouched.
	Resolve(ctx context.Context, input ResolveTransactionInput) (*models.Transaction, bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByReference(ctx context.Context, reference string) (*models.Transaction, error)
	FindByProviderTxID(ctx context.Context, providerTxID string) (*models.Transaction, error)
	LinkSubscription(ctx context.Context, id uuid.UUID, subscriptionID uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*TransactionPage, error)
}

// RecordTransactionInput captures a new payment attempt. Reference is
// optional; a fresh one is minted when empty.
type RecordTransactionInput struct {
	UserID         uuid.UUID
	SubscriptionID *uuid.UUID
	Type           enums.TransactionType
	Amount         decimal.Decimal
	CurrencyCode   string
	Reference      string
	PaymentLink    *string
	Meta           models.TransactionMeta
}

// ResolveTransactionInput resolves a pending attempt by its ledger id.
type ResolveTransactionInput struct {
	ID           uuid.UUID
	Status       enums.TransactionStatus
	ProviderTxID *string
	ResolvedAt   time.Time
}

// TransactionPage is one cursor page of a user's payment history.
type TransactionPage struct {
	Transactions []models.Transaction
	NextCursor   string
}

// Params wires the ledger service dependencies.
type Params struct {
	Repo   Repository
	Logger *logger.Logger
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService validates dependencies and builds the ledger service.
func NewService(p Params) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: p.Repo, logg: p.Logger}, nil
}

func (s *service) Record(ctx context.Context, input RecordTransactionInput) (*models.Transaction, error) {
	if input.UserID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if !input.Type.IsValid() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("invalid transaction type %q", input.Type))
	}
	if input.Amount.IsNegative() {
		return nil, errors.New(errors.CodeValidation, "amount must not be negative")
	}

	currency := strings.ToUpper(strings.TrimSpace(input.CurrencyCode))
	if currency == "" {
		currency = "USD"
	}

	meta, err := json.Marshal(input.Meta)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "encode transaction metadata")
	}

	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		reference = NewReference()
	}

	txn := &models.Transaction{
		ID:             uuid.New(),
		UserID:         input.UserID,
		SubscriptionID: input.SubscriptionID,
		Type:           input.Type,
		Status:         enums.TransactionStatusPending,
		Amount:         input.Amount,
		CurrencyCode:   currency,
		Reference:      reference,
		PaymentLink:    input.PaymentLink,
		Metadata:       meta,
	}

	if err := s.repo.Create(ctx, txn); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithTransactionRef(ctx, txn.Reference), "transaction recorded")
	return txn, nil
}

func (s *service) Resolve(ctx context.Context, input ResolveTransactionInput) (*models.Transaction, bool, error) {
	if input.ID == uuid.Nil {
		return nil, false, errors.New(errors.CodeValidation, "transaction id is required")
	}
	if !input.Status.IsTerminal() {
		return nil, false, errors.New(errors.CodeValidation, fmt.Sprintf("status %q is not terminal", input.Status))
	}
	resolvedAt := input.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}

	affected, err := s.repo.ResolvePending(ctx, input.ID, input.Status, input.ProviderTxID, resolvedAt)
	if err != nil {
		return nil, false, err
	}

	txn, err := s.repo.GetByID(ctx, input.ID)
	if err != nil {
		return nil, false, err
	}
	if txn == nil {
		return nil, false, errors.New(errors.CodeNotFound, "transaction not found")
	}

	alreadyTerminal := affected == 0
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"transaction_ref": txn.Reference,
		"status":          string(txn.Status),
	})
	if alreadyTerminal {
		s.logg.Info(logCtx, "transaction already resolved, skipping")
	} else {
		s.logg.Info(logCtx, "transaction resolved")
	}
	return txn, alreadyTerminal, nil
}

func (s *service) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	if id == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "transaction id is required")
	}
	return s.repo.GetByID(ctx, id)
}

func (s *service) FindByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, errors.New(errors.CodeValidation, "reference is required")
	}
	return s.repo.GetByReference(ctx, reference)
}

func (s *service) FindByProviderTxID(ctx context.Context, providerTxID string) (*models.Transaction, error) {
	if strings.TrimSpace(providerTxID) == "" {
		return nil, errors.New(errors.CodeValidation, "provider transaction id is required")
	}
	return s.repo.GetByProviderTxID(ctx, providerTxID)
}

func (s *service) LinkSubscription(ctx context.Context, id uuid.UUID, subscriptionID uuid.UUID) error {
	if id == uuid.Nil || subscriptionID == uuid.Nil {
		return errors.New(errors.CodeValidation, "transaction and subscription ids are required")
	}
	return s.repo.LinkSubscription(ctx, id, subscriptionID)
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*TransactionPage, error) {
	if userID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListByUser(ctx, userID, cursor, limit+1)
	if err != nil {
		return nil, err
	}

	page := &TransactionPage{Transactions: rows}
	if len(rows) > limit {
		page.Transactions = rows[:limit]
		last := page.Transactions[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}

// NewReference mints a gateway-safe transaction reference.
func NewReference() string {
	return "shtx-" + uuid.NewString()
}
