package billing

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/storehubhq/storehub-backend/api/controllers/usercontext"
	"github.com/storehubhq/storehub-backend/api/responses"
	"github.com/storehubhq/storehub-backend/api/validators"
	"github.com/storehubhq/storehub-backend/internal/ledger"
	"github.com/storehubhq/storehub-backend/pkg/db/models"
	pkgerrors "github.com/storehubhq/storehub-backend/pkg/errors"
	"github.com/storehubhq/storehub-backend/pkg/logger"
	"github.com/storehubhq/storehub-backend/pkg/pagination"
)

type transactionResponse struct {
	ID             uuid.UUID  `json:"id"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	Amount         string     `json:"amount"`
	CurrencyCode   string     `json:"currency_code"`
	Reference      string     `json:"reference"`
	PaymentLink    *string    `json:"payment_link,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type historyResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	NextCursor   string                `json:"next_cursor,omitempty"`
}

func newTransactionResponse(txn *models.Transaction) transactionResponse {
	return transactionResponse{
		ID:             txn.ID,
		SubscriptionID: txn.SubscriptionID,
		Type:           string(txn.Type),
		Status:         string(txn.Status),
		Amount:         txn.Amount.StringFixed(2),
		CurrencyCode:   txn.CurrencyCode,
		Reference:      txn.Reference,
		PaymentLink:    txn.PaymentLink,
		ResolvedAt:     txn.ResolvedAt,
		CreatedAt:      txn.CreatedAt,
	}
}

// TransactionHistory lists the caller's payment attempts newest first, with
// cursor pagination.
func TransactionHistory(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		userID, err := usercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListByUser(r.Context(), userID, pagination.Params{
			Limit:  limit,
			Cursor: validators.QueryString(r, "cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := historyResponse{
			Transactions: make([]transactionResponse, 0, len(page.Transactions)),
			NextCursor:   page.NextCursor,
		}
		for i := range page.Transactions {
			out.Transactions = append(out.Transactions, newTransactionResponse(&page.Transactions[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
