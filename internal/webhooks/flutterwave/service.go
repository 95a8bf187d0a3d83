package flutterwavewebhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/storehubhq/storehub-backend/internal/ledger"
	"github.com/storehubhq/storehub-backend/pkg/db/models"
	"github.com/storehubhq/storehub-backend/pkg/enums"
	pkgerrors "github.com/storehubhq/storehub-backend/pkg/errors"
	"github.com/storehubhq/storehub-backend/pkg/flutterwave"
	"github.com/storehubhq/storehub-backend/pkg/logger"
)

type lifecycle interface {
	ApplySuccessfulTransaction(ctx context.Context, txn *models.Transaction) (*models.Subscription, error)
	ApplyFailedTransaction(ctx context.Context, txn *models.Transaction) error
}

type verifier interface {
	VerifyPayment(ctx context.Context, providerTxID string) (*flutterwave.VerifyData, error)
}

// ServiceParams groups dependencies for the webhook reconciler.
type ServiceParams struct {
	Ledger        ledger.Service
	Subscriptions lifecycle
	Gateway       verifier
	Logger        *logger.Logger
}

// Service reconciles webhook deliveries against the gateway's authoritative
// transaction state. The webhook payload itself is treated as a hint only.
type Service struct {
	ledger ledger.Service
	subs   lifecycle
	gw     verifier
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription lifecycle required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway client required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		ledger: params.Ledger,
		subs:   params.Subscriptions,
		gw:     params.Gateway,
		logg:   params.Logger,
	}, nil
}

// HandleEvent processes a charge event. Unknown references and unrelated
// event types are acknowledged without side effects so the provider stops
// retrying them.
func (s *Service) HandleEvent(ctx context.Context, event *flutterwave.WebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event required")
	}

	switch strings.ToLower(event.Event) {
	case "charge.completed", "charge.failed":
	default:
		return nil
	}

	reference := strings.TrimSpace(event.Data.TxRef)
	if reference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "tx_ref missing from webhook payload")
	}
	ctx = s.logg.WithTransactionRef(ctx, reference)

	txn, err := s.ledger.FindByReference(ctx, reference)
	if err != nil {
		return err
	}
	if txn == nil {
		s.logg.Warn(ctx, "webhook for unknown transaction reference")
		return nil
	}
	if txn.Status.IsTerminal() {
		// A replay of a successful charge still drives the lifecycle. If a
		// crash landed between resolving the ledger row and applying it, the
		// subscription is stuck until a retry pushes it through here.
		if txn.Status == enums.TransactionStatusSuccessful {
			s.logg.Info(ctx, "webhook replay for successful transaction, reapplying")
			if _, err := s.subs.ApplySuccessfulTransaction(ctx, txn); err != nil {
				return err
			}
			return nil
		}
		s.logg.Info(ctx, "webhook replay for resolved transaction")
		return nil
	}

	// Never trust the delivered status; re-verify against the gateway.
	data, err := s.gw.VerifyPayment(ctx, fmt.Sprintf("%d", event.Data.ID))
	if err != nil {
		return err
	}
	if data.TxRef != txn.Reference {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "verified reference does not match webhook")
	}

	providerID := fmt.Sprintf("%d", data.ID)

	switch {
	case flutterwave.IsSuccessfulStatus(data.Status):
		if !txn.Amount.Equal(data.Amount) || !strings.EqualFold(txn.CurrencyCode, data.Currency) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "verified amount does not match ledger")
		}
		resolved, alreadyTerminal, err := s.ledger.Resolve(ctx, ledger.ResolveTransactionInput{
			ID:           txn.ID,
			Status:       enums.TransactionStatusSuccessful,
			ProviderTxID: &providerID,
		})
		if err != nil {
			return err
		}
		if alreadyTerminal && resolved.Status != enums.TransactionStatusSuccessful {
			return nil
		}
		if _, err := s.subs.ApplySuccessfulTransaction(ctx, resolved); err != nil {
			return err
		}
		return nil

	case flutterwave.IsFailedStatus(data.Status):
		resolved, alreadyTerminal, err := s.ledger.Resolve(ctx, ledger.ResolveTransactionInput{
			ID:           txn.ID,
			Status:       enums.TransactionStatusFailed,
			ProviderTxID: &providerID,
		})
		if err != nil {
			return err
		}
		if alreadyTerminal {
			return nil
		}
		return s.subs.ApplyFailedTransaction(ctx, resolved)

	default:
		// Still pending at the gateway; a later delivery will settle it.
		s.logg.Info(ctx, "webhook verified as still pending")
		return nil
	}
}
