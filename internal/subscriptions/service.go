package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storehubhq/storehub-backend/internal/ledger"
	"github.com/storehubhq/storehub-backend/internal/proration"
	"github.com/storehubhq/storehub-backend/pkg/config"
	"github.com/storehubhq/storehub-backend/pkg/db"
	"github.com/storehubhq/storehub-backend/pkg/db/models"
	"github.com/storehubhq/storehub-backend/pkg/enums"
	pkgerrors "github.com/storehubhq/storehub-backend/pkg/errors"
	"github.com/storehubhq/storehub-backend/pkg/flutterwave"
	"github.com/storehubhq/storehub-backend/pkg/logger"
)

type planRepository interface {
	GetByID(ctx context.Context, id string) (*models.Plan, error)
}

type gatewayClient interface {
	InitializePayment(ctx context.Context, req *flutterwave.InitializePaymentRequest) (*flutterwave.InitializePaymentResponse, error)
	VerifyPayment(ctx context.Context, providerTxID string) (*flutterwave.VerifyData, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type usageResetter interface {
	ResetUsage(ctx context.Context, userID uuid.UUID, features []string) error
}

// Service drives the subscription lifecycle. Every transition runs through an
// optimistic version check so concurrent writers never interleave.
type Service interface {
	Create(ctx context.Context, input CreateSubscriptionInput) (*CheckoutResult, error)
	GetForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ChangePlan(ctx context.Context, input ChangePlanInput) (*PlanChangeResult, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Subscription, error)
	// VerifyAndActivate asks the gateway for the authoritative outcome of a
	// provider transaction and applies it. Used by the post-checkout
	// redirect when the webhook has not landed yet.
	VerifyAndActivate(ctx context.Context, userID uuid.UUID, providerTxID string) (*models.Subscription, error)
	// ApplySuccessfulTransaction advances the lifecycle for a transaction
	// the ledger just resolved as successful. Idempotent.
	ApplySuccessfulTransaction(ctx context.Context, txn *models.Transaction) (*models.Subscription, error)
	// ApplyFailedTransaction records the consequences of a failed payment.
	ApplyFailedTransaction(ctx context.Context, txn *models.Transaction) error

	// Sweep methods back the cron jobs. Each returns how many rows it touched.
	SweepRenewals(ctx context.Context, now time.Time, limit int) (int, error)
	SweepPastDue(ctx context.Context, now time.Time, limit int) (int, error)
	SweepGraceExpired(ctx context.Context, now time.Time, limit int) (int, error)
	SweepCancellations(ctx context.Context, now time.Time, limit int) (int, error)
	SweepStalePending(ctx context.Context, now time.Time, limit int) (int, error)
}

// CreateSubscriptionInput starts a subscription for a user.
type CreateSubscriptionInput struct {
	UserID        uuid.UUID
	PlanID        string
	BillingPeriod enums.BillingPeriod
	Email         string
	Name          string
}

// ChangePlanInput switches a live subscription to another plan or period.
type ChangePlanInput struct {
	UserID        uuid.UUID
	PlanID        string
	BillingPeriod enums.BillingPeriod
	Email         string
	Name          string
}

// CancelInput ends a subscription now or at the period boundary.
type CancelInput struct {
	UserID    uuid.UUID
	Immediate bool
	Reason    string
}

// CheckoutResult is the outcome of starting a paid flow. PaymentLink is empty
// when no payment was needed.
type CheckoutResult struct {
	Subscription *models.Subscription
	Transaction  *models.Transaction
	PaymentLink  string
}

// PlanChangeResult reports a plan change. Applied is false while an upgrade
// waits for its proration payment.
type PlanChangeResult struct {
	Subscription *models.Subscription
	Transaction  *models.Transaction
	PaymentLink  string
	Applied      bool
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo              Repository
	PlanRepo          planRepository
	Ledger            ledger.Service
	Gateway           gatewayClient
	TransactionRunner txRunner
	Logger            *logger.Logger
	Billing           config.BillingConfig
	// Usage clears feature meters on plan and period boundaries. Optional.
	Usage usageResetter
}

type service struct {
	repo     Repository
	planRepo planRepository
	ledger   ledger.Service
	gateway  gatewayClient
	txRunner txRunner
	logg     *logger.Logger
	billing  config.BillingConfig
	usage    usageResetter
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repo required")
	}
	if params.PlanRepo == nil {
		return nil, fmt.Errorf("plan repo required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     params.Repo,
		planRepo: params.PlanRepo,
		ledger:   params.Ledger,
		gateway:  params.Gateway,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
		billing:  params.Billing,
		usage:    params.Usage,
	}, nil
}

// allowedTransitions encodes the lifecycle state machine. Terminal states
// have no outgoing edges; a user restarts with a fresh row instead.
var allowedTransitions = map[enums.SubscriptionStatus][]enums.SubscriptionStatus{
	enums.SubscriptionStatusPendingPayment: {
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusCancelled,
		enums.SubscriptionStatusExpired,
	},
	enums.SubscriptionStatusTrialing: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusCancelled,
	},
	enums.SubscriptionStatusActive: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusCancelled,
	},
	enums.SubscriptionStatusPastDue: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusCancelled,
		enums.SubscriptionStatusExpired,
	},
}

func canTransition(from, to enums.SubscriptionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s *service) Create(ctx context.Context, input CreateSubscriptionInput) (*CheckoutResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !input.BillingPeriod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid billing period %q", input.BillingPeriod))
	}

	plan, err := s.requireActivePlan(ctx, input.PlanID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetLiveByUser(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "user already has a live subscription")
	}

	now := time.Now().UTC()
	price := plan.Price(input.BillingPeriod)

	sub := &models.Subscription{
		ID:            uuid.New(),
		UserID:        input.UserID,
		PlanID:        plan.ID,
		BillingPeriod: input.BillingPeriod,
		Status:        enums.SubscriptionStatusPendingPayment,
		Version:       1,
	}

	// Trial plans start without collecting payment. The first charge comes
	// from the renewal sweep once the trial period lapses.
	if plan.HasTrial() {
		trialEnd := now.AddDate(0, 0, plan.TrialDays)
		sub.Status = enums.SubscriptionStatusTrialing
		sub.TrialEnd = &trialEnd
		sub.CurrentPeriodStart = &now
		sub.CurrentPeriodEnd = &trialEnd
		if err := s.createSubscription(ctx, sub); err != nil {
			return nil, err
		}
		s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "trial subscription started")
		return &CheckoutResult{Subscription: sub}, nil
	}

	// Free plans skip the gateway entirely.
	if price.IsZero() {
		periodEnd := input.BillingPeriod.Advance(now)
		sub.Status = enums.SubscriptionStatusActive
		sub.CurrentPeriodStart = &now
		sub.CurrentPeriodEnd = &periodEnd
		if err := s.createSubscription(ctx, sub); err != nil {
			return nil, err
		}
		s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "free subscription activated")
		return &CheckoutResult{Subscription: sub}, nil
	}

	reference := ledger.NewReference()
	checkout, err := s.gateway.InitializePayment(ctx, &flutterwave.InitializePaymentRequest{
		Reference: reference,
		Amount:    price,
		Currency:  plan.CurrencyCode,
		Email:     input.Email,
		Name:      input.Name,
		Meta: map[string]any{
			"user_id":         input.UserID.String(),
			"plan_id":         plan.ID,
			"billing_period":  input.BillingPeriod.String(),
			"subscription_id": sub.ID.String(),
		},
	})
	if err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, sub); err != nil {
			if db.IsUniqueViolation(err, models.UniqueLiveSubscriptionConstraint) {
				return pkgerrors.New(pkgerrors.CodeConflict, "user already has a live subscription")
			}
			return err
		}
		created, err := s.ledger.Record(ctx, ledger.RecordTransactionInput{
			UserID:         input.UserID,
			SubscriptionID: &sub.ID,
			Type:           enums.TransactionTypeNewSubscription,
			Amount:         price,
			CurrencyCode:   plan.CurrencyCode,
			Reference:      reference,
			PaymentLink:    &checkout.PaymentLink,
			Meta: models.TransactionMeta{
				UserID:         input.UserID,
				PlanID:         plan.ID,
				BillingPeriod:  input.BillingPeriod,
				SubscriptionID: &sub.ID,
			},
		})
		if err != nil {
			return err
		}
		txn = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	sub.TransactionID = &txn.ID
	if _, err := s.repo.UpdateWithVersion(ctx, sub); err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "subscription checkout started")
	return &CheckoutResult{
		Subscription: sub,
		Transaction:  txn,
		PaymentLink:  checkout.PaymentLink,
	}, nil
}

func (s *service) GetForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	sub, err := s.repo.GetLiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no live subscription")
	}
	return sub, nil
}

func (s *service) ChangePlan(ctx context.Context, input ChangePlanInput) (*PlanChangeResult, error) {
	sub, err := s.GetForUser(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if sub.Status != enums.SubscriptionStatusActive && sub.Status != enums.SubscriptionStatusTrialing {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot change plan while %s", sub.Status))
	}

	period := input.BillingPeriod
	if period == "" {
		period = sub.BillingPeriod
	}
	if !period.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid billing period %q", period))
	}

	newPlan, err := s.requireActivePlan(ctx, input.PlanID)
	if err != nil {
		return nil, err
	}
	if newPlan.ID == sub.PlanID && period == sub.BillingPeriod {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription already on that plan and period")
	}
	if sub.PendingPlanID != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "a plan change is already awaiting payment")
	}

	currentPlan, err := s.requirePlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	// Trials carry no paid value, so any switch applies on the spot.
	if sub.Status == enums.SubscriptionStatusTrialing || sub.CurrentPeriodStart == nil || sub.CurrentPeriodEnd == nil {
		sub.PlanID = newPlan.ID
		sub.BillingPeriod = period
		if err := s.update(ctx, sub); err != nil {
			return nil, err
		}
		s.clearUsage(ctx, sub)
		s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "plan changed during trial")
		return &PlanChangeResult{Subscription: sub, Applied: true}, nil
	}

	quote, err := proration.Compute(proration.Input{
		CurrentPrice:  currentPlan.Price(sub.BillingPeriod),
		NewPrice:      newPlan.Price(period),
		PeriodStart:   *sub.CurrentPeriodStart,
		PeriodEnd:     *sub.CurrentPeriodEnd,
		Now:           now,
		BillingPeriod: period,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "proration")
	}

	// Downgrades apply immediately. Remaining value on the old plan is
	// forfeit rather than refunded. A pricier plan with nothing left to
	// charge, such as at the very end of a period, also applies on the spot.
	if !quote.IsUpgrade || quote.NetAmount.IsZero() {
		sub.PlanID = newPlan.ID
		sub.BillingPeriod = period
		if err := s.update(ctx, sub); err != nil {
			return nil, err
		}
		s.clearUsage(ctx, sub)
		s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "plan downgraded")
		return &PlanChangeResult{Subscription: sub, Applied: true}, nil
	}

	// Upgrades are deferred until the prorated difference is paid.
	reference := ledger.NewReference()
	checkout, err := s.gateway.InitializePayment(ctx, &flutterwave.InitializePaymentRequest{
		Reference: reference,
		Amount:    quote.NetAmount,
		Currency:  newPlan.CurrencyCode,
		Email:     input.Email,
		Name:      input.Name,
		Meta: map[string]any{
			"user_id":         input.UserID.String(),
			"plan_id":         newPlan.ID,
			"billing_period":  period.String(),
			"subscription_id": sub.ID.String(),
		},
	})
	if err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := s.ledger.Record(ctx, ledger.RecordTransactionInput{
			UserID:         input.UserID,
			SubscriptionID: &sub.ID,
			Type:           enums.TransactionTypeUpgrade,
			Amount:         quote.NetAmount,
			CurrencyCode:   newPlan.CurrencyCode,
			Reference:      reference,
			PaymentLink:    &checkout.PaymentLink,
			Meta: models.TransactionMeta{
				UserID:         input.UserID,
				PlanID:         newPlan.ID,
				BillingPeriod:  period,
				SubscriptionID: &sub.ID,
			},
		})
		if err != nil {
			return err
		}
		txn = created

		sub.PendingPlanID = &newPlan.ID
		sub.PendingPeriod = &period
		updated, err := s.repo.WithTx(tx).UpdateWithVersion(ctx, sub)
		if err != nil {
			return err
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeConflict, "subscription was modified concurrently")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "upgrade awaiting proration payment")
	return &PlanChangeResult{
		Subscription: sub,
		Transaction:  txn,
		PaymentLink:  checkout.PaymentLink,
		Applied:      false,
	}, nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Subscription, error) {
	sub, err := s.GetForUser(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	reason := strings.TrimSpace(input.Reason)

	if !input.Immediate && sub.Status != enums.SubscriptionStatusPendingPayment {
		if sub.CancelAtPeriodEnd {
			return sub, nil
		}
		sub.CancelAtPeriodEnd = true
		if reason != "" {
			sub.CancelReason = &reason
		}
		if err := s.update(ctx, sub); err != nil {
			return nil, err
		}
		s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "cancellation scheduled for period end")
		return sub, nil
	}

	if !canTransition(sub.Status, enums.SubscriptionStatusCancelled) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot cancel while %s", sub.Status))
	}

	sub.Status = enums.SubscriptionStatusCancelled
	sub.CancelledAt = &now
	if reason != "" {
		sub.CancelReason = &reason
	}
	sub.PendingPlanID = nil
	sub.PendingPeriod = nil
	if err := s.update(ctx, sub); err != nil {
		return nil, err
	}
	s.clearUsage(ctx, sub)
	s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "subscription cancelled")
	return sub, nil
}

func (s *service) VerifyAndActivate(ctx context.Context, userID uuid.UUID, providerTxID string) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	data, err := s.gateway.VerifyPayment(ctx, providerTxID)
	if err != nil {
		return nil, err
	}

	txn, err := s.ledger.FindByReference(ctx, data.TxRef)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no transaction for reference")
	}
	if txn.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "transaction belongs to another user")
	}
	if !txn.Amount.Equal(data.Amount) || !strings.EqualFold(txn.CurrencyCode, data.Currency) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "verified amount does not match ledger")
	}

	if !flutterwave.IsSuccessfulStatus(data.Status) {
		if flutterwave.IsFailedStatus(data.Status) {
			providerID := fmt.Sprintf("%d", data.ID)
			resolved, _, err := s.ledger.Resolve(ctx, ledger.ResolveTransactionInput{
				ID:           txn.ID,
				Status:       enums.TransactionStatusFailed,
				ProviderTxID: &providerID,
			})
			if err != nil {
				return nil, err
			}
			if err := s.ApplyFailedTransaction(ctx, resolved); err != nil {
				return nil, err
			}
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payment not successful: %s", data.Status))
	}

	providerID := fmt.Sprintf("%d", data.ID)
	resolved, _, err := s.ledger.Resolve(ctx, ledger.ResolveTransactionInput{
		ID:           txn.ID,
		Status:       enums.TransactionStatusSuccessful,
		ProviderTxID: &providerID,
	})
	if err != nil {
		return nil, err
	}
	if resolved.Status != enums.TransactionStatusSuccessful {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction previously resolved as failed")
	}
	return s.ApplySuccessfulTransaction(ctx, resolved)
}

func (s *service) ApplySuccessfulTransaction(ctx context.Context, txn *models.Transaction) (*models.Subscription, error) {
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction is required")
	}

	sub, err := s.subscriptionForTransaction(ctx, txn)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	switch txn.Type {
	case enums.TransactionTypeNewSubscription:
		if sub.Status != enums.SubscriptionStatusPendingPayment {
			// Replay of an already applied payment.
			return sub, nil
		}
		// Money was collected, so the paid period starts now. Trial-bearing
		// plans never reach here on their first transaction; they start
		// trialing without a checkout.
		periodEnd := sub.BillingPeriod.Advance(now)
		sub.CurrentPeriodStart = &now
		sub.CurrentPeriodEnd = &periodEnd
		sub.TransactionID = &txn.ID
		sub.Status = enums.SubscriptionStatusActive

	case enums.TransactionTypeRenewal:
		if sub.TransactionID != nil && *sub.TransactionID == txn.ID && sub.Status == enums.SubscriptionStatusActive {
			return sub, nil
		}
		if !canTransition(sub.Status, enums.SubscriptionStatusActive) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot renew while %s", sub.Status))
		}
		start := now
		if sub.CurrentPeriodEnd != nil {
			start = *sub.CurrentPeriodEnd
		}
		periodEnd := sub.BillingPeriod.Advance(start)
		sub.Status = enums.SubscriptionStatusActive
		sub.CurrentPeriodStart = &start
		sub.CurrentPeriodEnd = &periodEnd
		sub.GraceDeadline = nil
		sub.TrialEnd = nil
		sub.TransactionID = &txn.ID

	case enums.TransactionTypeUpgrade, enums.TransactionTypeProration:
		if sub.PendingPlanID == nil {
			// Replay after the change was applied.
			return sub, nil
		}
		sub.PlanID = *sub.PendingPlanID
		if sub.PendingPeriod != nil {
			sub.BillingPeriod = *sub.PendingPeriod
		}
		sub.PendingPlanID = nil
		sub.PendingPeriod = nil
		sub.Status = enums.SubscriptionStatusActive
		sub.TransactionID = &txn.ID

	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("transaction type %q does not drive the lifecycle", txn.Type))
	}

	if err := s.update(ctx, sub); err != nil {
		return nil, err
	}
	if txn.Type != enums.TransactionTypeNewSubscription {
		s.clearUsage(ctx, sub)
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"subscription_id": sub.ID.String(),
		"status":          sub.Status.String(),
	})
	s.logg.Info(logCtx, "payment applied to subscription")
	return sub, nil
}

func (s *service) ApplyFailedTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction is required")
	}

	sub, err := s.subscriptionForTransaction(ctx, txn)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}

	switch txn.Type {
	case enums.TransactionTypeNewSubscription:
		// The row stays pending_payment so the user can retry from checkout.
		// The stale sweep expires it if no payment ever lands.
		s.logg.Warn(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "initial payment failed")
		return nil

	case enums.TransactionTypeRenewal:
		if sub.Status != enums.SubscriptionStatusActive && sub.Status != enums.SubscriptionStatusTrialing {
			return nil
		}
		deadline := time.Now().UTC().Add(s.billing.GracePeriod)
		sub.Status = enums.SubscriptionStatusPastDue
		sub.GraceDeadline = &deadline
		if err := s.update(ctx, sub); err != nil {
			return err
		}
		s.logg.Warn(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "renewal payment failed, entering grace")
		return nil

	case enums.TransactionTypeUpgrade, enums.TransactionTypeProration:
		if sub.PendingPlanID == nil {
			return nil
		}
		sub.PendingPlanID = nil
		sub.PendingPeriod = nil
		if err := s.update(ctx, sub); err != nil {
			return err
		}
		s.logg.Warn(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "proration payment failed, plan change abandoned")
		return nil
	}
	return nil
}

func (s *service) requireActivePlan(ctx context.Context, planID string) (*models.Plan, error) {
	plan, err := s.requirePlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != enums.PlanStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("plan %q is not available", planID))
	}
	return plan, nil
}

func (s *service) requirePlan(ctx context.Context, planID string) (*models.Plan, error) {
	if strings.TrimSpace(planID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	plan, err := s.planRepo.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("plan %q not found", planID))
	}
	return plan, nil
}

func (s *service) subscriptionForTransaction(ctx context.Context, txn *models.Transaction) (*models.Subscription, error) {
	meta, err := txn.Meta()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode transaction metadata")
	}

	if txn.SubscriptionID != nil {
		sub, err := s.repo.GetByID(ctx, *txn.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			return sub, nil
		}
	}
	if meta.SubscriptionID != nil {
		sub, err := s.repo.GetByID(ctx, *meta.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			return sub, nil
		}
	}

	sub, err := s.repo.GetLiveByUser(ctx, txn.UserID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for transaction")
	}
	return sub, nil
}

// clearUsage drops the user's feature meters after a plan or period change.
// Best effort: meters self-expire, and losing one only under-counts.
func (s *service) clearUsage(ctx context.Context, sub *models.Subscription) {
	if s.usage == nil {
		return
	}
	plan, err := s.planRepo.GetByID(ctx, sub.PlanID)
	if err != nil || plan == nil {
		return
	}
	features := make([]string, 0, len(plan.Features))
	for name := range plan.Features {
		features = append(features, name)
	}
	if err := s.usage.ResetUsage(ctx, sub.UserID, features); err != nil {
		s.logg.Error(ctx, "reset usage meters", err)
	}
}

func (s *service) createSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := s.repo.Create(ctx, sub); err != nil {
		if db.IsUniqueViolation(err, models.UniqueLiveSubscriptionConstraint) {
			return pkgerrors.New(pkgerrors.CodeConflict, "user already has a live subscription")
		}
		return err
	}
	return nil
}

func (s *service) update(ctx context.Context, sub *models.Subscription) error {
	updated, err := s.repo.UpdateWithVersion(ctx, sub)
	if err != nil {
		return err
	}
	if !updated {
		return pkgerrors.New(pkgerrors.CodeConflict, "subscription was modified concurrently")
	}
	return nil
}
