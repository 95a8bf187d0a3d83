package subscriptions

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/storehubhq/storehub-backend/internal/ledger"
	"github.com/storehubhq/storehub-backend/pkg/db/models"
	"github.com/storehubhq/storehub-backend/pkg/enums"
	"github.com/storehubhq/storehub-backend/pkg/flutterwave"
)

// SweepRenewals opens a renewal checkout for every subscription whose period
// ends within the configured lead window. Subscriptions that already have a
// pending renewal transaction are skipped.
func (s *service) SweepRenewals(ctx context.Context, now time.Time, limit int) (int, error) {
	cutoff := now.Add(s.billing.RenewalLead)
	subs, err := s.repo.ListRenewalDue(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	var processed int
	var errs error
	for i := range subs {
		sub := subs[i]
		created, err := s.startRenewal(ctx, &sub)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if created {
			processed++
		}
	}
	return processed, errs
}

func (s *service) startRenewal(ctx context.Context, sub *models.Subscription) (bool, error) {
	if sub.TransactionID != nil {
		txn, err := s.ledger.FindByID(ctx, *sub.TransactionID)
		if err != nil {
			return false, err
		}
		if txn != nil && txn.Type == enums.TransactionTypeRenewal && txn.Status == enums.TransactionStatusPending {
			return false, nil
		}
	}

	plan, err := s.requirePlan(ctx, sub.PlanID)
	if err != nil {
		return false, err
	}
	price := plan.Price(sub.BillingPeriod)
	if price.IsZero() {
		// Free plans roll over without payment.
		periodEnd := sub.BillingPeriod.Advance(*sub.CurrentPeriodEnd)
		sub.CurrentPeriodStart = sub.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &periodEnd
		sub.Status = enums.SubscriptionStatusActive
		sub.TrialEnd = nil
		if err := s.update(ctx, sub); err != nil {
			return false, err
		}
		return true, nil
	}

	reference := ledger.NewReference()
	checkout, err := s.gateway.InitializePayment(ctx, &flutterwave.InitializePaymentRequest{
		Reference: reference,
		Amount:    price,
		Currency:  plan.CurrencyCode,
		Meta: map[string]any{
			"user_id":         sub.UserID.String(),
			"plan_id":         plan.ID,
			"billing_period":  sub.BillingPeriod.String(),
			"subscription_id": sub.ID.String(),
		},
	})
	if err != nil {
		return false, err
	}

	txn, err := s.ledger.Record(ctx, ledger.RecordTransactionInput{
		UserID:         sub.UserID,
		SubscriptionID: &sub.ID,
		Type:           enums.TransactionTypeRenewal,
		Amount:         price,
		CurrencyCode:   plan.CurrencyCode,
		Reference:      reference,
		PaymentLink:    &checkout.PaymentLink,
		Meta: models.TransactionMeta{
			UserID:         sub.UserID,
			PlanID:         plan.ID,
			BillingPeriod:  sub.BillingPeriod,
			SubscriptionID: &sub.ID,
		},
	})
	if err != nil {
		return false, err
	}

	sub.TransactionID = &txn.ID
	if err := s.update(ctx, sub); err != nil {
		return false, err
	}
	s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "renewal checkout opened")
	return true, nil
}

// SweepPastDue moves subscriptions whose period ended without a successful
// renewal into past_due with a grace deadline.
func (s *service) SweepPastDue(ctx context.Context, now time.Time, limit int) (int, error) {
	subs, err := s.repo.ListRenewalDue(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	var processed int
	var errs error
	for i := range subs {
		sub := subs[i]
		if !canTransition(sub.Status, enums.SubscriptionStatusPastDue) {
			continue
		}
		deadline := now.Add(s.billing.GracePeriod)
		sub.Status = enums.SubscriptionStatusPastDue
		sub.GraceDeadline = &deadline
		if err := s.update(ctx, &sub); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		s.logg.Warn(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "period ended unpaid, entering grace")
		processed++
	}
	return processed, errs
}

// SweepGraceExpired ends subscriptions whose grace deadline passed.
func (s *service) SweepGraceExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	subs, err := s.repo.ListGraceExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	var processed int
	var errs error
	for i := range subs {
		sub := subs[i]
		sub.Status = enums.SubscriptionStatusExpired
		sub.PendingPlanID = nil
		sub.PendingPeriod = nil
		if err := s.update(ctx, &sub); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		s.clearUsage(ctx, &sub)
		s.logg.Warn(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "grace period exhausted, subscription expired")
		processed++
	}
	return processed, errs
}

// SweepCancellations finalizes subscriptions flagged to cancel at period end.
func (s *service) SweepCancellations(ctx context.Context, now time.Time, limit int) (int, error) {
	subs, err := s.repo.ListPeriodEnded(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	var processed int
	var errs error
	for i := range subs {
		sub := subs[i]
		cancelledAt := now
		sub.Status = enums.SubscriptionStatusCancelled
		sub.CancelledAt = &cancelledAt
		sub.PendingPlanID = nil
		sub.PendingPeriod = nil
		if err := s.update(ctx, &sub); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		s.clearUsage(ctx, &sub)
		s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "scheduled cancellation finalized")
		processed++
	}
	return processed, errs
}

// SweepStalePending expires checkout sessions that never saw a payment.
func (s *service) SweepStalePending(ctx context.Context, now time.Time, limit int) (int, error) {
	cutoff := now.Add(-s.billing.PendingPaymentTTL)
	subs, err := s.repo.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	var processed int
	var errs error
	for i := range subs {
		sub := subs[i]
		sub.Status = enums.SubscriptionStatusExpired
		if err := s.update(ctx, &sub); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "stale checkout expired")
		processed++
	}
	return processed, errs
}
