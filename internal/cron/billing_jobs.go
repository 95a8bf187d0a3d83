package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/storehubhq/storehub-backend/pkg/logger"
	"github.com/storehubhq/storehub-backend/pkg/metrics"
)

const defaultSweepLimit = 250

// billingSweeper exposes the subscription sweeps the worker drives.
type billingSweeper interface {
	SweepRenewals(ctx context.Context, now time.Time, limit int) (int, error)
	SweepPastDue(ctx context.Context, now time.Time, limit int) (int, error)
	SweepGraceExpired(ctx context.Context, now time.Time, limit int) (int, error)
	SweepCancellations(ctx context.Context, now time.Time, limit int) (int, error)
	SweepStalePending(ctx context.Context, now time.Time, limit int) (int, error)
}

// SweepJobParams configures a billing sweep job.
type SweepJobParams struct {
	Logger        *logger.Logger
	Subscriptions billingSweeper
	Metrics       *metrics.BillingJobMetrics
	Limit         int
	Now           func() time.Time
}

// sweepJob wraps one subscription sweep so the scheduler can run it.
type sweepJob struct {
	name    string
	logg    *logger.Logger
	metrics *metrics.BillingJobMetrics
	limit   int
	now     func() time.Time
	sweep   func(ctx context.Context, now time.Time, limit int) (int, error)
}

func newSweepJob(name string, params SweepJobParams, sweep func(billingSweeper) func(context.Context, time.Time, int) (int, error)) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &sweepJob{
		name:    name,
		logg:    params.Logger,
		metrics: params.Metrics,
		limit:   limit,
		now:     now,
		sweep:   sweep(params.Subscriptions),
	}, nil
}

// NewRenewalJob opens renewal checkouts for subscriptions nearing period end.
func NewRenewalJob(params SweepJobParams) (Job, error) {
	return newSweepJob("subscription-renewal", params, func(s billingSweeper) func(context.Context, time.Time, int) (int, error) {
		return s.SweepRenewals
	})
}

// NewPastDueJob marks subscriptions past their paid period as past due.
func NewPastDueJob(params SweepJobParams) (Job, error) {
	return newSweepJob("subscription-past-due", params, func(s billingSweeper) func(context.Context, time.Time, int) (int, error) {
		return s.SweepPastDue
	})
}

// NewGraceExpiryJob expires subscriptions whose grace window has closed.
func NewGraceExpiryJob(params SweepJobParams) (Job, error) {
	return newSweepJob("subscription-grace-expiry", params, func(s billingSweeper) func(context.Context, time.Time, int) (int, error) {
		return s.SweepGraceExpired
	})
}

// NewCancellationJob finalizes subscriptions flagged to cancel at period end.
func NewCancellationJob(params SweepJobParams) (Job, error) {
	return newSweepJob("subscription-cancellation", params, func(s billingSweeper) func(context.Context, time.Time, int) (int, error) {
		return s.SweepCancellations
	})
}

// NewStalePendingJob expires checkout sessions that never saw a payment.
func NewStalePendingJob(params SweepJobParams) (Job, error) {
	return newSweepJob("subscription-stale-pending", params, func(s billingSweeper) func(context.Context, time.Time, int) (int, error) {
		return s.SweepStalePending
	})
}

func (j *sweepJob) Name() string { return j.name }

func (j *sweepJob) Run(ctx context.Context) error {
	processed, err := j.sweep(ctx, j.now().UTC(), j.limit)
	j.metrics.AddProcessed(j.name, processed)
	logCtx := j.logg.WithField(ctx, "processed", processed)
	if err != nil {
		// Sweeps collect per-row failures; rows already processed stay
		// processed even when the run reports an error.
		j.logg.Error(logCtx, "sweep finished with errors", err)
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(logCtx, "sweep complete")
	return nil
}
