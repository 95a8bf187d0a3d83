package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/storehubhq/storehub-backend/pkg/logger"
)

type fakeSweeper struct {
	lastJob   string
	lastNow   time.Time
	lastLimit int
	processed int
	err       error
}

func (f *fakeSweeper) record(name string, now time.Time, limit int) (int, error) {
	f.lastJob = name
	f.lastNow = now
	f.lastLimit = limit
	return f.processed, f.err
}

func (f *fakeSweeper) SweepRenewals(_ context.Context, now time.Time, limit int) (int, error) {
	return f.record("renewals", now, limit)
}

func (f *fakeSweeper) SweepPastDue(_ context.Context, now time.Time, limit int) (int, error) {
	return f.record("past_due", now, limit)
}

func (f *fakeSweeper) SweepGraceExpired(_ context.Context, now time.Time, limit int) (int, error) {
	return f.record("grace", now, limit)
}

func (f *fakeSweeper) SweepCancellations(_ context.Context, now time.Time, limit int) (int, error) {
	return f.record("cancel", now, limit)
}

func (f *fakeSweeper) SweepStalePending(_ context.Context, now time.Time, limit int) (int, error) {
	return f.record("stale", now, limit)
}

func newJobParams(sweeper *fakeSweeper) SweepJobParams {
	return SweepJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "cron-test"}),
		Subscriptions: sweeper,
	}
}

func TestRenewalJobInvokesSweepWithDefaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	sweeper := &fakeSweeper{processed: 3}
	params := newJobParams(sweeper)
	params.Now = func() time.Time { return now }
	job, err := NewRenewalJob(params)
	if err != nil {
		t.Fatalf("NewRenewalJob: %v", err)
	}
	if job.Name() != "subscription-renewal" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.lastJob != "renewals" {
		t.Fatalf("expected renewals sweep, got %q", sweeper.lastJob)
	}
	if !sweeper.lastNow.Equal(now) {
		t.Fatalf("expected now %s, got %s", now, sweeper.lastNow)
	}
	if sweeper.lastLimit != defaultSweepLimit {
		t.Fatalf("expected default limit %d, got %d", defaultSweepLimit, sweeper.lastLimit)
	}
}

func TestSweepJobsRouteToTheRightSweep(t *testing.T) {
	cases := []struct {
		build func(SweepJobParams) (Job, error)
		name  string
		sweep string
	}{
		{NewPastDueJob, "subscription-past-due", "past_due"},
		{NewGraceExpiryJob, "subscription-grace-expiry", "grace"},
		{NewCancellationJob, "subscription-cancellation", "cancel"},
		{NewStalePendingJob, "subscription-stale-pending", "stale"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sweeper := &fakeSweeper{}
			job, err := tc.build(newJobParams(sweeper))
			if err != nil {
				t.Fatalf("build job: %v", err)
			}
			if job.Name() != tc.name {
				t.Fatalf("expected name %q, got %q", tc.name, job.Name())
			}
			if err := job.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if sweeper.lastJob != tc.sweep {
				t.Fatalf("expected sweep %q, got %q", tc.sweep, sweeper.lastJob)
			}
		})
	}
}

func TestSweepJobHonorsConfiguredLimit(t *testing.T) {
	sweeper := &fakeSweeper{}
	params := newJobParams(sweeper)
	params.Limit = 40
	job, err := NewStalePendingJob(params)
	if err != nil {
		t.Fatalf("NewStalePendingJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.lastLimit != 40 {
		t.Fatalf("expected limit 40, got %d", sweeper.lastLimit)
	}
}

func TestSweepJobPropagatesError(t *testing.T) {
	sweeper := &fakeSweeper{processed: 2, err: errors.New("gateway down")}
	job, err := NewRenewalJob(newJobParams(sweeper))
	if err != nil {
		t.Fatalf("NewRenewalJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSweepJobRequiresDependencies(t *testing.T) {
	if _, err := NewRenewalJob(SweepJobParams{Subscriptions: &fakeSweeper{}}); err == nil {
		t.Fatal("expected error without logger")
	}
	if _, err := NewRenewalJob(SweepJobParams{Logger: logger.New(logger.Options{ServiceName: "cron-test"})}); err == nil {
		t.Fatal("expected error without sweeper")
	}
}
