package features

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/storehubhq/storehub-backend/pkg/db/models"
	pkgerrors "github.com/storehubhq/storehub-backend/pkg/errors"
	"github.com/storehubhq/storehub-backend/pkg/logger"
	"github.com/storehubhq/storehub-backend/pkg/redis"
)

type subscriptionSource interface {
	GetLiveByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
}

type planCatalog interface {
	Get(ctx context.Context, id string) (*models.Plan, error)
	CheapestEnabling(ctx context.Context, feature string, minLimit *int64) (*models.Plan, error)
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed         bool
	Reason          string
	Limit           *int64
	Used            int64
	UpgradeRequired bool
	SuggestedPlanID string
}

// Service gates feature access against the user's plan entitlements and
// meters bounded features.
type Service interface {
	CheckAccess(ctx context.Context, userID uuid.UUID, feature string) (*Decision, error)
	// TrackUsage increments a bounded feature's meter and returns the new
	// count. Callers should CheckAccess first; TrackUsage only meters.
	TrackUsage(ctx context.Context, userID uuid.UUID, feature string, delta int64) (int64, error)
	// ResetUsage clears a user's meters, used when a billing period rolls over.
	ResetUsage(ctx context.Context, userID uuid.UUID, features []string) error
}

// ServiceParams groups dependencies for the feature service.
type ServiceParams struct {
	Subscriptions subscriptionSource
	Plans         planCatalog
	Usage         redis.UsageStore
	UsageRepo     Repository
	MirrorEnabled bool
	Logger        *logger.Logger
}

type service struct {
	subs          subscriptionSource
	plans         planCatalog
	usage         redis.UsageStore
	usageRepo     Repository
	mirrorEnabled bool
	logg          *logger.Logger
}

// NewService validates dependencies and builds the feature service.
func NewService(params ServiceParams) (Service, error) {
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription source required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan catalog required")
	}
	if params.Usage == nil {
		return nil, fmt.Errorf("usage store required")
	}
	if params.MirrorEnabled && params.UsageRepo == nil {
		return nil, fmt.Errorf("usage repo required when mirroring is enabled")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		subs:          params.Subscriptions,
		plans:         params.Plans,
		usage:         params.Usage,
		usageRepo:     params.UsageRepo,
		mirrorEnabled: params.MirrorEnabled,
		logg:          params.Logger,
	}, nil
}

func (s *service) CheckAccess(ctx context.Context, userID uuid.UUID, feature string) (*Decision, error) {
	plan, sub, err := s.effectivePlan(ctx, userID, feature)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		suggested, err := s.plans.CheapestEnabling(ctx, feature, nil)
		if err != nil {
			return nil, err
		}
		decision := &Decision{Reason: "no active subscription", UpgradeRequired: true}
		if suggested != nil {
			decision.SuggestedPlanID = suggested.ID
		}
		return decision, nil
	}

	ent, declared := plan.Feature(feature)
	if !declared || !ent.Enabled {
		suggested, err := s.plans.CheapestEnabling(ctx, feature, nil)
		if err != nil {
			return nil, err
		}
		decision := &Decision{Reason: "feature not included in plan", UpgradeRequired: true}
		if suggested != nil {
			decision.SuggestedPlanID = suggested.ID
		}
		return decision, nil
	}

	if ent.Limit == nil {
		return &Decision{Allowed: true}, nil
	}

	used, err := s.currentUsage(ctx, userID, feature, sub)
	if err != nil {
		return nil, err
	}

	decision := &Decision{Limit: ent.Limit, Used: used}
	if used >= *ent.Limit {
		decision.Reason = "feature limit reached"
		decision.UpgradeRequired = true
		// Suggest only plans whose ceiling beats the one just hit.
		suggested, err := s.plans.CheapestEnabling(ctx, feature, ent.Limit)
		if err != nil {
			return nil, err
		}
		if suggested != nil {
			decision.SuggestedPlanID = suggested.ID
		}
		return decision, nil
	}
	decision.Allowed = true
	return decision, nil
}

func (s *service) TrackUsage(ctx context.Context, userID uuid.UUID, feature string, delta int64) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(feature) == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "feature name is required")
	}
	if delta <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "delta must be positive")
	}

	plan, sub, err := s.effectivePlan(ctx, userID, feature)
	if err != nil {
		return 0, err
	}
	if plan == nil {
		return 0, pkgerrors.New(pkgerrors.CodeForbidden, "no active subscription")
	}
	ent, declared := plan.Feature(feature)
	if !declared || !ent.Enabled {
		return 0, pkgerrors.New(pkgerrors.CodeForbidden, "feature not included in plan")
	}

	anchor, resetsAt := usageWindow(sub, time.Now().UTC())
	if err := s.rolloverIfStale(ctx, userID, feature, anchor, resetsAt); err != nil {
		return 0, err
	}

	used, err := s.usage.IncrBy(ctx, s.usage.UsageKey(userID.String(), feature), delta)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "usage meter unavailable")
	}

	if s.mirrorEnabled {
		mirror := &models.FeatureUsage{
			ID:          uuid.New(),
			UserID:      userID,
			Feature:     feature,
			Used:        used,
			LimitAtUse:  ent.Limit,
			PeriodStart: anchor,
			ResetsAt:    resetsAt,
		}
		if err := s.usageRepo.Upsert(ctx, mirror); err != nil {
			// The mirror is best effort; redis stays authoritative.
			s.logg.Error(ctx, "mirror usage counter", err)
		}
	}
	return used, nil
}

func (s *service) ResetUsage(ctx context.Context, userID uuid.UUID, features []string) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	keys := make([]string, 0, len(features)*2)
	for _, feature := range features {
		keys = append(keys,
			s.usage.UsageKey(userID.String(), feature),
			s.usage.UsageResetKey(userID.String(), feature),
		)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.usage.Del(ctx, keys...); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "usage meter unavailable")
	}
	return nil
}

// effectivePlan resolves which plan governs the user right now. A nil plan
// with a nil error means the user has no live subscription; entitlements come
// only from a subscribed plan, never from a catalog fallback.
func (s *service) effectivePlan(ctx context.Context, userID uuid.UUID, feature string) (*models.Plan, *models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(feature) == "" {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "feature name is required")
	}

	sub, err := s.subs.GetLiveByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if sub == nil || !sub.IsActive() {
		return nil, nil, nil
	}

	plan, err := s.plans.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, err
	}
	return plan, sub, nil
}

func (s *service) currentUsage(ctx context.Context, userID uuid.UUID, feature string, sub *models.Subscription) (int64, error) {
	anchor, resetsAt := usageWindow(sub, time.Now().UTC())
	if err := s.rolloverIfStale(ctx, userID, feature, anchor, resetsAt); err != nil {
		return 0, err
	}

	raw, err := s.usage.Get(ctx, s.usage.UsageKey(userID.String(), feature))
	if err != nil {
		if err == goredis.Nil {
			return 0, nil
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "usage meter unavailable")
	}
	used, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "corrupt usage counter")
	}
	return used, nil
}

// rolloverIfStale resets the meter when the stored window anchor no longer
// matches the current one.
func (s *service) rolloverIfStale(ctx context.Context, userID uuid.UUID, feature string, anchor, resetsAt time.Time) error {
	resetKey := s.usage.UsageResetKey(userID.String(), feature)
	stored, err := s.usage.Get(ctx, resetKey)
	if err != nil && err != goredis.Nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "usage meter unavailable")
	}

	want := anchor.Format(time.RFC3339)
	if stored == want {
		return nil
	}

	if stored != "" {
		if err := s.usage.Del(ctx, s.usage.UsageKey(userID.String(), feature)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "usage meter unavailable")
		}
	}
	ttl := time.Until(resetsAt) + 24*time.Hour
	if err := s.usage.Set(ctx, resetKey, want, ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "usage meter unavailable")
	}
	return nil
}

// usageWindow computes the current metering window, anchored to the
// subscription's billing period. The calendar-month fallback only covers a
// live subscription whose period bounds are missing or stale, such as the
// window between a period lapsing and the renewal sweep extending it.
func usageWindow(sub *models.Subscription, now time.Time) (time.Time, time.Time) {
	if sub != nil && sub.CurrentPeriodStart != nil && sub.CurrentPeriodEnd != nil && sub.InPeriod(now) {
		return *sub.CurrentPeriodStart, *sub.CurrentPeriodEnd
	}
	anchor := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return anchor, anchor.AddDate(0, 1, 0)
}
