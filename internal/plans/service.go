package plans

import (
	"context"
	"fmt"
	"strings"

	"github.com/storehubhq/storehub-backend/pkg/db/models"
	"github.com/storehubhq/storehub-backend/pkg/enums"
	"github.com/storehubhq/storehub-backend/pkg/errors"
	"github.com/storehubhq/storehub-backend/pkg/logger"
)

// Service exposes the plan catalog.
type Service interface {
	List(ctx context.Context) ([]models.Plan, error)
	Get(ctx context.Context, id string) (*models.Plan, error)
	Default(ctx context.Context) (*models.Plan, error)
	Upsert(ctx context.Context, input UpsertPlanInput) (*models.Plan, error)
	Archive(ctx context.Context, id string) error
	CheapestEnabling(ctx context.Context, feature string, minLimit *int64) (*models.Plan, error)
}

// UpsertPlanInput captures the data an admin submits for a catalog entry.
type UpsertPlanInput struct {
	ID           string
	Name         string
	Description  string
	MonthlyPrice string
	AnnualPrice  string
	CurrencyCode string
	TrialDays    int
	IsDefault    bool
	Features     models.FeatureMap
}

// Params wires the plan service dependencies.
type Params struct {
	Repo   Repository
	Logger *logger.Logger
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService validates dependencies and builds the plan service.
func NewService(p Params) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("plan repository required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: p.Repo, logg: p.Logger}, nil
}

func (s *service) List(ctx context.Context) ([]models.Plan, error) {
	return s.repo.ListByStatus(ctx, enums.PlanStatusActive)
}

func (s *service) Get(ctx context.Context, id string) (*models.Plan, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New(errors.CodeValidation, "plan id is required")
	}
	plan, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("plan %q not found", id))
	}
	return plan, nil
}

func (s *service) Default(ctx context.Context) (*models.Plan, error) {
	plan, err := s.repo.GetDefault(ctx)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, errors.New(errors.CodeNotFound, "no default plan configured")
	}
	return plan, nil
}

func (s *service) Upsert(ctx context.Context, input UpsertPlanInput) (*models.Plan, error) {
	plan, err := planFromInput(input)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Upsert(ctx, plan); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "plan_id", plan.ID), "plan upserted")
	return plan, nil
}

func (s *service) Archive(ctx context.Context, id string) error {
	plan, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if plan.IsDefault {
		return errors.New(errors.CodeStateConflict, "default plan cannot be archived")
	}
	if plan.Status == enums.PlanStatusArchived {
		return nil
	}
	if err := s.repo.SetStatus(ctx, id, enums.PlanStatusArchived); err != nil {
		return err
	}
	s.logg.Info(s.logg.WithField(ctx, "plan_id", id), "plan archived")
	return nil
}

// CheapestEnabling returns the lowest-priced active plan whose catalog entry
// enables the named feature. When minLimit is set, only plans whose limit is
// unbounded or strictly above it qualify, so a user over their cap is never
// pointed at a plan that would deny them again.
func (s *service) CheapestEnabling(ctx context.Context, feature string, minLimit *int64) (*models.Plan, error) {
	if strings.TrimSpace(feature) == "" {
		return nil, errors.New(errors.CodeValidation, "feature name is required")
	}
	active, err := s.repo.ListByStatus(ctx, enums.PlanStatusActive)
	if err != nil {
		return nil, err
	}
	// ListByStatus orders by monthly price ascending.
	for i := range active {
		ent, ok := active[i].Feature(feature)
		if !ok || !ent.Enabled {
			continue
		}
		if minLimit != nil && ent.Limit != nil && *ent.Limit <= *minLimit {
			continue
		}
		return &active[i], nil
	}
	return nil, nil
}

func planFromInput(input UpsertPlanInput) (*models.Plan, error) {
	id := strings.TrimSpace(strings.ToLower(input.ID))
	if id == "" {
		return nil, errors.New(errors.CodeValidation, "plan id is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, errors.New(errors.CodeValidation, "plan name is required")
	}

	monthly, err := models.ParsePrice(input.MonthlyPrice)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, err, "invalid monthly price")
	}
	annual, err := models.ParsePrice(input.AnnualPrice)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, err, "invalid annual price")
	}
	if input.TrialDays < 0 {
		return nil, errors.New(errors.CodeValidation, "trial days must not be negative")
	}

	currency := strings.ToUpper(strings.TrimSpace(input.CurrencyCode))
	if currency == "" {
		currency = "USD"
	}

	features := input.Features
	if features == nil {
		features = models.FeatureMap{}
	}

	return &models.Plan{
		ID:           id,
		Name:         strings.TrimSpace(input.Name),
		Description:  strings.TrimSpace(input.Description),
		Status:       enums.PlanStatusActive,
		MonthlyPrice: monthly,
		AnnualPrice:  annual,
		CurrencyCode: currency,
		TrialDays:    input.TrialDays,
		IsDefault:    input.IsDefault,
		Features:     features,
	}, nil
}
