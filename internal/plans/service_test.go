package plans

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/storehubhq/storehub-backend/pkg/db/models"
	"github.com/storehubhq/storehub-backend/pkg/enums"
	"github.com/storehubhq/storehub-backend/pkg/errors"
	"github.com/storehubhq/storehub-backend/pkg/logger"
)

type fakeRepository struct {
	getByIDFn    func(ctx context.Context, id string) (*models.Plan, error)
	listFn       func(ctx context.Context, status enums.PlanStatus) ([]models.Plan, error)
	getDefaultFn func(ctx context.Context) (*models.Plan, error)
	upsertFn     func(ctx context.Context, plan *models.Plan) error
	setStatusFn  func(ctx context.Context, id string, status enums.PlanStatus) error
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) GetByID(ctx context.Context, id string) (*models.Plan, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeRepository) ListByStatus(ctx context.Context, status enums.PlanStatus) ([]models.Plan, error) {
	if f.listFn != nil {
		return f.listFn(ctx, status)
	}
	return nil, nil
}

func (f *fakeRepository) GetDefault(ctx context.Context) (*models.Plan, error) {
	if f.getDefaultFn != nil {
		return f.getDefaultFn(ctx)
	}
	return nil, nil
}

func (f *fakeRepository) Upsert(ctx context.Context, plan *models.Plan) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, plan)
	}
	return nil
}

func (f *fakeRepository) SetStatus(ctx context.Context, id string, status enums.PlanStatus) error {
	if f.setStatusFn != nil {
		return f.setStatusFn(ctx, id, status)
	}
	return nil
}

func newTestService(t *testing.T, repo Repository) Service {
	t.Helper()
	svc, err := NewService(Params{Repo: repo, Logger: logger.New(logger.Options{})})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestService_GetNotFound(t *testing.T) {
	svc := newTestService(t, &fakeRepository{})

	_, err := svc.Get(context.Background(), "ghost")
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestService_UpsertValidatesInput(t *testing.T) {
	svc := newTestService(t, &fakeRepository{})

	cases := []UpsertPlanInput{
		{Name: "No ID", MonthlyPrice: "1"},
		{ID: "x", MonthlyPrice: "1"},
		{ID: "x", Name: "X", MonthlyPrice: "not-a-number"},
		{ID: "x", Name: "X", MonthlyPrice: "-5"},
		{ID: "x", Name: "X", MonthlyPrice: "1", TrialDays: -1},
	}
	for _, input := range cases {
		if _, err := svc.Upsert(context.Background(), input); !errors.IsCode(err, errors.CodeValidation) {
			t.Errorf("expected VALIDATION_ERROR for %+v, got %v", input, err)
		}
	}
}

func TestService_UpsertNormalizes(t *testing.T) {
	var saved *models.Plan
	repo := &fakeRepository{
		upsertFn: func(ctx context.Context, plan *models.Plan) error {
			saved = plan
			return nil
		},
	}
	svc := newTestService(t, repo)

	plan, err := svc.Upsert(context.Background(), UpsertPlanInput{
		ID:           " Pro ",
		Name:         " Pro ",
		MonthlyPrice: "49.99",
		AnnualPrice:  "499.90",
		CurrencyCode: "usd",
		TrialDays:    14,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if saved == nil {
		t.Fatal("expected plan to be saved")
	}
	if plan.ID != "pro" {
		t.Errorf("id not normalized, got %q", plan.ID)
	}
	if plan.CurrencyCode != "USD" {
		t.Errorf("currency not normalized, got %q", plan.CurrencyCode)
	}
	if plan.Status != enums.PlanStatusActive {
		t.Errorf("unexpected status %q", plan.Status)
	}
	if plan.Features == nil {
		t.Error("features map should never be nil")
	}
}

func TestService_ArchiveGuardsDefaultPlan(t *testing.T) {
	repo := &fakeRepository{
		getByIDFn: func(ctx context.Context, id string) (*models.Plan, error) {
			return &models.Plan{ID: id, IsDefault: true, Status: enums.PlanStatusActive}, nil
		},
	}
	svc := newTestService(t, repo)

	err := svc.Archive(context.Background(), "free")
	if !errors.IsCode(err, errors.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}
}

func TestService_ArchiveIdempotent(t *testing.T) {
	called := false
	repo := &fakeRepository{
		getByIDFn: func(ctx context.Context, id string) (*models.Plan, error) {
			return &models.Plan{ID: id, Status: enums.PlanStatusArchived}, nil
		},
		setStatusFn: func(ctx context.Context, id string, status enums.PlanStatus) error {
			called = true
			return nil
		},
	}
	svc := newTestService(t, repo)

	if err := svc.Archive(context.Background(), "old"); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if called {
		t.Error("archiving an archived plan should not write")
	}
}

func TestService_CheapestEnablingPicksLowestPrice(t *testing.T) {
	limit := int64(10)
	repo := &fakeRepository{
		listFn: func(ctx context.Context, status enums.PlanStatus) ([]models.Plan, error) {
			return []models.Plan{
				{ID: "free", MonthlyPrice: decimal.Zero, Features: models.FeatureMap{
					"analytics": {Enabled: false},
				}},
				{ID: "starter", MonthlyPrice: decimal.RequireFromString("29.99"), Features: models.FeatureMap{
					"analytics": {Enabled: true, Limit: &limit},
				}},
				{ID: "growth", MonthlyPrice: decimal.RequireFromString("49.99"), Features: models.FeatureMap{
					"analytics": {Enabled: true},
				}},
			}, nil
		},
	}
	svc := newTestService(t, repo)

	plan, err := svc.CheapestEnabling(context.Background(), "analytics", nil)
	if err != nil {
		t.Fatalf("CheapestEnabling: %v", err)
	}
	if plan == nil || plan.ID != "starter" {
		t.Fatalf("expected starter, got %+v", plan)
	}
}

func TestService_CheapestEnablingHonorsLimitFloor(t *testing.T) {
	freeLimit := int64(25)
	starterLimit := int64(500)
	repo := &fakeRepository{
		listFn: func(ctx context.Context, status enums.PlanStatus) ([]models.Plan, error) {
			return []models.Plan{
				{ID: "free", MonthlyPrice: decimal.Zero, Features: models.FeatureMap{
					"products": {Enabled: true, Limit: &freeLimit},
				}},
				{ID: "starter", MonthlyPrice: decimal.RequireFromString("29.99"), Features: models.FeatureMap{
					"products": {Enabled: true, Limit: &starterLimit},
				}},
				{ID: "growth", MonthlyPrice: decimal.RequireFromString("49.99"), Features: models.FeatureMap{
					"products": {Enabled: true},
				}},
			}, nil
		},
	}
	svc := newTestService(t, repo)

	// A user capped at 500 needs a plan with a strictly higher limit. The
	// cheaper plans both sit at or below the floor; only the unlimited one
	// qualifies.
	plan, err := svc.CheapestEnabling(context.Background(), "products", &starterLimit)
	if err != nil {
		t.Fatalf("CheapestEnabling: %v", err)
	}
	if plan == nil || plan.ID != "growth" {
		t.Fatalf("expected growth, got %+v", plan)
	}
}

func TestService_CheapestEnablingNoMatch(t *testing.T) {
	repo := &fakeRepository{
		listFn: func(ctx context.Context, status enums.PlanStatus) ([]models.Plan, error) {
			return []models.Plan{{ID: "free", Features: models.FeatureMap{}}}, nil
		},
	}
	svc := newTestService(t, repo)

	plan, err := svc.CheapestEnabling(context.Background(), "priority_support", nil)
	if err != nil {
		t.Fatalf("CheapestEnabling: %v", err)
	}
	if plan != nil {
		t.Fatalf("expected no plan, got %+v", plan)
	}
}
