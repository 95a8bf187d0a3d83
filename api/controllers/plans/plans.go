package plans

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storehubhq/storehub-backend/api/responses"
	"github.com/storehubhq/storehub-backend/api/validators"
	plansvc "github.com/storehubhq/storehub-backend/internal/plans"
	"github.com/storehubhq/storehub-backend/pkg/db/models"
	pkgerrors "github.com/storehubhq/storehub-backend/pkg/errors"
	"github.com/storehubhq/storehub-backend/pkg/logger"
)

type upsertRequest struct {
	Name         string            `json:"name" validate:"required,max=120"`
	Description  string            `json:"description" validate:"omitempty,max=1000"`
	MonthlyPrice string            `json:"monthly_price" validate:"required"`
	AnnualPrice  string            `json:"annual_price" validate:"required"`
	CurrencyCode string            `json:"currency_code" validate:"omitempty,len=3"`
	TrialDays    int               `json:"trial_days" validate:"omitempty,min=0,max=365"`
	IsDefault    bool              `json:"is_default"`
	Features     models.FeatureMap `json:"features"`
}

type planResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Status       string            `json:"status"`
	MonthlyPrice string            `json:"monthly_price"`
	AnnualPrice  string            `json:"annual_price"`
	CurrencyCode string            `json:"currency_code"`
	TrialDays    int               `json:"trial_days"`
	IsDefault    bool              `json:"is_default"`
	Features     models.FeatureMap `json:"features"`
}

func newPlanResponse(plan *models.Plan) *planResponse {
	if plan == nil {
		return nil
	}
	return &planResponse{
		ID:           plan.ID,
		Name:         plan.Name,
		Description:  plan.Description,
		Status:       string(plan.Status),
		MonthlyPrice: plan.MonthlyPrice.StringFixed(2),
		AnnualPrice:  plan.AnnualPrice.StringFixed(2),
		CurrencyCode: plan.CurrencyCode,
		TrialDays:    plan.TrialDays,
		IsDefault:    plan.IsDefault,
		Features:     plan.Features,
	}
}

// ListPlans returns the active catalog, cheapest first.
func ListPlans(svc plansvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}

		plans, err := svc.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]*planResponse, 0, len(plans))
		for i := range plans {
			out = append(out, newPlanResponse(&plans[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func GetPlan(svc plansvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}

		plan, err := svc.Get(r.Context(), chi.URLParam(r, "planId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlanResponse(plan))
	}
}

// AdminUpsertPlan creates or replaces a catalog entry.
func AdminUpsertPlan(svc plansvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}

		var payload upsertRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		plan, err := svc.Upsert(r.Context(), plansvc.UpsertPlanInput{
			ID:           chi.URLParam(r, "planId"),
			Name:         payload.Name,
			Description:  payload.Description,
			MonthlyPrice: payload.MonthlyPrice,
			AnnualPrice:  payload.AnnualPrice,
			CurrencyCode: payload.CurrencyCode,
			TrialDays:    payload.TrialDays,
			IsDefault:    payload.IsDefault,
			Features:     payload.Features,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlanResponse(plan))
	}
}

// AdminArchivePlan retires a plan from sale. Existing subscribers keep it.
func AdminArchivePlan(svc plansvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}

		if err := svc.Archive(r.Context(), chi.URLParam(r, "planId")); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}
