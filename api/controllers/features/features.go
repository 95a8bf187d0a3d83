package features

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storehubhq/storehub-backend/api/controllers/usercontext"
	"github.com/storehubhq/storehub-backend/api/responses"
	"github.com/storehubhq/storehub-backend/api/validators"
	featsvc "github.com/storehubhq/storehub-backend/internal/features"
	pkgerrors "github.com/storehubhq/storehub-backend/pkg/errors"
	"github.com/storehubhq/storehub-backend/pkg/logger"
)

type trackUsageRequest struct {
	Delta int64 `json:"delta" validate:"omitempty,min=1,max=1000"`
}

type accessResponse struct {
	Feature         string `json:"feature"`
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason,omitempty"`
	Limit           *int64 `json:"limit,omitempty"`
	Used            int64  `json:"used"`
	UpgradeRequired bool   `json:"upgrade_required"`
	SuggestedPlanID string `json:"suggested_plan_id,omitempty"`
}

type usageResponse struct {
	Feature string `json:"feature"`
	Used    int64  `json:"used"`
}

// FeatureAccess reports whether the caller's plan allows a feature right now.
func FeatureAccess(svc featsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "feature service unavailable"))
			return
		}

		userID, err := usercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		feature := chi.URLParam(r, "feature")
		decision, err := svc.CheckAccess(r.Context(), userID, feature)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, accessResponse{
			Feature:         feature,
			Allowed:         decision.Allowed,
			Reason:          decision.Reason,
			Limit:           decision.Limit,
			Used:            decision.Used,
			UpgradeRequired: decision.UpgradeRequired,
			SuggestedPlanID: decision.SuggestedPlanID,
		})
	}
}

// TrackUsage meters one use of a bounded feature.
func TrackUsage(svc featsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "feature service unavailable"))
			return
		}

		userID, err := usercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload trackUsageRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		delta := payload.Delta
		if delta == 0 {
			delta = 1
		}

		feature := chi.URLParam(r, "feature")
		used, err := svc.TrackUsage(r.Context(), userID, feature, delta)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, usageResponse{Feature: feature, Used: used})
	}
}
