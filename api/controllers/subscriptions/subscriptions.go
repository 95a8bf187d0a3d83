package subscriptions

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/storehubhq/storehub-backend/api/controllers/usercontext"
	"github.com/storehubhq/storehub-backend/api/middleware"
	"github.com/storehubhq/storehub-backend/api/responses"
	"github.com/storehubhq/storehub-backend/api/validators"
	subsvc "github.com/storehubhq/storehub-backend/internal/subscriptions"
	"github.com/storehubhq/storehub-backend/pkg/db/models"
	"github.com/storehubhq/storehub-backend/pkg/enums"
	pkgerrors "github.com/storehubhq/storehub-backend/pkg/errors"
	"github.com/storehubhq/storehub-backend/pkg/logger"
)

type createRequest struct {
	PlanID        string `json:"plan_id" validate:"required"`
	BillingPeriod string `json:"billing_period" validate:"omitempty,oneof=monthly annual"`
	Name          string `json:"name" validate:"omitempty,max=120"`
}

type changePlanRequest struct {
	PlanID        string `json:"plan_id" validate:"required"`
	BillingPeriod string `json:"billing_period" validate:"omitempty,oneof=monthly annual"`
	Name          string `json:"name" validate:"omitempty,max=120"`
}

type cancelRequest struct {
	Immediate bool   `json:"immediate"`
	Reason    string `json:"reason" validate:"omitempty,max=500"`
}

type subscriptionResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PlanID             string     `json:"plan_id"`
	BillingPeriod      string     `json:"billing_period"`
	Status             string     `json:"status"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	GraceDeadline      *time.Time `json:"grace_deadline,omitempty"`
	PendingPlanID      *string    `json:"pending_plan_id,omitempty"`
}

type checkoutResponse struct {
	Subscription *subscriptionResponse `json:"subscription"`
	PaymentLink  string                `json:"payment_link,omitempty"`
	Reference    string                `json:"reference,omitempty"`
}

type planChangeResponse struct {
	Subscription *subscriptionResponse `json:"subscription"`
	Applied      bool                  `json:"applied"`
	PaymentLink  string                `json:"payment_link,omitempty"`
	Reference    string                `json:"reference,omitempty"`
}

func newSubscriptionResponse(sub *models.Subscription) *subscriptionResponse {
	if sub == nil {
		return nil
	}
	return &subscriptionResponse{
		ID:                 sub.ID,
		PlanID:             sub.PlanID,
		BillingPeriod:      string(sub.BillingPeriod),
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		TrialEnd:           sub.TrialEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CancelledAt:        sub.CancelledAt,
		GraceDeadline:      sub.GraceDeadline,
		PendingPlanID:      sub.PendingPlanID,
	}
}

func parsePeriod(raw string) (enums.BillingPeriod, error) {
	if raw == "" {
		return enums.BillingPeriodMonthly, nil
	}
	return enums.ParseBillingPeriod(raw)
}

// SubscriptionCreate starts a subscription for the authenticated user,
// returning a payment link when the plan requires one.
func SubscriptionCreate(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := usercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		period, err := parsePeriod(payload.BillingPeriod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing period"))
			return
		}

		result, err := svc.Create(r.Context(), subsvc.CreateSubscriptionInput{
			UserID:        userID,
			PlanID:        payload.PlanID,
			BillingPeriod: period,
			Email:         middleware.EmailFromContext(r.Context()),
			Name:          payload.Name,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := checkoutResponse{
			Subscription: newSubscriptionResponse(result.Subscription),
			PaymentLink:  result.PaymentLink,
		}
		if result.Transaction != nil {
			resp.Reference = result.Transaction.Reference
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}

// SubscriptionFetch returns the caller's live subscription, or null data when
// they have none.
func SubscriptionFetch(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := usercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.GetForUser(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if sub == nil {
			responses.WriteSuccess(w, nil)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

// SubscriptionChangePlan moves the caller to another plan or billing period.
func SubscriptionChangePlan(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := usercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload changePlanRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		period, err := parsePeriod(payload.BillingPeriod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing period"))
			return
		}

		result, err := svc.ChangePlan(r.Context(), subsvc.ChangePlanInput{
			UserID:        userID,
			PlanID:        payload.PlanID,
			BillingPeriod: period,
			Email:         middleware.EmailFromContext(r.Context()),
			Name:          payload.Name,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := planChangeResponse{
			Subscription: newSubscriptionResponse(result.Subscription),
			Applied:      result.Applied,
			PaymentLink:  result.PaymentLink,
		}
		if result.Transaction != nil {
			resp.Reference = result.Transaction.Reference
		}
		responses.WriteSuccess(w, resp)
	}
}

// SubscriptionCancel cancels immediately or at the period boundary.
func SubscriptionCancel(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := usercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.Cancel(r.Context(), subsvc.CancelInput{
			UserID:    userID,
			Immediate: payload.Immediate,
			Reason:    payload.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

// SubscriptionVerify reconciles a checkout the user just returned from. The
// gateway, not the query string, decides the outcome.
func SubscriptionVerify(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := usercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		providerTxID, err := validators.RequireQueryString(r, "transaction_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.VerifyAndActivate(r.Context(), userID, providerTxID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}
