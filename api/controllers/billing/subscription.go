package billing

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lodgebook/lodgebook-backend/api/responses"
	billingsvc "github.com/lodgebook/lodgebook-backend/internal/billing"
	"github.com/lodgebook/lodgebook-backend/pkg/db/models"
	pkgerrors "github.com/lodgebook/lodgebook-backend/pkg/errors"
	"github.com/lodgebook/lodgebook-backend/pkg/logger"
)

type subscriptionResponse struct {
	ID                   uuid.UUID  `json:"id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	PlanType             string     `json:"plan_type"`
	Status               string     `json:"status"`
	Recurring            bool       `json:"recurring"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	TrialEnd             *time.Time `json:"trial_end,omitempty"`
	TrialRemainingDays   int        `json:"trial_remaining_days"`
	TrialConsumed        bool       `json:"trial_consumed"`
	CanceledAt           *time.Time `json:"canceled_at,omitempty"`
}

// Subscription returns the dashboard view of the user's subscription.
func Subscription(svc *billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		userID, err := uuid.Parse(chi.URLParam(r, "userId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		sub, err := svc.Subscription(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

func newSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                   sub.ID,
		StripeSubscriptionID: sub.StripeSubscriptionID,
		PlanType:             sub.PlanType.String(),
		Status:               sub.Status.String(),
		Recurring:            sub.Recurring,
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		TrialEnd:             sub.TrialEnd,
		TrialRemainingDays:   sub.TrialRemainingDays,
		TrialConsumed:        sub.TrialConsumed,
		CanceledAt:           sub.CanceledAt,
	}
}
