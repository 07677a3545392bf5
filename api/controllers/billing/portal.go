package billing

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/lodgebook/lodgebook-backend/api/responses"
	"github.com/lodgebook/lodgebook-backend/api/validators"
	billingsvc "github.com/lodgebook/lodgebook-backend/internal/billing"
	pkgerrors "github.com/lodgebook/lodgebook-backend/pkg/errors"
	"github.com/lodgebook/lodgebook-backend/pkg/logger"
)

type portalSessionRequest struct {
	UserID    string `json:"user_id" validate:"required,uuid"`
	ReturnURL string `json:"return_url,omitempty" validate:"omitempty,url"`
}

type portalSessionResponse struct {
	URL string `json:"url"`
}

// PortalSession hands the host off to the provider-hosted billing portal.
// The default return URL comes from configuration; callers may override it.
func PortalSession(svc *billingsvc.Service, defaultReturnURL string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		var payload portalSessionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := uuid.Parse(payload.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		returnURL := payload.ReturnURL
		if returnURL == "" {
			returnURL = defaultReturnURL
		}

		url, err := svc.PortalSession(r.Context(), userID, returnURL)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, portalSessionResponse{URL: url})
	}
}
