package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/pushpay-backend/api/middleware"
	"github.com/angelmondragon/pushpay-backend/api/responses"
	"github.com/angelmondragon/pushpay-backend/api/validators"
	"github.com/angelmondragon/pushpay-backend/internal/reconciliation"
	"github.com/angelmondragon/pushpay-backend/internal/status"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

const maxStatusRefLen = 128

type paymentInitiator interface {
	Initiate(ctx context.Context, req reconciliation.InitiateRequest) (reconciliation.InitiateResult, error)
}

type statusReader interface {
	GetStatus(ctx context.Context, ownerID uuid.UUID, ref string) (status.Status, error)
}

type initiatePaymentRequest struct {
	PayerIdentifier  string  `json:"payerIdentifier" validate:"required,max=20"`
	Amount           int64   `json:"amount" validate:"gt=0"`
	Purpose          string  `json:"purpose" validate:"required"`
	PurposeReference *string `json:"purposeReference,omitempty" validate:"omitempty,max=64"`
	Message          *string `json:"message,omitempty" validate:"omitempty,max=280"`
}

type initiatePaymentResponse struct {
	CorrelationToken string            `json:"correlationToken"`
	State            enums.IntentState `json:"state"`
	Degraded         bool              `json:"degraded"`
	Message          string            `json:"message,omitempty"`
}

// InitiatePayment starts a push payment for the authenticated owner. A
// degraded result is still 202: the prompt reached the payer.
func InitiatePayment(svc paymentInitiator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		ownerID, err := ownerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload initiatePaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		purpose, err := enums.ParsePaymentPurpose(payload.Purpose)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "purpose must be store_order, subscription or tip").
				WithDetails(map[string]string{"purpose": "is invalid"}))
			return
		}

		if payload.Message != nil {
			cleaned := validators.SanitizeString(*payload.Message, 0)
			payload.Message = &cleaned
		}

		result, err := svc.Initiate(r.Context(), reconciliation.InitiateRequest{
			OwnerID:          ownerID,
			PayerIdentifier:  payload.PayerIdentifier,
			Amount:           payload.Amount,
			Purpose:          purpose,
			PurposeReference: payload.PurposeReference,
			Message:          payload.Message,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, initiatePaymentResponse{
			CorrelationToken: result.CorrelationToken,
			State:            result.State,
			Degraded:         result.Degraded,
			Message:          result.Message,
		})
	}
}

// PaymentStatus answers client polls for ?ref=, a correlation token or a
// purpose reference. Foreign and unknown refs are both 404.
func PaymentStatus(svc statusReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "status service unavailable"))
			return
		}

		ownerID, err := ownerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ref, err := validators.RequireQueryString(r, "ref", maxStatusRefLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out, err := svc.GetStatus(r.Context(), ownerID, ref)
		if err != nil {
			if errors.Is(err, status.ErrNotFound) {
				err = pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "payment not found")
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

func ownerIDFromContext(r *http.Request) (uuid.UUID, error) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return principal.UserID, nil
}
