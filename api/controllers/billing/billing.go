package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/coachloop/coachloop-backend/api/middleware"
	"github.com/coachloop/coachloop-backend/api/responses"
	"github.com/coachloop/coachloop-backend/api/validators"
	"github.com/coachloop/coachloop-backend/internal/checkout"
	"github.com/coachloop/coachloop-backend/pkg/db/models"
	pkgerrors "github.com/coachloop/coachloop-backend/pkg/errors"
	"github.com/coachloop/coachloop-backend/pkg/logger"
)

type CheckoutService interface {
	CreateSession(ctx context.Context, userID uuid.UUID, input checkout.CreateSessionInput) (*checkout.Session, error)
	PortalLink(ctx context.Context, userID uuid.UUID, returnURL string) (string, error)
}

type RecordService interface {
	GetRecordForUser(ctx context.Context, userID uuid.UUID) (*models.BillingRecord, error)
}

type portalLinkRequest struct {
	ReturnURL string `json:"return_url" validate:"required,url"`
}

type portalLinkResponse struct {
	URL string `json:"url"`
}

type billingRecordResponse struct {
	Tier              string     `json:"tier"`
	Status            string     `json:"status"`
	PriceID           *string    `json:"price_id,omitempty"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CancellationDate  *time.Time `json:"cancellation_date,omitempty"`
	HasBillingProfile bool       `json:"has_billing_profile"`
}

// CreateCheckoutSession starts a subscription checkout for the caller.
func CreateCheckoutSession(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkout.CreateSessionInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.CreateSession(r.Context(), userID, payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

// PortalLink returns a Stripe billing portal URL for the caller.
func PortalLink(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload portalLinkRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		url, err := svc.PortalLink(r.Context(), userID, payload.ReturnURL)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, portalLinkResponse{URL: url})
	}
}

// GetRecord returns the caller's billing record for client-side gating.
func GetRecord(svc RecordService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.GetRecordForUser(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newBillingRecordResponse(record))
	}
}

func newBillingRecordResponse(record *models.BillingRecord) billingRecordResponse {
	return billingRecordResponse{
		Tier:              string(record.Tier),
		Status:            string(record.Status),
		PriceID:           record.PriceID,
		CurrentPeriodEnd:  record.CurrentPeriodEnd,
		CancelAtPeriodEnd: record.CancelAtPeriodEnd,
		CancellationDate:  record.CancellationDate,
		HasBillingProfile: record.StripeCustomerID != nil,
	}
}

func callerID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return userID, nil
}
