package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/coachloop/coachloop-backend/internal/billing"
	"github.com/coachloop/coachloop-backend/pkg/db/models"
	"github.com/coachloop/coachloop-backend/pkg/enums"
	pkgerrors "github.com/coachloop/coachloop-backend/pkg/errors"
	"github.com/coachloop/coachloop-backend/pkg/logger"
)

type userFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the checkout service.
type ServiceParams struct {
	BillingRepo       billing.Repository
	Users             userFinder
	StripeClient      StripeCheckoutClient
	Tiers             billing.TierCatalog
	TransactionRunner txRunner
	Logg              *logger.Logger
}

// CreateSessionInput captures what a caller supplies to start a checkout.
type CreateSessionInput struct {
	PriceID    string `json:"price_id" validate:"required"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"required,url"`
}

// Session is the slice of the Stripe checkout session callers need.
type Session struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// Service starts Stripe checkout sessions and billing portal sessions.
// It owns the customer linkage: the Stripe customer is created and persisted
// before the session so a webhook arriving mid-flow can already resolve it.
type Service struct {
	billingRepo billing.Repository
	users       userFinder
	stripe      StripeCheckoutClient
	tiers       billing.TierCatalog
	txRunner    txRunner
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repo required")
	}
	if params.StripeClient == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		billingRepo: params.BillingRepo,
		users:       params.Users,
		stripe:      params.StripeClient,
		tiers:       params.Tiers,
		txRunner:    params.TransactionRunner,
		logg:        params.Logg,
	}, nil
}

// CreateSession opens a subscription checkout for the given user. The user id
// rides along as session and subscription metadata so webhook reconciliation
// can link the resulting objects back to the account.
func (s *Service) CreateSession(ctx context.Context, userID uuid.UUID, input CreateSessionInput) (*Session, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	priceID := strings.TrimSpace(input.PriceID)
	if priceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price_id is required")
	}
	if !s.tiers.IsPremiumPrice(priceID) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown price_id")
	}
	if strings.TrimSpace(input.SuccessURL) == "" || strings.TrimSpace(input.CancelURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "success_url and cancel_url are required")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(userID.String()),
		SuccessURL:        stripe.String(strings.TrimSpace(input.SuccessURL)),
		CancelURL:         stripe.String(strings.TrimSpace(input.CancelURL)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		}},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": userID.String()},
		},
	}
	params.Metadata = map[string]string{"user_id": userID.String()}

	session, err := s.stripe.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	logCtx := s.logg.WithUserID(ctx, userID.String())
	s.logg.Info(logCtx, "checkout session created")
	return &Session{ID: session.ID, URL: session.URL}, nil
}

// PortalLink returns a billing portal URL for an existing Stripe customer.
func (s *Service) PortalLink(ctx context.Context, userID uuid.UUID, returnURL string) (string, error) {
	if userID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(returnURL) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "return_url is required")
	}

	record, err := s.billingRepo.FindByUserID(ctx, userID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing record")
	}
	if record == nil || record.StripeCustomerID == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "no billing profile for user")
	}

	session, err := s.stripe.CreatePortalSession(ctx, &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(*record.StripeCustomerID),
		ReturnURL: stripe.String(strings.TrimSpace(returnURL)),
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create portal session")
	}
	return session.URL, nil
}

// ensureCustomer returns the user's Stripe customer id, creating the customer
// and persisting the linkage first when the user has none.
func (s *Service) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	record, err := s.billingRepo.FindByUserID(ctx, user.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing record")
	}
	if record != nil && record.StripeCustomerID != nil {
		return *record.StripeCustomerID, nil
	}

	customerParams := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(strings.TrimSpace(user.FirstName + " " + user.LastName)),
	}
	customerParams.Metadata = map[string]string{"user_id": user.ID.String()}

	created, err := s.stripe.CreateCustomer(ctx, customerParams)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe customer")
	}
	customerID := created.ID

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindByUserID(ctx, user.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing record")
		}
		if stored == nil {
			return repo.Create(ctx, &models.BillingRecord{
				UserID:           user.ID,
				Tier:             enums.TierFree,
				Status:           enums.SubscriptionStatusNone,
				StripeCustomerID: &customerID,
			})
		}
		if stored.StripeCustomerID != nil {
			// Lost the race against a concurrent checkout, reuse the winner.
			customerID = *stored.StripeCustomerID
			return nil
		}
		stored.StripeCustomerID = &customerID
		return repo.Update(ctx, stored)
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist customer linkage")
	}
	return customerID, nil
}
