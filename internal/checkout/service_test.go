package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/coachloop/coachloop-backend/internal/billing"
	"github.com/coachloop/coachloop-backend/pkg/db/models"
	"github.com/coachloop/coachloop-backend/pkg/enums"
	pkgerrors "github.com/coachloop/coachloop-backend/pkg/errors"
	"github.com/coachloop/coachloop-backend/pkg/logger"
)

type stubBillingRepo struct {
	byUser  map[uuid.UUID]*models.BillingRecord
	created []*models.BillingRecord
	updated []*models.BillingRecord
}

func newStubBillingRepo() *stubBillingRepo {
	return &stubBillingRepo{byUser: map[uuid.UUID]*models.BillingRecord{}}
}

func (s *stubBillingRepo) WithTx(tx *gorm.DB) billing.Repository { return s }

func (s *stubBillingRepo) Create(ctx context.Context, record *models.BillingRecord) error {
	s.created = append(s.created, record)
	s.byUser[record.UserID] = record
	return nil
}

func (s *stubBillingRepo) Update(ctx context.Context, record *models.BillingRecord) error {
	s.updated = append(s.updated, record)
	return nil
}

func (s *stubBillingRepo) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.BillingRecord, error) {
	return s.byUser[userID], nil
}

func (s *stubBillingRepo) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.BillingRecord, error) {
	return nil, nil
}

func (s *stubBillingRepo) ListForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.BillingRecord, error) {
	return nil, nil
}

type stubUserFinder struct {
	user *models.User
	err  error
}

func (s *stubUserFinder) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.user, s.err
}

type stubStripeClient struct {
	customer       *stripe.Customer
	customerErr    error
	customersMade  int
	session        *stripe.CheckoutSession
	sessionErr     error
	sessionParams  *stripe.CheckoutSessionParams
	portal         *stripe.BillingPortalSession
	portalErr      error
	portalCustomer string
}

func (s *stubStripeClient) CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	s.customersMade++
	return s.customer, s.customerErr
}

func (s *stubStripeClient) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.sessionParams = params
	return s.session, s.sessionErr
}

func (s *stubStripeClient) CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	if params != nil && params.Customer != nil {
		s.portalCustomer = *params.Customer
	}
	return s.portal, s.portalErr
}

type stubTxRunner struct{}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func testUser() *models.User {
	return &models.User{
		ID:        uuid.New(),
		Email:     "client@example.com",
		FirstName: "Jordan",
		LastName:  "Lee",
		Role:      enums.MemberRoleClient,
	}
}

func newTestService(t *testing.T, repo *stubBillingRepo, users *stubUserFinder, client *stubStripeClient) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		BillingRepo:       repo,
		Users:             users,
		StripeClient:      client,
		Tiers:             billing.NewTierCatalog([]string{"price_premium"}),
		TransactionRunner: &stubTxRunner{},
		Logg:              logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return svc
}

func validInput() CreateSessionInput {
	return CreateSessionInput{
		PriceID:    "price_premium",
		SuccessURL: "https://app.example.com/billing/success",
		CancelURL:  "https://app.example.com/billing/cancel",
	}
}

func TestCreateSessionCreatesCustomerFirst(t *testing.T) {
	user := testUser()
	repo := newStubBillingRepo()
	client := &stubStripeClient{
		customer: &stripe.Customer{ID: "cus_new"},
		session:  &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/cs_1"},
	}
	svc := newTestService(t, repo, &stubUserFinder{user: user}, client)

	session, err := svc.CreateSession(context.Background(), user.ID, validInput())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_1" || session.URL == "" {
		t.Fatalf("unexpected session %+v", session)
	}

	if client.customersMade != 1 {
		t.Fatalf("expected one customer created, got %d", client.customersMade)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected billing record persisted before session, got %d", len(repo.created))
	}
	record := repo.created[0]
	if record.StripeCustomerID == nil || *record.StripeCustomerID != "cus_new" {
		t.Fatal("expected customer linkage persisted")
	}
	if record.Tier != enums.TierFree {
		t.Fatalf("fresh record must start free, got %s", record.Tier)
	}

	params := client.sessionParams
	if params == nil {
		t.Fatal("expected session params captured")
	}
	if params.Metadata["user_id"] != user.ID.String() {
		t.Fatal("expected user_id metadata on session")
	}
	if params.SubscriptionData == nil || params.SubscriptionData.Metadata["user_id"] != user.ID.String() {
		t.Fatal("expected user_id metadata on subscription data")
	}
	if params.ClientReferenceID == nil || *params.ClientReferenceID != user.ID.String() {
		t.Fatal("expected client reference id")
	}
}

func TestCreateSessionReusesExistingCustomer(t *testing.T) {
	user := testUser()
	repo := newStubBillingRepo()
	custID := "cus_existing"
	repo.byUser[user.ID] = &models.BillingRecord{
		UserID:           user.ID,
		Tier:             enums.TierFree,
		Status:           enums.SubscriptionStatusNone,
		StripeCustomerID: &custID,
	}
	client := &stubStripeClient{
		session: &stripe.CheckoutSession{ID: "cs_2", URL: "https://checkout.stripe.com/cs_2"},
	}
	svc := newTestService(t, repo, &stubUserFinder{user: user}, client)

	if _, err := svc.CreateSession(context.Background(), user.ID, validInput()); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if client.customersMade != 0 {
		t.Fatal("existing customer must be reused")
	}
	if client.sessionParams.Customer == nil || *client.sessionParams.Customer != custID {
		t.Fatal("expected session bound to existing customer")
	}
}

func TestCreateSessionRejectsUnknownPrice(t *testing.T) {
	user := testUser()
	svc := newTestService(t, newStubBillingRepo(), &stubUserFinder{user: user}, &stubStripeClient{})

	input := validInput()
	input.PriceID = "price_unknown"
	_, err := svc.CreateSession(context.Background(), user.ID, input)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateSessionUnknownUser(t *testing.T) {
	svc := newTestService(t, newStubBillingRepo(), &stubUserFinder{}, &stubStripeClient{})

	_, err := svc.CreateSession(context.Background(), uuid.New(), validInput())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateSessionStripeFailureIsDependency(t *testing.T) {
	user := testUser()
	client := &stubStripeClient{
		customer:   &stripe.Customer{ID: "cus_new"},
		sessionErr: errors.New("stripe unavailable"),
	}
	svc := newTestService(t, newStubBillingRepo(), &stubUserFinder{user: user}, client)

	_, err := svc.CreateSession(context.Background(), user.ID, validInput())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestPortalLinkRequiresCustomer(t *testing.T) {
	svc := newTestService(t, newStubBillingRepo(), &stubUserFinder{user: testUser()}, &stubStripeClient{})

	_, err := svc.PortalLink(context.Background(), uuid.New(), "https://app.example.com/settings")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPortalLinkReturnsURL(t *testing.T) {
	user := testUser()
	repo := newStubBillingRepo()
	custID := "cus_1"
	repo.byUser[user.ID] = &models.BillingRecord{
		UserID:           user.ID,
		Tier:             enums.TierPremium,
		Status:           enums.SubscriptionStatusActive,
		StripeCustomerID: &custID,
	}
	client := &stubStripeClient{
		portal: &stripe.BillingPortalSession{URL: "https://billing.stripe.com/p/session_1"},
	}
	svc := newTestService(t, repo, &stubUserFinder{user: user}, client)

	url, err := svc.PortalLink(context.Background(), user.ID, "https://app.example.com/settings")
	if err != nil {
		t.Fatalf("portal link: %v", err)
	}
	if url != "https://billing.stripe.com/p/session_1" {
		t.Fatalf("unexpected url %s", url)
	}
	if client.portalCustomer != custID {
		t.Fatal("expected portal session bound to customer")
	}
}
