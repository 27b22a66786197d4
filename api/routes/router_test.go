package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/coachloop/coachloop-backend/internal/checkout"
	stripewebhook "github.com/coachloop/coachloop-backend/internal/webhooks/stripe"
	pkgAuth "github.com/coachloop/coachloop-backend/pkg/auth"
	"github.com/coachloop/coachloop-backend/pkg/config"
	"github.com/coachloop/coachloop-backend/pkg/db/models"
	"github.com/coachloop/coachloop-backend/pkg/enums"
	"github.com/coachloop/coachloop-backend/pkg/logger"
	pkgstripe "github.com/coachloop/coachloop-backend/pkg/stripe"
	"github.com/stripe/stripe-go/v84"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubWebhookService struct{}

func (stubWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	return nil
}

type stubCheckoutService struct{}

func (stubCheckoutService) CreateSession(ctx context.Context, userID uuid.UUID, input checkout.CreateSessionInput) (*checkout.Session, error) {
	return &checkout.Session{ID: "cs_1", URL: "https://checkout.stripe.com/cs_1"}, nil
}

func (stubCheckoutService) PortalLink(ctx context.Context, userID uuid.UUID, returnURL string) (string, error) {
	return "https://billing.stripe.com/p/session", nil
}

type stubRecordService struct{}

func (stubRecordService) GetRecordForUser(ctx context.Context, userID uuid.UUID) (*models.BillingRecord, error) {
	return &models.BillingRecord{
		UserID: userID,
		Tier:   enums.TierFree,
		Status: enums.SubscriptionStatusNone,
	}, nil
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *memoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("cl:idempotency:%s:%s", scope, id)
}

func (s *memoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "coachloop",
			ExpirationMinutes: 60,
		},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})

	stripeClient, err := pkgstripe.NewClient(context.Background(), config.StripeConfig{
		APIKey:        "sk_test_123",
		WebhookSecret: "whsec_test",
	}, logg)
	if err != nil {
		t.Fatalf("stripe client: %v", err)
	}

	guard, err := stripewebhook.NewIdempotencyGuard(newMemoryStore(), time.Minute, stripewebhook.IdempotencyScope)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}

	return NewRouter(Deps{
		Config:         cfg,
		Logger:         logg,
		DB:             stubPinger{},
		Redis:          stubPinger{},
		StripeClient:   stripeClient,
		WebhookService: stubWebhookService{},
		WebhookGuard:   guard,
		Checkout:       stubCheckoutService{},
		Billing:        stubRecordService{},
	})
}

func buildToken(t *testing.T, cfg *config.Config) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.MemberRoleClient,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t, testConfig())

	for _, path := range []string{"/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s got %d", path, resp.Code)
		}
		if resp.Header().Get("X-CoachLoop-Env") != "test" {
			t.Fatalf("expected env header on %s", path)
		}
	}
}

func TestHealthReadyFailsWhenStoreDown(t *testing.T) {
	cfg := testConfig()
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	router := NewRouter(Deps{
		Config: cfg,
		Logger: logg,
		DB:     stubPinger{err: fmt.Errorf("connection refused")},
		Redis:  stubPinger{},
	})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when db is down got %d", resp.Code)
	}
}

func TestBillingGroupRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/record", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestBillingGroupSucceedsWithJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/record", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for billing record got %d (%s)", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data struct {
			Tier string `json:"tier"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Tier != string(enums.TierFree) {
		t.Fatalf("unexpected tier %q", envelope.Data.Tier)
	}
}

func TestCheckoutSessionRouteRequiresAuth(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)

	body := `{"price_id":"price_premium","success_url":"https://a.io/s","cancel_url":"https://a.io/c"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout-session", strings.NewReader(body))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}

	authed := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout-session", strings.NewReader(body))
	authed.Header.Set("Authorization", "Bearer "+buildToken(t, cfg))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, authed)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 for checkout session got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestWebhookRouteIsPublicButSigned(t *testing.T) {
	router := newTestRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature got %d", resp.Code)
	}
}
