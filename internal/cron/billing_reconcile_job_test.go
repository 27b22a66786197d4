package cron

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
	"github.com/coachloop/coachloop-backend/pkg/logger"
)

type stubTxRunner struct{}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubReconcileRepo struct {
	records []models.BillingRecord
	byUser  map[uuid.UUID]*models.BillingRecord
	updated []*models.BillingRecord
	listErr error
}

func (s *stubReconcileRepo) WithTx(tx *gorm.DB) billing.Repository { return s }
func (s *stubReconcileRepo) Create(ctx context.Context, record *models.BillingRecord) error {
	return nil
}
func (s *stubReconcileRepo) Update(ctx context.Context, record *models.BillingRecord) error {
	s.updated = append(s.updated, record)
	return nil
}
func (s *stubReconcileRepo) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.BillingRecord, error) {
	return s.byUser[userID], nil
}
func (s *stubReconcileRepo) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.BillingRecord, error) {
	return nil, nil
}
func (s *stubReconcileRepo) ListForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.BillingRecord, error) {
	return s.records, s.listErr
}

type stubSubscriptionFetcher struct {
	subs map[string]*stripe.Subscription
	errs map[string]error
}

func (s *stubSubscriptionFetcher) Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if err, ok := s.errs[id]; ok {
		return nil, err
	}
	return s.subs[id], nil
}

func reconcileRecord(userID uuid.UUID, subID string) models.BillingRecord {
	return models.BillingRecord{
		UserID:               userID,
		Tier:                 enums.TierPremium,
		Status:               enums.SubscriptionStatusActive,
		StripeSubscriptionID: &subID,
	}
}

func newReconcileJob(t *testing.T, repo *stubReconcileRepo, fetcher *stubSubscriptionFetcher) Job {
	t.Helper()
	job, err := NewBillingReconcileJob(BillingReconcileJobParams{
		Logger:       logger.New(logger.Options{ServiceName: "cron-test"}),
		DB:           &stubTxRunner{},
		BillingRepo:  repo,
		StripeClient: fetcher,
		Tiers:        billing.NewTierCatalog([]string{"price_premium"}),
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	return job
}

func TestBillingReconcileOverwritesDriftedRecord(t *testing.T) {
	userID := uuid.New()
	record := reconcileRecord(userID, "sub_1")
	repo := &stubReconcileRepo{
		records: []models.BillingRecord{record},
		byUser:  map[uuid.UUID]*models.BillingRecord{userID: &record},
	}
	// Stripe says the subscription is canceled even though the record is active.
	fetcher := &stubSubscriptionFetcher{subs: map[string]*stripe.Subscription{
		"sub_1": {
			ID:       "sub_1",
			Status:   stripe.SubscriptionStatusCanceled,
			Customer: &stripe.Customer{ID: "cus_1"},
			Items: &stripe.SubscriptionItemList{
				Data: []*stripe.SubscriptionItem{{Price: &stripe.Price{ID: "price_premium"}}},
			},
		},
	}}

	job := newReconcileJob(t, repo, fetcher)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(repo.updated) != 1 {
		t.Fatalf("expected one update, got %d", len(repo.updated))
	}
	updated := repo.updated[0]
	if updated.Status != enums.SubscriptionStatusCanceled || updated.Tier != enums.TierFree {
		t.Fatalf("expected canceled/free after sweep, got %s/%s", updated.Status, updated.Tier)
	}
}

func TestBillingReconcileContinuesPastFailures(t *testing.T) {
	userA := uuid.New()
	userB := uuid.New()
	recordA := reconcileRecord(userA, "sub_broken")
	recordB := reconcileRecord(userB, "sub_ok")
	repo := &stubReconcileRepo{
		records: []models.BillingRecord{recordA, recordB},
		byUser: map[uuid.UUID]*models.BillingRecord{
			userA: &recordA,
			userB: &recordB,
		},
	}
	fetcher := &stubSubscriptionFetcher{
		subs: map[string]*stripe.Subscription{
			"sub_ok": {
				ID:       "sub_ok",
				Status:   stripe.SubscriptionStatusActive,
				Customer: &stripe.Customer{ID: "cus_b"},
				Items: &stripe.SubscriptionItemList{
					Data: []*stripe.SubscriptionItem{{Price: &stripe.Price{ID: "price_premium"}}},
				},
			},
		},
		errs: map[string]error{"sub_broken": errors.New("stripe unavailable")},
	}

	job := newReconcileJob(t, repo, fetcher)
	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error for the failed record")
	}
	if len(repo.updated) != 1 {
		t.Fatalf("healthy record must still sync, got %d updates", len(repo.updated))
	}
	if repo.updated[0].UserID != userB {
		t.Fatal("wrong record updated")
	}
}

func TestBillingReconcileSkipsRecordsWithoutSubscription(t *testing.T) {
	userID := uuid.New()
	record := models.BillingRecord{UserID: userID, Tier: enums.TierFree, Status: enums.SubscriptionStatusNone}
	repo := &stubReconcileRepo{
		records: []models.BillingRecord{record},
		byUser:  map[uuid.UUID]*models.BillingRecord{userID: &record},
	}

	job := newReconcileJob(t, repo, &stubSubscriptionFetcher{})
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(repo.updated) != 0 {
		t.Fatal("records without subscriptions must be skipped")
	}
}
