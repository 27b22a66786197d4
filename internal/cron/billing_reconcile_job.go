package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/coachloop/coachloop-backend/internal/billing"
	stripewebhook "github.com/coachloop/coachloop-backend/internal/webhooks/stripe"
	"github.com/coachloop/coachloop-backend/pkg/db/models"
	"github.com/coachloop/coachloop-backend/pkg/logger"
)

const (
	defaultReconcileLimit    = 100
	defaultReconcileLookback = 24 * time.Hour
)

// BillingReconcileJobParams configures the billing sweep cron job.
type BillingReconcileJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	BillingRepo  billing.Repository
	StripeClient stripewebhook.StripeSubscriptionClient
	Tiers        billing.TierCatalog
	Limit        int
	Lookback     time.Duration
}

// NewBillingReconcileJob builds a job that re-fetches live subscriptions from
// Stripe and overwrites local records, repairing drift from missed webhooks.
func NewBillingReconcileJob(params BillingReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.StripeClient == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &billingReconcileJob{
		logg:        params.Logger,
		db:          params.DB,
		billingRepo: params.BillingRepo,
		stripe:      params.StripeClient,
		tiers:       params.Tiers,
		limit:       limit,
		lookback:    lookback,
	}, nil
}

type billingReconcileJob struct {
	logg        *logger.Logger
	db          txRunner
	billingRepo billing.Repository
	stripe      stripewebhook.StripeSubscriptionClient
	tiers       billing.TierCatalog
	limit       int
	lookback    time.Duration
}

func (j *billingReconcileJob) Name() string { return "billing-reconcile" }

func (j *billingReconcileJob) Run(ctx context.Context) error {
	snapshot, err := j.billingRepo.ListForReconciliation(ctx, j.limit, j.lookback)
	if err != nil {
		return fmt.Errorf("list billing records for reconciliation: %w", err)
	}
	var errs error
	synced := 0
	for i := range snapshot {
		if err := j.reconcileRecord(ctx, &snapshot[i]); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		synced++
	}
	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(snapshot),
		"synced":     synced,
	})
	j.logg.Info(reportCtx, "billing reconcile loop complete")
	return errs
}

func (j *billingReconcileJob) reconcileRecord(ctx context.Context, record *models.BillingRecord) error {
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"user_id":                record.UserID.String(),
		"stripe_subscription_id": record.StripeSubscriptionID,
	})
	if record.StripeSubscriptionID == nil || *record.StripeSubscriptionID == "" {
		j.logg.Info(logCtx, "record has no subscription; skipping")
		return nil
	}

	sub, err := j.stripe.Get(logCtx, *record.StripeSubscriptionID, nil)
	if err != nil {
		return fmt.Errorf("fetch stripe subscription %s: %w", *record.StripeSubscriptionID, err)
	}
	if sub == nil {
		j.logg.Info(logCtx, "subscription gone upstream; skipping")
		return nil
	}

	if err := j.db.WithTx(logCtx, func(tx *gorm.DB) error {
		repo := j.billingRepo.WithTx(tx)
		stored, err := repo.FindByUserID(logCtx, record.UserID)
		if err != nil {
			return err
		}
		if stored == nil {
			j.logg.Info(logCtx, "record removed from db; skipping")
			return nil
		}
		if err := billing.ApplySubscription(stored, sub, j.tiers); err != nil {
			return err
		}
		if err := repo.Update(logCtx, stored); err != nil {
			return err
		}
		successCtx := j.logg.WithFields(logCtx, map[string]any{
			"status": stored.Status,
			"tier":   stored.Tier,
		})
		j.logg.Info(successCtx, "billing record reconciled")
		return nil
	}); err != nil {
		return fmt.Errorf("persist billing reconciliation: %w", err)
	}
	return nil
}
