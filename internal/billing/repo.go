package billing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coachloop/coachloop-backend/pkg/db/models"
	"github.com/coachloop/coachloop-backend/pkg/enums"
)

// Repository handles billing record persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.BillingRecord) error
	Update(ctx context.Context, record *models.BillingRecord) error
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.BillingRecord, error)
	FindByStripeCustomerID(ctx context.Context, customerID string) (*models.BillingRecord, error)
	ListForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.BillingRecord, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.BillingRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// Update writes only the reconciler-owned columns so cleared pointers persist
// as NULL without touching ownership or audit fields.
func (r *repository) Update(ctx context.Context, record *models.BillingRecord) error {
	return r.db.WithContext(ctx).
		Model(record).
		Select(
			"tier",
			"status",
			"stripe_customer_id",
			"stripe_subscription_id",
			"price_id",
			"current_period_end",
			"cancel_at_period_end",
			"cancellation_date",
			"updated_at",
		).
		Updates(record).Error
}

func (r *repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.BillingRecord, error) {
	var record models.BillingRecord
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.BillingRecord, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, nil
	}
	var record models.BillingRecord
	if err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.BillingRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-lookback)
	statuses := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusIncomplete,
		enums.SubscriptionStatusUnpaid,
	}
	var records []models.BillingRecord
	query := r.db.WithContext(ctx).
		Model(&models.BillingRecord{}).
		Where("stripe_subscription_id IS NOT NULL").
		Where("(status IN (?) OR cancel_at_period_end OR current_period_end >= ?)", statuses, cutoff).
		Order("updated_at ASC").
		Limit(limit)
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
