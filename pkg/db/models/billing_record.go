package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/coachloop/coachloop-backend/pkg/enums"
)

// BillingRecord persists per-user subscription state mirrored from Stripe.
// One row per user; the Stripe customer id doubles as the lookup key for
// webhook events that carry no internal user reference.
type BillingRecord struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID                `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	Tier                 enums.Tier               `gorm:"column:tier;type:tier;not null;default:'free'"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'none'"`
	StripeCustomerID     *string                  `gorm:"column:stripe_customer_id;uniqueIndex"`
	StripeSubscriptionID *string                  `gorm:"column:stripe_subscription_id"`
	PriceID              *string                  `gorm:"column:price_id"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CancellationDate     *time.Time               `gorm:"column:cancellation_date"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
