package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/coachloop/coachloop-backend/pkg/enums"
)

// TierChangedEvent is emitted whenever reconciliation moves a user between tiers.
type TierChangedEvent struct {
	UserID       uuid.UUID                `json:"user_id"`
	PreviousTier enums.Tier               `json:"previous_tier"`
	Tier         enums.Tier               `json:"tier"`
	Status       enums.SubscriptionStatus `json:"status"`
	PriceID      *string                  `json:"price_id,omitempty"`
}

// PaymentFailedEvent signals a failed invoice payment for the user's subscription.
type PaymentFailedEvent struct {
	UserID uuid.UUID                `json:"user_id"`
	Status enums.SubscriptionStatus `json:"status"`
}

// SubscriptionCanceledEvent is emitted when a subscription is fully deleted upstream.
type SubscriptionCanceledEvent struct {
	UserID     uuid.UUID  `json:"user_id"`
	CanceledAt *time.Time `json:"canceled_at,omitempty"`
}
