package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/coachloop/coachloop-backend/pkg/db/models"
	"github.com/coachloop/coachloop-backend/pkg/enums"
	pkgerrors "github.com/coachloop/coachloop-backend/pkg/errors"
)

// ApplySubscription overwrites the record's subscription-derived fields with
// the provider's current view. Every call is a full overwrite so replayed or
// reordered events converge on the same state.
func ApplySubscription(record *models.BillingRecord, sub *stripe.Subscription, catalog TierCatalog) error {
	if record == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "target billing record is nil")
	}
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}

	status := mapStripeStatus(sub.Status)
	priceID := priceIDFromSubscription(sub)

	record.StripeSubscriptionID = trimmedPtr(sub.ID)
	if sub.Customer != nil {
		if id := trimmedPtr(sub.Customer.ID); id != nil {
			record.StripeCustomerID = id
		}
	}
	record.Status = status
	record.PriceID = priceID
	record.CurrentPeriodEnd = periodEndFromSubscription(sub)
	record.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	record.CancellationDate = toTimePtr(sub.CanceledAt)
	record.Tier = catalog.TierFor(priceID, status)
	return nil
}

// ApplyPaymentFailure mirrors the provider status after a failed invoice
// without touching price or period fields. Tier drops to free only when the
// status means the subscription is gone.
func ApplyPaymentFailure(record *models.BillingRecord, status enums.SubscriptionStatus) error {
	if record == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "target billing record is nil")
	}
	record.Status = status
	if status == enums.SubscriptionStatusCanceled || status == enums.SubscriptionStatusUnpaid {
		record.Tier = enums.TierFree
	}
	return nil
}

// ClearSubscription handles upstream deletion: entitlements drop to free and
// the subscription linkage fields are cleared. The customer id survives so
// future checkouts reuse the same Stripe customer.
func ClearSubscription(record *models.BillingRecord, sub *stripe.Subscription) error {
	if record == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "target billing record is nil")
	}
	record.Tier = enums.TierFree
	record.Status = enums.SubscriptionStatusCanceled
	if sub != nil {
		record.Status = mapStripeStatus(sub.Status)
		record.CancellationDate = toTimePtr(sub.CanceledAt)
	}
	if record.CancellationDate == nil {
		now := time.Now().UTC()
		record.CancellationDate = &now
	}
	record.StripeSubscriptionID = nil
	record.PriceID = nil
	record.CurrentPeriodEnd = nil
	record.CancelAtPeriodEnd = false
	return nil
}

// UserIDFromMetadata extracts the internal user id attached to checkout
// session or subscription metadata. That metadata is the only trusted link
// between Stripe objects and local users.
func UserIDFromMetadata(metadata map[string]string) (uuid.UUID, error) {
	if metadata == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "metadata is required")
	}
	raw, ok := metadata["user_id"]
	if !ok || strings.TrimSpace(raw) == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "user_id missing from metadata")
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id metadata")
	}
	return id, nil
}

// StatusFromStripe maps a provider status onto the local enum.
func StatusFromStripe(raw stripe.SubscriptionStatus) enums.SubscriptionStatus {
	return mapStripeStatus(raw)
}

func mapStripeStatus(raw stripe.SubscriptionStatus) enums.SubscriptionStatus {
	normalized := strings.ToLower(strings.TrimSpace(string(raw)))
	if normalized == "" {
		return enums.SubscriptionStatusNone
	}
	if parsed, err := enums.ParseSubscriptionStatus(normalized); err == nil {
		return parsed
	}
	// Statuses this system doesn't model (e.g. paused) keep the record
	// conservative: not entitled, not erased.
	return enums.SubscriptionStatusPastDue
}

func priceIDFromSubscription(sub *stripe.Subscription) *string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	item := sub.Items.Data[0]
	if item == nil || item.Price == nil {
		return nil
	}
	return trimmedPtr(item.Price.ID)
}

func periodEndFromSubscription(sub *stripe.Subscription) *time.Time {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return toTimePtr(sub.Items.Data[0].CurrentPeriodEnd)
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func trimmedPtr(value string) *string {
	if s := strings.TrimSpace(value); s != "" {
		return &s
	}
	return nil
}
