package notifications

import (
	"fmt"

	"github.com/coachloop/coachloop-backend/pkg/email"
	"github.com/coachloop/coachloop-backend/pkg/enums"
	"github.com/coachloop/coachloop-backend/pkg/outbox/payloads"
)

func tierChangedMessage(payload payloads.TierChangedEvent) email.Message {
	if payload.Tier == enums.TierPremium {
		return email.Message{
			Subject:   "Welcome to CoachLoop Premium",
			PlainBody: "Your premium subscription is active. You now have full access to premium coaching features.",
		}
	}
	return email.Message{
		Subject:   "Your CoachLoop plan changed",
		PlainBody: fmt.Sprintf("Your account has moved to the %s plan. Premium features are no longer available.", payload.Tier),
	}
}

func paymentFailedMessage(payload payloads.PaymentFailedEvent) email.Message {
	body := "We could not collect payment for your CoachLoop subscription. Please update your payment method to keep your premium access."
	if payload.Status == enums.SubscriptionStatusUnpaid || payload.Status == enums.SubscriptionStatusCanceled {
		body = "Repeated payment failures ended your CoachLoop premium subscription. Start a new checkout whenever you want to resubscribe."
	}
	return email.Message{
		Subject:   "Payment failed for your CoachLoop subscription",
		PlainBody: body,
	}
}

func subscriptionCanceledMessage(payload payloads.SubscriptionCanceledEvent) email.Message {
	body := "Your CoachLoop premium subscription has been canceled. You can resubscribe at any time from your account settings."
	if payload.CanceledAt != nil {
		body = fmt.Sprintf("Your CoachLoop premium subscription was canceled on %s. You can resubscribe at any time from your account settings.", payload.CanceledAt.Format("January 2, 2006"))
	}
	return email.Message{
		Subject:   "Your CoachLoop subscription was canceled",
		PlainBody: body,
	}
}
