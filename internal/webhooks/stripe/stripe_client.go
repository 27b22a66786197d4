package stripewebhook

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/subscription"

	pkgstripe "github.com/coachloop/coachloop-backend/pkg/stripe"
)

// StripeSubscriptionClient exposes the subset of Stripe operations the reconciler needs.
type StripeSubscriptionClient interface {
	Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the provided Stripe client so the reconciler can be tested.
func NewStripeClient(api *pkgstripe.Client) StripeSubscriptionClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if params == nil {
		params = &stripe.SubscriptionParams{}
	}
	params.Context = ctx
	return subscription.Get(id, params)
}
