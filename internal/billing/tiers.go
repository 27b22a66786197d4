package billing

import (
	"strings"

	"github.com/coachloop/coachloop-backend/pkg/enums"
)

// TierCatalog resolves Stripe price ids to entitlement tiers. The premium
// price set is static configuration; anything outside it is free.
type TierCatalog struct {
	premium map[string]struct{}
}

// NewTierCatalog builds a catalog from the configured premium price ids.
func NewTierCatalog(premiumPriceIDs []string) TierCatalog {
	premium := make(map[string]struct{}, len(premiumPriceIDs))
	for _, id := range premiumPriceIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		premium[trimmed] = struct{}{}
	}
	return TierCatalog{premium: premium}
}

// IsPremiumPrice reports whether the price id belongs to the premium set.
func (c TierCatalog) IsPremiumPrice(priceID string) bool {
	_, ok := c.premium[strings.TrimSpace(priceID)]
	return ok
}

// TierFor derives the tier from a price id and subscription status. Premium
// requires both a premium price and an entitled (active/trialing) status.
func (c TierCatalog) TierFor(priceID *string, status enums.SubscriptionStatus) enums.Tier {
	if priceID == nil || !c.IsPremiumPrice(*priceID) {
		return enums.TierFree
	}
	if !status.IsEntitled() {
		return enums.TierFree
	}
	return enums.TierPremium
}
