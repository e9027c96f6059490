package ledger

import (
	"context"
	"time"

	"bursar-backend/cache"
	"bursar-backend/models"
	"bursar-backend/utils"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ResolvePrice looks up the base charge for a billable item at the evaluation
// date. No covering tier is a configuration error that blocks invoice issuance
// outright; the resolver never defaults to a guessed (or zero) price.
func ResolvePrice(ctx context.Context, db *gorm.DB, billableItemRef string, at time.Time) (decimal.Decimal, error) {
	tiers, err := cache.PricingTiers(ctx, db, billableItemRef)
	if err != nil {
		return decimal.Zero, err
	}
	tier := pickTier(tiers, at)
	if tier == nil {
		return decimal.Zero, pricingNotFoundError("ResolvePrice", billableItemRef)
	}
	return utils.RoundMoney(tier.Amount), nil
}

// pickTier selects the covering tier. When effective ranges overlap, the tier
// with the latest EffectiveFrom wins; ids break exact ties deterministically.
func pickTier(tiers []models.PricingTier, at time.Time) *models.PricingTier {
	var best *models.PricingTier
	for i := range tiers {
		t := &tiers[i]
		if !t.Covers(at) {
			continue
		}
		if best == nil ||
			t.EffectiveFrom.After(best.EffectiveFrom) ||
			(t.EffectiveFrom.Equal(best.EffectiveFrom) && t.ID > best.ID) {
			best = t
		}
	}
	return best
}
