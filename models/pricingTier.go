package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingTier is a versioned price for a billable item (course enrollment, fee).
// Tiers are effective-dated; overlapping tiers are resolved by the latest
// EffectiveFrom. A nil EffectiveTo means open-ended.
type PricingTier struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	BillableItemRef string          `json:"billable_item_ref" gorm:"size:128;not null;index:idx_pricing_tiers_item_from,priority:1"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	EffectiveFrom   time.Time       `json:"effective_from" gorm:"not null;index:idx_pricing_tiers_item_from,priority:2"`
	EffectiveTo     *time.Time      `json:"effective_to"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Covers reports whether the tier is effective on the given date.
func (t *PricingTier) Covers(at time.Time) bool {
	if at.Before(t.EffectiveFrom) {
		return false
	}
	if t.EffectiveTo != nil && !at.Before(*t.EffectiveTo) {
		return false
	}
	return true
}
