package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type StackingPolicy string

const (
	StackingExclusive          StackingPolicy = "EXCLUSIVE"
	StackingAdditive           StackingPolicy = "ADDITIVE"
	StackingPercentOfRemainder StackingPolicy = "PERCENT_OF_REMAINDER"
)

// DiscountRule is one version of a discount/scholarship rule. (Code, Version) is
// unique; a rule that has been referenced by an issued invoice is never edited in
// place; a new version supersedes it and old versions stay attached to history.
//
// Exactly one of Percent / FlatAmount is set, depending on the rule:
// Percent applies to the base (ADDITIVE) or the running remainder
// (PERCENT_OF_REMAINDER); FlatAmount is an absolute deduction.
type DiscountRule struct {
	ID             uint             `json:"id" gorm:"primaryKey"`
	Code           string           `json:"code" gorm:"size:64;not null;index:idx_discount_rules_code_version,unique,priority:1"`
	Version        int              `json:"version" gorm:"not null;index:idx_discount_rules_code_version,unique,priority:2"`
	Description    string           `json:"description" gorm:"size:255"`
	Precedence     int              `json:"precedence" gorm:"not null;index"`
	StackingPolicy StackingPolicy   `json:"stacking_policy" gorm:"size:32;not null"`
	Percent        *decimal.Decimal `json:"percent" gorm:"type:numeric(5,2)"`
	FlatAmount     *decimal.Decimal `json:"flat_amount" gorm:"type:numeric(12,2)"`

	// Eligibility predicate over the billing context; empty string matches any.
	Program string `json:"program" gorm:"size:64"`
	Term    string `json:"term" gorm:"size:32"`

	EffectiveFrom time.Time  `json:"effective_from" gorm:"not null"`
	EffectiveTo   *time.Time `json:"effective_to"`

	// Set once a line item on an issued invoice references this version.
	Referenced bool `json:"referenced" gorm:"not null;default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveOn reports whether the rule version is in its effective date range.
func (r *DiscountRule) EffectiveOn(at time.Time) bool {
	if at.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && !at.Before(*r.EffectiveTo) {
		return false
	}
	return true
}

// Matches evaluates the eligibility predicate against a billing context.
func (r *DiscountRule) Matches(program, term string) bool {
	if r.Program != "" && r.Program != program {
		return false
	}
	if r.Term != "" && r.Term != term {
		return false
	}
	return true
}
