package ledger

import (
	"fmt"
	"sort"
	"time"

	"bursar-backend/models"
	"bursar-backend/utils"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BillingContext is what discount rule predicates see.
type BillingContext struct {
	StudentID      string
	Program        string
	Term           string
	EvaluationDate time.Time
}

const truncationNote = "discount truncated to keep invoice total at zero"

// ApplyDiscountRules evaluates rules against a base charge and produces one
// DISCOUNT line item per applied rule, attributed to the exact rule version.
//
// Rules evaluate in ascending precedence. Once one EXCLUSIVE rule matches,
// every later rule is skipped without re-evaluation: exclusive wins outright.
// ADDITIVE rules compute against the original base and sum independently, but
// every applied rule, ADDITIVE included, decrements the running remainder, so
// a PERCENT_OF_REMAINDER rule that follows an ADDITIVE one computes on the
// post-additive remainder, not the base. Total discounts are clamped so the
// invoice total
// never goes below zero; a rule that would overshoot is truncated to exactly
// zero the remainder and the truncation is recorded on the line item for audit.
func ApplyDiscountRules(rules []models.DiscountRule, base decimal.Decimal, bctx BillingContext) ([]models.LineItem, error) {
	sorted := make([]models.DiscountRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Precedence != sorted[j].Precedence {
			return sorted[i].Precedence < sorted[j].Precedence
		}
		return sorted[i].Code < sorted[j].Code
	})

	var items []models.LineItem
	remaining := base
	exclusiveApplied := false

	for i := range sorted {
		rule := &sorted[i]
		if exclusiveApplied {
			break
		}
		if !rule.EffectiveOn(bctx.EvaluationDate) || !rule.Matches(bctx.Program, bctx.Term) {
			continue
		}

		amount, err := ruleAmount(rule, base, remaining)
		if err != nil {
			return nil, err
		}

		note := ""
		if amount.GreaterThan(remaining) {
			amount = remaining
			note = truncationNote
		}

		if rule.StackingPolicy == models.StackingExclusive {
			exclusiveApplied = true
		}
		remaining = remaining.Sub(amount)

		items = append(items, models.LineItem{
			Kind:            models.LineItemDiscount,
			Description:     rule.Description,
			Amount:          amount.Neg(),
			SourceReference: fmt.Sprintf("rule:%s@v%d", rule.Code, rule.Version),
			RuleVersionID:   &rule.ID,
			Note:            note,
		})
	}
	return items, nil
}

// ruleAmount computes the (positive) deduction a rule yields, before clamping.
// The switch is exhaustive over stacking policies; an unknown policy is a
// defect in rule storage, not a business condition.
func ruleAmount(rule *models.DiscountRule, base, remaining decimal.Decimal) (decimal.Decimal, error) {
	switch rule.StackingPolicy {
	case models.StackingExclusive, models.StackingAdditive:
		if rule.Percent != nil {
			return utils.Percent(base, *rule.Percent), nil
		}
		if rule.FlatAmount != nil {
			return utils.RoundMoney(*rule.FlatAmount), nil
		}
	case models.StackingPercentOfRemainder:
		if rule.Percent != nil {
			return utils.Percent(remaining, *rule.Percent), nil
		}
		if rule.FlatAmount != nil {
			return utils.RoundMoney(*rule.FlatAmount), nil
		}
	default:
		return decimal.Zero, invariantError("ruleAmount", "discount_rule", rule.Code,
			fmt.Sprintf("unknown stacking policy %q", rule.StackingPolicy))
	}
	return decimal.Zero, &Error{
		Kind:     KindConfiguration,
		Op:       "ruleAmount",
		Entity:   "discount_rule",
		EntityID: rule.Code,
		Message:  "rule has neither percent nor flat amount",
	}
}

// loadApplicableRules fetches the latest effective version of every rule whose
// predicate matches the billing context. Older versions stay attached to the
// invoices that referenced them but never apply to new invoices.
func loadApplicableRules(tx *gorm.DB, bctx BillingContext) ([]models.DiscountRule, error) {
	var all []models.DiscountRule
	if err := tx.Order("code, version DESC").Find(&all).Error; err != nil {
		return nil, err
	}

	latest := make(map[string]bool)
	var applicable []models.DiscountRule
	for _, rule := range all {
		if latest[rule.Code] {
			continue
		}
		latest[rule.Code] = true
		if rule.EffectiveOn(bctx.EvaluationDate) && rule.Matches(bctx.Program, bctx.Term) {
			applicable = append(applicable, rule)
		}
	}
	return applicable, nil
}
