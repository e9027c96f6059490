package ledger

import (
	"testing"
	"time"

	"bursar-backend/models"

	"github.com/shopspring/decimal"
)

var testEvalDate = time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

func testBillingContext() BillingContext {
	return BillingContext{
		StudentID:      "S-1001",
		Program:        "CS",
		Term:           "2026-SPRING",
		EvaluationDate: testEvalDate,
	}
}

func pct(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func rule(id uint, code string, precedence int, policy models.StackingPolicy, percent, flat *decimal.Decimal) models.DiscountRule {
	return models.DiscountRule{
		ID:             id,
		Code:           code,
		Version:        1,
		Description:    code,
		Precedence:     precedence,
		StackingPolicy: policy,
		Percent:        percent,
		FlatAmount:     flat,
		EffectiveFrom:  testEvalDate.AddDate(-1, 0, 0),
	}
}

func sumItems(items []models.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return total
}

func TestApplyDiscountRulesExclusivePercent(t *testing.T) {
	base := decimal.RequireFromString("1200.00")
	rules := []models.DiscountRule{
		rule(1, "MERIT25", 1, models.StackingExclusive, pct("25"), nil),
	}

	items, err := ApplyDiscountRules(rules, base, testBillingContext())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 discount item, got %d", len(items))
	}
	if want := decimal.RequireFromString("-300"); !items[0].Amount.Equal(want) {
		t.Errorf("discount amount = %s, want %s", items[0].Amount, want)
	}
	if got := base.Add(sumItems(items)); !got.Equal(decimal.RequireFromString("900")) {
		t.Errorf("net total = %s, want 900", got)
	}
	if items[0].SourceReference != "rule:MERIT25@v1" {
		t.Errorf("source reference = %q", items[0].SourceReference)
	}
}

func TestApplyDiscountRulesSecondExclusiveSkipped(t *testing.T) {
	base := decimal.RequireFromString("1000.00")
	rules := []models.DiscountRule{
		rule(2, "SIBLING10", 5, models.StackingExclusive, pct("10"), nil),
		rule(1, "MERIT50", 1, models.StackingExclusive, pct("50"), nil),
	}

	items, err := ApplyDiscountRules(rules, base, testBillingContext())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("expected only the lower-precedence exclusive rule to apply, got %d items", len(items))
	}
	if items[0].SourceReference != "rule:MERIT50@v1" {
		t.Errorf("applied rule = %q, want MERIT50", items[0].SourceReference)
	}
}

func TestApplyDiscountRulesExclusiveSuppressesLaterRules(t *testing.T) {
	base := decimal.RequireFromString("1000.00")
	flat := decimal.RequireFromString("100.00")
	rules := []models.DiscountRule{
		rule(1, "MERIT50", 1, models.StackingExclusive, pct("50"), nil),
		rule(2, "GRANT100", 2, models.StackingAdditive, nil, &flat),
	}

	items, err := ApplyDiscountRules(rules, base, testBillingContext())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("exclusive wins outright; expected 1 item, got %d", len(items))
	}
	if items[0].SourceReference != "rule:MERIT50@v1" {
		t.Errorf("applied = %q, want MERIT50", items[0].SourceReference)
	}
	if got := base.Add(sumItems(items)); !got.Equal(decimal.RequireFromString("500")) {
		t.Errorf("net total = %s, want 500", got)
	}
}

func TestApplyDiscountRulesAdditiveAppliesWhenExclusiveMisses(t *testing.T) {
	base := decimal.RequireFromString("1000.00")
	flat := decimal.RequireFromString("100.00")

	exclusive := rule(1, "MERIT50", 1, models.StackingExclusive, pct("50"), nil)
	exclusive.Program = "ENG" // does not match the CS billing context

	rules := []models.DiscountRule{
		exclusive,
		rule(2, "GRANT100", 2, models.StackingAdditive, nil, &flat),
	}

	items, err := ApplyDiscountRules(rules, base, testBillingContext())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("expected only the additive rule, got %d items", len(items))
	}
	// The additive rule sees the full base, untouched by the missed exclusive.
	if got := base.Add(sumItems(items)); !got.Equal(decimal.RequireFromString("900")) {
		t.Errorf("net total = %s, want 900", got)
	}
}

func TestApplyDiscountRulesPercentOfRemainder(t *testing.T) {
	base := decimal.RequireFromString("1000.00")
	flat := decimal.RequireFromString("400.00")
	rules := []models.DiscountRule{
		rule(1, "GRANT400", 1, models.StackingAdditive, nil, &flat),
		rule(2, "AID50", 2, models.StackingPercentOfRemainder, pct("50"), nil),
	}

	items, err := ApplyDiscountRules(rules, base, testBillingContext())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 discount items, got %d", len(items))
	}
	// 50% of the 600 remainder, not of the 1000 base.
	if want := decimal.RequireFromString("-300"); !items[1].Amount.Equal(want) {
		t.Errorf("remainder discount = %s, want %s", items[1].Amount, want)
	}
}

func TestApplyDiscountRulesClampToZero(t *testing.T) {
	base := decimal.RequireFromString("500.00")
	flatA := decimal.RequireFromString("400.00")
	flatB := decimal.RequireFromString("400.00")
	rules := []models.DiscountRule{
		rule(1, "GRANT-A", 1, models.StackingAdditive, nil, &flatA),
		rule(2, "GRANT-B", 2, models.StackingAdditive, nil, &flatB),
	}

	items, err := ApplyDiscountRules(rules, base, testBillingContext())
	if err != nil {
		t.Fatal(err)
	}
	net := base.Add(sumItems(items))
	if !net.IsZero() {
		t.Errorf("net total = %s, want 0 (discounts must never push below zero)", net)
	}
	if want := decimal.RequireFromString("-100"); !items[1].Amount.Equal(want) {
		t.Errorf("truncated discount = %s, want %s", items[1].Amount, want)
	}
	if items[1].Note != truncationNote {
		t.Errorf("truncated item missing audit note, got %q", items[1].Note)
	}
	if items[0].Note != "" {
		t.Errorf("untruncated item should carry no note, got %q", items[0].Note)
	}
}

func TestApplyDiscountRulesPrecedenceTieBrokenByCode(t *testing.T) {
	base := decimal.RequireFromString("1000.00")
	rules := []models.DiscountRule{
		rule(2, "B-RULE", 1, models.StackingPercentOfRemainder, pct("10"), nil),
		rule(1, "A-RULE", 1, models.StackingPercentOfRemainder, pct("10"), nil),
	}

	items, err := ApplyDiscountRules(rules, base, testBillingContext())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].SourceReference != "rule:A-RULE@v1" {
		t.Errorf("first applied = %q, want A-RULE (code breaks precedence ties)", items[0].SourceReference)
	}
	// A-RULE: 10% of 1000 = 100; B-RULE: 10% of 900 = 90.
	if want := decimal.RequireFromString("-90"); !items[1].Amount.Equal(want) {
		t.Errorf("second discount = %s, want %s", items[1].Amount, want)
	}
}

func TestApplyDiscountRulesPredicateAndEffectivityFilter(t *testing.T) {
	base := decimal.RequireFromString("1000.00")

	wrongProgram := rule(1, "ENG-ONLY", 1, models.StackingAdditive, pct("10"), nil)
	wrongProgram.Program = "ENG"

	expired := rule(2, "OLD", 2, models.StackingAdditive, pct("10"), nil)
	to := testEvalDate.AddDate(0, -1, 0)
	expired.EffectiveTo = &to

	matching := rule(3, "CS-TERM", 3, models.StackingAdditive, pct("10"), nil)
	matching.Program = "CS"
	matching.Term = "2026-SPRING"

	items, err := ApplyDiscountRules([]models.DiscountRule{wrongProgram, expired, matching}, base, testBillingContext())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("expected only the matching rule to apply, got %d items", len(items))
	}
	if items[0].SourceReference != "rule:CS-TERM@v1" {
		t.Errorf("applied = %q, want CS-TERM", items[0].SourceReference)
	}
}

func TestApplyDiscountRulesMisconfiguredRule(t *testing.T) {
	base := decimal.RequireFromString("1000.00")
	broken := rule(1, "BROKEN", 1, models.StackingAdditive, nil, nil)

	_, err := ApplyDiscountRules([]models.DiscountRule{broken}, base, testBillingContext())
	if !IsKind(err, KindConfiguration) {
		t.Fatalf("expected CONFIGURATION error, got %v", err)
	}
}

func TestApplyDiscountRulesDeterministic(t *testing.T) {
	base := decimal.RequireFromString("1234.56")
	flat := decimal.RequireFromString("50.00")
	rules := []models.DiscountRule{
		rule(3, "C", 3, models.StackingPercentOfRemainder, pct("12.5"), nil),
		rule(1, "A", 1, models.StackingExclusive, pct("25"), nil),
		rule(2, "B", 2, models.StackingAdditive, nil, &flat),
	}

	first, err := ApplyDiscountRules(rules, base, testBillingContext())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := ApplyDiscountRules(rules, base, testBillingContext())
		if err != nil {
			t.Fatal(err)
		}
		if len(again) != len(first) {
			t.Fatalf("run %d produced %d items, first run produced %d", i, len(again), len(first))
		}
		for j := range again {
			if !again[j].Amount.Equal(first[j].Amount) || again[j].SourceReference != first[j].SourceReference {
				t.Fatalf("run %d item %d differs: %s %s vs %s %s",
					i, j, again[j].SourceReference, again[j].Amount, first[j].SourceReference, first[j].Amount)
			}
		}
	}
}
