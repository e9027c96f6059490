package ledger

import (
	"testing"

	"bursar-backend/models"

	"github.com/shopspring/decimal"
)

func testChart() chart {
	codes := []string{
		models.GLCodeCashClearing,
		models.GLCodeAccountsReceivable,
		models.GLCodeStudentCredits,
		models.GLCodeTaxPayable,
		models.GLCodeTuitionRevenue,
		models.GLCodeFeeRevenue,
		models.GLCodeDiscountsGiven,
	}
	c := make(chart, len(codes))
	for i, code := range codes {
		c[code] = models.GLAccount{ID: uint(i + 1), Code: code}
	}
	return c
}

func entriesBalanced(entries []models.GLEntry) bool {
	rec := models.GLJournalRecord{Entries: entries}
	return rec.Balanced()
}

func findEntry(t *testing.T, c chart, entries []models.GLEntry, code string) models.GLEntry {
	t.Helper()
	want := c[code].ID
	for _, e := range entries {
		if e.GLAccountID == want {
			return e
		}
	}
	t.Fatalf("no entry posted to account %s", code)
	return models.GLEntry{}
}

func TestBuildInvoiceIssuedEntries(t *testing.T) {
	c := testChart()
	inv := &models.Invoice{
		SequenceNumber: "INV-00000042",
		Total:          decimal.RequireFromString("950.00"),
		Items: []models.LineItem{
			{Kind: models.LineItemCharge, Amount: decimal.RequireFromString("1200.00"), SourceReference: "enrollment:CS101"},
			{Kind: models.LineItemCharge, Amount: decimal.RequireFromString("50.00"), SourceReference: "fee:LAB"},
			{Kind: models.LineItemDiscount, Amount: decimal.RequireFromString("-300.00"), SourceReference: "rule:MERIT25@v1"},
		},
	}

	entries, err := buildInvoiceIssuedEntries(c, inv)
	if err != nil {
		t.Fatal(err)
	}
	if !entriesBalanced(entries) {
		t.Fatal("issuance entries must balance")
	}

	ar := findEntry(t, c, entries, models.GLCodeAccountsReceivable)
	if !ar.Debit.Equal(inv.Total) || !ar.Credit.IsZero() {
		t.Errorf("AR entry = debit %s credit %s, want debit %s", ar.Debit, ar.Credit, inv.Total)
	}
	tuition := findEntry(t, c, entries, models.GLCodeTuitionRevenue)
	if !tuition.Credit.Equal(decimal.RequireFromString("1200.00")) {
		t.Errorf("tuition revenue credit = %s, want 1200.00", tuition.Credit)
	}
	fee := findEntry(t, c, entries, models.GLCodeFeeRevenue)
	if !fee.Credit.Equal(decimal.RequireFromString("50.00")) {
		t.Errorf("fee revenue credit = %s, want 50.00", fee.Credit)
	}
	contra := findEntry(t, c, entries, models.GLCodeDiscountsGiven)
	if !contra.Debit.Equal(decimal.RequireFromString("300.00")) {
		t.Errorf("contra-revenue debit = %s, want 300.00", contra.Debit)
	}
}

func TestBuildInvoiceIssuedEntriesSkipsZeroAmounts(t *testing.T) {
	c := testChart()
	inv := &models.Invoice{
		Total: decimal.Zero,
		Items: []models.LineItem{
			{Kind: models.LineItemCharge, Amount: decimal.RequireFromString("500.00"), SourceReference: "enrollment:CS101"},
			{Kind: models.LineItemDiscount, Amount: decimal.RequireFromString("-500.00"), SourceReference: "rule:FULLRIDE@v1"},
			{Kind: models.LineItemTax, Amount: decimal.Zero},
		},
	}

	entries, err := buildInvoiceIssuedEntries(c, inv)
	if err != nil {
		t.Fatal(err)
	}
	// Zero total: no AR leg, no tax leg; revenue and contra-revenue offset.
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !entriesBalanced(entries) {
		t.Fatal("fully discounted issuance must still balance")
	}
}

func TestBuildInvoiceIssuedEntriesMissingAccount(t *testing.T) {
	c := testChart()
	delete(c, models.GLCodeTuitionRevenue)
	inv := &models.Invoice{
		Total: decimal.RequireFromString("100.00"),
		Items: []models.LineItem{
			{Kind: models.LineItemCharge, Amount: decimal.RequireFromString("100.00"), SourceReference: "enrollment:CS101"},
		},
	}

	_, err := buildInvoiceIssuedEntries(c, inv)
	if !IsKind(err, KindConfiguration) {
		t.Fatalf("expected CONFIGURATION error for unmapped account, got %v", err)
	}
}

func TestBuildPaymentEntriesFullyAllocated(t *testing.T) {
	c := testChart()
	payment := &models.Payment{ID: "pay-1", Amount: decimal.RequireFromString("500.00")}

	entries, err := buildPaymentEntries(c, payment, decimal.RequireFromString("500.00"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected cash + AR only, got %d entries", len(entries))
	}
	if !entriesBalanced(entries) {
		t.Fatal("payment entries must balance")
	}
}

func TestBuildPaymentEntriesOverpaymentBanksCredit(t *testing.T) {
	c := testChart()
	payment := &models.Payment{ID: "pay-2", Amount: decimal.RequireFromString("500.00")}

	entries, err := buildPaymentEntries(c, payment, decimal.RequireFromString("350.00"))
	if err != nil {
		t.Fatal(err)
	}
	if !entriesBalanced(entries) {
		t.Fatal("payment entries must balance")
	}
	credit := findEntry(t, c, entries, models.GLCodeStudentCredits)
	if !credit.Credit.Equal(decimal.RequireFromString("150.00")) {
		t.Errorf("student credit leg = %s, want 150.00", credit.Credit)
	}
	ar := findEntry(t, c, entries, models.GLCodeAccountsReceivable)
	if !ar.Credit.Equal(decimal.RequireFromString("350.00")) {
		t.Errorf("AR credit = %s, want 350.00", ar.Credit)
	}
}

// A $550 payment that covered a $500 invoice and had its $50 remainder
// later applied to a newer invoice carries allocation rows for the full
// amount. Its refund must reverse AR for the whole $550 and leave no
// student-credit leg: the standing credit-application record already moved
// the $50 out of the liability, so a mirrored reversal of the original
// payment record would drive the credits account negative.
func TestBuildPaymentRefundEntriesAfterCreditApplication(t *testing.T) {
	c := testChart()
	payment := &models.Payment{ID: "pay-3", Amount: decimal.RequireFromString("550.00")}

	entries, err := buildPaymentRefundEntries(c, payment, decimal.RequireFromString("550.00"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected cash + AR only, got %d entries", len(entries))
	}
	if !entriesBalanced(entries) {
		t.Fatal("refund entries must balance")
	}
	cash := findEntry(t, c, entries, models.GLCodeCashClearing)
	if !cash.Credit.Equal(payment.Amount) || !cash.Debit.IsZero() {
		t.Errorf("cash leg = debit %s credit %s, want credit %s", cash.Debit, cash.Credit, payment.Amount)
	}
	ar := findEntry(t, c, entries, models.GLCodeAccountsReceivable)
	if !ar.Debit.Equal(payment.Amount) {
		t.Errorf("AR debit = %s, want %s", ar.Debit, payment.Amount)
	}
}

// A remainder still banked as unapplied credit at refund time is debited back
// out of the student-credit liability.
func TestBuildPaymentRefundEntriesReturnsBankedRemainder(t *testing.T) {
	c := testChart()
	payment := &models.Payment{ID: "pay-4", Amount: decimal.RequireFromString("550.00")}

	entries, err := buildPaymentRefundEntries(c, payment, decimal.RequireFromString("500.00"))
	if err != nil {
		t.Fatal(err)
	}
	if !entriesBalanced(entries) {
		t.Fatal("refund entries must balance")
	}
	ar := findEntry(t, c, entries, models.GLCodeAccountsReceivable)
	if !ar.Debit.Equal(decimal.RequireFromString("500.00")) {
		t.Errorf("AR debit = %s, want 500.00", ar.Debit)
	}
	credits := findEntry(t, c, entries, models.GLCodeStudentCredits)
	if !credits.Debit.Equal(decimal.RequireFromString("50.00")) {
		t.Errorf("student credit debit = %s, want 50.00", credits.Debit)
	}
}

func TestBuildCreditAppliedEntries(t *testing.T) {
	c := testChart()

	entries, err := buildCreditAppliedEntries(c, decimal.RequireFromString("150.00"), "INV-00000007")
	if err != nil {
		t.Fatal(err)
	}
	if !entriesBalanced(entries) {
		t.Fatal("credit application entries must balance")
	}
	debit := findEntry(t, c, entries, models.GLCodeStudentCredits)
	if !debit.Debit.Equal(decimal.RequireFromString("150.00")) {
		t.Errorf("credit liability debit = %s, want 150.00", debit.Debit)
	}
}

func TestRevenueCodeFor(t *testing.T) {
	fee := models.LineItem{SourceReference: "fee:LAB"}
	if revenueCodeFor(&fee) != models.GLCodeFeeRevenue {
		t.Error("fee charge should map to fee revenue")
	}
	enrollment := models.LineItem{SourceReference: "enrollment:CS101"}
	if revenueCodeFor(&enrollment) != models.GLCodeTuitionRevenue {
		t.Error("enrollment charge should map to tuition revenue")
	}
}
