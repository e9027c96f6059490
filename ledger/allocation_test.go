package ledger

import (
	"sync"
	"testing"
	"time"

	"bursar-backend/models"

	"github.com/shopspring/decimal"
)

func openInvoice(id uint, issued string, total, paid string) models.Invoice {
	day, _ := time.Parse("2006-01-02", issued)
	status := models.InvoiceStatusIssued
	if decimal.RequireFromString(paid).IsPositive() {
		status = models.InvoiceStatusPartiallyPaid
	}
	return models.Invoice{
		ID:        id,
		Status:    status,
		IssueDate: &day,
		Total:     decimal.RequireFromString(total),
		PaidTotal: decimal.RequireFromString(paid),
	}
}

func TestPlanAutomaticAllocationOldestFirst(t *testing.T) {
	invoices := []models.Invoice{
		openInvoice(1, "2026-01-05", "300.00", "0"),
		openInvoice(2, "2026-02-05", "200.00", "0"),
		openInvoice(3, "2026-03-05", "400.00", "0"),
	}

	steps, remaining := planAutomaticAllocation(invoices, decimal.RequireFromString("450.00"))
	if !remaining.IsZero() {
		t.Fatalf("remainder = %s, want 0", remaining)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 takes, got %d", len(steps))
	}
	if steps[0].index != 0 || !steps[0].amount.Equal(decimal.RequireFromString("300.00")) {
		t.Errorf("first take = invoice %d amount %s, want invoice 0 amount 300.00", steps[0].index, steps[0].amount)
	}
	if steps[1].index != 1 || !steps[1].amount.Equal(decimal.RequireFromString("150.00")) {
		t.Errorf("second take = invoice %d amount %s, want invoice 1 amount 150.00", steps[1].index, steps[1].amount)
	}
}

func TestPlanAutomaticAllocationBanksOverpayment(t *testing.T) {
	invoices := []models.Invoice{openInvoice(1, "2026-01-05", "500.00", "0")}

	steps, remaining := planAutomaticAllocation(invoices, decimal.RequireFromString("550.00"))
	if len(steps) != 1 || !steps[0].amount.Equal(decimal.RequireFromString("500.00")) {
		t.Fatalf("expected one full take of 500.00, got %+v", steps)
	}
	if want := decimal.RequireFromString("50.00"); !remaining.Equal(want) {
		t.Errorf("remainder = %s, want %s", remaining, want)
	}
}

func TestPlanAutomaticAllocationSkipsSettledInvoices(t *testing.T) {
	invoices := []models.Invoice{
		openInvoice(1, "2026-01-05", "300.00", "300.00"),
		openInvoice(2, "2026-02-05", "200.00", "50.00"),
	}

	steps, remaining := planAutomaticAllocation(invoices, decimal.RequireFromString("100.00"))
	if !remaining.IsZero() {
		t.Fatalf("remainder = %s, want 0", remaining)
	}
	if len(steps) != 1 || steps[0].index != 1 || !steps[0].amount.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("expected the partially paid invoice to absorb 100.00, got %+v", steps)
	}
}

func TestSettledStatus(t *testing.T) {
	cases := []struct {
		paid, total string
		want        models.InvoiceStatus
	}{
		{"0", "500.00", models.InvoiceStatusIssued},
		{"200.00", "500.00", models.InvoiceStatusPartiallyPaid},
		{"500.00", "500.00", models.InvoiceStatusPaid},
		// A fully discounted invoice owes nothing and settles at issuance
		// instead of sitting in the open queue forever.
		{"0", "0", models.InvoiceStatusPaid},
	}
	for _, c := range cases {
		got := settledStatus(decimal.RequireFromString(c.paid), decimal.RequireFromString(c.total))
		if got != c.want {
			t.Errorf("settledStatus(%s, %s) = %s, want %s", c.paid, c.total, got, c.want)
		}
	}
}

func TestValidateExplicitTargetsOverAllocation(t *testing.T) {
	invoice := openInvoice(7, "2026-01-05", "500.00", "400.00")

	err := validateExplicitTargets(&invoice, decimal.RequireFromString("150.00"),
		[]AllocationInstruction{{InvoiceID: 7, Amount: decimal.RequireFromString("150.00")}})
	if !IsKind(err, KindValidation) {
		t.Fatalf("expected VALIDATION error for over-allocation, got %v", err)
	}

	if err := validateExplicitTargets(&invoice, decimal.RequireFromString("100.00"),
		[]AllocationInstruction{{InvoiceID: 7, Amount: decimal.RequireFromString("100.00")}}); err != nil {
		t.Fatalf("allocation up to the remaining balance must pass, got %v", err)
	}
}

func TestValidateExplicitTargetsLineItemMembership(t *testing.T) {
	invoice := openInvoice(7, "2026-01-05", "500.00", "0")
	invoice.Items = []models.LineItem{
		{ID: 31, InvoiceID: 7, Kind: models.LineItemCharge, Amount: decimal.RequireFromString("600.00")},
		{ID: 32, InvoiceID: 7, Kind: models.LineItemDiscount, Amount: decimal.RequireFromString("-100.00")},
	}
	amount := decimal.RequireFromString("100.00")
	target := func(lineID uint) []AllocationInstruction {
		return []AllocationInstruction{{InvoiceID: 7, LineItemID: &lineID, Amount: amount}}
	}

	if err := validateExplicitTargets(&invoice, amount, target(31)); err != nil {
		t.Errorf("charge line of the invoice must be a valid target, got %v", err)
	}
	if err := validateExplicitTargets(&invoice, amount, target(32)); !IsKind(err, KindValidation) {
		t.Errorf("discount line must be rejected as a target, got %v", err)
	}
	if err := validateExplicitTargets(&invoice, amount, target(99)); !IsKind(err, KindValidation) {
		t.Errorf("foreign line item must be rejected, got %v", err)
	}
}

// Two racing explicit allocations against the same invoice serialize on the
// account lock; the second sees the updated paid total and is rejected.
func TestRacingExplicitAllocationsOneRejected(t *testing.T) {
	invoice := openInvoice(7, "2026-01-05", "500.00", "400.00")
	amount := decimal.RequireFromString("100.00")
	instructions := []AllocationInstruction{{InvoiceID: 7, Amount: amount}}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		outcomes = make(chan error, 2)
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			err := validateExplicitTargets(&invoice, amount, instructions)
			if err == nil {
				invoice.PaidTotal = invoice.PaidTotal.Add(amount)
				invoice.Status = settledStatus(invoice.PaidTotal, invoice.Total)
			}
			outcomes <- err
		}()
	}
	wg.Wait()
	close(outcomes)

	var accepted, rejected int
	for err := range outcomes {
		if err == nil {
			accepted++
		} else if IsKind(err, KindValidation) {
			rejected++
		} else {
			t.Fatalf("unexpected error kind: %v", err)
		}
	}
	if accepted != 1 || rejected != 1 {
		t.Fatalf("accepted = %d rejected = %d, want exactly one of each", accepted, rejected)
	}
	if invoice.Status != models.InvoiceStatusPaid {
		t.Errorf("invoice status = %s, want PAID after the surviving allocation", invoice.Status)
	}
}

func TestRequestHashSensitivity(t *testing.T) {
	base := RecordPaymentInput{
		IdempotencyKey: "key-1",
		StudentID:      "S-1001",
		Amount:         decimal.RequireFromString("500.00"),
		Method:         "BANK_TRANSFER",
	}
	if base.requestHash() != base.requestHash() {
		t.Fatal("request hash must be stable")
	}

	amount := base
	amount.Amount = decimal.RequireFromString("500.01")
	if base.requestHash() == amount.requestHash() {
		t.Error("amount change must change the request hash")
	}

	ref := base
	ext := "wire-123"
	ref.ExternalReference = &ext
	if base.requestHash() == ref.requestHash() {
		t.Error("external reference must be part of the request hash")
	}

	alloc := base
	alloc.Allocations = []AllocationInstruction{{InvoiceID: 7, Amount: decimal.RequireFromString("200.00")}}
	if base.requestHash() == alloc.requestHash() {
		t.Error("explicit allocations must be part of the request hash")
	}

	// The key itself is not hashed; the same request under two keys is two
	// reservations with equal hashes.
	rekeyed := base
	rekeyed.IdempotencyKey = "key-2"
	if base.requestHash() != rekeyed.requestHash() {
		t.Error("idempotency key must not influence the request hash")
	}
}

func TestInvoiceOpenAndRemainingBalance(t *testing.T) {
	inv := models.Invoice{
		Status:    models.InvoiceStatusIssued,
		Total:     decimal.RequireFromString("500.00"),
		PaidTotal: decimal.RequireFromString("350.00"),
	}
	if want := decimal.RequireFromString("150.00"); !inv.RemainingBalance().Equal(want) {
		t.Errorf("remaining = %s, want %s", inv.RemainingBalance(), want)
	}
	if !inv.Open() {
		t.Error("partially paid issued invoice must be open")
	}

	inv.PaidTotal = inv.Total
	if inv.Open() {
		t.Error("fully paid invoice must not accept further allocations")
	}

	void := models.Invoice{Status: models.InvoiceStatusVoid, Total: decimal.RequireFromString("500.00")}
	if void.Open() {
		t.Error("void invoice must not accept allocations")
	}
	draft := models.Invoice{Status: models.InvoiceStatusDraft, Total: decimal.RequireFromString("500.00")}
	if draft.Open() {
		t.Error("draft invoice must not accept allocations")
	}
}

func TestPaymentAllocatedTotal(t *testing.T) {
	p := models.Payment{
		Amount: decimal.RequireFromString("500.00"),
		Allocations: []models.PaymentAllocation{
			{Amount: decimal.RequireFromString("200.00")},
			{Amount: decimal.RequireFromString("150.00")},
		},
	}
	if want := decimal.RequireFromString("350.00"); !p.AllocatedTotal().Equal(want) {
		t.Errorf("allocated total = %s, want %s", p.AllocatedTotal(), want)
	}
}
