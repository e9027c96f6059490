package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"bursar-backend/cache"
	"bursar-backend/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AllocationInstruction is an explicit caller-directed allocation target.
type AllocationInstruction struct {
	InvoiceID  uint            `json:"invoice_id" validate:"required"`
	LineItemID *uint           `json:"line_item_id"`
	Amount     decimal.Decimal `json:"amount" validate:"required"`
}

// RecordPaymentInput is one payment notification. The idempotency key comes
// from the caller (gateway or operator) and makes retries safe.
type RecordPaymentInput struct {
	IdempotencyKey    string                  `json:"-" validate:"required,max=128"`
	StudentID         string                  `json:"student_id" validate:"required"`
	Amount            decimal.Decimal         `json:"amount" validate:"required"`
	Method            string                  `json:"method" validate:"required"`
	ExternalReference *string                 `json:"external_reference"`
	ReceivedAt        time.Time               `json:"received_at"`
	Allocations       []AllocationInstruction `json:"allocations"`
}

// requestHash fingerprints the request so a reused idempotency key with
// different parameters is rejected instead of silently replayed.
func (in *RecordPaymentInput) requestHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n", in.StudentID, in.Amount.String(), in.Method)
	if in.ExternalReference != nil {
		h.Write([]byte(*in.ExternalReference))
	}
	for _, a := range in.Allocations {
		fmt.Fprintf(h, "\n%d:%s", a.InvoiceID, a.Amount.String())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RecordPayment creates the payment, allocates it, posts the payment journal
// and adjusts the account balance in one transaction, guarded by the
// idempotency controller. The returned bool is true when the call replayed a
// previously recorded payment.
func RecordPayment(ctx context.Context, db *gorm.DB, in RecordPaymentInput) (*models.Payment, bool, error) {
	if !in.Amount.IsPositive() {
		return nil, false, &Error{Kind: KindValidation, Op: "RecordPayment",
			Entity: "payment", Message: "amount must be positive"}
	}
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	var (
		payment  *models.Payment
		replayed bool
	)
	err := db.Transaction(func(tx *gorm.DB) error {
		outcome, err := reserveIdempotencyKey(tx, in.IdempotencyKey, in.requestHash())
		if err != nil {
			return err
		}
		if outcome != nil {
			replayed = true
			payment, err = loadPaymentOutcome(tx, outcome)
			return err
		}

		account, err := provisionAndLockAccount(tx, in.StudentID)
		if err != nil {
			return err
		}

		p := models.Payment{
			StudentAccountID:  account.ID,
			Amount:            in.Amount,
			Method:            in.Method,
			ExternalReference: in.ExternalReference,
			IdempotencyKey:    in.IdempotencyKey,
			ReceivedAt:        receivedAt,
		}
		if err := tx.Create(&p).Error; err != nil {
			return err
		}

		var allocated decimal.Decimal
		if len(in.Allocations) > 0 {
			allocated, err = allocateExplicit(tx, &p, account, in.Allocations)
		} else {
			allocated, err = allocateAutomatic(tx, &p, account)
		}
		if err != nil {
			return err
		}

		accounts, err := cache.ChartOfAccounts(ctx, tx)
		if err != nil {
			return err
		}
		entries, err := buildPaymentEntries(accounts, &p, allocated)
		if err != nil {
			return err
		}
		record := newJournalRecord(models.LedgerEventPaymentReceived, models.JournalReferencePayment,
			p.ID, "payment via "+p.Method, entries)
		if err := postJournal(tx, record); err != nil {
			return err
		}

		account.Balance = account.Balance.Sub(p.Amount)
		if err := tx.Model(account).Update("balance", account.Balance).Error; err != nil {
			return err
		}

		if err := completeIdempotencyKey(tx, in.IdempotencyKey, p.ID); err != nil {
			return err
		}

		if err := EmitOutbox(tx, models.OutboxPaymentRecorded, "PAYMENT", p.ID, map[string]any{
			"payment_id": p.ID,
			"student_id": in.StudentID,
			"amount":     p.Amount,
			"allocated":  allocated,
		}); err != nil {
			return err
		}

		payment = &p
		return nil
	})
	if err != nil {
		recordIdempotencyFailure(db, in.IdempotencyKey, in.requestHash(), err)
		return nil, false, err
	}

	// Reload with allocations for the response.
	var full models.Payment
	if err := db.Preload("Allocations").First(&full, "id = ?", payment.ID).Error; err == nil {
		payment = &full
	}
	return payment, replayed, nil
}

// allocationStep is one planned take against an open invoice, by index into
// the oldest-first invoice slice.
type allocationStep struct {
	index  int
	amount decimal.Decimal
}

// planAutomaticAllocation computes the default policy against an oldest-first
// invoice slice: each invoice's remaining balance is filled before moving on.
// It returns the per-invoice takes and the unallocated remainder, which stays
// on the account as credit.
func planAutomaticAllocation(invoices []models.Invoice, amount decimal.Decimal) ([]allocationStep, decimal.Decimal) {
	var steps []allocationStep
	remaining := amount
	for i := range invoices {
		if !remaining.IsPositive() {
			break
		}
		open := invoices[i].RemainingBalance()
		if !open.IsPositive() {
			continue
		}
		take := decimal.Min(open, remaining)
		steps = append(steps, allocationStep{index: i, amount: take})
		remaining = remaining.Sub(take)
	}
	return steps, remaining
}

// allocateAutomatic applies the default policy: oldest ISSUED invoice first;
// within an invoice, charge lines are satisfied in ascending source-reference
// order.
func allocateAutomatic(tx *gorm.DB, payment *models.Payment, account *models.StudentAccount) (decimal.Decimal, error) {
	var invoices []models.Invoice
	err := tx.Preload("Items").
		Where("student_account_id = ? AND status IN ?", account.ID,
			[]models.InvoiceStatus{models.InvoiceStatusIssued, models.InvoiceStatusPartiallyPaid}).
		Order("issue_date, id").
		Find(&invoices).Error
	if err != nil {
		return decimal.Zero, err
	}

	steps, remaining := planAutomaticAllocation(invoices, payment.Amount)
	for _, step := range steps {
		invoice := &invoices[step.index]
		if err := allocatePaymentToInvoice(tx, payment.ID, invoice, step.amount); err != nil {
			return decimal.Zero, err
		}
		if err := refreshInvoiceDerivedState(tx, invoice); err != nil {
			return decimal.Zero, err
		}
	}
	return payment.Amount.Sub(remaining), nil
}

// allocateExplicit validates caller instructions against the over-allocation
// invariant and applies them all-or-nothing.
func allocateExplicit(tx *gorm.DB, payment *models.Payment, account *models.StudentAccount, instructions []AllocationInstruction) (decimal.Decimal, error) {
	total := decimal.Zero
	perInvoice := map[uint]decimal.Decimal{}
	for _, inst := range instructions {
		if !inst.Amount.IsPositive() {
			return decimal.Zero, &Error{Kind: KindValidation, Op: "allocateExplicit",
				Entity: "invoice", EntityID: fmt.Sprint(inst.InvoiceID),
				Message: "allocation amount must be positive"}
		}
		total = total.Add(inst.Amount)
		perInvoice[inst.InvoiceID] = perInvoice[inst.InvoiceID].Add(inst.Amount)
	}
	if total.GreaterThan(payment.Amount) {
		return decimal.Zero, &Error{Kind: KindValidation, Op: "allocateExplicit",
			Entity: "payment", EntityID: payment.ID,
			Message: "allocations exceed the payment amount"}
	}

	for invoiceID, amount := range perInvoice {
		var invoice models.Invoice
		if err := tx.Preload("Items").First(&invoice, invoiceID).Error; err != nil {
			return decimal.Zero, &Error{Kind: KindNotFound, Op: "allocateExplicit",
				Entity: "invoice", EntityID: fmt.Sprint(invoiceID), Message: "invoice not found"}
		}
		if invoice.StudentAccountID != account.ID {
			return decimal.Zero, &Error{Kind: KindValidation, Op: "allocateExplicit",
				Entity: "invoice", EntityID: fmt.Sprint(invoiceID),
				Message: "invoice belongs to a different student account"}
		}
		if err := validateExplicitTargets(&invoice, amount, instructions); err != nil {
			return decimal.Zero, err
		}
	}

	for _, inst := range instructions {
		alloc := models.PaymentAllocation{
			PaymentID:  payment.ID,
			InvoiceID:  inst.InvoiceID,
			LineItemID: inst.LineItemID,
			Amount:     inst.Amount,
		}
		if err := tx.Create(&alloc).Error; err != nil {
			return decimal.Zero, err
		}
	}
	for invoiceID := range perInvoice {
		var invoice models.Invoice
		if err := tx.First(&invoice, invoiceID).Error; err != nil {
			return decimal.Zero, err
		}
		if err := refreshInvoiceDerivedState(tx, &invoice); err != nil {
			return decimal.Zero, err
		}
	}
	return total, nil
}

// validateExplicitTargets checks one invoice's instructed total against the
// over-allocation invariant and verifies that every named line item is one of
// the invoice's own charge lines. Discount and tax lines never carry
// allocations, they are pre-netted into the invoice total.
func validateExplicitTargets(invoice *models.Invoice, amount decimal.Decimal, instructions []AllocationInstruction) error {
	if !invoice.Open() || amount.GreaterThan(invoice.RemainingBalance()) {
		return overAllocationError("allocateExplicit", invoice.ID)
	}
	for _, inst := range instructions {
		if inst.InvoiceID != invoice.ID || inst.LineItemID == nil {
			continue
		}
		var line *models.LineItem
		for i := range invoice.Items {
			if invoice.Items[i].ID == *inst.LineItemID {
				line = &invoice.Items[i]
				break
			}
		}
		if line == nil {
			return &Error{Kind: KindValidation, Op: "allocateExplicit",
				Entity: "line_item", EntityID: fmt.Sprint(*inst.LineItemID),
				Message: "line item does not belong to the targeted invoice"}
		}
		if line.Kind != models.LineItemCharge {
			return &Error{Kind: KindValidation, Op: "allocateExplicit",
				Entity: "line_item", EntityID: fmt.Sprint(*inst.LineItemID),
				Message: "only charge lines accept allocations"}
		}
	}
	return nil
}

// allocatePaymentToInvoice splits `take` across the invoice's charge lines in
// ascending source-reference order. Discount and tax lines are never targeted;
// they are pre-netted into the invoice total.
func allocatePaymentToInvoice(tx *gorm.DB, paymentID string, invoice *models.Invoice, take decimal.Decimal) error {
	if invoice.Items == nil {
		if err := tx.Preload("Items").First(invoice, invoice.ID).Error; err != nil {
			return err
		}
	}

	allocatedPerLine, err := lineAllocations(tx, invoice.ID)
	if err != nil {
		return err
	}

	var charges []*models.LineItem
	for i := range invoice.Items {
		if invoice.Items[i].Kind == models.LineItemCharge {
			charges = append(charges, &invoice.Items[i])
		}
	}
	sort.Slice(charges, func(i, j int) bool {
		if charges[i].SourceReference != charges[j].SourceReference {
			return charges[i].SourceReference < charges[j].SourceReference
		}
		return charges[i].ID < charges[j].ID
	})

	remaining := take
	for _, line := range charges {
		if !remaining.IsPositive() {
			break
		}
		capacity := line.Amount.Sub(allocatedPerLine[line.ID])
		if !capacity.IsPositive() {
			continue
		}
		part := decimal.Min(capacity, remaining)
		lineID := line.ID
		alloc := models.PaymentAllocation{
			PaymentID:  paymentID,
			InvoiceID:  invoice.ID,
			LineItemID: &lineID,
			Amount:     part,
		}
		if err := tx.Create(&alloc).Error; err != nil {
			return err
		}
		remaining = remaining.Sub(part)
	}

	// Discounts net the invoice total below the charge sum, so normally the
	// lines absorb everything; any residue lands on the invoice itself.
	if remaining.IsPositive() {
		alloc := models.PaymentAllocation{
			PaymentID: paymentID,
			InvoiceID: invoice.ID,
			Amount:    remaining,
		}
		if err := tx.Create(&alloc).Error; err != nil {
			return err
		}
	}
	return nil
}

// lineAllocations sums existing allocations per line item of an invoice.
func lineAllocations(tx *gorm.DB, invoiceID uint) (map[uint]decimal.Decimal, error) {
	var rows []struct {
		LineItemID *uint
		Total      decimal.Decimal
	}
	err := tx.Model(&models.PaymentAllocation{}).
		Select("line_item_id, COALESCE(SUM(amount), 0) AS total").
		Where("invoice_id = ?", invoiceID).
		Group("line_item_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]decimal.Decimal, len(rows))
	for _, r := range rows {
		if r.LineItemID != nil {
			out[*r.LineItemID] = r.Total
		}
	}
	return out, nil
}

// settledStatus derives the lifecycle status of a non-VOID, non-DRAFT invoice
// from its paid total. A zero-total invoice is settled the moment it is
// issued: nothing is owed on it, so it never sits in the open invoice queue.
func settledStatus(paid, total decimal.Decimal) models.InvoiceStatus {
	switch {
	case paid.Equal(total):
		return models.InvoiceStatusPaid
	case paid.IsPositive():
		return models.InvoiceStatusPartiallyPaid
	default:
		return models.InvoiceStatusIssued
	}
}

// refreshInvoiceDerivedState recomputes PaidTotal and the derived status from
// the allocation rows. It also enforces the invariant that allocations never
// exceed the invoice total.
func refreshInvoiceDerivedState(tx *gorm.DB, invoice *models.Invoice) error {
	var row struct{ Total decimal.Decimal }
	err := tx.Model(&models.PaymentAllocation{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("invoice_id = ?", invoice.ID).
		Scan(&row).Error
	if err != nil {
		return err
	}
	paid := row.Total
	if paid.GreaterThan(invoice.Total) {
		err := invariantError("refreshInvoiceDerivedState", "invoice", fmt.Sprint(invoice.ID),
			"paid total exceeds invoice total")
		logInvariant(err, nil)
		return err
	}

	status := invoice.Status
	if status != models.InvoiceStatusVoid && status != models.InvoiceStatusDraft {
		status = settledStatus(paid, invoice.Total)
	}

	invoice.PaidTotal = paid
	invoice.Status = status
	return tx.Model(invoice).Updates(map[string]any{
		"paid_total": paid,
		"status":     status,
	}).Error
}
