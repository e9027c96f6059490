package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strings"
	"time"

	"bursar-backend/cache"
	"bursar-backend/models"
	"bursar-backend/utils"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ChargeInput references one billable item (an enrollment, a fee) to invoice.
type ChargeInput struct {
	BillableItemRef string `json:"billable_item_ref" validate:"required"`
	Description     string `json:"description"`
}

// IssueInvoiceInput is the billing context for one invoice.
type IssueInvoiceInput struct {
	StudentID     string        `json:"student_id" validate:"required"`
	Term          string        `json:"term" validate:"required"`
	Program       string        `json:"program"`
	EffectiveDate time.Time     `json:"effective_date"`
	Charges       []ChargeInput `json:"charges" validate:"required,min=1,dive"`
}

// billingKey derives the idempotency key for issuance: same student, term and
// charge set always map to the same invoice.
func (in *IssueInvoiceInput) billingKey() string {
	h := sha256.New()
	h.Write([]byte(in.StudentID))
	h.Write([]byte{'\n'})
	h.Write([]byte(in.Term))
	for _, c := range in.Charges {
		h.Write([]byte{'\n'})
		h.Write([]byte(c.BillableItemRef))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SequencePrefix is the institution prefix for invoice numbers.
func SequencePrefix() string {
	if p := strings.TrimSpace(os.Getenv("INSTITUTION_PREFIX")); p != "" {
		return p
	}
	return "INV"
}

// IssueInvoice prices the charges, applies discount rules, assembles the
// invoice and posts the issuance journal, all inside one transaction. If
// journal posting fails the invoice stays uncreated and the reserved sequence
// number rolls back with it. Issuance is idempotent per billing context: a
// replay returns the previously issued invoice.
func IssueInvoice(ctx context.Context, db *gorm.DB, in IssueInvoiceInput) (*models.Invoice, error) {
	evalDate := in.EffectiveDate
	if evalDate.IsZero() {
		evalDate = time.Now().UTC()
	}
	bctx := BillingContext{
		StudentID:      in.StudentID,
		Program:        in.Program,
		Term:           in.Term,
		EvaluationDate: evalDate,
	}

	var result *models.Invoice
	err := db.Transaction(func(tx *gorm.DB) error {
		account, err := provisionAndLockAccount(tx, in.StudentID)
		if err != nil {
			return err
		}

		key := in.billingKey()
		var existing models.Invoice
		err = tx.Preload("Items").
			Where("billing_key = ? AND status <> ?", key, models.InvoiceStatusVoid).
			First(&existing).Error
		if err == nil {
			result = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		items, base, err := priceCharges(ctx, tx, in.Charges, evalDate)
		if err != nil {
			return err
		}

		rules, err := loadApplicableRules(tx, bctx)
		if err != nil {
			return err
		}
		discounts, err := ApplyDiscountRules(rules, base, bctx)
		if err != nil {
			return err
		}
		items = append(items, discounts...)

		total := decimal.Zero
		for _, item := range items {
			total = total.Add(item.Amount)
		}

		seq, err := allocateSequenceNumber(tx, SequencePrefix())
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		invoice := models.Invoice{
			SequenceNumber:   seq,
			StudentAccountID: account.ID,
			Term:             in.Term,
			BillingKey:       key,
			Status:           models.InvoiceStatusDraft,
			Items:            items,
			Total:            total,
			PaidTotal:        decimal.Zero,
		}
		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}

		if err := markRulesReferenced(tx, discounts); err != nil {
			return err
		}

		accounts, err := cache.ChartOfAccounts(ctx, tx)
		if err != nil {
			return err
		}
		entries, err := buildInvoiceIssuedEntries(accounts, &invoice)
		if err != nil {
			return err
		}
		record := newJournalRecord(models.LedgerEventInvoiceIssued, models.JournalReferenceInvoice,
			invoice.SequenceNumber, "invoice issued for "+in.StudentID, entries)
		if err := postJournal(tx, record); err != nil {
			return err
		}

		// A zero-total invoice has nothing owed and settles immediately.
		invoice.Status = settledStatus(invoice.PaidTotal, invoice.Total)
		invoice.IssueDate = &now
		if err := tx.Model(&invoice).Updates(map[string]any{
			"status":     invoice.Status,
			"issue_date": invoice.IssueDate,
		}).Error; err != nil {
			return err
		}

		creditBefore := account.Balance.Neg() // positive when the account holds credit
		account.Balance = account.Balance.Add(total)
		if err := tx.Model(account).Update("balance", account.Balance).Error; err != nil {
			return err
		}

		// An existing account credit is applied automatically to the freshly
		// issued invoice.
		if creditBefore.IsPositive() && total.IsPositive() {
			apply := decimal.Min(creditBefore, total)
			if err := applyAccountCredit(ctx, tx, account, &invoice, apply); err != nil {
				return err
			}
		}

		if err := EmitOutbox(tx, models.OutboxInvoiceIssued, "INVOICE", invoice.SequenceNumber, map[string]any{
			"invoice_id":      invoice.ID,
			"sequence_number": invoice.SequenceNumber,
			"student_id":      in.StudentID,
			"total":           invoice.Total,
		}); err != nil {
			return err
		}

		result = &invoice
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// priceCharges resolves every charge through the pricing resolver and returns
// the CHARGE line items plus the base amount discounts evaluate against.
func priceCharges(ctx context.Context, tx *gorm.DB, charges []ChargeInput, evalDate time.Time) ([]models.LineItem, decimal.Decimal, error) {
	var items []models.LineItem
	base := decimal.Zero
	for _, charge := range charges {
		price, err := ResolvePrice(ctx, tx, charge.BillableItemRef, evalDate)
		if err != nil {
			return nil, decimal.Zero, err
		}
		description := charge.Description
		if description == "" {
			description = charge.BillableItemRef
		}
		items = append(items, models.LineItem{
			Kind:            models.LineItemCharge,
			Description:     description,
			Amount:          utils.RoundMoney(price),
			SourceReference: charge.BillableItemRef,
		})
		base = base.Add(price)
	}
	return items, base, nil
}

// markRulesReferenced pins the applied rule versions: once referenced by an
// issued invoice they are immutable and edits create new versions.
func markRulesReferenced(tx *gorm.DB, discounts []models.LineItem) error {
	var ids []uint
	for _, d := range discounts {
		if d.RuleVersionID != nil {
			ids = append(ids, *d.RuleVersionID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&models.DiscountRule{}).
		Where("id IN ?", ids).
		Update("referenced", true).Error
}

// applyAccountCredit funds the invoice from payments that still have an
// unallocated remainder, oldest first, and posts the matching journal record.
// The account balance is untouched: the credit was already reflected there when
// the overpayment arrived.
func applyAccountCredit(ctx context.Context, tx *gorm.DB, account *models.StudentAccount, invoice *models.Invoice, amount decimal.Decimal) error {
	var payments []models.Payment
	if err := tx.Preload("Allocations").
		Where("student_account_id = ? AND refunded_at IS NULL", account.ID).
		Order("received_at, id").
		Find(&payments).Error; err != nil {
		return err
	}

	applied := decimal.Zero
	for i := range payments {
		if !applied.LessThan(amount) {
			break
		}
		payment := &payments[i]
		free := payment.Amount.Sub(payment.AllocatedTotal())
		if !free.IsPositive() {
			continue
		}
		take := decimal.Min(free, amount.Sub(applied))
		if err := allocatePaymentToInvoice(tx, payment.ID, invoice, take); err != nil {
			return err
		}
		applied = applied.Add(take)
	}

	if applied.IsZero() {
		return nil
	}

	if err := refreshInvoiceDerivedState(tx, invoice); err != nil {
		return err
	}

	accounts, err := cache.ChartOfAccounts(ctx, tx)
	if err != nil {
		return err
	}
	entries, err := buildCreditAppliedEntries(accounts, applied, invoice.SequenceNumber)
	if err != nil {
		return err
	}
	record := newJournalRecord(models.LedgerEventCreditApplied, models.JournalReferenceInvoice,
		invoice.SequenceNumber, "account credit applied", entries)
	return postJournal(tx, record)
}
