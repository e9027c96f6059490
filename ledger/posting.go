package ledger

import (
	"strings"
	"time"

	"bursar-backend/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Every ledger-affecting event posts one balanced journal record in the same
// transaction as the domain write, so a posting failure rolls both back. The
// balance check runs before commit: an imbalance is a programming defect
// (invariant violation), never a retryable business condition.

type chart map[string]models.GLAccount

func (c chart) entry(op, code string, debit, credit decimal.Decimal, description string) (models.GLEntry, error) {
	account, ok := c[code]
	if !ok {
		return models.GLEntry{}, &Error{
			Kind:     KindConfiguration,
			Op:       op,
			Entity:   "gl_account",
			EntityID: code,
			Message:  "no GL account mapped for this code",
		}
	}
	return models.GLEntry{
		GLAccountID: account.ID,
		Debit:       debit,
		Credit:      credit,
		Description: description,
	}, nil
}

// postJournal validates and persists a journal record with its entries.
func postJournal(tx *gorm.DB, record *models.GLJournalRecord) error {
	if len(record.Entries) == 0 {
		return invariantError("postJournal", string(record.ReferenceType), record.ReferenceID,
			"journal record has no entries")
	}
	if !record.Balanced() {
		debit, credit := decimal.Zero, decimal.Zero
		for _, e := range record.Entries {
			debit = debit.Add(e.Debit)
			credit = credit.Add(e.Credit)
		}
		err := invariantError("postJournal", string(record.ReferenceType), record.ReferenceID,
			"journal record is unbalanced")
		logInvariant(err, logrus.Fields{
			"event_type": record.EventType,
			"debit":      debit.String(),
			"credit":     credit.String(),
		})
		return err
	}
	return tx.Create(record).Error
}

// revenueCodeFor maps a charge-side line item to its revenue account. Fee
// charges are recognized separately from tuition; everything else about the
// mapping is fixed by the seeded chart.
func revenueCodeFor(item *models.LineItem) string {
	if strings.HasPrefix(item.SourceReference, "fee:") {
		return models.GLCodeFeeRevenue
	}
	return models.GLCodeTuitionRevenue
}

// buildInvoiceIssuedEntries renders the canonical issuance template:
// debit Accounts-Receivable for the invoice total, credit revenue per charge
// line, debit contra-revenue per discount line, credit tax payable per tax
// line. Zero-amount legs are omitted.
func buildInvoiceIssuedEntries(accounts chart, inv *models.Invoice) ([]models.GLEntry, error) {
	const op = "buildInvoiceIssuedEntries"
	var entries []models.GLEntry

	if inv.Total.IsPositive() {
		e, err := accounts.entry(op, models.GLCodeAccountsReceivable, inv.Total, decimal.Zero,
			"invoice "+inv.SequenceNumber)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	for i := range inv.Items {
		item := &inv.Items[i]
		if item.Amount.IsZero() {
			continue
		}
		var (
			e   models.GLEntry
			err error
		)
		switch item.Kind {
		case models.LineItemCharge:
			e, err = accounts.entry(op, revenueCodeFor(item), decimal.Zero, item.Amount, item.Description)
		case models.LineItemDiscount:
			e, err = accounts.entry(op, models.GLCodeDiscountsGiven, item.Amount.Neg(), decimal.Zero, item.Description)
		case models.LineItemTax:
			e, err = accounts.entry(op, models.GLCodeTaxPayable, decimal.Zero, item.Amount, item.Description)
		case models.LineItemAdjustment:
			if item.Amount.IsPositive() {
				e, err = accounts.entry(op, models.GLCodeFeeRevenue, decimal.Zero, item.Amount, item.Description)
			} else {
				e, err = accounts.entry(op, models.GLCodeDiscountsGiven, item.Amount.Neg(), decimal.Zero, item.Description)
			}
		default:
			return nil, invariantError(op, "line_item", item.SourceReference,
				"unknown line item kind "+string(item.Kind))
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// buildPaymentEntries renders the payment template: debit Cash/Clearing for the
// full amount, credit Accounts-Receivable for the allocated part, credit the
// student-credit liability for any unallocated remainder.
func buildPaymentEntries(accounts chart, payment *models.Payment, allocated decimal.Decimal) ([]models.GLEntry, error) {
	const op = "buildPaymentEntries"

	cash, err := accounts.entry(op, models.GLCodeCashClearing, payment.Amount, decimal.Zero,
		"payment "+payment.ID)
	if err != nil {
		return nil, err
	}
	entries := []models.GLEntry{cash}

	if allocated.IsPositive() {
		ar, err := accounts.entry(op, models.GLCodeAccountsReceivable, decimal.Zero, allocated,
			"payment "+payment.ID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ar)
	}
	if remainder := payment.Amount.Sub(allocated); remainder.IsPositive() {
		credit, err := accounts.entry(op, models.GLCodeStudentCredits, decimal.Zero, remainder,
			"unallocated remainder of payment "+payment.ID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, credit)
	}
	return entries, nil
}

// buildPaymentRefundEntries unwinds a payment's current ledger effect: credit
// Cash/Clearing for the full amount, debit Accounts-Receivable for whatever is
// allocated right now, debit the student-credit liability for the still-banked
// remainder. Rebuilding from the live allocation state, instead of mirroring
// the original payment record, also unwinds any CREDIT_APPLIED postings this
// payment's banked remainder later funded.
func buildPaymentRefundEntries(accounts chart, payment *models.Payment, allocated decimal.Decimal) ([]models.GLEntry, error) {
	const op = "buildPaymentRefundEntries"

	cash, err := accounts.entry(op, models.GLCodeCashClearing, decimal.Zero, payment.Amount,
		"refund of payment "+payment.ID)
	if err != nil {
		return nil, err
	}
	entries := []models.GLEntry{cash}

	if allocated.IsPositive() {
		ar, err := accounts.entry(op, models.GLCodeAccountsReceivable, allocated, decimal.Zero,
			"refund of payment "+payment.ID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ar)
	}
	if remainder := payment.Amount.Sub(allocated); remainder.IsPositive() {
		credit, err := accounts.entry(op, models.GLCodeStudentCredits, remainder, decimal.Zero,
			"banked remainder of payment "+payment.ID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, credit)
	}
	return entries, nil
}

// buildCreditAppliedEntries moves a previously banked student credit onto a
// newly issued invoice: debit the credit liability, credit Accounts-Receivable.
func buildCreditAppliedEntries(accounts chart, amount decimal.Decimal, invoiceSeq string) ([]models.GLEntry, error) {
	const op = "buildCreditAppliedEntries"

	debit, err := accounts.entry(op, models.GLCodeStudentCredits, amount, decimal.Zero,
		"credit applied to "+invoiceSeq)
	if err != nil {
		return nil, err
	}
	credit, err := accounts.entry(op, models.GLCodeAccountsReceivable, decimal.Zero, amount,
		"credit applied to "+invoiceSeq)
	if err != nil {
		return nil, err
	}
	return []models.GLEntry{debit, credit}, nil
}

func newJournalRecord(eventType models.LedgerEventType, refType models.JournalReferenceType, refID, memo string, entries []models.GLEntry) *models.GLJournalRecord {
	return &models.GLJournalRecord{
		EventType:     eventType,
		ReferenceType: refType,
		ReferenceID:   refID,
		RecordDate:    time.Now().UTC(),
		Memo:          memo,
		Entries:       entries,
	}
}
