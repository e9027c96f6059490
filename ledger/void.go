package ledger

import (
	"errors"
	"fmt"

	"bursar-backend/models"

	"gorm.io/gorm"
)

// VoidInvoice voids an issued invoice by posting a reversing journal record.
// The invoice row and its sequence number survive for audit; nothing is
// deleted. Voiding an invoice that has received payments is rejected; the
// payments would have to be refunded or reallocated first.
func VoidInvoice(db *gorm.DB, invoiceID uint, reason string) (*models.Invoice, error) {
	const op = "VoidInvoice"

	var result *models.Invoice
	err := db.Transaction(func(tx *gorm.DB) error {
		var invoice models.Invoice
		if err := tx.First(&invoice, invoiceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &Error{Kind: KindNotFound, Op: op, Entity: "invoice",
					EntityID: fmt.Sprint(invoiceID), Message: "invoice not found"}
			}
			return err
		}

		account, err := lockAccount(tx, invoice.StudentAccountID)
		if err != nil {
			return err
		}

		if invoice.Status == models.InvoiceStatusVoid {
			result = &invoice
			return nil
		}
		if invoice.Status == models.InvoiceStatusDraft {
			return &Error{Kind: KindValidation, Op: op, Entity: "invoice",
				EntityID: fmt.Sprint(invoiceID), Message: "draft invoices are discarded, not voided"}
		}
		if invoice.PaidTotal.IsPositive() {
			return &Error{Kind: KindValidation, Op: op, Entity: "invoice",
				EntityID: fmt.Sprint(invoiceID),
				Message:  "invoice has payments allocated; refund them before voiding"}
		}

		var original models.GLJournalRecord
		err = tx.Preload("Entries").
			Where("reference_type = ? AND reference_id = ? AND event_type = ?",
				models.JournalReferenceInvoice, invoice.SequenceNumber, models.LedgerEventInvoiceIssued).
			First(&original).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				e := invariantError(op, "invoice", invoice.SequenceNumber,
					"issued invoice has no issuance journal record")
				logInvariant(e, nil)
				return e
			}
			return err
		}

		if _, err := reverseJournalRecord(tx, &original, models.LedgerEventInvoiceVoided,
			"void: "+reason); err != nil {
			return err
		}

		if err := tx.Model(&invoice).Updates(map[string]any{
			"status":      models.InvoiceStatusVoid,
			"void_reason": reason,
		}).Error; err != nil {
			return err
		}

		account.Balance = account.Balance.Sub(invoice.Total)
		if err := tx.Model(account).Update("balance", account.Balance).Error; err != nil {
			return err
		}

		if err := EmitOutbox(tx, models.OutboxInvoiceVoided, "INVOICE", invoice.SequenceNumber, map[string]any{
			"invoice_id": invoice.ID,
			"reason":     reason,
		}); err != nil {
			return err
		}

		invoice.Status = models.InvoiceStatusVoid
		invoice.VoidReason = reason
		result = &invoice
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
