package ledger

import (
	"context"
	"errors"
	"time"

	"bursar-backend/cache"
	"bursar-backend/models"

	"gorm.io/gorm"
)

// RefundPayment reverses a payment out of the ledger. The refund record is
// built from the payment's current allocation state, not a mirror of the
// original posting: if the banked remainder was later applied as credit to a
// newer invoice, the extra Accounts-Receivable exposure is unwound here too,
// so the student-credit liability never goes negative. Allocations are
// withdrawn and the affected invoices drop back to their pre-payment status.
// The payment row stays for audit, marked with the refund. Refunding an
// already-refunded payment is idempotent.
func RefundPayment(ctx context.Context, db *gorm.DB, paymentID, reason string) (*models.Payment, error) {
	const op = "RefundPayment"

	var result *models.Payment
	err := db.Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.Preload("Allocations").Where("id = ?", paymentID).First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &Error{Kind: KindNotFound, Op: op, Entity: "payment",
					EntityID: paymentID, Message: "payment not found"}
			}
			return err
		}

		account, err := lockAccount(tx, payment.StudentAccountID)
		if err != nil {
			return err
		}

		if payment.Refunded() {
			result = &payment
			return nil
		}

		var original models.GLJournalRecord
		err = tx.Where("reference_type = ? AND reference_id = ? AND event_type = ?",
			models.JournalReferencePayment, payment.ID, models.LedgerEventPaymentReceived).
			First(&original).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				e := invariantError(op, "payment", payment.ID,
					"recorded payment has no payment journal record")
				logInvariant(e, nil)
				return e
			}
			return err
		}

		accounts, err := cache.ChartOfAccounts(ctx, tx)
		if err != nil {
			return err
		}
		entries, err := buildPaymentRefundEntries(accounts, &payment, payment.AllocatedTotal())
		if err != nil {
			return err
		}
		record := newJournalRecord(models.LedgerEventPaymentRefunded, models.JournalReferencePayment,
			payment.ID, "refund: "+reason, entries)
		record.IsReversal = true
		record.ReversesRecordID = &original.ID
		if err := postJournal(tx, record); err != nil {
			return err
		}
		if err := tx.Model(&models.GLJournalRecord{}).
			Where("id = ?", original.ID).
			Update("reversed_by_record_id", record.ID).Error; err != nil {
			return err
		}

		// Withdraw the allocations and recompute each touched invoice. The
		// money trail survives in the original and refunding journal records.
		touched := map[uint]bool{}
		for _, a := range payment.Allocations {
			touched[a.InvoiceID] = true
		}
		if len(payment.Allocations) > 0 {
			if err := tx.Where("payment_id = ?", payment.ID).
				Delete(&models.PaymentAllocation{}).Error; err != nil {
				return err
			}
		}
		for invoiceID := range touched {
			var invoice models.Invoice
			if err := tx.First(&invoice, invoiceID).Error; err != nil {
				return err
			}
			if err := refreshInvoiceDerivedState(tx, &invoice); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if err := tx.Model(&payment).Updates(map[string]any{
			"refunded_at":   now,
			"refund_reason": reason,
		}).Error; err != nil {
			return err
		}

		// The payment lowered the balance by its full amount on receipt; the
		// refund restores exactly that.
		account.Balance = account.Balance.Add(payment.Amount)
		if err := tx.Model(account).Update("balance", account.Balance).Error; err != nil {
			return err
		}

		if err := EmitOutbox(tx, models.OutboxPaymentRefunded, "PAYMENT", payment.ID, map[string]any{
			"payment_id": payment.ID,
			"amount":     payment.Amount.String(),
			"reason":     reason,
		}); err != nil {
			return err
		}

		payment.RefundedAt = &now
		payment.RefundReason = reason
		payment.Allocations = nil
		result = &payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
