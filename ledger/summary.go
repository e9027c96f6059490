package ledger

import (
	"errors"

	"bursar-backend/models"

	"gorm.io/gorm"
)

// AccountSummary is the read-only view collaborators consume.
type AccountSummary struct {
	StudentID    string                `json:"student_id"`
	Balance      string                `json:"balance"`
	OpenInvoices []models.Invoice      `json:"open_invoices"`
	Account      models.StudentAccount `json:"account"`
}

// GetAccountSummary returns the balance and open invoices for a student. It
// reads committed state only; in-flight transactions resolve before they are
// visible here.
func GetAccountSummary(db *gorm.DB, studentID string) (*AccountSummary, error) {
	var account models.StudentAccount
	err := db.Where("student_id = ?", studentID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &Error{Kind: KindNotFound, Op: "GetAccountSummary",
				Entity: "student_account", EntityID: studentID, Message: "no account for student"}
		}
		return nil, err
	}

	var open []models.Invoice
	err = db.Preload("Items").
		Where("student_account_id = ? AND status IN ?", account.ID,
			[]models.InvoiceStatus{models.InvoiceStatusIssued, models.InvoiceStatusPartiallyPaid}).
		Order("issue_date, id").
		Find(&open).Error
	if err != nil {
		return nil, err
	}

	return &AccountSummary{
		StudentID:    studentID,
		Balance:      account.Balance.StringFixed(2),
		OpenInvoices: open,
		Account:      account,
	}, nil
}
