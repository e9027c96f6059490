package ledger

import (
	"errors"
	"strings"

	"bursar-backend/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// The StudentAccount row is the serialization point for everything that touches
// its balance: every mutating operation locks it before reading, inside the one
// transaction that also posts the journal. Two concurrent payments against the
// same account therefore never both read a stale balance.

// lockAccount loads the account FOR UPDATE by primary key.
func lockAccount(tx *gorm.DB, accountID uint) (*models.StudentAccount, error) {
	var account models.StudentAccount
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&account, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &Error{Kind: KindNotFound, Op: "lockAccount", Entity: "student_account", EntityID: "", Message: "student account not found"}
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// provisionAndLockAccount resolves a student id to its account, creating the
// account on first reference, and returns it locked FOR UPDATE.
func provisionAndLockAccount(tx *gorm.DB, studentID string) (*models.StudentAccount, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, &Error{Kind: KindValidation, Op: "provisionAndLockAccount", Entity: "student_account", Message: "student id is required"}
	}

	var account models.StudentAccount
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("student_id = ?", studentID).
		First(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	account = models.StudentAccount{StudentID: studentID, Status: models.AccountStatusOpen}
	if err := tx.Create(&account).Error; err != nil {
		// Unique race on student_id: another transaction provisioned it first.
		// Re-read under the lock.
		var existing models.StudentAccount
		if e2 := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("student_id = ?", studentID).
			First(&existing).Error; e2 != nil {
			return nil, err
		}
		return &existing, nil
	}
	return &account, nil
}
