package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountStatusOpen   AccountStatus = "OPEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// StudentAccount is the single point of contention for all ledger writers.
// Balance is signed: positive = owed by the student, negative = credit.
// Rows are never deleted, only closed.
type StudentAccount struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	StudentID string          `json:"student_id" gorm:"size:64;uniqueIndex;not null"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:numeric(12,2);not null;default:0"`
	Status    AccountStatus   `json:"status" gorm:"size:16;not null;default:'OPEN'"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
