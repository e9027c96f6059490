package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payment records one real-world payment event. Its effect on the ledger lives
// entirely in its allocations and the journal record posted with it; the only
// mutation after creation is the refund marker.
type Payment struct {
	ID                string          `json:"id" gorm:"primaryKey;size:36"`
	StudentAccountID  uint            `json:"student_account_id" gorm:"not null;index"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	Method            string          `json:"method" gorm:"size:32;not null"`
	ExternalReference *string         `json:"external_reference" gorm:"size:128;index"`
	IdempotencyKey    string          `json:"-" gorm:"size:128;uniqueIndex;not null"`
	ReceivedAt        time.Time       `json:"received_at" gorm:"not null;index"`

	Allocations []PaymentAllocation `json:"allocations" gorm:"foreignKey:PaymentID"`

	RefundedAt   *time.Time `json:"refunded_at"`
	RefundReason string     `json:"refund_reason,omitempty" gorm:"size:255"`

	CreatedAt time.Time `json:"created_at"`
}

// Refunded reports whether the payment has been reversed out of the ledger.
func (p *Payment) Refunded() bool {
	return p.RefundedAt != nil
}

func (p *Payment) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return
}

// AllocatedTotal sums the loaded allocations.
func (p *Payment) AllocatedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, a := range p.Allocations {
		total = total.Add(a.Amount)
	}
	return total
}

// PaymentAllocation applies part of a payment against one invoice (optionally a
// specific charge line). Invariant: the sum of a payment's allocations never
// exceeds the payment amount, and an invoice's paid total never exceeds its
// total.
type PaymentAllocation struct {
	ID         uint            `json:"id" gorm:"primaryKey"`
	PaymentID  string          `json:"payment_id" gorm:"size:36;not null;index"`
	InvoiceID  uint            `json:"invoice_id" gorm:"not null;index"`
	LineItemID *uint           `json:"line_item_id"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	CreatedAt  time.Time       `json:"created_at"`
}
