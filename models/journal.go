package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type LedgerEventType string

const (
	LedgerEventInvoiceIssued   LedgerEventType = "INVOICE_ISSUED"
	LedgerEventPaymentReceived LedgerEventType = "PAYMENT_RECEIVED"
	LedgerEventInvoiceVoided   LedgerEventType = "INVOICE_VOIDED"
	LedgerEventPaymentRefunded LedgerEventType = "PAYMENT_REFUNDED"
	LedgerEventCreditApplied   LedgerEventType = "CREDIT_APPLIED"
)

type JournalReferenceType string

const (
	JournalReferenceInvoice JournalReferenceType = "INVOICE"
	JournalReferencePayment JournalReferenceType = "PAYMENT"
)

// GLJournalRecord groups the balanced entries posted for one ledger event.
// Records are append-only: corrections are new reversing records that link back
// to the original, never edits or deletes.
type GLJournalRecord struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	PublicID string `json:"public_id" gorm:"size:36;uniqueIndex;not null"`

	EventType     LedgerEventType      `json:"event_type" gorm:"size:32;not null;index"`
	ReferenceType JournalReferenceType `json:"reference_type" gorm:"size:16;not null;index:idx_journal_records_reference,priority:1"`
	ReferenceID   string               `json:"reference_id" gorm:"size:64;not null;index:idx_journal_records_reference,priority:2"`

	RecordDate time.Time `json:"record_date" gorm:"not null"`
	Memo       string    `json:"memo" gorm:"size:255"`

	IsReversal         bool  `json:"is_reversal" gorm:"not null;default:false"`
	ReversesRecordID   *uint `json:"reverses_record_id"`
	ReversedByRecordID *uint `json:"reversed_by_record_id"`

	Entries []GLEntry `json:"entries" gorm:"foreignKey:JournalRecordID"`

	CreatedAt time.Time `json:"created_at"`
}

func (r *GLJournalRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if r.PublicID == "" {
		r.PublicID = uuid.NewString()
	}
	return
}

// Balanced reports whether debits equal credits across the loaded entries.
func (r *GLJournalRecord) Balanced() bool {
	debit, credit := decimal.Zero, decimal.Zero
	for _, e := range r.Entries {
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	return debit.Equal(credit)
}

// GLEntry is one debit or credit line of a journal record. Append-only.
type GLEntry struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	JournalRecordID uint            `json:"-" gorm:"not null;index"`
	GLAccountID     uint            `json:"gl_account_id" gorm:"not null;index"`
	GLAccount       GLAccount       `json:"gl_account" gorm:"foreignKey:GLAccountID;references:ID"`
	Debit           decimal.Decimal `json:"debit" gorm:"type:numeric(12,2);not null;default:0"`
	Credit          decimal.Decimal `json:"credit" gorm:"type:numeric(12,2);not null;default:0"`
	Description     string          `json:"description" gorm:"size:255"`
}
