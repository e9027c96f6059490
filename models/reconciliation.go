package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type ReconciliationStatus string

const (
	ReconciliationPending          ReconciliationStatus = "PENDING"
	ReconciliationMatched          ReconciliationStatus = "MATCHED"
	ReconciliationUnmatched        ReconciliationStatus = "UNMATCHED"
	ReconciliationAmbiguous        ReconciliationStatus = "AMBIGUOUS"
	ReconciliationManuallyResolved ReconciliationStatus = "MANUALLY_RESOLVED"
)

// ReconciliationRecord carries one external settlement-feed transaction and its
// match outcome against recorded payments. AMBIGUOUS is a first-class terminal
// state requiring human resolution, never auto-resolved by "first match".
type ReconciliationRecord struct {
	ID                uint            `json:"id" gorm:"primaryKey"`
	ExternalReference string          `json:"external_reference" gorm:"size:128;index"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	FeedDate          time.Time       `json:"feed_date" gorm:"not null;index"`
	RawPayload        datatypes.JSON  `json:"raw_payload" gorm:"type:jsonb"`

	Status    ReconciliationStatus `json:"status" gorm:"size:24;not null;default:'PENDING';index"`
	PaymentID *string              `json:"payment_id" gorm:"size:36;index"`
	Payment   *Payment             `json:"-" gorm:"foreignKey:PaymentID;references:ID"`

	// Number of candidates found by the composite amount+date pass; recorded for
	// the manual-review queue when the record is AMBIGUOUS.
	CandidateCount int `json:"candidate_count" gorm:"not null;default:0"`

	ResolvedBy *string    `json:"resolved_by" gorm:"size:128"`
	ResolvedAt *time.Time `json:"resolved_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Unresolved reports whether the record still needs matching or human review.
func (r *ReconciliationRecord) Unresolved() bool {
	switch r.Status {
	case ReconciliationMatched, ReconciliationManuallyResolved:
		return false
	}
	return true
}
