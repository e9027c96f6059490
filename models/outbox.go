package models

import (
	"time"

	"gorm.io/datatypes"
)

type OutboxEventType string

const (
	OutboxInvoiceIssued         OutboxEventType = "INVOICE_ISSUED"
	OutboxInvoiceVoided         OutboxEventType = "INVOICE_VOIDED"
	OutboxPaymentRecorded       OutboxEventType = "PAYMENT_RECORDED"
	OutboxPaymentRefunded       OutboxEventType = "PAYMENT_REFUNDED"
	OutboxReconciliationFlagged OutboxEventType = "RECONCILIATION_FLAGGED"
)

// OutboxMessage is written in the same transaction as the domain change it
// announces, then drained by the background dispatcher. This keeps side-effect
// emission explicit and ordered after commit instead of hidden in save hooks.
type OutboxMessage struct {
	ID            uint            `json:"id" gorm:"primaryKey"`
	EventType     OutboxEventType `json:"event_type" gorm:"size:32;not null;index"`
	ReferenceType string          `json:"reference_type" gorm:"size:16;not null"`
	ReferenceID   string          `json:"reference_id" gorm:"size:64;not null"`
	Payload       datatypes.JSON  `json:"payload" gorm:"type:jsonb"`
	PublishedAt   *time.Time      `json:"published_at" gorm:"index"`
	CreatedAt     time.Time       `json:"created_at"`
}
