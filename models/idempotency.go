package models

import "time"

type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "PENDING"
	IdempotencySucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyFailed    IdempotencyStatus = "FAILED"
)

// IdempotencyKey maps a caller-supplied key to the outcome of the first
// attempt at a payment-affecting operation. The row is inserted (reserved)
// before any side effect; concurrent callers with the same key serialize on the
// reservation. Retention is TTL-bounded: once expired, reuse of the key is
// treated as a brand-new operation.
type IdempotencyKey struct {
	ID          uint              `json:"id" gorm:"primaryKey"`
	Key         string            `json:"key" gorm:"size:128;uniqueIndex;not null"`
	RequestHash string            `json:"request_hash" gorm:"size:64;not null"` // sha256 of the request parameters
	Status      IdempotencyStatus `json:"status" gorm:"size:16;not null;default:'PENDING'"`
	PaymentID   *string           `json:"payment_id" gorm:"size:36"`
	ErrorKind   *string           `json:"error_kind" gorm:"size:32"`
	CreatedAt   time.Time         `json:"created_at" gorm:"index"`
	CompletedAt *time.Time        `json:"completed_at"`
}

// Expired reports whether the key has aged out of the retention window.
func (k *IdempotencyKey) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(k.CreatedAt) > ttl
}
