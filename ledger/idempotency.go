package ledger

import (
	"os"
	"strconv"
	"time"

	"bursar-backend/models"

	"gorm.io/gorm"
)

// The idempotency controller guarantees exactly-once effect for
// payment-affecting operations. The key row is inserted before any side
// effect, inside the operation's transaction: a concurrent duplicate blocks on
// the unique index until the original commits or aborts, which bounds the wait
// by the transaction duration. Completed keys replay the cached outcome.

// DefaultIdempotencyRetention must exceed the longest plausible client retry
// interval; after it, key reuse is a new operation.
const DefaultIdempotencyRetention = 48 * time.Hour

func idempotencyTTL() time.Duration {
	if v := os.Getenv("IDEMPOTENCY_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Hour
		}
	}
	return DefaultIdempotencyRetention
}

// reserveIdempotencyKey reserves the key for this transaction. It returns a
// non-nil outcome when a completed earlier attempt should be replayed, or nil
// when the caller holds a fresh reservation and must execute the operation.
func reserveIdempotencyKey(tx *gorm.DB, key, requestHash string) (*models.IdempotencyKey, error) {
	const op = "reserveIdempotencyKey"

	insert := func() (bool, error) {
		res := tx.Exec(
			`INSERT INTO idempotency_keys (key, request_hash, status, created_at) VALUES (?, ?, ?, now()) ON CONFLICT (key) DO NOTHING`,
			key, requestHash, models.IdempotencyPending,
		)
		if res.Error != nil {
			return false, res.Error
		}
		return res.RowsAffected == 1, nil
	}

	inserted, err := insert()
	if err != nil {
		return nil, err
	}
	if inserted {
		return nil, nil
	}

	var existing models.IdempotencyKey
	if err := tx.Where("key = ?", key).First(&existing).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if existing.Expired(idempotencyTTL(), now) {
		// Retention window passed: the reuse is a new operation.
		if err := tx.Delete(&existing).Error; err != nil {
			return nil, err
		}
		if _, err := insert(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if existing.RequestHash != requestHash {
		return nil, &Error{Kind: KindConflict, Op: op, Entity: "idempotency_key", EntityID: key,
			Message: "idempotency key reused with different request parameters"}
	}

	switch existing.Status {
	case models.IdempotencySucceeded, models.IdempotencyFailed:
		return &existing, nil
	default:
		// The original attempt crashed between reservation and completion.
		return nil, &Error{Kind: KindConflict, Op: op, Entity: "idempotency_key", EntityID: key,
			Message: "operation with this key is still in progress"}
	}
}

// completeIdempotencyKey records the successful outcome in the same
// transaction as the side effects, so the key and the payment commit together.
func completeIdempotencyKey(tx *gorm.DB, key, paymentID string) error {
	now := time.Now().UTC()
	return tx.Model(&models.IdempotencyKey{}).
		Where("key = ?", key).
		Updates(map[string]any{
			"status":       models.IdempotencySucceeded,
			"payment_id":   paymentID,
			"completed_at": &now,
		}).Error
}

// recordIdempotencyFailure caches deterministic business rejections after the
// operation's transaction rolled back, so a retry replays the same rejection
// without re-executing. Transient and in-progress errors are not cached: the
// caller is expected to retry those with the same key.
func recordIdempotencyFailure(db *gorm.DB, key, requestHash string, opErr error) {
	kind := ErrKind(opErr)
	if kind != KindValidation && kind != KindNotFound && kind != KindConfiguration {
		return
	}
	now := time.Now().UTC()
	kindStr := string(kind)
	rec := models.IdempotencyKey{
		Key:         key,
		RequestHash: requestHash,
		Status:      models.IdempotencyFailed,
		ErrorKind:   &kindStr,
		CompletedAt: &now,
	}
	if err := db.Exec(
		`INSERT INTO idempotency_keys (key, request_hash, status, error_kind, created_at, completed_at) VALUES (?, ?, ?, ?, now(), ?) ON CONFLICT (key) DO NOTHING`,
		rec.Key, rec.RequestHash, rec.Status, rec.ErrorKind, rec.CompletedAt,
	).Error; err != nil {
		log.WithField("key", key).WithError(err).Warn("failed to cache idempotent rejection")
	}
}

// loadPaymentOutcome replays a completed key: the recorded payment for a
// success, the recorded rejection for a failure.
func loadPaymentOutcome(tx *gorm.DB, outcome *models.IdempotencyKey) (*models.Payment, error) {
	if outcome.Status == models.IdempotencyFailed {
		kind := KindValidation
		if outcome.ErrorKind != nil {
			kind = Kind(*outcome.ErrorKind)
		}
		return nil, &Error{Kind: kind, Op: "loadPaymentOutcome", Entity: "idempotency_key",
			EntityID: outcome.Key, Message: "replayed rejection of the original attempt"}
	}
	if outcome.PaymentID == nil {
		return nil, invariantError("loadPaymentOutcome", "idempotency_key", outcome.Key,
			"succeeded key has no payment id")
	}
	var payment models.Payment
	if err := tx.Preload("Allocations").First(&payment, "id = ?", *outcome.PaymentID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// PurgeExpiredIdempotencyKeys deletes keys past the retention window. Called
// periodically by the background loop in main.
func PurgeExpiredIdempotencyKeys(db *gorm.DB) (int64, error) {
	cutoff := time.Now().UTC().Add(-idempotencyTTL())
	res := db.Where("created_at < ?", cutoff).Delete(&models.IdempotencyKey{})
	return res.RowsAffected, res.Error
}
