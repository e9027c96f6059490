package ledger

import (
	"encoding/json"
	"time"

	"bursar-backend/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Side effects (notifications, reporting) are decoupled through an outbox:
// the message is written in the same transaction as the domain change, and the
// dispatcher delivers it only after commit. No hidden save hooks.

// EmitOutbox stages an event inside the caller's transaction.
func EmitOutbox(tx *gorm.DB, eventType models.OutboxEventType, referenceType, referenceID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := models.OutboxMessage{
		EventType:     eventType,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
		Payload:       raw,
	}
	return tx.Create(&msg).Error
}

// DispatchOutbox delivers pending messages to the configured consumers and
// marks them published. Delivery here is the structured event log; downstream
// collaborators tail it.
func DispatchOutbox(db *gorm.DB, limit int) (int, error) {
	var messages []models.OutboxMessage
	err := db.Where("published_at IS NULL").Order("id").Limit(limit).Find(&messages).Error
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for i := range messages {
		msg := &messages[i]
		log.WithFields(logrus.Fields{
			"event_type":     msg.EventType,
			"reference_type": msg.ReferenceType,
			"reference_id":   msg.ReferenceID,
			"payload":        string(msg.Payload),
		}).Info("ledger event")

		now := time.Now().UTC()
		if err := db.Model(msg).Update("published_at", &now).Error; err != nil {
			return dispatched, err
		}
		dispatched++
	}
	return dispatched, nil
}

// StartBackgroundLoops runs the outbox dispatcher and the idempotency-key
// purge until stop is closed.
func StartBackgroundLoops(db *gorm.DB, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := DispatchOutbox(db, 100); err != nil {
					log.WithError(err).Warn("outbox dispatch failed")
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if n, err := PurgeExpiredIdempotencyKeys(db); err != nil {
					log.WithError(err).Warn("idempotency purge failed")
				} else if n > 0 {
					log.WithField("purged", n).Info("expired idempotency keys purged")
				}
			}
		}
	}()
}
