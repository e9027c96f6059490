package ledger

import (
	"time"

	"bursar-backend/models"

	"gorm.io/gorm"
)

// reverseJournalRecord posts a mirrored reversing record for an already-posted
// journal. Posted records are never edited or deleted; the reversal swaps each
// entry's debit and credit and links both records to each other. Reversing an
// already-reversed record is a no-op that returns the existing reversal id.
func reverseJournalRecord(tx *gorm.DB, original *models.GLJournalRecord, eventType models.LedgerEventType, memo string) (uint, error) {
	if original.ReversedByRecordID != nil && *original.ReversedByRecordID > 0 {
		return *original.ReversedByRecordID, nil
	}

	if original.Entries == nil {
		var loaded models.GLJournalRecord
		if err := tx.Preload("Entries").First(&loaded, original.ID).Error; err != nil {
			return 0, err
		}
		original = &loaded
	}

	reversedEntries := make([]models.GLEntry, 0, len(original.Entries))
	for _, e := range original.Entries {
		reversedEntries = append(reversedEntries, models.GLEntry{
			GLAccountID: e.GLAccountID,
			Debit:       e.Credit,
			Credit:      e.Debit,
			Description: "reversal: " + e.Description,
		})
	}

	reversal := models.GLJournalRecord{
		EventType:        eventType,
		ReferenceType:    original.ReferenceType,
		ReferenceID:      original.ReferenceID,
		RecordDate:       time.Now().UTC(),
		Memo:             memo,
		IsReversal:       true,
		ReversesRecordID: &original.ID,
		Entries:          reversedEntries,
	}
	if err := postJournal(tx, &reversal); err != nil {
		return 0, err
	}

	if err := tx.Model(&models.GLJournalRecord{}).
		Where("id = ?", original.ID).
		Update("reversed_by_record_id", reversal.ID).Error; err != nil {
		return 0, err
	}
	return reversal.ID, nil
}
