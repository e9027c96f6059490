package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"bursar-backend/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// The matcher runs asynchronously against the ingested settlement feed, while
// live payment processing continues. Matching is additive and idempotent, so
// racing a payment created moments earlier is harmless: the next run picks it
// up.

// DefaultMatchWindow bounds the composite (amount + date) match.
const DefaultMatchWindow = 3 * 24 * time.Hour

func matchWindow() time.Duration {
	if v := os.Getenv("RECONCILE_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	return DefaultMatchWindow
}

// FeedRecordInput is one external settlement-feed transaction.
type FeedRecordInput struct {
	ExternalReference string          `json:"external_reference"`
	Amount            decimal.Decimal `json:"amount" validate:"required"`
	Date              time.Time       `json:"date" validate:"required"`
}

// IngestFeedRecords stores a feed batch as PENDING reconciliation records.
// The transport that delivers the feed is out of scope; this is the hand-off.
func IngestFeedRecords(db *gorm.DB, inputs []FeedRecordInput) ([]models.ReconciliationRecord, error) {
	records := make([]models.ReconciliationRecord, 0, len(inputs))
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, in := range inputs {
			raw, _ := json.Marshal(in)
			rec := models.ReconciliationRecord{
				ExternalReference: in.ExternalReference,
				Amount:            in.Amount,
				FeedDate:          in.Date,
				RawPayload:        raw,
				Status:            models.ReconciliationPending,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// RunMatcher processes every unresolved record. Matching key, in order:
// (a) exact external-reference equality, (b) exact amount plus date within the
// window, provided exactly one candidate exists. Two or more candidates mark
// the record AMBIGUOUS; ambiguity is a terminal state for the manual queue,
// never resolved by "first match".
func RunMatcher(db *gorm.DB) (matched int, err error) {
	err = db.Transaction(func(tx *gorm.DB) error {
		var records []models.ReconciliationRecord
		e := tx.Where("status IN ?", []models.ReconciliationStatus{
			models.ReconciliationPending,
			models.ReconciliationUnmatched,
			models.ReconciliationAmbiguous,
		}).Order("feed_date, id").Find(&records).Error
		if e != nil {
			return e
		}

		for i := range records {
			record := &records[i]
			outcome, e := matchRecord(tx, record)
			if e != nil {
				return e
			}
			if outcome == models.ReconciliationMatched {
				matched++
			}
		}
		return nil
	})
	return matched, err
}

func matchRecord(tx *gorm.DB, record *models.ReconciliationRecord) (models.ReconciliationStatus, error) {
	window := matchWindow()
	eligible, err := eligiblePayments(tx, record, window)
	if err != nil {
		return "", err
	}

	status, paymentID, candidates := matchDecision(record, eligible, window)
	if status == record.Status && status != models.ReconciliationMatched {
		// No change; re-flagging would spam the manual queue.
		return status, nil
	}
	if status == models.ReconciliationAmbiguous {
		log.WithFields(logrus.Fields{
			"record_id":  record.ID,
			"amount":     record.Amount.String(),
			"candidates": candidates,
		}).Warn("reconciliation record is ambiguous")
	}
	return setMatch(tx, record, status, paymentID, candidates)
}

// eligiblePayments loads the payments a record may match: refunded payments
// and payments already claimed by another resolved record are out.
func eligiblePayments(tx *gorm.DB, record *models.ReconciliationRecord, window time.Duration) ([]models.Payment, error) {
	claimed := tx.Model(&models.ReconciliationRecord{}).
		Select("payment_id").
		Where("payment_id IS NOT NULL AND id <> ? AND status IN ?", record.ID,
			[]models.ReconciliationStatus{
				models.ReconciliationMatched,
				models.ReconciliationManuallyResolved,
			})

	composite := "amount = ? AND received_at BETWEEN ? AND ?"
	compositeArgs := []any{record.Amount, record.FeedDate.Add(-window), record.FeedDate.Add(window)}

	query := tx.Where("refunded_at IS NULL AND id NOT IN (?)", claimed)
	if record.ExternalReference != "" {
		query = query.Where("external_reference = ? OR ("+composite+")",
			append([]any{record.ExternalReference}, compositeArgs...)...)
	} else {
		query = query.Where(composite, compositeArgs...)
	}

	var payments []models.Payment
	err := query.Find(&payments).Error
	return payments, err
}

// matchDecision classifies a record against the eligible payments. Pass (a)
// is exact external-reference equality; pass (b) is exact amount plus a feed
// date within the window, requiring a unique candidate. A record that is
// already AMBIGUOUS is terminal for pass (b): only an exact reference match
// upgrades it, shrinkage of the composite candidate set never does.
func matchDecision(record *models.ReconciliationRecord, eligible []models.Payment, window time.Duration) (models.ReconciliationStatus, *string, int) {
	if exact := exactReferenceMatches(eligible, record.ExternalReference); len(exact) > 0 {
		if len(exact) == 1 {
			return models.ReconciliationMatched, &exact[0].ID, 1
		}
		return models.ReconciliationAmbiguous, nil, len(exact)
	}

	if record.Status == models.ReconciliationAmbiguous {
		return models.ReconciliationAmbiguous, nil, record.CandidateCount
	}

	composite := compositeMatches(eligible, record.Amount, record.FeedDate, window)
	switch len(composite) {
	case 0:
		return models.ReconciliationUnmatched, nil, 0
	case 1:
		return models.ReconciliationMatched, &composite[0].ID, 1
	default:
		return models.ReconciliationAmbiguous, nil, len(composite)
	}
}

func exactReferenceMatches(payments []models.Payment, ref string) []models.Payment {
	if ref == "" {
		return nil
	}
	var out []models.Payment
	for _, p := range payments {
		if p.ExternalReference != nil && *p.ExternalReference == ref {
			out = append(out, p)
		}
	}
	return out
}

func compositeMatches(payments []models.Payment, amount decimal.Decimal, feedDate time.Time, window time.Duration) []models.Payment {
	var out []models.Payment
	for _, p := range payments {
		if !p.Amount.Equal(amount) {
			continue
		}
		delta := p.ReceivedAt.Sub(feedDate)
		if delta < 0 {
			delta = -delta
		}
		if delta > window {
			continue
		}
		out = append(out, p)
	}
	return out
}

func setMatch(tx *gorm.DB, record *models.ReconciliationRecord, status models.ReconciliationStatus, paymentID *string, candidates int) (models.ReconciliationStatus, error) {
	record.Status = status
	record.PaymentID = paymentID
	record.CandidateCount = candidates
	err := tx.Model(record).Updates(map[string]any{
		"status":          status,
		"payment_id":      paymentID,
		"candidate_count": candidates,
	}).Error
	if err != nil {
		return "", err
	}
	if status == models.ReconciliationAmbiguous || status == models.ReconciliationUnmatched {
		if err := EmitOutbox(tx, models.OutboxReconciliationFlagged, "RECONCILIATION",
			fmt.Sprint(record.ID), map[string]any{
				"record_id":       record.ID,
				"status":          status,
				"candidate_count": candidates,
			}); err != nil {
			return "", err
		}
	}
	return status, nil
}

// ListUnresolvedReconciliationRecords feeds the manual-review dashboard.
func ListUnresolvedReconciliationRecords(db *gorm.DB) ([]models.ReconciliationRecord, error) {
	var records []models.ReconciliationRecord
	err := db.Where("status IN ?", []models.ReconciliationStatus{
		models.ReconciliationPending,
		models.ReconciliationUnmatched,
		models.ReconciliationAmbiguous,
	}).Order("feed_date, id").Find(&records).Error
	return records, err
}

// ResolveManually links a record to a payment on an operator's authority. The
// resolver identity is recorded for audit.
func ResolveManually(db *gorm.DB, recordID uint, paymentID, resolvedBy string) (*models.ReconciliationRecord, error) {
	const op = "ResolveManually"

	var record models.ReconciliationRecord
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&record, recordID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &Error{Kind: KindNotFound, Op: op, Entity: "reconciliation_record",
					EntityID: fmt.Sprint(recordID), Message: "record not found"}
			}
			return err
		}
		if !record.Unresolved() {
			return &Error{Kind: KindValidation, Op: op, Entity: "reconciliation_record",
				EntityID: fmt.Sprint(recordID), Message: "record is already resolved"}
		}

		var payment models.Payment
		if err := tx.First(&payment, "id = ?", paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &Error{Kind: KindNotFound, Op: op, Entity: "payment",
					EntityID: paymentID, Message: "payment not found"}
			}
			return err
		}

		now := time.Now().UTC()
		record.Status = models.ReconciliationManuallyResolved
		record.PaymentID = &payment.ID
		record.ResolvedBy = &resolvedBy
		record.ResolvedAt = &now
		return tx.Model(&record).Updates(map[string]any{
			"status":      record.Status,
			"payment_id":  record.PaymentID,
			"resolved_by": record.ResolvedBy,
			"resolved_at": record.ResolvedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}
