package ledger

import (
	"fmt"

	"gorm.io/gorm"
)

// Invoice numbers come from a dedicated allocator row, bumped with an atomic
// UPDATE inside the issuance transaction. Success keeps the numbering strictly
// monotonic and gap-free; an aborted issuance rolls the reservation back with
// the rest of the transaction. The number is never derived from row counts.

// allocateSequenceNumber reserves the next number for the prefix and returns it
// formatted as <PREFIX>-<zero-padded value>. The persisted format is a contract
// with downstream audit; it survives schema evolution without renumbering.
func allocateSequenceNumber(tx *gorm.DB, prefix string) (string, error) {
	if err := tx.Exec(
		`INSERT INTO invoice_sequences (prefix, last_value) VALUES (?, 0) ON CONFLICT (prefix) DO NOTHING`,
		prefix,
	).Error; err != nil {
		return "", err
	}

	var next int64
	err := tx.Raw(
		`UPDATE invoice_sequences SET last_value = last_value + 1 WHERE prefix = ? RETURNING last_value`,
		prefix,
	).Scan(&next).Error
	if err != nil {
		return "", err
	}
	if next <= 0 {
		return "", invariantError("allocateSequenceNumber", "invoice_sequence", prefix,
			"sequence allocator returned a non-positive value")
	}
	return FormatSequenceNumber(prefix, next), nil
}

// FormatSequenceNumber renders the institution-prefixed, zero-padded invoice
// number.
func FormatSequenceNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s-%08d", prefix, n)
}
