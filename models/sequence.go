package models

// InvoiceSequence is the single point of serialization for invoice numbering.
// One row per institution prefix; the allocator bumps LastValue with an atomic
// UPDATE ... RETURNING inside the issuance transaction, so an aborted issuance
// rolls the reservation back. Sequence numbers are never derived from row
// counts.
type InvoiceSequence struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	Prefix    string `json:"prefix" gorm:"size:16;uniqueIndex;not null"`
	LastValue int64  `json:"last_value" gorm:"not null;default:0"`
}
