package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusIssued        InvoiceStatus = "ISSUED"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusVoid          InvoiceStatus = "VOID"
)

type LineItemKind string

const (
	LineItemCharge     LineItemKind = "CHARGE"
	LineItemDiscount   LineItemKind = "DISCOUNT"
	LineItemTax        LineItemKind = "TAX"
	LineItemAdjustment LineItemKind = "ADJUSTMENT"
)

// Invoice is immutable once ISSUED except through compensating adjustments.
// Total is always the exact sum of already-rounded line items, never stored
// independently of them; PaidTotal and the PARTIALLY_PAID/PAID statuses are
// derived from allocations and recomputed, never set directly.
type Invoice struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	SequenceNumber   string         `json:"sequence_number" gorm:"size:32;uniqueIndex"`
	StudentAccountID uint           `json:"student_account_id" gorm:"not null;index"`
	StudentAccount   StudentAccount `json:"-" gorm:"foreignKey:StudentAccountID;references:ID"`
	Term             string         `json:"term" gorm:"size:32;not null"`

	// BillingKey makes invoice issuance idempotent per student+term+context.
	// Uniqueness is enforced by a partial index that excludes VOID invoices, so
	// a voided billing context can be reissued.
	BillingKey string `json:"-" gorm:"size:64;index;not null"`

	IssueDate *time.Time    `json:"issue_date"`
	Status    InvoiceStatus `json:"status" gorm:"size:16;not null;default:'DRAFT';index"`

	Items     []LineItem      `json:"line_items" gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
	Total     decimal.Decimal `json:"total" gorm:"type:numeric(12,2);not null;default:0"`
	PaidTotal decimal.Decimal `json:"paid_total" gorm:"type:numeric(12,2);not null;default:0"`

	VoidReason string    `json:"void_reason,omitempty" gorm:"size:255"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RemainingBalance is the still-unpaid part of the invoice total.
func (inv *Invoice) RemainingBalance() decimal.Decimal {
	return inv.Total.Sub(inv.PaidTotal)
}

// Open reports whether the invoice can still receive payment allocations.
func (inv *Invoice) Open() bool {
	return (inv.Status == InvoiceStatusIssued || inv.Status == InvoiceStatusPartiallyPaid) &&
		inv.RemainingBalance().IsPositive()
}

// LineItem belongs to exactly one invoice. Amount is signed: charges positive,
// discounts negative. SourceReference points at the enrollment/fee that produced
// a charge, or carries rule attribution for discounts.
type LineItem struct {
	ID          uint            `json:"id" gorm:"primaryKey"`
	InvoiceID   uint            `json:"-" gorm:"index;not null"`
	Kind        LineItemKind    `json:"kind" gorm:"size:16;not null"`
	Description string          `json:"description" gorm:"size:255"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`

	SourceReference string `json:"source_reference" gorm:"size:128;index"`

	// For DISCOUNT items: the exact rule version applied, preserved even if the
	// rule is later superseded.
	RuleVersionID *uint         `json:"rule_version_id"`
	RuleVersion   *DiscountRule `json:"-" gorm:"foreignKey:RuleVersionID;references:ID"`

	// Audit note, e.g. recording that a discount was truncated to keep the
	// invoice total non-negative.
	Note string `json:"note,omitempty" gorm:"size:255"`

	CreatedAt time.Time `json:"created_at"`
}
