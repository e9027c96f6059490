package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies ledger errors so callers can react precisely: configuration
// errors block issuance and go to the operator queue, validation errors are
// rejected synchronously with no partial state, invariant violations indicate a
// defect and are never retried, conflicts are safe to retry with the same
// idempotency key.
type Kind string

const (
	KindConfiguration Kind = "CONFIGURATION"
	KindValidation    Kind = "VALIDATION"
	KindInvariant     Kind = "INVARIANT"
	KindConflict      Kind = "CONFLICT"
	KindNotFound      Kind = "NOT_FOUND"
)

// Error carries the kind plus the offending entity so the HTTP layer can render
// a precise message without string matching.
type Error struct {
	Kind     Kind
	Op       string
	Entity   string
	EntityID string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Message)
	if e.Entity != "" {
		msg += fmt.Sprintf(" (%s %s)", e.Entity, e.EntityID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrKind extracts the ledger error kind, or "" for foreign errors.
func ErrKind(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// IsKind reports whether err is a ledger error of the given kind.
func IsKind(err error, kind Kind) bool {
	return ErrKind(err) == kind
}

func pricingNotFoundError(op, billableItemRef string) *Error {
	return &Error{
		Kind:     KindConfiguration,
		Op:       op,
		Entity:   "pricing_tier",
		EntityID: billableItemRef,
		Message:  "no pricing tier covers the evaluation date",
	}
}

func overAllocationError(op string, invoiceID uint) *Error {
	return &Error{
		Kind:     KindValidation,
		Op:       op,
		Entity:   "invoice",
		EntityID: fmt.Sprint(invoiceID),
		Message:  "allocation would exceed the invoice total",
	}
}

func invariantError(op, entity, entityID, message string) *Error {
	return &Error{
		Kind:     KindInvariant,
		Op:       op,
		Entity:   entity,
		EntityID: entityID,
		Message:  message,
	}
}
