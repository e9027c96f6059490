package ledger

import "github.com/sirupsen/logrus"

var log = logrus.StandardLogger()

// SetLogger replaces the package logger; main wires the configured instance in
// at startup.
func SetLogger(l *logrus.Logger) {
	if l != nil {
		log = l
	}
}

// logInvariant records an invariant violation with full entity context before
// the operation aborts. These indicate defects, not retryable conditions.
func logInvariant(err *Error, fields logrus.Fields) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["kind"] = err.Kind
	fields["op"] = err.Op
	fields["entity"] = err.Entity
	fields["entity_id"] = err.EntityID
	log.WithFields(fields).Error(err.Message)
}
