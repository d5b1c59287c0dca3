// Package xerr defines the typed error kinds shared by evaluation and
// mutation.
//
// Every failure surfaced by the core is an *Error with a Kind. Callers use
// the Is* helpers (which see through wrapping via errors.As) to decide how
// to react, and NothingChanged/PartiallyChanged to decide whether a retry
// is safe.
package xerr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error.
type Kind string

const (
	// KindAccessDenied indicates the caller may not perform the operation.
	KindAccessDenied Kind = "ACCESS_DENIED"

	// KindLockFailure indicates a required lock could not be acquired.
	KindLockFailure Kind = "LOCK_FAILURE"

	// KindTypeMismatch indicates a bound value violates a declared type.
	KindTypeMismatch Kind = "TYPE_MISMATCH"

	// KindEvaluation indicates an expression-level failure, including
	// internal-consistency defects such as a missing context annotation.
	KindEvaluation Kind = "EVALUATION_ERROR"

	// KindTriggerFailure indicates a trigger rejected or failed during
	// prepare or finish.
	KindTriggerFailure Kind = "TRIGGER_FAILURE"

	// KindInternalStore indicates a failure surfaced by the storage layer.
	KindInternalStore Kind = "INTERNAL_STORE_ERROR"
)

// Error is the error type returned across the core.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Message is a human-readable description.
	Message string

	// DocID identifies the affected document, 0 if not applicable.
	DocID int64

	// NodeID identifies the affected node, empty if not applicable.
	NodeID string

	// Changed is true when some edit was already committed before the
	// failure (finish-phase trigger failures). Retrying is then not
	// idempotent.
	Changed bool

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.DocID != 0 && e.NodeID != "" {
		msg = fmt.Sprintf("%s (doc=%d, node=%s)", msg, e.DocID, e.NodeID)
	} else if e.DocID != 0 {
		msg = fmt.Sprintf("%s (doc=%d)", msg, e.DocID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// OnDocument attributes the error to a document.
func (e *Error) OnDocument(docID int64) *Error {
	e.DocID = docID
	return e
}

// OnNode attributes the error to a node within a document.
func (e *Error) OnNode(docID int64, nodeID string) *Error {
	e.DocID = docID
	e.NodeID = nodeID
	return e
}

// KindOf returns the kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsAccessDenied reports whether err is an access-denied error.
func IsAccessDenied(err error) bool { return IsKind(err, KindAccessDenied) }

// IsLockFailure reports whether err is a lock failure.
func IsLockFailure(err error) bool { return IsKind(err, KindLockFailure) }

// IsTypeMismatch reports whether err is a type mismatch.
func IsTypeMismatch(err error) bool { return IsKind(err, KindTypeMismatch) }

// IsEvaluation reports whether err is an evaluation error.
func IsEvaluation(err error) bool { return IsKind(err, KindEvaluation) }

// IsTriggerFailure reports whether err is a trigger failure.
func IsTriggerFailure(err error) bool { return IsKind(err, KindTriggerFailure) }

// IsInternalStore reports whether err is a storage-layer failure.
func IsInternalStore(err error) bool { return IsKind(err, KindInternalStore) }

// PartiallyChanged reports whether err was raised after an edit had
// already been committed.
func PartiallyChanged(err error) bool {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Changed
	}
	return false
}

// NothingChanged reports whether err was raised before any edit was
// applied. Errors that are not *Error are treated conservatively as
// unknown and report false.
func NothingChanged(err error) bool {
	var xe *Error
	if errors.As(err, &xe) {
		return !xe.Changed
	}
	return false
}
