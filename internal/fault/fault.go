// Package fault defines the error taxonomy shared by the stores, the HTTP
// layer, and the policy loop.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnavailable
	KindSchemaDrift
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	case KindSchemaDrift:
		return "schema_drift"
	default:
		return "internal"
	}
}

// Error is a classified error. Op names the failing operation in the
// "pkg: action" form used across the codebase.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": " + e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Validation reports malformed caller input.
func Validation(op, format string, args ...any) error {
	return newf(KindValidation, op, format, args...)
}

// NotFound reports a read for an unknown key.
func NotFound(op, format string, args ...any) error {
	return newf(KindNotFound, op, format, args...)
}

// Conflict reports a lost race or a key mismatch. It never means the caller
// should crash.
func Conflict(op, format string, args ...any) error {
	return newf(KindConflict, op, format, args...)
}

// Unavailable wraps a storage connectivity or timeout failure.
func Unavailable(op string, err error) error {
	return &Error{Kind: KindUnavailable, Op: op, Err: err}
}

// SchemaDrift reports a column or table that could not be reconciled.
func SchemaDrift(op string, err error, format string, args ...any) error {
	return &Error{Kind: KindSchemaDrift, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Internal wraps any other failure.
func Internal(op string, err error) error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the caller may retry the same request.
func Retryable(err error) bool {
	return Is(err, KindUnavailable)
}
