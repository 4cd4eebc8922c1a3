// Package opserr defines the structured error taxonomy returned by the
// engine's core operations: not-found, conflict, constraint,
// validation, and storage. Callers that need to branch on error class
// use Kind/Is rather than string matching.
package opserr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	// NotFound means the referenced id does not exist (or is a
	// tombstoned element the caller did not ask to see).
	NotFound Kind = "not-found"
	// Conflict means a duplicate name/dependency or an
	// optimistic-concurrency mismatch.
	Conflict Kind = "conflict"
	// Constraint means an invariant rejected the operation: immutable
	// element, type mismatch, invalid status transition, direct-channel
	// membership change, cycle detected, member-required.
	Constraint Kind = "constraint"
	// Validation means the caller supplied bad or incomplete input.
	Validation Kind = "validation"
	// Storage means the persistence layer itself failed: a corrupt
	// row, an unavailable index, a driver error.
	Storage Kind = "storage"
)

// Error is the concrete error type carried through the system. Op names
// the failing operation (e.g. "element.update"), Kind classifies the
// failure, and Err (if set) is the wrapped cause.
type Error struct {
	Op   string
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error without a wrapped cause.
func New(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// Wrap constructs an *Error wrapping cause.
func Wrap(op string, kind Kind, cause error, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg, Err: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(op string, kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, and false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether the first *Error in err's chain (the one KindOf
// finds) has the given Kind; *Error values wrapped deeper are not
// consulted.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func IsNotFound(err error) bool   { return Is(err, NotFound) }
func IsConflict(err error) bool   { return Is(err, Conflict) }
func IsConstraint(err error) bool { return Is(err, Constraint) }
func IsValidation(err error) bool { return Is(err, Validation) }
func IsStorage(err error) bool    { return Is(err, Storage) }
