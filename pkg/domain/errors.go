package domain

import (
	"errors"
	"fmt"
)

// Kind classifies errors returned by the record store and the contract operations.
type Kind string

// Error kinds. Each one maps to exactly one failure class callers can branch on.
const (
	KindNotFound          Kind = "not_found"
	KindDuplicateKey      Kind = "duplicate_key"
	KindInvalidTransition Kind = "invalid_transition"
	KindInvalidAttribute  Kind = "invalid_attribute"
	KindUnknownType       Kind = "unknown_type"
	KindStorageFailure    Kind = "storage_failure"
)

// Sentinels for errors.Is checks.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrDuplicateKey      = &Error{Kind: KindDuplicateKey}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrInvalidAttribute  = &Error{Kind: KindInvalidAttribute}
	ErrUnknownType       = &Error{Kind: KindUnknownType}
	ErrStorageFailure    = &Error{Kind: KindStorageFailure}
)

// Error is the single error type surfaced across the domain boundary.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// NewError constructs an Error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// StorageError wraps a ledger failure. The original error stays reachable via errors.Is/As.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Kind == KindStorageFailure {
		return err
	}
	return &Error{Kind: KindStorageFailure, Message: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf reports the kind of err, or "" when err is not a domain error.
func KindOf(err error) Kind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return ""
}
