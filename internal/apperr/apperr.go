// Package apperr provides the typed error kinds returned by every core operation.
// Only the HTTP boundary translates a Kind into a transport status.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindInternal           Kind = "INTERNAL"
	KindValidation         Kind = "VALIDATION"
	KindNotFound           Kind = "NOT_FOUND"
	KindUserNotFound       Kind = "USER_NOT_FOUND"
	KindAlreadyExists      Kind = "ALREADY_EXISTS"
	KindStateConflict      Kind = "STATE_CONFLICT"
	KindInsufficientFunds  Kind = "INSUFFICIENT_FUNDS"
	KindInactiveWallet     Kind = "INACTIVE_WALLET"
	KindForbidden          Kind = "FORBIDDEN"
	KindExternalDependency Kind = "EXTERNAL_DEPENDENCY_FAILURE"
	KindDuplicate          Kind = "DUPLICATE"
	KindIDCollision        Kind = "ID_COLLISION"
	KindHasTransactions    Kind = "HAS_TRANSACTIONS"
	KindRuleNotFound       Kind = "RULE_NOT_FOUND"
	KindRuleInactive       Kind = "RULE_INACTIVE"
	KindRuleInvalidConfig  Kind = "RULE_INVALID_CONFIG"
)

// Error carries a Kind, a human readable message and an optional cause.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`

	cause error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// With attaches a metadata value and returns the same error.
func (e *Error) With(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Internal wraps an unexpected failure.
func Internal(cause error, format string, args ...any) *Error {
	return Wrap(KindInternal, cause, format, args...)
}

// StateConflict reports an illegal transition from current.
func StateConflict(current string, required ...string) *Error {
	return New(KindStateConflict, "status is %s, requires one of [%s]", current, strings.Join(required, ", ")).
		With("current", current).
		With("required", required)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
