// Package apperr defines the typed failure reasons returned across the
// engine boundary.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide whether to retry.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindDuplicateWager      Kind = "duplicate_wager"
	KindNotFound            Kind = "not_found"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindPersistence         Kind = "persistence"
	KindModerationSystem    Kind = "moderation_system"
)

// Sentinel errors, one per kind. errors.Is(err, ErrX) matches any *Error of that kind.
var (
	ErrValidation          = &Error{Kind: KindValidation, Msg: "invalid input"}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance, Msg: "insufficient balance"}
	ErrDuplicateWager      = &Error{Kind: KindDuplicateWager, Msg: "duplicate wager"}
	ErrNotFound            = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict, Msg: "concurrent modification"}
	ErrPersistence         = &Error{Kind: KindPersistence, Msg: "storage failure"}
	ErrModerationSystem    = &Error{Kind: KindModerationSystem, Msg: "moderation check failed"}
)

// Error is a failure carrying its Kind, the operation that produced it and
// an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so wrapped errors compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retriable reports whether the caller may retry the same request unchanged.
func (e *Error) Retriable() bool {
	return e.Kind == KindConcurrencyConflict || e.Kind == KindPersistence
}

// New builds an Error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and op to err. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: string(kind), Err: err}
}

// Validation builds a validation failure.
func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, format, args...)
}

// NotFound builds a not-found failure for the named entity.
func NotFound(op, entity, id string) *Error {
	return New(KindNotFound, op, "%s %q not found", entity, id)
}

// Persistence wraps a storage failure.
func Persistence(op string, err error) error {
	return Wrap(KindPersistence, op, err)
}

// KindOf returns the Kind of err, or KindPersistence for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// IsRetriable reports whether err is worth retrying with backoff.
func IsRetriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retriable()
	}
	return true
}
