package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a business error independently of the domain that raised it.
type Kind string

const (
	KindValidation             Kind = "validation_error"
	KindNotFound               Kind = "not_found"
	KindInsufficientStock      Kind = "insufficient_stock"
	KindInsufficientAllocation Kind = "insufficient_allocation"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindAuthorization          Kind = "authorization_error"
	KindConcurrencyConflict    Kind = "concurrency_conflict"
	KindNotSubsidizable        Kind = "not_subsidizable"
	KindInvalidMovement        Kind = "invalid_movement"
	KindInternal               Kind = "internal_error"
)

// Error is a coded business error. Two errors are equal under errors.Is when
// their codes match, so a sentinel still matches after With adds detail.
type Error struct {
	Kind   Kind
	Code   string
	Detail string
}

func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + ": " + e.Detail
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e carrying a formatted detail message.
func (e *Error) With(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first coded error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first coded error in err's chain.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return string(KindInternal)
}

// Reason renders err for per-line result payloads.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Error()
	}
	return string(KindInternal)
}

var (
	ErrConcurrencyConflict = New(KindConcurrencyConflict, "concurrency_conflict")
	ErrInvalidActor        = New(KindValidation, "invalid_actor")
)
