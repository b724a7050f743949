package booking

import (
	"errors"
	"fmt"
	"strings"
)

// Kind groups error codes by what the caller can do about them.
type Kind string

const (
	// KindInput errors are fixed by resubmitting corrected input.
	KindInput Kind = "input"
	// KindAuth errors concern the caller's identity or permissions.
	KindAuth Kind = "auth"
	// KindConflict errors are business-rule rejections.  They are never
	// retried silently.
	KindConflict Kind = "conflict"
	// KindTransient errors are infrastructure failures; resubmitting the
	// same request later may succeed.
	KindTransient Kind = "transient"
)

// Error is the tagged outcome every engine operation returns on failure.
// Fields names the offending request fields for input errors.
type Error struct {
	Code    string
	Kind    Kind
	Message string
	Fields  []string
	cause   error
}

func (e *Error) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(e.Fields, ", "))
	}
	return e.Code + ": " + e.Message
}

// Is matches on Code so that instances carrying fields or a cause compare
// equal to the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) Unwrap() error { return e.cause }

// Sentinels.  Use errors.Is to test; use the with* helpers to attach
// detail without losing the identity.
var (
	ErrUnauthorized     = &Error{Code: "Unauthorized", Kind: KindAuth, Message: "authentication required"}
	ErrForbidden        = &Error{Code: "Forbidden", Kind: KindAuth, Message: "not allowed to act on this booking"}
	ErrMissingFields    = &Error{Code: "MissingFields", Kind: KindInput, Message: "required fields are missing"}
	ErrMissingDate      = &Error{Code: "MissingDate", Kind: KindInput, Message: "date is required"}
	ErrInvalidDate      = &Error{Code: "InvalidDate", Kind: KindInput, Message: "date must be YYYY-MM-DD"}
	ErrDateOutOfWindow  = &Error{Code: "DateOutOfWindow", Kind: KindInput, Message: "date is outside the booking window"}
	ErrInvalidTimeRange = &Error{Code: "InvalidTimeRange", Kind: KindInput, Message: "timeSlot must be \"HH:MM - HH:MM\" with end after start"}
	ErrDurationPolicy   = &Error{Code: "DurationOutOfPolicy", Kind: KindInput, Message: "booking duration is outside the allowed range"}
	ErrNotFound         = &Error{Code: "NotFound", Kind: KindInput, Message: "booking not found"}
	ErrSlotConflict     = &Error{Code: "SlotConflict", Kind: KindConflict, Message: "this time slot is already booked"}
	ErrAlreadyCancelled = &Error{Code: "AlreadyCancelled", Kind: KindConflict, Message: "booking is already cancelled"}
	ErrDeadlinePassed   = &Error{Code: "DeadlinePassed", Kind: KindConflict, Message: "cancellation deadline has passed"}
	ErrTransient        = &Error{Code: "TransientStoreFailure", Kind: KindTransient, Message: "booking store is temporarily unavailable, please retry"}
)

func withFields(base *Error, fields ...string) *Error {
	e := *base
	e.Fields = fields
	return &e
}

func withMessage(base *Error, msg string) *Error {
	e := *base
	e.Message = msg
	return &e
}

func transient(cause error) *Error {
	e := *ErrTransient
	e.cause = cause
	return &e
}

// AsError extracts the tagged error from err.  Anything untagged is
// reported as a transient failure so that no failure path is ever mistaken
// for an input or conflict error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return transient(err)
}
