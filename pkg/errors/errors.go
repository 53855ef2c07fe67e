package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness. Details carries
// structured context such as jurisdiction citation strings or block reasons so
// calling layers can render regulation-accurate messages.
type Error struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Status  int      `json:"status"`
	Details []string `json:"details,omitempty"`
	Err     error    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors covering the engine's failure taxonomy. Eligibility blocks,
// verification rejections, conflicts and submission failures each carry a
// distinct code so callers can choose retry or surface semantics.
var (
	ErrInvalidCredentials   = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount      = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound             = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden            = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized         = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation           = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal             = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss            = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrEligibilityBlocked   = New("ELIGIBILITY_BLOCKED", http.StatusForbidden, "caregiver is not eligible for this visit")
	ErrVerificationRejected = New("VERIFICATION_REJECTED", http.StatusUnprocessableEntity, "clock event failed verification")
	ErrDuplicateEntry       = New("DUPLICATE_ENTRY", http.StatusConflict, "an accepted entry of this type already exists for the visit")
	ErrVersionConflict      = New("VERSION_CONFLICT", http.StatusConflict, "record was modified concurrently, reload and retry")
	ErrRecordSuperseded     = New("RECORD_SUPERSEDED", http.StatusConflict, "record has been superseded by an amendment")
	ErrInvalidTransition    = New("INVALID_TRANSITION", http.StatusConflict, "record state does not allow this operation")
	ErrSubmissionFailed     = New("SUBMISSION_FAILED", http.StatusBadGateway, "aggregator submission failed")
	ErrAggregatorConfig     = New("AGGREGATOR_NOT_CONFIGURED", http.StatusInternalServerError, "no aggregator endpoint configured for jurisdiction")
)

// WithDetails returns a copy of the error carrying the provided detail lines.
func WithDetails(err *Error, details ...string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Details = append([]string(nil), details...)
	return &clone
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is reports whether err carries the same code as target.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}
