package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
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

// Predefined errors for common scenarios.
var (
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid credentials")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrTokenExpired       = New("TOKEN_EXPIRED", http.StatusUnauthorized, "token expired")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")

	// Subscription gate outcomes. The check failure is distinct from the
	// denial so callers can tell "no access" from "cannot determine access".
	ErrSubscriptionRequired = New("SUBSCRIPTION_REQUIRED", http.StatusForbidden, "active subscription required")
	ErrSubscriptionCheck    = New("SUBSCRIPTION_CHECK_FAILED", http.StatusInternalServerError, "unable to verify subscription")

	// Exam session state machine violations.
	ErrSessionCreation        = New("SESSION_CREATION_FAILED", http.StatusInternalServerError, "failed to create exam session")
	ErrInvalidSessionState    = New("INVALID_SESSION_STATE", http.StatusConflict, "session is not in progress")
	ErrOutOfSequence          = New("OUT_OF_SEQUENCE", http.StatusConflict, "answer does not match the current question")
	ErrAlreadyFinalized       = New("ALREADY_FINALIZED", http.StatusConflict, "session already finalized")
	ErrConcurrentModification = New("CONCURRENT_MODIFICATION", http.StatusConflict, "session was modified concurrently")

	ErrPayloadTooLarge = New("PAYLOAD_TOO_LARGE", http.StatusRequestEntityTooLarge, "payload exceeds size limit")

	// Upstream provider failures (billing, question generation).
	ErrUpstreamTimeout     = New("UPSTREAM_TIMEOUT", http.StatusBadGateway, "upstream provider timed out")
	ErrUpstreamUnavailable = New("UPSTREAM_UNAVAILABLE", http.StatusServiceUnavailable, "upstream provider unavailable")
)

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
