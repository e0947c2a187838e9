package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error. Handlers translate codes to HTTP statuses
// and clients branch on them, so codes are part of the API contract.
type Code string

const (
	// Generic codes shared by every service.
	CodeValidation         Code = "validation"
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeInternal           Code = "internal"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"

	// Scan protocol codes. The guard-facing UI renders a specific message per
	// code, so each validation failure keeps its own identity here even where
	// the message is deliberately vague (token_not_recognized covers both a
	// bad signature and a missing visit to avoid oracle attacks).
	CodeTokenMalformed         Code = "token_malformed"
	CodeTokenNotRecognized     Code = "token_not_recognized"
	CodeAlreadyProcessed       Code = "already_processed"
	CodeExpired                Code = "expired"
	CodeNotYetApproved         Code = "not_yet_approved"
	CodeCrossTenant            Code = "cross_tenant"
	CodeConfiguration          Code = "configuration"
	CodeConcurrentModification Code = "concurrent_modification"
)

// Error is a coded domain error. Services return *Error so transport layers
// can map codes without string matching.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error with a caller-facing message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted caller-facing message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given code. Alias of HasCode kept for
// call-site readability next to errors.Is.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// HasCode walks the error chain looking for a domain error with the code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or CodeInternal when err is not a
// domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-facing message, or a generic one for
// non-domain errors so internals never leak to clients.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

// ToHTTPStatus maps a code to the HTTP status handlers should write.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest, CodeInvalidInput, CodeTokenMalformed:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeCrossTenant:
		return http.StatusForbidden
	case CodeNotFound, CodeTokenNotRecognized:
		return http.StatusNotFound
	case CodeConflict, CodeAlreadyProcessed, CodeNotYetApproved,
		CodeConcurrentModification:
		return http.StatusConflict
	case CodeExpired:
		return http.StatusGone
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
