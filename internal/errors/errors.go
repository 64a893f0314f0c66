package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeNotFound       ErrorType = "NOT_FOUND"
	ErrorTypeValidation     ErrorType = "VALIDATION"
	ErrorTypeInvalidPath    ErrorType = "INVALID_PATH"
	ErrorTypeConflict       ErrorType = "CONFLICT"
	ErrorTypeNotImplemented ErrorType = "NOT_IMPLEMENTED"
	ErrorTypeIOFailure      ErrorType = "IO_FAILURE"
	ErrorTypeForbidden      ErrorType = "FORBIDDEN"
	ErrorTypeInternal       ErrorType = "INTERNAL"
)

// Error is the typed error returned by every store operation. Message is
// safe to show to callers; Err carries the underlying cause and never
// leaves the process.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"-"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

// InvalidPath rejects a path before anything is mutated.
func InvalidPath(message string, path string) *Error {
	return &Error{
		Type:    ErrorTypeInvalidPath,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: map[string]string{"path": path},
	}
}

func Conflict(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeConflict,
		Message: message,
		Code:    http.StatusConflict,
		Err:     cause,
	}
}

func NotImplemented(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotImplemented,
		Message: message,
		Code:    http.StatusNotImplemented,
	}
}

func Forbidden(message string) *Error {
	return &Error{
		Type:    ErrorTypeForbidden,
		Message: message,
		Code:    http.StatusForbidden,
	}
}

// IOFailure wraps a storage or codec failure. The message should describe
// the operation, not the storage location.
func IOFailure(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeIOFailure,
		Message: message,
		Code:    http.StatusInternalServerError,
		Err:     cause,
	}
}

// TypeOf returns the ErrorType of the first *Error in err's chain, or
// ErrorTypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// StatusCode maps err to the HTTP status the transport should answer with.
func StatusCode(err error) int {
	var e *Error
	if stderrors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	return http.StatusInternalServerError
}

// Public returns the caller-facing form of err. Untyped errors are
// collapsed into a generic internal error so storage details do not leak.
func Public(err error) *Error {
	var e *Error
	if stderrors.As(err, &e) {
		return &Error{Type: e.Type, Message: e.Message, Code: e.Code, Details: e.Details}
	}
	return &Error{
		Type:    ErrorTypeInternal,
		Message: "internal error",
		Code:    http.StatusInternalServerError,
	}
}

// WriteHTTP writes the public form of err as a JSON body with its status.
func WriteHTTP(w http.ResponseWriter, err error) {
	pub := Public(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(pub.Code)
	json.NewEncoder(w).Encode(pub)
}
