package errors

import (
	stderrors "errors"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeBadRequest ErrorType = "BAD_REQUEST"
	ErrorTypeFatal      ErrorType = "FATAL"
)

// Error is a domain error the boundary layer translates into a response.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
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

func BadRequest(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeBadRequest,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

// Fatal marks a failure of the object store or a mount during a build.
func Fatal(message string, err error) *Error {
	return &Error{
		Type:    ErrorTypeFatal,
		Message: message,
		Code:    http.StatusInternalServerError,
		Err:     err,
	}
}

// Is reports whether err carries a domain error of type t.
func Is(err error, t ErrorType) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Type == t
}

func IsNotFound(err error) bool   { return Is(err, ErrorTypeNotFound) }
func IsBadRequest(err error) bool { return Is(err, ErrorTypeBadRequest) }
func IsFatal(err error) bool      { return Is(err, ErrorTypeFatal) }

// StatusCode maps err to an HTTP status; unknown errors are 500.
func StatusCode(err error) int {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return http.StatusInternalServerError
}
