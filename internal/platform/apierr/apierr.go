// Package apierr carries an HTTP status and a machine-readable code alongside
// the wrapped cause. Services return these; handlers unwrap them with
// errors.As and render the {"error":{"message","code"}} envelope. Codes are
// lower_snake ("quota_exceeded", "session_not_found", "assistant_error") and
// are part of the API surface the frontend matches on, so treat renames as
// breaking changes.
package apierr

import "fmt"

// Error is a service-level failure with its HTTP mapping attached.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}
