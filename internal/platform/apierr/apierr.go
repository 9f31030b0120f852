package apierr

import (
	"errors"
	"fmt"
)

// Error codes for everything the advisory layer can surface to callers.
const (
	CodeInvalidCredential = "invalid_credential"
	CodeRateLimited       = "rate_limited"
	CodeTimeout           = "timeout"
	CodeUnavailable       = "unavailable"
	CodePrecondition      = "precondition"
	CodeNotFound          = "not_found"
)

type Error struct {
	Code   string
	Status int
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

func New(code string, status int, err error) *Error {
	return &Error{Code: code, Status: status, Err: err}
}

func Newf(code string, status int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Status: status, Err: fmt.Errorf(format, args...)}
}

// CodeOf returns the code carried by err, or "" when err is not an *Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func HasCode(err error, code string) bool { return CodeOf(err) == code }

func IsNotFound(err error) bool     { return HasCode(err, CodeNotFound) }
func IsPrecondition(err error) bool { return HasCode(err, CodePrecondition) }
func IsRateLimited(err error) bool  { return HasCode(err, CodeRateLimited) }
func IsTimeout(err error) bool      { return HasCode(err, CodeTimeout) }
