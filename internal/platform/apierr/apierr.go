package apierr

import (
	"fmt"
	"net/http"
)

// Wire codes the error envelope exposes to clients.
const (
	CodeNotFound            = "not_found"
	CodeConcurrencyConflict = "concurrency_conflict"
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidState        = "invalid_state"
	CodeInternal            = "internal"
)

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

// NotFound wraps lookups that missed: batches, records, duplicate flags.
func NotFound(err error) *Error {
	return New(http.StatusNotFound, CodeNotFound, err)
}

// ConcurrencyConflict wraps a stale batch version stamp.
func ConcurrencyConflict(err error) *Error {
	return New(http.StatusConflict, CodeConcurrencyConflict, err)
}

// InvalidRequest wraps input the caller can correct and resend.
func InvalidRequest(err error) *Error {
	return New(http.StatusBadRequest, CodeInvalidRequest, err)
}

// InvalidState wraps operations refused by the batch or record state
// machine; the request was well formed but arrived at the wrong time.
func InvalidState(err error) *Error {
	return New(http.StatusConflict, CodeInvalidState, err)
}

// Internal wraps everything unclassified.
func Internal(err error) *Error {
	return New(http.StatusInternalServerError, CodeInternal, err)
}
