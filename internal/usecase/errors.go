package usecase

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable code reported to the webhook caller.
type ErrorCode string

const (
	ErrorInvalidInput          ErrorCode = "INVALID_INPUT"
	ErrorValidation            ErrorCode = "VALIDATION_ERROR"
	ErrorUnsupportedValue      ErrorCode = "UNSUPPORTED_VALUE"
	ErrorPredictionUnavailable ErrorCode = "PREDICTION_UNAVAILABLE"
	ErrorUnknownIntent         ErrorCode = "UNKNOWN_INTENT"
	ErrorInternal              ErrorCode = "INTERNAL_ERROR"
)

// ClientFault reports whether the code describes a bad webhook request
// rather than a failure on our side.
func (c ErrorCode) ClientFault() bool {
	switch c {
	case ErrorInvalidInput, ErrorValidation, ErrorUnsupportedValue, ErrorUnknownIntent:
		return true
	}
	return false
}

// Error is a turn failure. Reason is a snake_case tag for logs.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain. Errors from
// outside this package, and unrecognised codes, report ErrorInternal.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if !errors.As(err, &ue) || ue == nil {
		return ErrorInternal
	}
	switch ue.Code {
	case ErrorInvalidInput, ErrorValidation, ErrorUnsupportedValue,
		ErrorPredictionUnavailable, ErrorUnknownIntent, ErrorInternal:
		return ue.Code
	}
	return ErrorInternal
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
