package prop

import (
	"errors"
	"fmt"
)

// StatusCode is the terminal outcome attached to a result. The numbering
// follows the vehicle HAL status taxonomy.
type StatusCode int32

const (
	StatusOK            StatusCode = 0
	StatusTryAgain      StatusCode = 1 // timed out before the hardware answered; safe to resubmit
	StatusInvalidArg    StatusCode = 2 // schema, range, area or duplicate violation
	StatusNotAvailable  StatusCode = 3 // property not implemented by the hardware
	StatusAccessDenied  StatusCode = 4
	StatusInternalError StatusCode = 5 // hardware-reported failure
)

// String returns the canonical name of the code.
func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusTryAgain:
		return "TRY_AGAIN"
	case StatusInvalidArg:
		return "INVALID_ARG"
	case StatusNotAvailable:
		return "NOT_AVAILABLE"
	case StatusAccessDenied:
		return "ACCESS_DENIED"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	default:
		return fmt.Sprintf("STATUS(%d)", int32(s))
	}
}

// StatusError is an error carrying a status code, used wherever a failure
// must surface as a concrete result status rather than free text.
type StatusError struct {
	Code   StatusCode
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	switch {
	case e.Err != nil:
		return e.Code.String() + ": " + e.Err.Error()
	case e.Reason != "":
		return e.Code.String() + ": " + e.Reason
	default:
		return e.Code.String()
	}
}

// Unwrap exposes the wrapped error, if any.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// Errorf builds a StatusError with a formatted reason.
func Errorf(code StatusCode, format string, args ...any) *StatusError {
	return &StatusError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a status code to an existing error, keeping the chain intact
// for errors.Is / errors.As.
func Wrap(code StatusCode, err error) *StatusError {
	return &StatusError{Code: code, Err: err}
}

// StatusOf extracts the status code from an error chain. A nil error is OK;
// an error with no StatusError in its chain is INTERNAL_ERROR.
func StatusOf(err error) StatusCode {
	if err == nil {
		return StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return StatusInternalError
}
