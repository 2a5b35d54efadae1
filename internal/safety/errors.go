package safety

import (
	"errors"
	"fmt"
)

// Code identifies a result class reported to the calling software layer.
type Code int

const (
	CodeOK Code = iota
	CodeNotInitialized
	CodeNullPointer
	CodeInvalidParameter
	CodeInvalidState
	CodeHardwareFault
	CodeTimeout
	CodeSystemFault
	CodeUnknown
)

var codeNames = [...]string{
	CodeOK:               "OK",
	CodeNotInitialized:   "NOT_INITIALIZED",
	CodeNullPointer:      "NULL_POINTER",
	CodeInvalidParameter: "INVALID_PARAMETER",
	CodeInvalidState:     "INVALID_STATE",
	CodeHardwareFault:    "HARDWARE_FAULT",
	CodeTimeout:          "TIMEOUT",
	CodeSystemFault:      "SYSTEM_FAULT",
	CodeUnknown:          "UNKNOWN",
}

func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "UNKNOWN"
}

// Error is a coded safety error. Match with errors.Is against the sentinels.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return "safety: " + e.Msg
}

var (
	ErrNotInitialized   = &Error{Code: CodeNotInitialized, Msg: "not initialized"}
	ErrNullPointer      = &Error{Code: CodeNullPointer, Msg: "nil reference"}
	ErrInvalidParameter = &Error{Code: CodeInvalidParameter, Msg: "invalid parameter"}
	ErrInvalidState     = &Error{Code: CodeInvalidState, Msg: "invalid state"}
	ErrHardwareFault    = &Error{Code: CodeHardwareFault, Msg: "hardware fault"}
	ErrTimeout          = &Error{Code: CodeTimeout, Msg: "timeout"}
	ErrSystemFault      = &Error{Code: CodeSystemFault, Msg: "system fault"}
)

// CodeOf returns the result code for err. Nil maps to CodeOK and errors
// outside the taxonomy map to CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeUnknown
}

// hwFault wraps a HAL failure so it matches both ErrHardwareFault and the
// underlying driver error. HAL argument errors are reported as
// ErrInvalidParameter instead.
func hwFault(op string, err error) error {
	if isParamErr(err) {
		return fmt.Errorf("%w: %s: %w", ErrInvalidParameter, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrHardwareFault, op, err)
}
