package protocol

import (
	"errors"
	"fmt"
)

// Code classifies relay errors. Codes are part of the wire protocol.
type Code string

const (
	CodeAuthFailed         Code = "AuthFailed"
	CodeAlreadyJoined      Code = "AlreadyJoined"
	CodeNotJoined          Code = "NotJoined"
	CodeSlowConsumer       Code = "SlowConsumer"
	CodeServiceUnavailable Code = "ServiceUnavailable"
	CodeUnauthorized       Code = "Unauthorized"
	CodeForbidden          Code = "Forbidden"
	CodeBadRequest         Code = "BadRequest"
)

// Error is a relay error with a protocol code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrAuthFailed         = &Error{Code: CodeAuthFailed, Message: "authentication failed"}
	ErrAlreadyJoined      = &Error{Code: CodeAlreadyJoined, Message: "connection already joined a room"}
	ErrNotJoined          = &Error{Code: CodeNotJoined, Message: "connection has not joined a room"}
	ErrSlowConsumer       = &Error{Code: CodeSlowConsumer, Message: "outbound queue overflow"}
	ErrServiceUnavailable = &Error{Code: CodeServiceUnavailable, Message: "service unavailable"}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "capability does not allow this operation"}
	ErrBadRequest         = &Error{Code: CodeBadRequest, Message: "malformed request"}
)

// Errorf returns an *Error with the given code and a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the protocol code from err. Errors outside the taxonomy
// report CodeServiceUnavailable.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeServiceUnavailable
}
