// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error classification for wsreactor.

package api

import (
	"fmt"

	"github.com/pkg/errors"
)

// Common errors used across the library.
var (
	ErrWouldBlock       = errors.New("operation would block")
	ErrTransportClosed  = errors.New("transport is closed")
	ErrPeerClosed       = errors.New("peer closed connection")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotSupported     = errors.New("operation not supported")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrNotFound         = errors.New("resource not found")
	ErrReservedToken    = errors.New("token is reserved for the listener")
	ErrReactorClosed    = errors.New("reactor is closed")
	ErrListenerShutdown = errors.New("listener is shut down")
)

// ErrorCode represents the class of failure that tore a connection down.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeTransport
	ErrCodeHandshake
	ErrCodeProtocol
	ErrCodeTimeout
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeTransport:
		return "transport"
	case ErrCodeHandshake:
		return "handshake"
	case ErrCodeProtocol:
		return "protocol"
	case ErrCodeTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.cause != nil {
		msg = msg + ": " + e.cause.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Cause is the pkg/errors counterpart of Unwrap.
func (e *Error) Cause() error { return e.cause }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WrapError attaches a code and message to cause. A nil cause yields nil.
func WrapError(code ErrorCode, cause error, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
		cause:   cause,
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Classify returns the ErrorCode carried by err, or ErrCodeInternal when err
// carries none. A nil error is ErrCodeOK.
func Classify(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, ErrPeerClosed), errors.Is(err, ErrTransportClosed):
		return ErrCodeTransport
	}
	return ErrCodeInternal
}
