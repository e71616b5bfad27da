// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error categories for xpra session operations.
type ErrorCode int

const (
	// ErrProtocol indicates a malformed packet or a protocol violation.
	ErrProtocol ErrorCode = iota
	// ErrAuthentication indicates a failed challenge/response exchange.
	ErrAuthentication
	// ErrDecode indicates a paint payload that could not be decoded.
	ErrDecode
	// ErrNetwork indicates a transport failure.
	ErrNetwork
	// ErrConfiguration indicates an invalid client configuration.
	ErrConfiguration
	// ErrTimeout indicates an operation that exceeded its deadline.
	ErrTimeout
	// ErrValidation indicates input validation failure.
	ErrValidation
	// ErrUnsupported indicates an unsupported encoding, codec or feature.
	ErrUnsupported
	// ErrResource indicates a bounded queue overflowed and its stream was torn down.
	ErrResource
)

// String returns the string representation of the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrProtocol:
		return "protocol"
	case ErrAuthentication:
		return "authentication"
	case ErrDecode:
		return "decode"
	case ErrNetwork:
		return "network"
	case ErrConfiguration:
		return "configuration"
	case ErrTimeout:
		return "timeout"
	case ErrValidation:
		return "validation"
	case ErrUnsupported:
		return "unsupported"
	case ErrResource:
		return "resource"
	default:
		return "unknown"
	}
}

// XpraError provides structured error information with the failing operation,
// an error category and an optional wrapped cause.
type XpraError struct {
	Op      string
	Code    ErrorCode
	Message string
	Err     error
}

// Error returns the formatted error message.
func (e *XpraError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xpra %s: %s: %s: %v", e.Code.String(), e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("xpra %s: %s: %s", e.Code.String(), e.Op, e.Message)
}

// Unwrap returns the underlying error for error chain unwrapping.
func (e *XpraError) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches the target error by code and operation.
func (e *XpraError) Is(target error) bool {
	var xErr *XpraError
	if errors.As(target, &xErr) {
		return e.Code == xErr.Code && e.Op == xErr.Op
	}
	return false
}

// NewXpraError creates a new XpraError with the specified parameters.
func NewXpraError(op string, code ErrorCode, message string, err error) *XpraError {
	return &XpraError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WrapError wraps an existing error with operation context.
// Returns nil if err is nil.
func WrapError(op string, code ErrorCode, message string, err error) error {
	if err == nil {
		return nil
	}
	return NewXpraError(op, code, message, err)
}

// IsXpraError checks if err is an XpraError and, when codes are given,
// whether it carries one of them.
func IsXpraError(err error, code ...ErrorCode) bool {
	var xErr *XpraError
	if !errors.As(err, &xErr) {
		return false
	}

	if len(code) == 0 {
		return true
	}

	for _, c := range code {
		if xErr.Code == c {
			return true
		}
	}
	return false
}

// GetErrorCode extracts the error code from an XpraError, or -1.
func GetErrorCode(err error) ErrorCode {
	var xErr *XpraError
	if errors.As(err, &xErr) {
		return xErr.Code
	}
	return ErrorCode(-1)
}

// ackMessage returns the short text placed in a damage-sequence
// acknowledgement for a failed decode.
func ackMessage(err error) string {
	if err == nil {
		return ""
	}
	var xErr *XpraError
	if errors.As(err, &xErr) {
		if xErr.Err != nil {
			return xErr.Message + ": " + xErr.Err.Error()
		}
		return xErr.Message
	}
	return err.Error()
}

func protocolError(op, message string, err error) error {
	return NewXpraError(op, ErrProtocol, message, err)
}

func authenticationError(op, message string, err error) error {
	return NewXpraError(op, ErrAuthentication, message, err)
}

func decodeError(op, message string, err error) error {
	return NewXpraError(op, ErrDecode, message, err)
}

func networkError(op, message string, err error) error {
	return NewXpraError(op, ErrNetwork, message, err)
}

func configurationError(op, message string, err error) error {
	return NewXpraError(op, ErrConfiguration, message, err)
}

func timeoutError(op, message string, err error) error {
	return NewXpraError(op, ErrTimeout, message, err)
}

func validationError(op, message string, err error) error {
	return NewXpraError(op, ErrValidation, message, err)
}

func unsupportedError(op, message string, err error) error {
	return NewXpraError(op, ErrUnsupported, message, err)
}

func resourceError(op, message string, err error) error {
	return NewXpraError(op, ErrResource, message, err)
}
