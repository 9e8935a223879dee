package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess            Code = 0
	CodeInternal           Code = 1
	CodeUsage              Code = 2
	CodeAuth               Code = 10
	CodeRateLimited        Code = 11
	CodeUnavailable        Code = 12
	CodeUnsupported        Code = 13
	CodeUnsupportedNetwork Code = 14
	CodeProvider           Code = 15
	CodeConsistency        Code = 16
	CodeTransaction        Code = 17
	CodeSigner             Code = 18
	CodeBlocked            Code = 19
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HasCode reports whether any typed error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var target *Error
		if !errors.As(err, &target) {
			return false
		}
		if target.Code == code {
			return true
		}
		err = target.Cause
	}
	return false
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// UnsupportedNetwork is returned when the capability matrix has no entry for chainID.
func UnsupportedNetwork(chainID int64) *Error {
	return New(CodeUnsupportedNetwork, fmt.Sprintf("the chain %d hasn't been implemented yet", chainID))
}

// ProviderFailure wraps an error raised by a single provider adapter.
func ProviderFailure(provider string, cause error) *Error {
	return Wrap(CodeProvider, fmt.Sprintf("provider %s failed", provider), cause)
}

// Consistency reports that two record sets that must join did not.
func Consistency(message string) *Error {
	return New(CodeConsistency, message)
}

// Transaction wraps a failure while building or submitting a transaction.
func Transaction(message string, cause error) *Error {
	return Wrap(CodeTransaction, message, cause)
}
