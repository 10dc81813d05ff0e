package core

import (
	"errors"
	"fmt"

	"github.com/mikey-austin/lms_bridge/internal/adapters/lmsclient"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitRuntime     = 1
	ExitUsage       = 2
	ExitNotFound    = 4
	ExitUnavailable = 5
	ExitProtocol    = 6
)

// CLIError carries a user-visible message and exit code.
type CLIError struct {
	Code int
	Msg  string
	Err  error
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// WrapError creates a CLIError with an underlying error.
func WrapError(code int, msg string, err error) *CLIError {
	return &CLIError{Code: code, Msg: msg, Err: err}
}

// WrapClientError classifies a control client failure. Transport failures
// mean the server is unavailable; every other class is a protocol mismatch.
func WrapClientError(msg string, err error) *CLIError {
	switch {
	case errors.Is(err, lmsclient.ErrTransport):
		return WrapError(ExitUnavailable, msg, err)
	case errors.Is(err, lmsclient.ErrDecode),
		errors.Is(err, lmsclient.ErrResultShape),
		errors.Is(err, lmsclient.ErrKeyAbsent),
		errors.Is(err, lmsclient.ErrWrongType):
		return WrapError(ExitProtocol, msg, err)
	default:
		return WrapError(ExitRuntime, msg, err)
	}
}

// ExitCode returns the CLI exit code from error.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	return ExitRuntime
}
