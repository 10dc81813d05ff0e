package lmsclient

import (
	"errors"
	"fmt"
)

// Failure classes. Every error returned by the client matches exactly one
// of them with errors.Is.
var (
	ErrTransport   = errors.New("transport failure")
	ErrDecode      = errors.New("decode failure")
	ErrResultShape = errors.New("unexpected result shape")
	ErrKeyAbsent   = errors.New("key absent")
	ErrWrongType   = errors.New("wrong type")
)

// Error describes a failed client operation.
type Error struct {
	Op   string
	Kind error
	Key  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Key != "" {
		msg += fmt.Sprintf(" (key %s)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the failure class and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind error, key string, err error) *Error {
	return &Error{Op: op, Kind: kind, Key: key, Err: err}
}
