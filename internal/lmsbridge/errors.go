package lmsbridge

import (
	"errors"
	"fmt"
	"time"
)

// ErrPollingExited reports that the state poller stopped while the bridge
// was running.
var ErrPollingExited = errors.New("polling exited")

// NotAvailableError reports that a player did not appear in time.
type NotAvailableError struct {
	Player  string
	Elapsed time.Duration
}

func (e *NotAvailableError) Error() string {
	return fmt.Sprintf("player %q not available after %s", e.Player, e.Elapsed)
}

// ChildExitError reports that the managed player process exited.
type ChildExitError struct {
	Code    int
	HasCode bool
}

func (e *ChildExitError) Error() string {
	if !e.HasCode {
		return "player process exited without code"
	}
	return fmt.Sprintf("player process exited with code %d", e.Code)
}

// ControlError wraps a failure observed on the control client's error
// channel.
type ControlError struct {
	Err error
}

func (e *ControlError) Error() string {
	return "control client: " + e.Err.Error()
}

func (e *ControlError) Unwrap() error {
	return e.Err
}
