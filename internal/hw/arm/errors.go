package arm

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy indicates a command is already outstanding. Retry later; not a device fault.
	ErrBusy = errors.New("robot busy, command rejected")
	// ErrConfirmationTimeout indicates the board did not answer DONE or ERROR in time.
	ErrConfirmationTimeout = errors.New("timed out waiting for confirmation")
	// ErrNotConnected indicates the session has no open link.
	ErrNotConnected = errors.New("not connected")
)

// ConnectionError reports that the link to the board is missing or broken.
// The session is disconnected afterwards; call Connect again later.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ValidationError reports bad input rejected before any device interaction.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DeviceError reports that the board answered a command with an ERROR line.
type DeviceError struct {
	Line string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device reported error: %q", e.Line)
}
