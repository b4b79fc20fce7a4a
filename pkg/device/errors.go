package device

import (
	"errors"
	"fmt"
)

// State represents the specific kind of device state failure
type State string

const (
	NotInitialized State = "not_initialized"
	NotReady       State = "not_ready"
	HandleClosed   State = "handle_closed"
)

// DeviceError represents any lifecycle-related problem with a shared camera
//
//nolint:revive // DeviceError name is intentional for clarity when used as a device.DeviceError
type DeviceError struct {
	State State
	Msg   string
}

// Error implements the error interface
func (e *DeviceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare DeviceError values by State
func (e *DeviceError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*DeviceError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for device states
var (
	// ErrNotInitialized is returned when the camera is used while nobody holds it.
	// Callers should Acquire first.
	ErrNotInitialized = &DeviceError{State: NotInitialized}
	// ErrDeviceNotReady is returned when an opened camera never reported it was streaming
	// within the allowed wait.
	ErrDeviceNotReady = &DeviceError{State: NotReady}
	// ErrHandleClosed is returned when a handle is requested through a lease that no longer holds it.
	ErrHandleClosed = &DeviceError{State: HandleClosed}
)

// IsState reports whether err is a DeviceError with the given state
func IsState(err error, state State) bool {
	var derr *DeviceError
	if errors.As(err, &derr) {
		return derr.State == state
	}
	return false
}
