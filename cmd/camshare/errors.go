package main

import (
	"errors"

	"github.com/srg/camshare/pkg/device"
	"github.com/srg/camshare/pkg/shared"
)

// Command-level errors
var (
	// ErrNoFrame indicates the camera was held but delivered no frame before the deadline.
	ErrNoFrame = errors.New("no frame received")
)

// FormatUserError turns known lifecycle errors into a hint a user can act on
func FormatUserError(err error) string {
	switch {
	case device.IsState(err, device.NotReady):
		return err.Error() + " (is the camera connected and not used by another process? see --ready-timeout)"
	case device.IsState(err, device.NotInitialized):
		return err.Error() + " (the camera must be acquired first)"
	case errors.Is(err, shared.ErrClosed):
		return "camera manager already shut down"
	case errors.Is(err, ErrNoFrame):
		return err.Error() + " (try a longer --wait)"
	default:
		return err.Error()
	}
}
