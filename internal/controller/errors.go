package controller

import "errors"

// Domain errors for the controller package.
var (
	// ErrDeviceUnavailable is returned when the device did not answer a
	// command or status read.
	ErrDeviceUnavailable = errors.New("controller: device unavailable")

	// ErrParameterNotFound is returned when a write names a parameter that
	// is not in the last known snapshot (or no snapshot exists yet).
	ErrParameterNotFound = errors.New("controller: parameter not found in device state")

	// ErrStillBlocked is returned by TurnOn when an error reset did not
	// clear the lockout.
	ErrStillBlocked = errors.New("controller: stove still blocked after error reset")

	// ErrScheduleUnavailable is returned when the weekly programme could
	// not be read.
	ErrScheduleUnavailable = errors.New("controller: schedule unavailable")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("controller: already started")
)
