package calibration

import "errors"

// Domain errors. Everything except ErrAlreadyRunning and ErrNotRunning marks
// the run failed; persistence failures are logged and never returned.
var (
	ErrAlreadyRunning            = errors.New("calibration already in progress")
	ErrNotRunning                = errors.New("no calibration in progress")
	ErrNoUsableLights            = errors.New("no usable lights")
	ErrInvalidRange              = errors.New("max lux must be greater than min lux")
	ErrNoSignificantContribution = errors.New("no light produced a significant contribution")
)

// errStopped signals a user-requested stop through the phase sequence.
// It is never returned to callers; the run ends in PhaseStopped instead.
var errStopped = errors.New("calibration stopped by user")
