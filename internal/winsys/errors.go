package winsys

import "errors"

// Focus-attempt failures, classified so callers can decide on retry policy.
// Invalid/destroyed handles are structural and must never be retried; the
// remaining causes are transient and may justify one bounded retry by the
// caller.
var (
	ErrInvalidHandle       = errors.New("window handle is invalid or destroyed")
	ErrWindowNotResponding = errors.New("target window is not responding")
	ErrAccessDenied        = errors.New("access to target window denied")
	ErrElevationMismatch   = errors.New("foreground process elevation mismatch")
	ErrFullscreenExclusive = errors.New("another window holds exclusive fullscreen")
	ErrFocusPrevented      = errors.New("focus change prevented by the window system")
	ErrFocusTimeout        = errors.New("focus change timed out")
)
