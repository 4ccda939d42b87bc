package activate

import (
	"errors"

	"github.com/atperry7/ffxi-manager-sub000/internal/winsys"
)

// FailureReason classifies why an activation did not change focus.
type FailureReason int

const (
	ReasonNone FailureReason = iota
	ReasonNoMapping
	ReasonInvalidHandle
	ReasonNotResponding
	ReasonAccessDenied
	ReasonElevationMismatch
	ReasonFullscreenExclusive
	ReasonFocusPrevented
	ReasonTimeout
	ReasonBusy
	ReasonBreakerOpen
	ReasonUnknown
)

var reasonText = map[FailureReason]string{
	ReasonNone:                "ok",
	ReasonNoMapping:           "no entity mapped to binding",
	ReasonInvalidHandle:       "window handle invalid or destroyed",
	ReasonNotResponding:       "window not responding",
	ReasonAccessDenied:        "access denied",
	ReasonElevationMismatch:   "foreground process elevation mismatch",
	ReasonFullscreenExclusive: "another window is exclusively fullscreen",
	ReasonFocusPrevented:      "focus change prevented by the window system",
	ReasonTimeout:             "focus change timed out",
	ReasonBusy:                "another activation in flight",
	ReasonBreakerOpen:         "rate ceiling exceeded, cooling down",
	ReasonUnknown:             "unclassified focus failure",
}

func (r FailureReason) String() string {
	if s, ok := reasonText[r]; ok {
		return s
	}
	return "unclassified focus failure"
}

// Retryable reports whether one bounded retry by the caller could help.
// An invalid handle never can; the window is gone.
func (r FailureReason) Retryable() bool {
	switch r {
	case ReasonNotResponding, ReasonFocusPrevented, ReasonTimeout, ReasonBusy:
		return true
	}
	return false
}

func classify(err error) FailureReason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, winsys.ErrInvalidHandle):
		return ReasonInvalidHandle
	case errors.Is(err, winsys.ErrWindowNotResponding):
		return ReasonNotResponding
	case errors.Is(err, winsys.ErrAccessDenied):
		return ReasonAccessDenied
	case errors.Is(err, winsys.ErrElevationMismatch):
		return ReasonElevationMismatch
	case errors.Is(err, winsys.ErrFullscreenExclusive):
		return ReasonFullscreenExclusive
	case errors.Is(err, winsys.ErrFocusPrevented):
		return ReasonFocusPrevented
	case errors.Is(err, winsys.ErrFocusTimeout):
		return ReasonTimeout
	default:
		return ReasonUnknown
	}
}
