package deviceflow

import "errors"

// State is a phase of the device authorization state machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingDeviceCode
	StateAwaitingUserAuthorization
	StateComplete
	StateTimedOut
	StateCancelled
	StateRateLimited
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingDeviceCode:
		return "awaiting_device_code"
	case StateAwaitingUserAuthorization:
		return "awaiting_user_authorization"
	case StateComplete:
		return "complete"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	case StateRateLimited:
		return "rate_limited"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends the flow.
func (s State) Terminal() bool {
	return s >= StateComplete
}

var (
	// ErrTimedOut is returned when the device code expires before authorization.
	ErrTimedOut = errors.New("device authorization timed out")
	// ErrCancelled is returned when the flow is cancelled before completion.
	ErrCancelled = errors.New("device authorization cancelled")
	// ErrRateLimited is wrapped around the exchange error that ended the flow.
	ErrRateLimited = errors.New("device authorization rate limited")
	// ErrFlowInProgress is returned when Run is called while another run is active.
	ErrFlowInProgress = errors.New("a device authorization flow is already running")
)
