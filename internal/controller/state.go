package controller

import "errors"

var (
	// ErrNotReady is returned for operations outside a usable lifecycle
	// state: disconnected, or no frame received yet.
	ErrNotReady = errors.New("not ready")

	// ErrQueueFull is returned when a touch cannot be queued.
	ErrQueueFull = errors.New("event queue full")

	// ErrVersionTooOld is returned by Connect for outdated sensor services.
	ErrVersionTooOld = errors.New("sensor service version too old")
)

// State is the lifecycle state of the application.
type State int

const (
	StateDisconnected State = iota
	StateConnected          // no frame yet
	StateHasFrame
	StatePlaneFitted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateHasFrame:
		return "has_frame"
	case StatePlaneFitted:
		return "plane_fitted"
	default:
		return "unknown"
	}
}
