package planefit

import "time"

// Attempt records one touch-triggered fit, successful or not.
type Attempt struct {
	At                  time.Time
	FrameTimestampNanos int64
	ScreenX, ScreenY    float64
	Plane               Plane // zero when Err is set
	Err                 error
	Duration            time.Duration
}

// OK reports whether the fit produced a plane.
func (a Attempt) OK() bool { return a.Err == nil }

// Kind classifies the failure, empty on success.
func (a Attempt) Kind() string { return ErrorKind(a.Err) }
