package planefit

import (
	"errors"

	"github.com/banshee-data/planefit/internal/pointcloud"
	"github.com/banshee-data/planefit/internal/transform"
)

var (
	// ErrInsufficientPoints is returned when too few non-collinear points
	// support a plane near the pick ray.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrNoIntersection is returned when the pick ray does not meet a
	// coherent surface within the search distance.
	ErrNoIntersection = errors.New("no intersection")
)

// Error kinds recorded alongside failed fits.
const (
	KindNone               = ""
	KindInsufficientPoints = "insufficient_points"
	KindNoIntersection     = "no_intersection"
	KindPoseUnavailable    = "pose_unavailable"
	KindFrameMismatch      = "frame_mismatch"
	KindEmptyState         = "empty_state"
	KindOther              = "other"
)

// ErrorKind classifies err into one of the Kind constants.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInsufficientPoints):
		return KindInsufficientPoints
	case errors.Is(err, ErrNoIntersection):
		return KindNoIntersection
	case errors.Is(err, transform.ErrPoseUnavailable):
		return KindPoseUnavailable
	case errors.Is(err, transform.ErrFrameMismatch):
		return KindFrameMismatch
	case errors.Is(err, pointcloud.ErrEmptyState):
		return KindEmptyState
	default:
		return KindOther
	}
}
