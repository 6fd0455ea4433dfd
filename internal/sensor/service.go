// Package sensor defines the contract of the depth sensing service the
// fitting core consumes, plus a deterministic synthetic implementation.
package sensor

import (
	"context"

	"github.com/banshee-data/planefit/internal/pointcloud"
	"github.com/banshee-data/planefit/internal/transform"
)

// Callbacks are invoked from the service's own goroutine.
type Callbacks struct {
	OnFrame func(pointcloud.Frame)
	OnPose  func(transform.RigidTransform)
}

// Service is a connected depth sensor.
type Service interface {
	// Version reports the service protocol version.
	Version() int
	// Connect starts delivering frames and poses until Disconnect.
	Connect(ctx context.Context, cb Callbacks) error
	// Disconnect stops delivery. It is safe to call when not connected.
	Disconnect() error
	// Extrinsics returns the static sensor-to-device transforms.
	Extrinsics() []transform.RigidTransform
}
