// Package placement turns a fitted plane and the current camera transform
// into the pose of a virtual object resting on the plane.
package placement

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/planefit/internal/planefit"
	"github.com/banshee-data/planefit/internal/transform"
)

// ErrInvalidPlane is returned for planes without a usable normal.
var ErrInvalidPlane = errors.New("invalid plane")

// Config describes the placed object.
type Config struct {
	// ObjectHalfHeight lifts the object along the normal so its base sits on
	// the surface.
	ObjectHalfHeight float64
	// ObjectScale is applied to the model-view matrix.
	ObjectScale float64
}

// DefaultConfig places a 10cm cube.
func DefaultConfig() Config {
	return Config{ObjectHalfHeight: 0.05, ObjectScale: 0.1}
}

// Pose is where to draw the object this frame.
type Pose struct {
	World          transform.RigidTransform // object → world, fixed per plane
	CameraRelative transform.RigidTransform // object → camera, per render
	ModelView      mgl64.Mat4               // CameraRelative with ObjectScale
}

// Position returns the object origin in world coordinates.
func (p Pose) Position() mgl64.Vec3 {
	return p.World.Translation
}

// Up returns the object's +Y axis in world coordinates.
func (p Pose) Up() mgl64.Vec3 {
	return p.World.Rotate(mgl64.Vec3{0, 1, 0})
}

// Composer is a pure function of its configuration.
type Composer struct {
	cfg Config
}

// NewComposer returns a Composer for cfg. A zero ObjectScale means 1.
func NewComposer(cfg Config) Composer {
	if cfg.ObjectScale == 0 {
		cfg.ObjectScale = 1
	}
	return Composer{cfg: cfg}
}

// WorldPose returns the object→world transform for plane. It does not
// depend on the camera, so the object stays put as the device moves.
func (c Composer) WorldPose(plane planefit.Plane) (transform.RigidTransform, error) {
	n := plane.Normal
	l := n.Len()
	if l < 1e-9 || math.IsNaN(l) || math.IsInf(l, 0) {
		return transform.RigidTransform{}, fmt.Errorf("%w: normal %v", ErrInvalidPlane, n)
	}
	up := n.Mul(1 / l)

	// Yaw follows world +X projected onto the plane, or world +Y when the
	// plane is nearly perpendicular to X.
	ref := mgl64.Vec3{1, 0, 0}
	x := ref.Sub(up.Mul(ref.Dot(up)))
	if x.Len() < 0.1 {
		ref = mgl64.Vec3{0, 1, 0}
		x = ref.Sub(up.Mul(ref.Dot(up)))
	}
	x = x.Normalize()
	z := x.Cross(up)

	rot := mgl64.Mat4ToQuat(mgl64.Mat3FromCols(x, up, z).Mat4()).Normalize()
	return transform.New(transform.FrameObject, transform.FrameWorld, rot,
		plane.Anchor.Add(up.Mul(c.cfg.ObjectHalfHeight)), plane.FrameTimestampNanos), nil
}

// ComposePose combines the fixed world pose with cameraToWorld to give the
// camera-relative pose the renderer needs.
func (c Composer) ComposePose(plane planefit.Plane, cameraToWorld transform.RigidTransform) (Pose, error) {
	if cameraToWorld.To != transform.FrameWorld {
		return Pose{}, fmt.Errorf("%w: camera transform ends in %s, want %s",
			transform.ErrFrameMismatch, cameraToWorld.To, transform.FrameWorld)
	}
	world, err := c.WorldPose(plane)
	if err != nil {
		return Pose{}, err
	}
	rel, err := world.Compose(cameraToWorld.Inverse())
	if err != nil {
		return Pose{}, err
	}
	rel.TimestampNanos = cameraToWorld.TimestampNanos
	s := c.cfg.ObjectScale
	return Pose{
		World:          world,
		CameraRelative: rel,
		ModelView:      rel.Mat4().Mul4(mgl64.Scale3D(s, s, s)),
	}, nil
}
