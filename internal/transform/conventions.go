package transform

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// The sensor service reports poses in a right-handed Z-up world (start of
// service) and depth/color cameras with X right, Y down, Z forward. OpenGL
// expects a Y-up world and cameras looking down -Z.

// OpenGLWorldFromWorld maps start-of-service coordinates into the OpenGL
// world: (x, y, z) → (x, z, -y).
func OpenGLWorldFromWorld() RigidTransform {
	return RigidTransform{
		From:     FrameWorld,
		To:       FrameOpenGLWorld,
		Rotation: mgl64.QuatRotate(-math.Pi/2, mgl64.Vec3{1, 0, 0}),
	}
}

// ColorCameraFromOpenGLCamera maps the OpenGL camera convention into the
// sensor camera convention by flipping Y and Z.
func ColorCameraFromOpenGLCamera() RigidTransform {
	return RigidTransform{
		From:     FrameOpenGLCamera,
		To:       FrameColorCamera,
		Rotation: mgl64.QuatRotate(math.Pi, mgl64.Vec3{1, 0, 0}),
	}
}

// ConventionEdges returns the static edges that attach the OpenGL frames
// to the sensor frames.
func ConventionEdges() []RigidTransform {
	return []RigidTransform{OpenGLWorldFromWorld(), ColorCameraFromOpenGLCamera()}
}

// OpenGLCameraFromDepth flips a depth-camera point into OpenGL camera
// axes, ignoring the depth/color extrinsic.
func OpenGLCameraFromDepth() RigidTransform {
	return RigidTransform{
		From:     FrameDepth,
		To:       FrameOpenGLCamera,
		Rotation: mgl64.QuatRotate(math.Pi, mgl64.Vec3{1, 0, 0}),
	}
}
