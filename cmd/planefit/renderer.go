package main

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/planefit/internal/placement"
	"github.com/banshee-data/planefit/internal/pointcloud"
	"github.com/banshee-data/planefit/internal/transform"
)

// logRenderer stands in for a GPU renderer. It logs whenever the placed
// object moves, traces point cloud draws at debug level and counts calls.
type logRenderer struct {
	logf   func(format string, args ...interface{})
	debugf func(format string, args ...interface{})

	mu         sync.Mutex
	width      int
	height     int
	objects    int
	clouds     int
	lastPos    mgl64.Vec3
	hasLastPos bool
}

func newLogRenderer(logf, debugf func(format string, args ...interface{})) *logRenderer {
	return &logRenderer{logf: logf, debugf: debugf}
}

func (r *logRenderer) SetViewport(width, height int) {
	r.mu.Lock()
	r.width, r.height = width, height
	r.mu.Unlock()
	r.logf("[Render] Viewport %dx%d", width, height)
}

func (r *logRenderer) DrawObject(pose placement.Pose) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects++
	pos := pose.Position()
	if r.hasLastPos && pos.ApproxEqualThreshold(r.lastPos, 1e-3) {
		return nil
	}
	r.lastPos, r.hasLastPos = pos, true
	cam := pose.CameraRelative.Translation
	r.logf("[Render] Object at world (%.3f, %.3f, %.3f), %.2f m from camera",
		pos[0], pos[1], pos[2], cam.Len())
	return nil
}

func (r *logRenderer) DrawPointCloud(frame *pointcloud.Frame, _ transform.RigidTransform) error {
	r.mu.Lock()
	r.clouds++
	r.mu.Unlock()
	r.debugf("[Render] Point cloud %d (%d valid points)", frame.TimestampNanos, frame.ValidCount())
	return nil
}

func (r *logRenderer) counts() (objects, clouds int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.objects, r.clouds
}
