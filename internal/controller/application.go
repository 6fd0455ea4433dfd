// Package controller drives the plane fitting session: it connects to the
// sensor service, routes frames and poses into the buffer and resolver,
// runs fits on touch, and hands the placed object to the renderer.
//
// Threading: sensor callbacks (OnPointCloudAvailable, OnPoseAvailable) may
// run on any goroutine. Render, HandleTouch and Run belong to a single
// render goroutine. OnTouchEvent may be called from anywhere; touches are
// queued and fitted by the next Render.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/multierr"

	"github.com/banshee-data/planefit/internal/monitoring"
	"github.com/banshee-data/planefit/internal/placement"
	"github.com/banshee-data/planefit/internal/planefit"
	"github.com/banshee-data/planefit/internal/pointcloud"
	"github.com/banshee-data/planefit/internal/sensor"
	"github.com/banshee-data/planefit/internal/timeutil"
	"github.com/banshee-data/planefit/internal/transform"
)

// Config holds the controller tunables and those of the components it owns.
type Config struct {
	QueueSize             int
	MinSensorVersion      int
	RenderDebugPointCloud bool

	Fitter    planefit.Config
	Resolver  transform.ResolverConfig
	Placement placement.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:        16,
		MinSensorVersion: 2,
		Fitter:           planefit.DefaultConfig(),
		Resolver:         transform.DefaultResolverConfig(),
		Placement:        placement.DefaultConfig(),
	}
}

// Renderer draws the scene. Implementations are called on the render
// goroutine only.
type Renderer interface {
	SetViewport(width, height int)
	DrawObject(pose placement.Pose) error
	DrawPointCloud(frame *pointcloud.Frame, depthToCamera transform.RigidTransform) error
}

// FitRecorder persists fit attempts.
type FitRecorder interface {
	RecordFit(a planefit.Attempt) error
}

// DebugSink receives the full result of every successful fit.
type DebugSink interface {
	WriteFit(frame *pointcloud.Frame, res planefit.Result) error
}

// Deps are the collaborators of an Application. Only Sensor is required.
type Deps struct {
	Sensor   sensor.Service
	Renderer Renderer
	Recorder FitRecorder
	Debug    DebugSink
	Logf     func(format string, args ...interface{})
	// Debugf receives per-frame detail. Defaults to monitoring.Debugf.
	Debugf func(format string, args ...interface{})
	Clock  timeutil.Clock
}

// RenderInput is what the windowing layer supplies each frame.
type RenderInput struct {
	TimestampNanos int64
	// Projection maps the OpenGL camera to clip space. A zero matrix keeps
	// the previous projection.
	Projection mgl64.Mat4
}

// Stats counts what the application has processed.
type Stats struct {
	FramesReceived uint64
	PosesReceived  uint64
	TouchesDropped uint64
	FitsSucceeded  uint64
	FitsFailed     uint64
	RenderSkipped  uint64
}

// Application is the plane fitting session.
type Application struct {
	cfg      Config
	deps     Deps
	logf     func(format string, args ...interface{})
	debugf   func(format string, args ...interface{})
	clock    timeutil.Clock
	buffer   *pointcloud.Buffer
	resolver *transform.Resolver
	fitter   *planefit.Fitter
	composer placement.Composer
	touches  *touchQueue

	framePending atomic.Bool // set by the sensor goroutine, cleared by Render

	fitMu sync.Mutex // one fit at a time

	mu         sync.Mutex
	state      State
	frame      *pointcloud.Handle
	plane      planefit.Plane
	hasPlane   bool
	width      int
	height     int
	projection mgl64.Mat4
	debugCloud bool
	stats      Stats
}

// New creates a disconnected application.
func New(cfg Config, deps Deps) *Application {
	clock := deps.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	logf := monitoring.Or(deps.Logf)
	debugf := monitoring.OrDebug(deps.Debugf)
	if cfg.Fitter.Logf == nil {
		cfg.Fitter.Logf = debugf
	}
	resolver := transform.NewResolver(cfg.Resolver, clock)
	return &Application{
		cfg:        cfg,
		deps:       deps,
		logf:       logf,
		debugf:     debugf,
		clock:      clock,
		buffer:     pointcloud.NewBuffer(),
		resolver:   resolver,
		fitter:     planefit.NewFitter(cfg.Fitter, resolver),
		composer:   placement.NewComposer(cfg.Placement),
		touches:    newTouchQueue(cfg.QueueSize),
		debugCloud: cfg.RenderDebugPointCloud,
	}
}

// State returns the current lifecycle state.
func (a *Application) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Stats returns a snapshot of the counters.
func (a *Application) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Resolver exposes the transform resolver, for callers that need camera
// poses outside Render.
func (a *Application) Resolver() *transform.Resolver {
	return a.resolver
}

// CheckVersion fails with ErrVersionTooOld when the sensor service is older
// than min.
func (a *Application) CheckVersion(min int) error {
	if a.deps.Sensor == nil {
		return fmt.Errorf("%w: no sensor service", ErrNotReady)
	}
	if v := a.deps.Sensor.Version(); v < min {
		return fmt.Errorf("%w: have %d, need %d", ErrVersionTooOld, v, min)
	}
	return nil
}

// Connect checks the service version, installs the static extrinsics and
// starts frame and pose delivery. On failure everything set up so far is
// torn down again.
func (a *Application) Connect(ctx context.Context) error {
	if a.State() != StateDisconnected {
		return nil
	}
	if err := a.CheckVersion(a.cfg.MinSensorVersion); err != nil {
		return err
	}

	edges := append([]transform.RigidTransform{transform.ColorCameraFromOpenGLCamera()}, a.deps.Sensor.Extrinsics()...)
	for _, e := range edges {
		if err := a.resolver.SetStatic(e); err != nil {
			return fmt.Errorf("install extrinsic %s: %w", e, err)
		}
	}

	// A publish that raced the previous Disconnect must not leak into this
	// session.
	a.buffer.Reset()
	a.framePending.Store(false)
	a.touches.drain()

	a.mu.Lock()
	a.state = StateConnected
	a.mu.Unlock()

	cb := sensor.Callbacks{OnFrame: a.OnPointCloudAvailable, OnPose: a.OnPoseAvailable}
	if err := a.deps.Sensor.Connect(ctx, cb); err != nil {
		return multierr.Append(fmt.Errorf("connect sensor service: %w", err), a.Disconnect())
	}
	if a.deps.Renderer != nil {
		a.mu.Lock()
		w, h := a.width, a.height
		a.mu.Unlock()
		if w > 0 && h > 0 {
			a.deps.Renderer.SetViewport(w, h)
		}
	}
	a.logf("[Controller] Connected to sensor service v%d", a.deps.Sensor.Version())
	return nil
}

// Disconnect stops the sensor service and releases everything acquired
// since Connect. It is safe to call repeatedly and after a failed Connect.
func (a *Application) Disconnect() error {
	a.mu.Lock()
	was := a.state
	a.state = StateDisconnected
	h := a.frame
	a.frame = nil
	a.hasPlane = false
	a.plane = planefit.Plane{}
	a.mu.Unlock()

	var err error
	if h != nil {
		h.Release()
	}
	if a.deps.Sensor != nil {
		err = multierr.Append(err, a.deps.Sensor.Disconnect())
	}
	a.buffer.Reset()
	a.resolver.Reset()
	a.framePending.Store(false)
	a.touches.drain()

	if was != StateDisconnected {
		a.logf("[Controller] Disconnected")
	}
	return err
}

// OnPointCloudAvailable publishes a frame from the sensor goroutine.
func (a *Application) OnPointCloudAvailable(f pointcloud.Frame) {
	if a.State() == StateDisconnected {
		return
	}
	if err := a.buffer.Publish(f); err != nil {
		a.logf("[Controller] Dropping frame at %d: %v", f.TimestampNanos, err)
		return
	}
	if a.State() == StateDisconnected {
		// Disconnect ran while the frame was being copied in.
		a.buffer.Reset()
		return
	}
	a.framePending.Store(true)

	a.mu.Lock()
	a.stats.FramesReceived++
	a.mu.Unlock()
}

// OnPoseAvailable records a pose sample from the sensor goroutine.
func (a *Application) OnPoseAvailable(t transform.RigidTransform) {
	if a.State() == StateDisconnected {
		return
	}
	if err := a.resolver.Record(t); err != nil {
		a.logf("[Controller] Dropping pose %s: %v", t, err)
		return
	}
	a.mu.Lock()
	a.stats.PosesReceived++
	a.mu.Unlock()
}

// OnTouchEvent queues a touch at normalized screen coordinates. Touches
// before the first frame are rejected with ErrNotReady.
func (a *Application) OnTouchEvent(x, y float64) error {
	a.mu.Lock()
	state, held := a.state, a.frame != nil
	a.mu.Unlock()
	if state == StateDisconnected || (!held && !a.buffer.HasFrame()) {
		return ErrNotReady
	}
	if !a.touches.offer(touchEvent{x: x, y: y}) {
		a.mu.Lock()
		a.stats.TouchesDropped++
		a.mu.Unlock()
		a.logf("[Controller] Touch (%.3f, %.3f) dropped: queue full", x, y)
		return ErrQueueFull
	}
	return nil
}

// SetViewport records the surface size and forwards it to the renderer.
func (a *Application) SetViewport(width, height int) {
	a.mu.Lock()
	a.width, a.height = width, height
	a.mu.Unlock()
	if a.deps.Renderer != nil {
		a.deps.Renderer.SetViewport(width, height)
	}
}

// SetRenderDebugPointCloud toggles drawing the raw point cloud.
func (a *Application) SetRenderDebugPointCloud(on bool) {
	a.mu.Lock()
	a.debugCloud = on
	a.mu.Unlock()
}

// LastPlane returns the most recently fitted plane.
func (a *Application) LastPlane() (planefit.Plane, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plane, a.hasPlane
}

// ResetPlacement removes the placed object.
func (a *Application) ResetPlacement() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.plane, a.hasPlane = planefit.Plane{}, false
	switch {
	case a.state == StateDisconnected:
	case a.frame != nil:
		a.state = StateHasFrame
	default:
		a.state = StateConnected
	}
}

// refreshFrame swaps the held handle for the buffer's current frame.
func (a *Application) refreshFrame() (*pointcloud.Frame, error) {
	h, err := a.buffer.AcquireCurrent()
	if err != nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.frame != nil {
			return a.frame.Frame(), nil
		}
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateDisconnected {
		h.Release()
		return nil, ErrNotReady
	}
	old := a.frame
	a.frame = h
	if a.state == StateConnected {
		a.state = StateHasFrame
	}
	if old != nil {
		old.Release()
	}
	return h.Frame(), nil
}

func (a *Application) currentProjection() mgl64.Mat4 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.projection != (mgl64.Mat4{}) {
		return a.projection
	}
	aspect := 4.0 / 3.0
	if a.width > 0 && a.height > 0 {
		aspect = float64(a.width) / float64(a.height)
	}
	return mgl64.Perspective(mgl64.DegToRad(60), aspect, 0.1, 100)
}

// HandleTouch fits a plane under the normalized screen point against the
// current frame. A failed fit leaves the previous plane in place.
func (a *Application) HandleTouch(ctx context.Context, x, y float64) (planefit.Plane, error) {
	a.fitMu.Lock()
	defer a.fitMu.Unlock()

	if a.State() == StateDisconnected {
		return planefit.Plane{}, ErrNotReady
	}
	frame, err := a.refreshFrame()
	if err != nil {
		return planefit.Plane{}, fmt.Errorf("%w: %w", ErrNotReady, err)
	}

	start := a.clock.Now()
	attempt := planefit.Attempt{At: start, FrameTimestampNanos: frame.TimestampNanos, ScreenX: x, ScreenY: y}
	res, err := a.fit(ctx, frame, x, y)
	attempt.Duration = a.clock.Now().Sub(start)
	attempt.Err = err
	if err == nil {
		attempt.Plane = res.Plane
	}
	a.record(attempt)

	if err != nil {
		a.mu.Lock()
		a.stats.FitsFailed++
		a.mu.Unlock()
		return planefit.Plane{}, err
	}
	if a.deps.Debug != nil {
		if derr := a.deps.Debug.WriteFit(frame, res); derr != nil {
			a.logf("[Controller] Debug output failed: %v", derr)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.FitsSucceeded++
	if a.state == StateDisconnected {
		return planefit.Plane{}, ErrNotReady
	}
	a.plane, a.hasPlane = res.Plane, true
	a.state = StatePlaneFitted
	return res.Plane, nil
}

func (a *Application) fit(ctx context.Context, frame *pointcloud.Frame, x, y float64) (planefit.Result, error) {
	worldToCamera, err := a.resolver.ResolveWait(ctx, transform.FrameWorld, transform.FrameOpenGLCamera, frame.TimestampNanos)
	if err != nil {
		return planefit.Result{}, fmt.Errorf("camera pose at frame %d: %w", frame.TimestampNanos, err)
	}
	return a.fitter.Fit(frame, x, y, worldToCamera.Mat4(), a.currentProjection())
}

func (a *Application) record(attempt planefit.Attempt) {
	if attempt.OK() {
		a.logf("[Controller] Touch (%.3f, %.3f): %s", attempt.ScreenX, attempt.ScreenY, attempt.Plane)
	} else {
		a.logf("[Controller] Touch (%.3f, %.3f) failed: %v", attempt.ScreenX, attempt.ScreenY, attempt.Err)
	}
	if a.deps.Recorder == nil {
		return
	}
	if err := a.deps.Recorder.RecordFit(attempt); err != nil {
		a.logf("[Controller] Failed to record fit: %v", err)
	}
}

// Render picks up the latest frame, runs queued touches and draws one frame. Per-frame failures
// are logged and skipped; only ErrNotReady is returned.
func (a *Application) Render(ctx context.Context, in RenderInput) error {
	if a.State() == StateDisconnected {
		return ErrNotReady
	}
	if in.Projection != (mgl64.Mat4{}) {
		a.mu.Lock()
		a.projection = in.Projection
		a.mu.Unlock()
	}

	if a.framePending.Swap(false) {
		if _, err := a.refreshFrame(); err != nil && !errors.Is(err, pointcloud.ErrEmptyState) {
			a.logf("[Controller] Frame refresh failed: %v", err)
		}
	}
	for _, ev := range a.touches.drain() {
		// Failures are logged by record.
		_, _ = a.HandleTouch(ctx, ev.x, ev.y)
	}

	if err := a.draw(ctx, in.TimestampNanos); err != nil {
		a.mu.Lock()
		a.stats.RenderSkipped++
		a.mu.Unlock()
		a.debugf("[Controller] Skipping render at %d: %v", in.TimestampNanos, err)
	}
	return nil
}

func (a *Application) draw(ctx context.Context, ts int64) error {
	a.mu.Lock()
	plane, hasPlane := a.plane, a.hasPlane
	debug := a.debugCloud
	var frame *pointcloud.Frame
	if a.frame != nil {
		frame = a.frame.Frame()
	}
	a.mu.Unlock()

	if a.deps.Renderer == nil || (!hasPlane && !(debug && frame != nil)) {
		return nil
	}
	cameraToWorld, err := a.resolver.ResolveWait(ctx, transform.FrameOpenGLCamera, transform.FrameWorld, ts)
	if err != nil {
		return err
	}

	var errs error
	if hasPlane {
		pose, err := a.composer.ComposePose(plane, cameraToWorld)
		if err == nil {
			err = a.deps.Renderer.DrawObject(pose)
		}
		errs = multierr.Append(errs, err)
	}
	if debug && frame != nil {
		depthToWorld, err := a.resolver.Resolve(transform.FrameDepth, transform.FrameWorld, frame.TimestampNanos)
		if err == nil {
			var depthToCamera transform.RigidTransform
			depthToCamera, err = depthToWorld.Compose(cameraToWorld.Inverse())
			if err == nil {
				err = a.deps.Renderer.DrawPointCloud(frame, depthToCamera)
			}
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Run calls Render every tick until ctx is done.
func (a *Application) Run(ctx context.Context, tick time.Duration) error {
	ticker := a.clock.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			err := a.Render(ctx, RenderInput{TimestampNanos: timeutil.NowNanos(a.clock)})
			if err != nil && !errors.Is(err, ErrNotReady) {
				return err
			}
		}
	}
}
