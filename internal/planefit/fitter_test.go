package planefit

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/planefit/internal/pointcloud"
	"github.com/banshee-data/planefit/internal/transform"
)

var cos5 = math.Cos(mgl64.DegToRad(5))

// depthProjection is a 60° perspective for a camera looking down +Z with
// +Y pointing down, so an identity view is the depth camera itself.
func depthProjection() mgl64.Mat4 {
	return mgl64.Perspective(mgl64.DegToRad(60), 1, 0.1, 10).Mul4(mgl64.Scale3D(1, -1, -1))
}

// flatSurface samples a 1m x 1m surface 1m in front of the camera on a
// 20 x 10 grid.
func flatSurface() pointcloud.Frame {
	pts := make([]r3.Vector, 0, 200)
	for j := 0; j < 10; j++ {
		for i := 0; i < 20; i++ {
			pts = append(pts, r3.Vector{X: -0.475 + 0.05*float64(i), Y: -0.475 + 0.1*float64(j), Z: 1})
		}
	}
	return pointcloud.NewFrame(1000, pts, nil)
}

func publish(t *testing.T, f pointcloud.Frame) *pointcloud.Frame {
	t.Helper()
	buf := pointcloud.NewBuffer()
	require.NoError(t, buf.Publish(f))
	h, err := buf.AcquireCurrent()
	require.NoError(t, err)
	t.Cleanup(h.Release)
	return h.Frame()
}

func TestFitPlane_CenterTouchOnFlatSurface(t *testing.T) {
	frame := publish(t, flatSurface())
	fitter := NewFitter(DefaultConfig(), nil)

	plane, err := fitter.FitPlane(frame, 0.5, 0.5, mgl64.Ident4(), depthProjection())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, math.Abs(plane.Normal.Dot(mgl64.Vec3{0, 0, 1})), cos5, "normal %v", plane.Normal)
	assert.Less(t, plane.Anchor.Sub(mgl64.Vec3{0, 0, 1}).Len(), 0.05, "anchor %v", plane.Anchor)
	assert.InDelta(t, 1.0, plane.Normal.Len(), 1e-9)
	assert.Equal(t, int64(1000), plane.FrameTimestampNanos)
	assert.Equal(t, plane.Candidates, plane.Inliers)
	assert.InDelta(t, 1.0, plane.Confidence, 1e-12)
	assert.GreaterOrEqual(t, plane.Inliers, DefaultConfig().MinInliers)
	assert.Less(t, plane.RMSE, 1e-6)
}

func TestFitPlane_NormalFacesCamera(t *testing.T) {
	frame := publish(t, flatSurface())
	fitter := NewFitter(DefaultConfig(), nil)
	proj := depthProjection()

	for _, touch := range [][2]float64{{0.5, 0.5}, {0.3, 0.6}, {0.7, 0.35}, {0.55, 0.45}} {
		t.Run(fmt.Sprintf("%.2f,%.2f", touch[0], touch[1]), func(t *testing.T) {
			res, err := fitter.Fit(frame, touch[0], touch[1], mgl64.Ident4(), proj)
			require.NoError(t, err)
			assert.Less(t, res.Plane.Normal.Dot(res.Ray.Direction), 0.0)
			assert.InDelta(t, -1.0, res.Plane.Normal[2], 1e-6)
			assert.InDelta(t, 1.0, res.Plane.Anchor[2], 1e-6)
		})
	}
}

func TestFitPlane_TiltedSurfaceFacesCamera(t *testing.T) {
	// Surface tilted 30° about X, seen from the front.
	tilt := mgl64.QuatRotate(mgl64.DegToRad(30), mgl64.Vec3{1, 0, 0})
	var pts []r3.Vector
	for j := 0; j < 25; j++ {
		for i := 0; i < 25; i++ {
			p := mgl64.Vec3{-0.6 + 0.05*float64(i), -0.6 + 0.05*float64(j), 0}
			pts = append(pts, transform.ToR3(tilt.Rotate(p).Add(mgl64.Vec3{0, 0, 1.5})))
		}
	}
	frame := publish(t, pointcloud.NewFrame(1, pts, nil))

	res, err := NewFitter(DefaultConfig(), nil).Fit(frame, 0.5, 0.5, mgl64.Ident4(), depthProjection())
	require.NoError(t, err)

	want := tilt.Rotate(mgl64.Vec3{0, 0, -1})
	assert.Greater(t, res.Plane.Normal.Dot(want), cos5, "normal %v want %v", res.Plane.Normal, want)
	assert.Less(t, res.Plane.Normal.Dot(res.Ray.Direction), 0.0)
}

func TestFitPlane_Deterministic(t *testing.T) {
	frame := noisySurface(t)
	fitter := NewFitter(DefaultConfig(), nil)

	first, err := fitter.Fit(frame, 0.5, 0.5, mgl64.Ident4(), depthProjection())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := fitter.Fit(frame, 0.5, 0.5, mgl64.Ident4(), depthProjection())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// A separately published copy of the same data fits identically.
	copyFrame := publish(t, pointcloud.NewFrame(frame.TimestampNanos, frame.Points, frame.Valid))
	other, err := NewFitter(DefaultConfig(), nil).FitPlane(copyFrame, 0.5, 0.5, mgl64.Ident4(), depthProjection())
	require.NoError(t, err)
	assert.Equal(t, first.Plane, other)
}

func noisySurface(t *testing.T) *pointcloud.Frame {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	var pts []r3.Vector
	for j := 0; j < 30; j++ {
		for i := 0; i < 30; i++ {
			pts = append(pts, r3.Vector{
				X: -0.5 + (float64(i)+0.5)/30,
				Y: -0.5 + (float64(j)+0.5)/30,
				Z: 1 + rng.NormFloat64()*0.002,
			})
		}
	}
	for k := 0; k < 15; k++ {
		pts = append(pts, r3.Vector{
			X: 0.1 + 0.1*rng.Float64(),
			Y: -0.1 + 0.2*rng.Float64(),
			Z: 0.85 + 0.1*rng.Float64(),
		})
	}
	return publish(t, pointcloud.NewFrame(2000, pts, nil))
}

func TestFitPlane_RejectsOutliers(t *testing.T) {
	frame := noisySurface(t)
	res, err := NewFitter(DefaultConfig(), nil).Fit(frame, 0.5, 0.5, mgl64.Ident4(), depthProjection())
	require.NoError(t, err)

	p := res.Plane
	assert.Greater(t, math.Abs(p.Normal[2]), math.Cos(mgl64.DegToRad(2)))
	assert.Less(t, p.Inliers, p.Candidates)
	assert.Greater(t, p.Confidence, 0.8)
	assert.Less(t, p.RMSE, 0.005)
	assert.InDelta(t, 1.0, p.Anchor[2], 0.01)
	for _, i := range res.Inliers {
		assert.Less(t, i, 900, "outlier %d accepted as inlier", i)
	}
}

func TestFitPlane_InsufficientPoints(t *testing.T) {
	pts := []r3.Vector{
		{X: 0, Y: 0, Z: 1},
		{X: 0.05, Y: 0, Z: 1},
		{X: 0, Y: 0.05, Z: 1},
		{X: -0.05, Y: 0.02, Z: 1},
		{X: 0.02, Y: -0.05, Z: 1},
	}
	frame := publish(t, pointcloud.NewFrame(1, pts, nil))

	_, err := NewFitter(DefaultConfig(), nil).FitPlane(frame, 0.5, 0.5, mgl64.Ident4(), depthProjection())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientPoints), "got %v", err)
}

func TestFitPlane_SparseFrames(t *testing.T) {
	masked := flatSurface()
	masked.Valid = make([]bool, len(masked.Points))
	for i := 0; i < 4; i++ {
		masked.Valid[i] = true
	}

	tests := []struct {
		name  string
		frame pointcloud.Frame
	}{
		{"empty", pointcloud.NewFrame(1, nil, nil)},
		{"two points off the ray", pointcloud.NewFrame(1, []r3.Vector{{X: 2, Y: 2, Z: 1}, {X: -2, Y: 2, Z: 1}}, nil)},
		{"invalid points ignored", masked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := publish(t, tt.frame)
			_, err := NewFitter(DefaultConfig(), nil).FitPlane(frame, 0.5, 0.5, mgl64.Ident4(), depthProjection())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInsufficientPoints), "got %v", err)
		})
	}
}

func TestFitPlane_LogsDiagnostics(t *testing.T) {
	var lines []string
	cfg := DefaultConfig()
	cfg.Logf = func(format string, args ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}
	frame := publish(t, flatSurface())

	_, err := NewFitter(cfg, nil).FitPlane(frame, 0.5, 0.5, mgl64.Ident4(), depthProjection())
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[PlaneFit]")
	assert.Contains(t, lines[0], "samples degenerate")
}

func TestFitPlane_CollinearCandidates(t *testing.T) {
	var pts []r3.Vector
	for k := -15; k <= 15; k++ {
		pts = append(pts, r3.Vector{X: 0.02 * float64(k), Y: 0, Z: 1})
	}
	frame := publish(t, pointcloud.NewFrame(1, pts, nil))

	_, err := NewFitter(DefaultConfig(), nil).FitPlane(frame, 0.5, 0.5, mgl64.Ident4(), depthProjection())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientPoints), "got %v", err)
}

func TestFitPlane_NoIntersection(t *testing.T) {
	frame := publish(t, flatSurface())
	fitter := NewFitter(DefaultConfig(), nil)

	_, err := fitter.FitPlane(frame, 0, 0, mgl64.Ident4(), depthProjection())
	assert.True(t, errors.Is(err, ErrNoIntersection), "got %v", err)

	_, err = fitter.FitPlane(frame, 0.5, 0.5, mgl64.Ident4(), mgl64.Mat4{})
	assert.True(t, errors.Is(err, ErrNoIntersection), "got %v", err)
}

func TestFitPlane_EmptyFrame(t *testing.T) {
	_, err := NewFitter(DefaultConfig(), nil).FitPlane(nil, 0.5, 0.5, mgl64.Ident4(), depthProjection())
	assert.True(t, errors.Is(err, pointcloud.ErrEmptyState))
}

type stubResolver struct {
	t   transform.RigidTransform
	err error
}

func (s stubResolver) Resolve(src, dst transform.FrameID, ts int64) (transform.RigidTransform, error) {
	if s.err != nil {
		return transform.RigidTransform{}, s.err
	}
	if src == s.t.To && dst == s.t.From {
		return s.t.Inverse(), nil
	}
	return s.t, nil
}

func TestFitPlane_ResultInWorldFrame(t *testing.T) {
	frame := publish(t, flatSurface())
	depthToWorld := transform.New(transform.FrameDepth, transform.FrameWorld, mgl64.QuatIdent(), mgl64.Vec3{2, 0, 0}, 0)
	view := mgl64.Translate3D(-2, 0, 0)

	plane, err := NewFitter(DefaultConfig(), stubResolver{t: depthToWorld}).FitPlane(frame, 0.5, 0.5, view, depthProjection())
	require.NoError(t, err)
	assert.True(t, plane.Anchor.ApproxEqualThreshold(mgl64.Vec3{2, 0, 1}, 1e-6), "anchor %v", plane.Anchor)
	assert.True(t, plane.Normal.ApproxEqualThreshold(mgl64.Vec3{0, 0, -1}, 1e-6), "normal %v", plane.Normal)
}

func TestFitPlane_PoseUnavailable(t *testing.T) {
	frame := publish(t, flatSurface())
	fitter := NewFitter(DefaultConfig(), stubResolver{err: transform.ErrPoseUnavailable})

	_, err := fitter.FitPlane(frame, 0.5, 0.5, mgl64.Ident4(), depthProjection())
	assert.True(t, errors.Is(err, transform.ErrPoseUnavailable))
	assert.Equal(t, KindPoseUnavailable, ErrorKind(err))
}

func TestUnproject(t *testing.T) {
	ray, err := Unproject(0.5, 0.5, mgl64.Ident4(), depthProjection())
	require.NoError(t, err)
	assert.True(t, ray.Origin.ApproxEqualThreshold(mgl64.Vec3{0, 0, 0.1}, 1e-9), "origin %v", ray.Origin)
	assert.True(t, ray.Direction.ApproxEqualThreshold(mgl64.Vec3{0, 0, 1}, 1e-9), "dir %v", ray.Direction)

	// Screen top maps to depth-camera -Y.
	up, err := Unproject(0.5, 0.1, mgl64.Ident4(), depthProjection())
	require.NoError(t, err)
	assert.Less(t, up.Direction[1], 0.0)

	// Standard OpenGL camera looks down -Z.
	gl, err := Unproject(0.5, 0.5, mgl64.Ident4(), mgl64.Perspective(mgl64.DegToRad(45), 1.5, 0.1, 100))
	require.NoError(t, err)
	assert.True(t, gl.Direction.ApproxEqualThreshold(mgl64.Vec3{0, 0, -1}, 1e-9))
}

func TestPlaneHelpers(t *testing.T) {
	p := Plane{Anchor: mgl64.Vec3{0, 0, 1}, Normal: mgl64.Vec3{0, 0, -1}}
	assert.InDelta(t, -0.5, p.Distance(mgl64.Vec3{3, 4, 1.5}), 1e-12)
	assert.True(t, p.Project(mgl64.Vec3{3, 4, 1.5}).ApproxEqualThreshold(mgl64.Vec3{3, 4, 1}, 1e-12))
	assert.Equal(t, [4]float64{0, 0, -1, 1}, p.Equation())
}

func TestErrorKind(t *testing.T) {
	cases := map[string]error{
		KindNone:               nil,
		KindInsufficientPoints: fmt.Errorf("wrapped: %w", ErrInsufficientPoints),
		KindNoIntersection:     ErrNoIntersection,
		KindPoseUnavailable:    transform.ErrPoseUnavailable,
		KindFrameMismatch:      transform.ErrFrameMismatch,
		KindEmptyState:         pointcloud.ErrEmptyState,
		KindOther:              errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, ErrorKind(err))
	}
}
