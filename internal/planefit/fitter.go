// Package planefit estimates the plane a user touched from a depth frame
// and a screen-space pick ray.
package planefit

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/planefit/internal/monitoring"
	"github.com/banshee-data/planefit/internal/pointcloud"
	"github.com/banshee-data/planefit/internal/transform"
)

// Config tunes the fitter. Distances are metres.
type Config struct {
	// CellSize of the frame's spatial index. The ray is marched in
	// half-cell steps.
	CellSize float64
	// MinRange and MaxSearchDistance bound the ray march from the origin.
	MinRange          float64
	MaxSearchDistance float64
	// RayRadius is how close a point must lie to the ray to seed a fit.
	RayRadius float64
	// NeighborhoodRadius bounds the candidate set around the seed point.
	NeighborhoodRadius float64

	MinInliers       int
	InlierThreshold  float64
	Iterations       int
	RandomSeed       int64
	CollinearEpsilon float64

	// Logf receives per-fit diagnostics. Defaults to monitoring.Debugf.
	Logf func(format string, args ...interface{})
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		CellSize:           0.05,
		MinRange:           0.1,
		MaxSearchDistance:  8.0,
		RayRadius:          0.05,
		NeighborhoodRadius: 0.25,
		MinInliers:         8,
		InlierThreshold:    0.015,
		Iterations:         64,
		RandomSeed:         42,
		CollinearEpsilon:   1e-3,
	}
}

// PoseResolver supplies transforms between named frames.
type PoseResolver interface {
	Resolve(src, dst transform.FrameID, ts int64) (transform.RigidTransform, error)
}

// Result is a fitted plane plus the indices that produced it.
type Result struct {
	Plane      Plane
	Ray        Ray // world frame
	Seed       int
	Candidates []int
	Inliers    []int
}

// Fitter fits planes to depth frames. It holds no per-fit state and is safe
// for concurrent use.
type Fitter struct {
	cfg      Config
	resolver PoseResolver
	logf     func(format string, args ...interface{})
}

// NewFitter creates a fitter. With a nil resolver frames are assumed to
// already be in world coordinates.
func NewFitter(cfg Config, resolver PoseResolver) *Fitter {
	def := DefaultConfig()
	if cfg.CellSize <= 0 {
		cfg.CellSize = def.CellSize
	}
	if cfg.MaxSearchDistance <= 0 {
		cfg.MaxSearchDistance = def.MaxSearchDistance
	}
	if cfg.MinInliers < 3 {
		cfg.MinInliers = 3
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = def.Iterations
	}
	return &Fitter{cfg: cfg, resolver: resolver, logf: monitoring.OrDebug(cfg.Logf)}
}

// Config returns the effective configuration.
func (f *Fitter) Config() Config {
	return f.cfg
}

// FitPlane fits the surface under the normalized screen point (screenX,
// screenY). view maps world to camera and projection maps camera to clip
// space.
func (f *Fitter) FitPlane(frame *pointcloud.Frame, screenX, screenY float64, view, projection mgl64.Mat4) (Plane, error) {
	res, err := f.Fit(frame, screenX, screenY, view, projection)
	if err != nil {
		return Plane{}, err
	}
	return res.Plane, nil
}

// Fit is FitPlane but also returns the seed, candidate and inlier indices.
func (f *Fitter) Fit(frame *pointcloud.Frame, screenX, screenY float64, view, projection mgl64.Mat4) (Result, error) {
	if frame == nil {
		return Result{}, pointcloud.ErrEmptyState
	}
	if n := frame.ValidCount(); n < f.cfg.MinInliers {
		return Result{}, fmt.Errorf("%w: frame has %d valid points, need %d", ErrInsufficientPoints, n, f.cfg.MinInliers)
	}
	worldRay, err := Unproject(screenX, screenY, view, projection)
	if err != nil {
		return Result{}, err
	}

	depthToWorld := transform.Identity(transform.FrameDepth, transform.FrameWorld)
	if f.resolver != nil {
		depthToWorld, err = f.resolver.Resolve(transform.FrameDepth, transform.FrameWorld, frame.TimestampNanos)
		if err != nil {
			return Result{}, fmt.Errorf("resolve depth to world at %d: %w", frame.TimestampNanos, err)
		}
	}
	worldToDepth := depthToWorld.Inverse()
	ray := Ray{
		Origin:    worldToDepth.Apply(worldRay.Origin),
		Direction: worldToDepth.Rotate(worldRay.Direction).Normalize(),
	}

	idx := frame.Index(f.cfg.CellSize)
	seed, ok := f.findSeed(idx, ray)
	if !ok {
		return Result{}, fmt.Errorf("%w: no depth point within %.3fm of the pick ray", ErrNoIntersection, f.cfg.RayRadius)
	}
	seedPt := transform.FromR3(idx.Point(seed))

	candidates := idx.Query(idx.Point(seed), f.cfg.NeighborhoodRadius)
	if len(candidates) < f.cfg.MinInliers {
		return Result{}, fmt.Errorf("%w: %d candidates near seed, need %d", ErrInsufficientPoints, len(candidates), f.cfg.MinInliers)
	}
	pts := make([]mgl64.Vec3, len(candidates))
	for i, c := range candidates {
		pts[i] = transform.FromR3(idx.Point(c))
	}

	model, ok := ransac(pts, f.cfg)
	f.logf("[PlaneFit] Frame %d: seed %d, %d candidates, best model %d inliers, %d/%d samples degenerate",
		frame.TimestampNanos, seed, len(candidates), len(model.inliers), model.degenerate, f.cfg.Iterations)
	if !ok || len(model.inliers) < f.cfg.MinInliers {
		return Result{}, fmt.Errorf("%w: no plane with %d inliers among %d candidates", ErrInsufficientPoints, f.cfg.MinInliers, len(candidates))
	}

	inlierPts := make([]mgl64.Vec3, len(model.inliers))
	for i, k := range model.inliers {
		inlierPts[i] = pts[k]
	}
	centroid, normal, err := refine(inlierPts, f.cfg.CollinearEpsilon)
	if err != nil {
		f.logf("[PlaneFit] Frame %d: refinement rejected %d inliers: %v", frame.TimestampNanos, len(inlierPts), err)
		return Result{}, err
	}

	denom := normal.Dot(ray.Direction)
	if math.Abs(denom) < 1e-6 {
		return Result{}, fmt.Errorf("%w: pick ray is parallel to the fitted plane", ErrNoIntersection)
	}
	if denom > 0 {
		normal = normal.Mul(-1)
		denom = -denom
	}
	t := normal.Dot(centroid.Sub(ray.Origin)) / denom
	anchor := ray.At(t)
	if t <= 0 || anchor.Sub(seedPt).Len() > f.cfg.NeighborhoodRadius {
		return Result{}, fmt.Errorf("%w: ray meets fitted plane outside the candidate window", ErrNoIntersection)
	}

	var sq float64
	for _, p := range inlierPts {
		d := normal.Dot(p.Sub(centroid))
		sq += d * d
	}

	inliers := make([]int, len(model.inliers))
	for i, k := range model.inliers {
		inliers[i] = candidates[k]
	}
	plane := Plane{
		Anchor:              depthToWorld.Apply(anchor),
		Normal:              depthToWorld.Rotate(normal).Normalize(),
		Inliers:             len(inliers),
		Candidates:          len(candidates),
		Confidence:          float64(len(inliers)) / float64(len(candidates)),
		RMSE:                math.Sqrt(sq / float64(len(inlierPts))),
		FrameTimestampNanos: frame.TimestampNanos,
	}
	return Result{
		Plane:      plane,
		Ray:        worldRay,
		Seed:       seed,
		Candidates: candidates,
		Inliers:    inliers,
	}, nil
}

// findSeed marches the ray through the index and returns the valid point
// nearest the ray origin among the first step that finds any.
func (f *Fitter) findSeed(idx *pointcloud.Index, ray Ray) (int, bool) {
	step := f.cfg.CellSize / 2
	r2 := f.cfg.RayRadius * f.cfg.RayRadius
	for t := f.cfg.MinRange; t <= f.cfg.MaxSearchDistance; t += step {
		hits := idx.Query(transform.ToR3(ray.At(t)), f.cfg.RayRadius)
		best, bestAlong := -1, math.Inf(1)
		for _, i := range hits {
			rel := transform.FromR3(idx.Point(i)).Sub(ray.Origin)
			along := rel.Dot(ray.Direction)
			if along <= 0 {
				continue
			}
			perp := rel.Sub(ray.Direction.Mul(along))
			if perp.Dot(perp) > r2 {
				continue
			}
			if along < bestAlong {
				best, bestAlong = i, along
			}
		}
		if best >= 0 {
			return best, true
		}
	}
	return -1, false
}
