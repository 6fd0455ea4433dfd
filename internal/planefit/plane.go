package planefit

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Plane is a fitted surface in world coordinates.
type Plane struct {
	Anchor mgl64.Vec3
	Normal mgl64.Vec3 // unit length, facing the camera at fit time

	Inliers    int
	Candidates int
	Confidence float64 // Inliers / Candidates
	RMSE       float64 // metres, over inliers

	FrameTimestampNanos int64
}

// Distance returns the signed distance from p to the plane, positive on
// the side the normal points to.
func (p Plane) Distance(q mgl64.Vec3) float64 {
	return p.Normal.Dot(q.Sub(p.Anchor))
}

// Project returns the closest point on the plane to q.
func (p Plane) Project(q mgl64.Vec3) mgl64.Vec3 {
	return q.Sub(p.Normal.Mul(p.Distance(q)))
}

// Equation returns (a, b, c, d) with ax + by + cz + d = 0.
func (p Plane) Equation() [4]float64 {
	n := p.Normal
	return [4]float64{n[0], n[1], n[2], -n.Dot(p.Anchor)}
}

func (p Plane) String() string {
	return fmt.Sprintf("plane anchor=(%.3f, %.3f, %.3f) normal=(%.3f, %.3f, %.3f) inliers=%d/%d rmse=%.4f",
		p.Anchor[0], p.Anchor[1], p.Anchor[2], p.Normal[0], p.Normal[1], p.Normal[2],
		p.Inliers, p.Candidates, p.RMSE)
}

// Ray is a half-line with a unit direction.
type Ray struct {
	Origin    mgl64.Vec3
	Direction mgl64.Vec3
}

// At returns the point t metres along the ray.
func (r Ray) At(t float64) mgl64.Vec3 {
	return r.Origin.Add(r.Direction.Mul(t))
}

// Unproject casts a ray from normalized screen coordinates (origin top
// left, both axes in [0,1]) into the space that view maps from.
func Unproject(screenX, screenY float64, view, projection mgl64.Mat4) (Ray, error) {
	vp := projection.Mul4(view)
	if math.Abs(vp.Det()) < 1e-12 {
		return Ray{}, fmt.Errorf("%w: singular view-projection matrix", ErrNoIntersection)
	}
	inv := vp.Inv()

	ndcX := 2*screenX - 1
	ndcY := 1 - 2*screenY
	near, ok := unprojectNDC(inv, mgl64.Vec4{ndcX, ndcY, -1, 1})
	if !ok {
		return Ray{}, fmt.Errorf("%w: near point at infinity", ErrNoIntersection)
	}
	far, ok := unprojectNDC(inv, mgl64.Vec4{ndcX, ndcY, 1, 1})
	if !ok {
		return Ray{}, fmt.Errorf("%w: far point at infinity", ErrNoIntersection)
	}
	dir := far.Sub(near)
	if dir.Len() < 1e-12 {
		return Ray{}, fmt.Errorf("%w: degenerate pick ray", ErrNoIntersection)
	}
	return Ray{Origin: near, Direction: dir.Normalize()}, nil
}

func unprojectNDC(inv mgl64.Mat4, ndc mgl64.Vec4) (mgl64.Vec3, bool) {
	h := inv.Mul4x1(ndc)
	if math.Abs(h[3]) < 1e-12 {
		return mgl64.Vec3{}, false
	}
	return h.Vec3().Mul(1 / h[3]), true
}
