// Package transform resolves rigid transforms between the named coordinate
// frames of a depth sensing session: depth camera, device, color camera,
// start-of-service world, and their OpenGL-convention counterparts.
//
// A transform A→B maps coordinates expressed in frame A into frame B.
package transform

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

var (
	// ErrPoseUnavailable is returned when no pose data satisfies a query
	// within the configured tolerance.
	ErrPoseUnavailable = errors.New("pose unavailable")

	// ErrFrameMismatch is returned when composing transforms whose inner
	// frames differ.
	ErrFrameMismatch = errors.New("frame mismatch")
)

// FrameID names a coordinate frame.
type FrameID string

// Frames known to the fitting core.
const (
	FrameDepth        FrameID = "depth"
	FrameDevice       FrameID = "device"
	FrameColorCamera  FrameID = "color_camera"
	FrameWorld        FrameID = "start_of_service"
	FrameOpenGLWorld  FrameID = "opengl_world"
	FrameOpenGLCamera FrameID = "opengl_camera"
	FrameObject       FrameID = "object"
)

// MatrixValidationTolerance bounds the orthonormality error accepted by
// IsValidTransformMatrix.
const MatrixValidationTolerance = 1e-6

// RigidTransform is a rotation followed by a translation, tagged with the
// frames it relates and the time at which it is valid.
type RigidTransform struct {
	From, To       FrameID
	Rotation       mgl64.Quat
	Translation    mgl64.Vec3
	TimestampNanos int64
}

// Identity returns the identity transform from → to.
func Identity(from, to FrameID) RigidTransform {
	return RigidTransform{From: from, To: to, Rotation: mgl64.QuatIdent()}
}

// New returns a transform with a normalized rotation.
func New(from, to FrameID, rotation mgl64.Quat, translation mgl64.Vec3, timestampNanos int64) RigidTransform {
	return RigidTransform{
		From:           from,
		To:             to,
		Rotation:       rotation.Normalize(),
		Translation:    translation,
		TimestampNanos: timestampNanos,
	}
}

// String implements fmt.Stringer.
func (t RigidTransform) String() string {
	return fmt.Sprintf("%s->%s t=[%.4f %.4f %.4f] q=[%.4f %.4f %.4f %.4f] @%d",
		t.From, t.To, t.Translation[0], t.Translation[1], t.Translation[2],
		t.Rotation.W, t.Rotation.V[0], t.Rotation.V[1], t.Rotation.V[2], t.TimestampNanos)
}

// Apply maps a point from t.From into t.To.
func (t RigidTransform) Apply(p mgl64.Vec3) mgl64.Vec3 {
	return t.Rotation.Rotate(p).Add(t.Translation)
}

// ApplyR3 is Apply for r3 vectors.
func (t RigidTransform) ApplyR3(p r3.Vector) r3.Vector {
	return ToR3(t.Apply(FromR3(p)))
}

// Rotate maps a direction from t.From into t.To, ignoring translation.
func (t RigidTransform) Rotate(d mgl64.Vec3) mgl64.Vec3 {
	return t.Rotation.Rotate(d)
}

// Compose chains t (A→B) with next (B→C) into A→C. The result carries the
// later of the two timestamps.
func (t RigidTransform) Compose(next RigidTransform) (RigidTransform, error) {
	if t.To != next.From {
		return RigidTransform{}, fmt.Errorf("%w: cannot chain %s->%s with %s->%s",
			ErrFrameMismatch, t.From, t.To, next.From, next.To)
	}
	ts := t.TimestampNanos
	if next.TimestampNanos > ts {
		ts = next.TimestampNanos
	}
	return RigidTransform{
		From:           t.From,
		To:             next.To,
		Rotation:       next.Rotation.Mul(t.Rotation).Normalize(),
		Translation:    next.Rotation.Rotate(t.Translation).Add(next.Translation),
		TimestampNanos: ts,
	}, nil
}

// Compose chains transforms in order, checking every link.
func Compose(chain ...RigidTransform) (RigidTransform, error) {
	if len(chain) == 0 {
		return RigidTransform{}, fmt.Errorf("%w: empty chain", ErrFrameMismatch)
	}
	out := chain[0]
	for _, next := range chain[1:] {
		var err error
		if out, err = out.Compose(next); err != nil {
			return RigidTransform{}, err
		}
	}
	return out, nil
}

// Inverse returns the transform To → From.
func (t RigidTransform) Inverse() RigidTransform {
	inv := t.Rotation.Conjugate()
	return RigidTransform{
		From:           t.To,
		To:             t.From,
		Rotation:       inv,
		Translation:    inv.Rotate(t.Translation).Mul(-1),
		TimestampNanos: t.TimestampNanos,
	}
}

// Mat4 returns the homogeneous column-major matrix of t.
func (t RigidTransform) Mat4() mgl64.Mat4 {
	m := t.Rotation.Normalize().Mat4()
	m.SetCol(3, t.Translation.Vec4(1))
	return m
}

// RowMajor returns t as a row-major 4x4 array (m00..m03, m10..m13, ...).
func (t RigidTransform) RowMajor() [16]float64 {
	return [16]float64(t.Mat4().Transpose())
}

// FromMat4 builds a transform from a homogeneous matrix, rejecting matrices
// that are not proper rigid transforms.
func FromMat4(from, to FrameID, m mgl64.Mat4, timestampNanos int64) (RigidTransform, error) {
	if !IsValidTransformMatrix(m) {
		return RigidTransform{}, fmt.Errorf("%s->%s: not a rigid transform matrix", from, to)
	}
	return RigidTransform{
		From:           from,
		To:             to,
		Rotation:       mgl64.Mat4ToQuat(m).Normalize(),
		Translation:    m.Col(3).Vec3(),
		TimestampNanos: timestampNanos,
	}, nil
}

// FromRowMajor is FromMat4 for the row-major layout.
func FromRowMajor(from, to FrameID, rm [16]float64, timestampNanos int64) (RigidTransform, error) {
	return FromMat4(from, to, mgl64.Mat4(rm).Transpose(), timestampNanos)
}

// IsValidTransformMatrix checks that m is a proper rigid transform: an
// orthonormal rotation block with determinant +1 and last row [0 0 0 1].
func IsValidTransformMatrix(m mgl64.Mat4) bool {
	if m.At(3, 0) != 0 || m.At(3, 1) != 0 || m.At(3, 2) != 0 || math.Abs(m.At(3, 3)-1) > MatrixValidationTolerance {
		return false
	}
	r := m.Mat3()
	if math.Abs(r.Det()-1) > MatrixValidationTolerance {
		return false
	}
	rtr := r.Transpose().Mul3(r)
	return rtr.ApproxEqualThreshold(mgl64.Ident3(), MatrixValidationTolerance)
}

// ApproxEqual compares two transforms within tol on translation and
// rotation, treating q and -q as the same rotation.
func (t RigidTransform) ApproxEqual(o RigidTransform, tol float64) bool {
	if t.From != o.From || t.To != o.To {
		return false
	}
	if t.Translation.Sub(o.Translation).Len() > tol {
		return false
	}
	return math.Abs(math.Abs(t.Rotation.Normalize().Dot(o.Rotation.Normalize()))-1) <= tol
}

// Interpolate blends a and b (same edge) at ts using linear interpolation
// for translation and slerp along the shorter arc for rotation.
func Interpolate(a, b RigidTransform, ts int64) RigidTransform {
	if b.TimestampNanos == a.TimestampNanos {
		return a
	}
	alpha := float64(ts-a.TimestampNanos) / float64(b.TimestampNanos-a.TimestampNanos)
	alpha = math.Max(0, math.Min(1, alpha))

	qa, qb := a.Rotation.Normalize(), b.Rotation.Normalize()
	if qa.Dot(qb) < 0 {
		qb = qb.Scale(-1)
	}
	return RigidTransform{
		From:           a.From,
		To:             a.To,
		Rotation:       mgl64.QuatSlerp(qa, qb, alpha).Normalize(),
		Translation:    a.Translation.Add(b.Translation.Sub(a.Translation).Mul(alpha)),
		TimestampNanos: ts,
	}
}

// FromR3 converts an r3 vector to mgl64.
func FromR3(v r3.Vector) mgl64.Vec3 {
	return mgl64.Vec3{v.X, v.Y, v.Z}
}

// ToR3 converts an mgl64 vector to r3.
func ToR3(v mgl64.Vec3) r3.Vector {
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}
