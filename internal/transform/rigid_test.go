package transform

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rot(angle float64, axis mgl64.Vec3) mgl64.Quat {
	return mgl64.QuatRotate(angle, axis.Normalize())
}

func TestRigidTransform_Apply(t *testing.T) {
	tr := New(FrameDepth, FrameDevice, rot(math.Pi/2, mgl64.Vec3{0, 0, 1}), mgl64.Vec3{1, 2, 3}, 0)
	got := tr.Apply(mgl64.Vec3{1, 0, 0})
	assert.True(t, got.ApproxEqualThreshold(mgl64.Vec3{1, 3, 3}, 1e-9), "got %v", got)

	dir := tr.Rotate(mgl64.Vec3{1, 0, 0})
	assert.True(t, dir.ApproxEqualThreshold(mgl64.Vec3{0, 1, 0}, 1e-9), "got %v", dir)
}

func TestCompose_Associative(t *testing.T) {
	ab := New("a", "b", rot(0.3, mgl64.Vec3{1, 2, 3}), mgl64.Vec3{0.1, -0.4, 2}, 0)
	bc := New("b", "c", rot(-1.1, mgl64.Vec3{0, 1, 1}), mgl64.Vec3{3, 0, -1}, 0)
	cd := New("c", "d", rot(2.4, mgl64.Vec3{1, 0, -1}), mgl64.Vec3{-0.5, 0.5, 0.25}, 0)

	abc, err := ab.Compose(bc)
	require.NoError(t, err)
	left, err := abc.Compose(cd)
	require.NoError(t, err)

	bcd, err := bc.Compose(cd)
	require.NoError(t, err)
	right, err := ab.Compose(bcd)
	require.NoError(t, err)

	assert.Equal(t, FrameID("a"), left.From)
	assert.Equal(t, FrameID("d"), left.To)
	assert.True(t, left.ApproxEqual(right, 1e-9), "left %v right %v", left, right)

	p := mgl64.Vec3{0.7, -1.3, 4.2}
	want := cd.Apply(bc.Apply(ab.Apply(p)))
	assert.True(t, left.Apply(p).ApproxEqualThreshold(want, 1e-9))

	chained, err := Compose(ab, bc, cd)
	require.NoError(t, err)
	assert.True(t, chained.ApproxEqual(left, 1e-9))
}

func TestCompose_FrameMismatch(t *testing.T) {
	ab := Identity("a", "b")
	cd := Identity("c", "d")
	_, err := ab.Compose(cd)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameMismatch))

	_, err = Compose()
	assert.Error(t, err)
}

func TestInverse_RoundTrip(t *testing.T) {
	tr := New(FrameDevice, FrameWorld, rot(0.9, mgl64.Vec3{0.2, 1, -0.3}), mgl64.Vec3{4, -2, 1}, 42)
	inv := tr.Inverse()
	assert.Equal(t, FrameWorld, inv.From)
	assert.Equal(t, FrameDevice, inv.To)
	assert.Equal(t, int64(42), inv.TimestampNanos)

	id, err := tr.Compose(inv)
	require.NoError(t, err)
	assert.True(t, id.ApproxEqual(Identity(FrameDevice, FrameDevice), 1e-9))

	p := mgl64.Vec3{1, 2, 3}
	assert.True(t, inv.Apply(tr.Apply(p)).ApproxEqualThreshold(p, 1e-9))
}

func TestMatrixConversions(t *testing.T) {
	tr := New(FrameDepth, FrameDevice, rot(1.2, mgl64.Vec3{1, 1, 0}), mgl64.Vec3{0.01, 0.02, -0.03}, 7)
	m := tr.Mat4()
	assert.True(t, IsValidTransformMatrix(m))

	p := mgl64.Vec3{1, -2, 0.5}
	assert.True(t, mgl64.TransformCoordinate(p, m).ApproxEqualThreshold(tr.Apply(p), 1e-9))

	back, err := FromMat4(FrameDepth, FrameDevice, m, 7)
	require.NoError(t, err)
	assert.True(t, back.ApproxEqual(tr, 1e-9))

	rm := tr.RowMajor()
	assert.InDelta(t, tr.Translation[0], rm[3], 1e-12)
	assert.InDelta(t, tr.Translation[1], rm[7], 1e-12)
	assert.InDelta(t, tr.Translation[2], rm[11], 1e-12)
	fromRM, err := FromRowMajor(FrameDepth, FrameDevice, rm, 7)
	require.NoError(t, err)
	assert.True(t, fromRM.ApproxEqual(tr, 1e-9))
}

func TestIsValidTransformMatrix(t *testing.T) {
	assert.True(t, IsValidTransformMatrix(mgl64.Ident4()))

	scaled := mgl64.Scale3D(2, 1, 1)
	assert.False(t, IsValidTransformMatrix(scaled))

	projective := mgl64.Ident4()
	projective.Set(3, 2, 0.5)
	assert.False(t, IsValidTransformMatrix(projective))

	reflect := mgl64.Scale3D(-1, 1, 1)
	assert.False(t, IsValidTransformMatrix(reflect))

	_, err := FromMat4("a", "b", scaled, 0)
	assert.Error(t, err)
}

func TestInterpolate(t *testing.T) {
	a := New("a", "b", mgl64.QuatIdent(), mgl64.Vec3{0, 0, 0}, 100)
	b := New("a", "b", rot(math.Pi/2, mgl64.Vec3{0, 0, 1}), mgl64.Vec3{2, 0, 0}, 200)

	mid := Interpolate(a, b, 150)
	assert.Equal(t, int64(150), mid.TimestampNanos)
	assert.True(t, mid.Translation.ApproxEqualThreshold(mgl64.Vec3{1, 0, 0}, 1e-9))
	want := rot(math.Pi/4, mgl64.Vec3{0, 0, 1})
	assert.InDelta(t, 1, math.Abs(mid.Rotation.Dot(want)), 1e-9)

	// Clamped outside the bracket.
	assert.True(t, Interpolate(a, b, 50).ApproxEqual(New("a", "b", a.Rotation, a.Translation, 50), 1e-9))

	// q and -q interpolate along the short arc.
	neg := b
	neg.Rotation = b.Rotation.Scale(-1)
	midNeg := Interpolate(a, neg, 150)
	assert.InDelta(t, 1, math.Abs(midNeg.Rotation.Dot(want)), 1e-9)
}

func TestConventions(t *testing.T) {
	// Z-up world becomes Y-up OpenGL world.
	up := OpenGLWorldFromWorld().Apply(mgl64.Vec3{0, 0, 1})
	assert.True(t, up.ApproxEqualThreshold(mgl64.Vec3{0, 1, 0}, 1e-9), "got %v", up)
	fwd := OpenGLWorldFromWorld().Apply(mgl64.Vec3{0, 1, 0})
	assert.True(t, fwd.ApproxEqualThreshold(mgl64.Vec3{0, 0, -1}, 1e-9), "got %v", fwd)

	// A point ahead of the depth camera lies on -Z in the OpenGL camera.
	ahead := OpenGLCameraFromDepth().Apply(mgl64.Vec3{0, 0, 2})
	assert.True(t, ahead.ApproxEqualThreshold(mgl64.Vec3{0, 0, -2}, 1e-9))
	down := OpenGLCameraFromDepth().Apply(mgl64.Vec3{0, 1, 0})
	assert.True(t, down.ApproxEqualThreshold(mgl64.Vec3{0, -1, 0}, 1e-9))

	edges := ConventionEdges()
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.True(t, IsValidTransformMatrix(e.Mat4()))
	}
}
