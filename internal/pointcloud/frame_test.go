package pointcloud

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Validity(t *testing.T) {
	f := NewFrame(0, []r3.Vector{
		{X: 0, Y: 0, Z: 1},
		{X: math.NaN(), Y: 0, Z: 1},
		{X: 1, Y: 1, Z: 1},
		{X: 2, Y: math.Inf(1), Z: 1},
	}, []bool{true, true, false, true})

	assert.True(t, f.IsValid(0))
	assert.False(t, f.IsValid(1), "NaN point")
	assert.False(t, f.IsValid(2), "masked point")
	assert.False(t, f.IsValid(3), "Inf point")
	assert.False(t, f.IsValid(-1))
	assert.False(t, f.IsValid(4))
	assert.Equal(t, 1, f.ValidCount())
}

func TestFrame_Bounds(t *testing.T) {
	f := NewFrame(0, []r3.Vector{
		{X: -1, Y: 2, Z: 0.5},
		{X: 3, Y: -2, Z: 1.5},
	}, nil)
	b := f.Bounds()
	assert.Equal(t, 2, b.Count)
	assert.Equal(t, -1.0, b.MinX)
	assert.Equal(t, 3.0, b.MaxX)
	assert.Equal(t, -2.0, b.MinY)
	assert.Equal(t, 2.0, b.MaxY)
	assert.Equal(t, 0.5, b.MinZ)
	assert.Equal(t, 1.5, b.MaxZ)

	empty := NewFrame(0, nil, nil)
	assert.Equal(t, 0, empty.Bounds().Count)
}

func TestIndex_Query(t *testing.T) {
	var pts []r3.Vector
	for x := -5; x <= 5; x++ {
		for y := -5; y <= 5; y++ {
			pts = append(pts, r3.Vector{X: float64(x) * 0.1, Y: float64(y) * 0.1, Z: 1})
		}
	}
	f := NewFrame(0, pts, nil)
	idx := f.Index(0.05)

	got := idx.Query(r3.Vector{X: 0, Y: 0, Z: 1}, 0.1001)
	// centre plus its four axis neighbours
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i], "results must be sorted")
	}

	// brute-force agreement
	center := r3.Vector{X: 0.23, Y: -0.17, Z: 1.02}
	want := []int{}
	for i, p := range pts {
		if p.Sub(center).Norm() <= 0.25 {
			want = append(want, i)
		}
	}
	assert.Equal(t, want, idx.Query(center, 0.25))
	assert.Nil(t, idx.Query(center, -1))
}

func TestIndex_MemoizedOnPublishedFrames(t *testing.T) {
	b := NewBuffer()
	require.NoError(t, b.Publish(NewFrame(1, []r3.Vector{{Z: 1}, {Z: 2}}, []bool{true, false})))
	h, err := b.AcquireCurrent()
	require.NoError(t, err)
	defer h.Release()

	i1 := h.Frame().Index(0.1)
	i2 := h.Frame().Index(0.1)
	assert.Same(t, i1, i2)
	assert.Equal(t, 1, i1.Cells(), "masked points are not indexed")
	assert.NotSame(t, i1, h.Frame().Index(0.2))
}
