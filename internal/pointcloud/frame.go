// Package pointcloud owns depth frames and the double-buffered hand-off
// between the sensor thread that publishes them and the render thread that
// reads them.
//
// Frames are immutable once published. A reader acquires a Handle to the
// current frame and may use it without holding any lock; the buffer only
// recycles a frame's arena slot after every handle to it is released.
package pointcloud

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/golang/geo/r3"
)

var (
	// ErrEmptyState is returned by AcquireCurrent before any frame arrives.
	ErrEmptyState = errors.New("no point cloud frame available")

	// ErrInvalidFrame is returned by Publish for malformed frames.
	ErrInvalidFrame = errors.New("invalid point cloud frame")
)

// Frame is a single depth capture. Points are in the depth camera frame
// (metres, +Z forward). Valid is optional; nil means every point is valid.
type Frame struct {
	TimestampNanos int64
	Points         []r3.Vector
	Valid          []bool

	// Generation is assigned by Buffer.Publish and increases monotonically.
	Generation uint64

	cache *indexCache
}

type indexCache struct {
	mu      sync.Mutex
	indexes map[float64]*Index
}

// NewFrame builds an unpublished frame. The slices are not copied until the
// frame is published.
func NewFrame(timestampNanos int64, points []r3.Vector, valid []bool) Frame {
	return Frame{TimestampNanos: timestampNanos, Points: points, Valid: valid}
}

// Len returns the number of points, valid or not.
func (f *Frame) Len() int {
	return len(f.Points)
}

// IsValid reports whether point i carries a usable depth return.
func (f *Frame) IsValid(i int) bool {
	if i < 0 || i >= len(f.Points) {
		return false
	}
	if f.Valid != nil && !f.Valid[i] {
		return false
	}
	p := f.Points[i]
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) && !math.IsInf(p.Z, 0)
}

// ValidCount returns the number of valid points.
func (f *Frame) ValidCount() int {
	n := 0
	for i := range f.Points {
		if f.IsValid(i) {
			n++
		}
	}
	return n
}

// Bounds is the axis-aligned extent of the valid points of a frame.
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
	Count      int
}

// Bounds returns the extent of the valid points. Count is zero for a frame
// without valid points, in which case the min/max fields are meaningless.
func (f *Frame) Bounds() Bounds {
	b := Bounds{
		MinX: math.MaxFloat64, MinY: math.MaxFloat64, MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64, MaxY: -math.MaxFloat64, MaxZ: -math.MaxFloat64,
	}
	for i, p := range f.Points {
		if !f.IsValid(i) {
			continue
		}
		b.Count++
		b.MinX, b.MaxX = math.Min(b.MinX, p.X), math.Max(b.MaxX, p.X)
		b.MinY, b.MaxY = math.Min(b.MinY, p.Y), math.Max(b.MaxY, p.Y)
		b.MinZ, b.MaxZ = math.Min(b.MinZ, p.Z), math.Max(b.MaxZ, p.Z)
	}
	return b
}

// Index returns a spatial index over the valid points with the given cell
// size. Published frames memoize the index per cell size so repeated fits
// against the same frame only pay for construction once.
func (f *Frame) Index(cellSize float64) *Index {
	if f.cache == nil {
		return buildIndex(f, cellSize)
	}
	f.cache.mu.Lock()
	defer f.cache.mu.Unlock()
	if idx, ok := f.cache.indexes[cellSize]; ok {
		return idx
	}
	idx := buildIndex(f, cellSize)
	f.cache.indexes[cellSize] = idx
	return idx
}

// clone deep-copies the point data into a frame that owns its storage.
func (f *Frame) clone() *Frame {
	out := &Frame{
		TimestampNanos: f.TimestampNanos,
		Points:         append([]r3.Vector(nil), f.Points...),
		cache:          &indexCache{indexes: make(map[float64]*Index)},
	}
	if f.Valid != nil {
		out.Valid = append([]bool(nil), f.Valid...)
	}
	return out
}

func (f *Frame) validate() error {
	if f.Valid != nil && len(f.Valid) != len(f.Points) {
		return fmt.Errorf("%w: validity mask has %d entries for %d points", ErrInvalidFrame, len(f.Valid), len(f.Points))
	}
	return nil
}
