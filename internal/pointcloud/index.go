package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

// Index is a uniform 3D grid over the valid points of a frame.
type Index struct {
	CellSize float64
	Grid     map[cellKey][]int // cell -> point indices, ascending

	points []r3.Vector
}

type cellKey struct {
	X, Y, Z int64
}

func buildIndex(f *Frame, cellSize float64) *Index {
	if cellSize <= 0 {
		cellSize = 0.05
	}
	idx := &Index{
		CellSize: cellSize,
		Grid:     make(map[cellKey][]int, len(f.Points)/8+1),
		points:   f.Points,
	}
	for i, p := range f.Points {
		if !f.IsValid(i) {
			continue
		}
		k := idx.key(p)
		idx.Grid[k] = append(idx.Grid[k], i)
	}
	return idx
}

func (idx *Index) key(p r3.Vector) cellKey {
	return cellKey{
		X: int64(math.Floor(p.X / idx.CellSize)),
		Y: int64(math.Floor(p.Y / idx.CellSize)),
		Z: int64(math.Floor(p.Z / idx.CellSize)),
	}
}

// Query returns the indices of all indexed points within radius of center,
// in ascending order.
func (idx *Index) Query(center r3.Vector, radius float64) []int {
	if radius < 0 {
		return nil
	}
	r2 := radius * radius
	lo := idx.key(center.Sub(r3.Vector{X: radius, Y: radius, Z: radius}))
	hi := idx.key(center.Add(r3.Vector{X: radius, Y: radius, Z: radius}))

	var out []int
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				for _, i := range idx.Grid[cellKey{x, y, z}] {
					d := idx.points[i].Sub(center)
					if d.Dot(d) <= r2 {
						out = append(out, i)
					}
				}
			}
		}
	}
	sort.Ints(out)
	return out
}

// Point returns the position of point i.
func (idx *Index) Point(i int) r3.Vector {
	return idx.points[i]
}

// Cells returns the number of occupied cells.
func (idx *Index) Cells() int {
	return len(idx.Grid)
}
