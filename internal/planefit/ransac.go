package planefit

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

type planeModel struct {
	point    mgl64.Vec3
	normal   mgl64.Vec3
	inliers  []int // ascending positions into the candidate slice
	residual float64

	degenerate int // samples skipped as repeated or collinear
}

// ransac returns the sampled plane with the most inliers. Ties go to the
// smaller residual sum, then to the earlier iteration. The generator is
// reseeded on every call so identical inputs give identical models.
func ransac(pts []mgl64.Vec3, cfg Config) (planeModel, bool) {
	n := len(pts)
	if n < 3 {
		return planeModel{}, false
	}
	rng := rand.New(rand.NewSource(cfg.RandomSeed))

	var best planeModel
	found := false
	degenerate := 0
	for it := 0; it < cfg.Iterations; it++ {
		i := rng.Intn(n)
		j := rng.Intn(n)
		k := rng.Intn(n)
		if i == j || j == k || i == k {
			degenerate++
			continue
		}
		ab, ac := pts[j].Sub(pts[i]), pts[k].Sub(pts[i])
		cross := ab.Cross(ac)
		scale := ab.Len() * ac.Len()
		if scale == 0 || cross.Len()/scale < cfg.CollinearEpsilon {
			degenerate++
			continue
		}
		normal := cross.Normalize()

		var inliers []int
		var residual float64
		for p := range pts {
			d := math.Abs(normal.Dot(pts[p].Sub(pts[i])))
			if d <= cfg.InlierThreshold {
				inliers = append(inliers, p)
				residual += d
			}
		}
		if !found || len(inliers) > len(best.inliers) ||
			(len(inliers) == len(best.inliers) && residual < best.residual) {
			best = planeModel{point: pts[i], normal: normal, inliers: inliers, residual: residual}
			found = true
		}
	}
	best.degenerate = degenerate
	return best, found
}

// refine fits a least-squares plane through pts. The normal is the
// eigenvector of the smallest covariance eigenvalue; the other two must
// both carry spread or the points are collinear.
func refine(pts []mgl64.Vec3, collinearEps float64) (mgl64.Vec3, mgl64.Vec3, error) {
	if len(pts) < 3 {
		return mgl64.Vec3{}, mgl64.Vec3{}, fmt.Errorf("%w: %d inliers", ErrInsufficientPoints, len(pts))
	}
	data := make([]float64, 0, 3*len(pts))
	for _, p := range pts {
		data = append(data, p[0], p[1], p[2])
	}
	x := mat.NewDense(len(pts), 3, data)

	var centroid mgl64.Vec3
	col := make([]float64, len(pts))
	for c := 0; c < 3; c++ {
		mat.Col(col, c, x)
		centroid[c] = stat.Mean(col, nil)
	}

	cov := mat.NewSymDense(3, nil)
	stat.CovarianceMatrix(cov, x, nil)

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return mgl64.Vec3{}, mgl64.Vec3{}, fmt.Errorf("%w: covariance factorization failed", ErrInsufficientPoints)
	}
	vals := eig.Values(nil) // ascending
	if vals[2] <= 0 || vals[1]/vals[2] < collinearEps {
		return mgl64.Vec3{}, mgl64.Vec3{}, fmt.Errorf("%w: inliers are collinear", ErrInsufficientPoints)
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	normal := mgl64.Vec3{vecs.At(0, 0), vecs.At(1, 0), vecs.At(2, 0)}
	if normal.Len() == 0 {
		return mgl64.Vec3{}, mgl64.Vec3{}, fmt.Errorf("%w: degenerate normal", ErrInsufficientPoints)
	}
	return centroid, normal.Normalize(), nil
}
