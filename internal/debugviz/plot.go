// Package debugviz renders fit results for offline inspection: a PNG
// per fit via gonum/plot and an interactive HTML scatter via go-echarts.
package debugviz

import (
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/planefit/internal/planefit"
	"github.com/banshee-data/planefit/internal/pointcloud"
)

// ErrNoPoints is returned when a frame has nothing to draw.
var ErrNoPoints = errors.New("frame has no valid points")

var (
	cloudColor     = color.RGBA{R: 158, G: 158, B: 158, A: 255}
	candidateColor = color.RGBA{R: 66, G: 133, B: 244, A: 255}
	inlierColor    = color.RGBA{R: 255, G: 82, B: 82, A: 255}
	seedColor      = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// layers splits the frame's valid points into top-down (X, Z) series.
// Inliers are removed from candidates so each point is drawn once.
type layers struct {
	cloud, candidates, inliers plotter.XYs
	seed                       plotter.XYs
}

func split(frame *pointcloud.Frame, res planefit.Result) layers {
	role := make(map[int]int, len(res.Candidates))
	for _, i := range res.Candidates {
		role[i] = 1
	}
	for _, i := range res.Inliers {
		role[i] = 2
	}

	var l layers
	for i, p := range frame.Points {
		if !frame.IsValid(i) {
			continue
		}
		xy := plotter.XY{X: p.X, Y: p.Z}
		switch role[i] {
		case 2:
			l.inliers = append(l.inliers, xy)
		case 1:
			l.candidates = append(l.candidates, xy)
		default:
			l.cloud = append(l.cloud, xy)
		}
	}
	if res.Seed >= 0 && frame.IsValid(res.Seed) {
		p := frame.Points[res.Seed]
		l.seed = plotter.XYs{{X: p.X, Y: p.Z}}
	}
	return l
}

func (l layers) empty() bool {
	return len(l.cloud)+len(l.candidates)+len(l.inliers) == 0
}

// PlotFit writes a top-down PNG of the frame with the fit's candidates
// and inliers highlighted. Points are drawn in the depth camera frame.
func PlotFit(path string, frame *pointcloud.Frame, res planefit.Result) error {
	if frame == nil {
		return ErrNoPoints
	}
	l := split(frame, res)
	if l.empty() {
		return ErrNoPoints
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Fit @ %d  inliers=%d/%d  rmse=%.4f m",
		frame.TimestampNanos, res.Plane.Inliers, res.Plane.Candidates, res.Plane.RMSE)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	p.Add(plotter.NewGrid())

	series := []struct {
		name   string
		pts    plotter.XYs
		color  color.Color
		radius vg.Length
		shape  draw.GlyphDrawer
	}{
		{"cloud", l.cloud, cloudColor, vg.Points(1), draw.CircleGlyph{}},
		{"candidates", l.candidates, candidateColor, vg.Points(2), draw.CircleGlyph{}},
		{"inliers", l.inliers, inlierColor, vg.Points(2), draw.CircleGlyph{}},
		{"seed", l.seed, seedColor, vg.Points(4), draw.CrossGlyph{}},
	}
	for _, s := range series {
		if len(s.pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(s.pts)
		if err != nil {
			return fmt.Errorf("%s series: %w", s.name, err)
		}
		sc.GlyphStyle.Color = s.color
		sc.GlyphStyle.Radius = s.radius
		sc.GlyphStyle.Shape = s.shape
		p.Add(sc)
		p.Legend.Add(s.name, sc)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save fit plot: %w", err)
	}
	return nil
}
