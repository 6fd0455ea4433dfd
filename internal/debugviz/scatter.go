package debugviz

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot/plotter"

	"github.com/banshee-data/planefit/internal/planefit"
	"github.com/banshee-data/planefit/internal/pointcloud"
)

func scatterData(pts plotter.XYs) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, len(pts))
	for _, p := range pts {
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
	}
	return data
}

// ScatterHTML writes an interactive top-down scatter of the frame with the
// fit overlaid.
func ScatterHTML(w io.Writer, frame *pointcloud.Frame, res planefit.Result) error {
	if frame == nil {
		return ErrNoPoints
	}
	l := split(frame, res)
	if l.empty() {
		return ErrNoPoints
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Plane Fit", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Plane Fit", Subtitle: res.Plane.String()}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Z (m)", NameLocation: "middle", NameGap: 30}),
	)

	scatter.AddSeries("cloud", scatterData(l.cloud), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#9e9e9e"}))
	scatter.AddSeries("candidates", scatterData(l.candidates), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#4285f4"}))
	scatter.AddSeries("inliers", scatterData(l.inliers), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"}))
	if len(l.seed) > 0 {
		scatter.AddSeries("seed", scatterData(l.seed), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ffffff"}))
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("failed to render fit scatter: %w", err)
	}
	return nil
}
