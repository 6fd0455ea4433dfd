package debugviz

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/banshee-data/planefit/internal/planefit"
	"github.com/banshee-data/planefit/internal/pointcloud"
)

// Sink writes a PNG and an HTML page for every fit into Dir.
type Sink struct {
	Dir string
	seq atomic.Uint64
}

// NewSink creates dir if needed and returns a Sink writing into it.
func NewSink(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &Sink{Dir: dir}, nil
}

// WriteFit writes fit_<seq>_<timestamp>.{png,html}.
func (s *Sink) WriteFit(frame *pointcloud.Frame, res planefit.Result) (err error) {
	if frame == nil {
		return ErrNoPoints
	}
	base := filepath.Join(s.Dir, fmt.Sprintf("fit_%04d_%d", s.seq.Add(1), frame.TimestampNanos))

	if err := PlotFit(base+".png", frame, res); err != nil {
		return err
	}

	f, err := os.Create(base + ".html")
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	return ScatterHTML(f, frame, res)
}
