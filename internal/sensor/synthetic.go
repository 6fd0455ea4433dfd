package sensor

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"

	"github.com/banshee-data/planefit/internal/monitoring"
	"github.com/banshee-data/planefit/internal/pointcloud"
	"github.com/banshee-data/planefit/internal/timeutil"
	"github.com/banshee-data/planefit/internal/transform"
)

// ErrAlreadyConnected is returned by Connect on a connected service.
var ErrAlreadyConnected = errors.New("sensor already connected")

// SyntheticConfig describes the synthetic scene: a wall WallDistance metres
// ahead of the starting device pose, seen by a depth camera while the
// device sways slowly side to side.
type SyntheticConfig struct {
	Version int

	PoseRate  float64 // Hz
	FrameRate float64 // Hz, at most PoseRate

	Width, Height int     // depth samples per frame
	FieldOfView   float64 // horizontal, radians
	MaxRange      float64

	WallDistance    float64
	Noise           float64 // depth noise standard deviation, metres
	OutlierFraction float64
	DropoutFraction float64 // samples reported invalid

	SwayAmplitude float64 // metres
	SwayPeriod    time.Duration

	Seed int64
}

// DefaultSyntheticConfig returns a 40x30 depth camera at 5 Hz facing a
// wall 1.5m away.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Version:         3,
		PoseRate:        30,
		FrameRate:       5,
		Width:           40,
		Height:          30,
		FieldOfView:     mgl64.DegToRad(60),
		MaxRange:        4,
		WallDistance:    1.5,
		Noise:           0.002,
		OutlierFraction: 0.02,
		DropoutFraction: 0.02,
		SwayAmplitude:   0.1,
		SwayPeriod:      20 * time.Second,
		Seed:            1,
	}
}

// Synthetic is a Service that renders a planar scene. Frames and poses are
// pure functions of their timestamp, so tests may also call FrameAt and
// PoseAt directly.
type Synthetic struct {
	cfg   SyntheticConfig
	clock timeutil.Clock
	start time.Time
	logf  func(format string, args ...interface{})

	// ConnectErr, when set, makes Connect fail.
	ConnectErr error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSynthetic creates a synthetic service. A nil clock uses the real clock.
func NewSynthetic(cfg SyntheticConfig, clock timeutil.Clock) *Synthetic {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.PoseRate <= 0 {
		cfg.PoseRate = 30
	}
	if cfg.FrameRate <= 0 || cfg.FrameRate > cfg.PoseRate {
		cfg.FrameRate = cfg.PoseRate
	}
	return &Synthetic{cfg: cfg, clock: clock, start: clock.Now(), logf: monitoring.Logf}
}

// Version reports the configured firmware version.
func (s *Synthetic) Version() int { return s.cfg.Version }

// Config returns the scene description.
func (s *Synthetic) Config() SyntheticConfig { return s.cfg }

// Extrinsics places the depth camera 1cm and the color camera 2cm right
// of the device origin, axes aligned with the device.
func (s *Synthetic) Extrinsics() []transform.RigidTransform {
	return []transform.RigidTransform{
		transform.New(transform.FrameDepth, transform.FrameDevice, mgl64.QuatIdent(), mgl64.Vec3{0.01, 0, 0}, 0),
		transform.New(transform.FrameColorCamera, transform.FrameDevice, mgl64.QuatIdent(), mgl64.Vec3{0.02, 0, 0}, 0),
	}
}

// deviceToWorldAtStart turns the device (X right, Y down, Z forward) to
// face world +Y in the Z-up start-of-service frame.
var deviceToWorldAtStart = mgl64.QuatRotate(-math.Pi/2, mgl64.Vec3{1, 0, 0})

// PoseAt returns the device→world pose at ts.
func (s *Synthetic) PoseAt(ts int64) transform.RigidTransform {
	elapsed := time.Duration(ts - s.start.UnixNano()).Seconds()
	phase := 0.0
	if s.cfg.SwayPeriod > 0 {
		phase = 2 * math.Pi * elapsed / s.cfg.SwayPeriod.Seconds()
	}
	yaw := mgl64.QuatRotate(0.05*math.Sin(phase), mgl64.Vec3{0, 0, 1})
	pos := mgl64.Vec3{s.cfg.SwayAmplitude * math.Sin(phase), 0, 0}
	return transform.New(transform.FrameDevice, transform.FrameWorld, yaw.Mul(deviceToWorldAtStart), pos, ts)
}

// FrameAt renders the depth frame seen at ts.
func (s *Synthetic) FrameAt(ts int64) pointcloud.Frame {
	depthToDevice := s.Extrinsics()[0]
	depthToWorld, _ := depthToDevice.Compose(s.PoseAt(ts))

	// Wall: world plane y = WallDistance.
	wallNormal := mgl64.Vec3{0, 1, 0}
	origin := depthToWorld.Translation

	rng := rand.New(rand.NewSource(s.cfg.Seed ^ ts))
	w, h := s.cfg.Width, s.cfg.Height
	tanX := math.Tan(s.cfg.FieldOfView / 2)
	tanY := tanX * float64(h) / float64(w)

	pts := make([]r3.Vector, 0, w*h)
	valid := make([]bool, 0, w*h)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			dir := mgl64.Vec3{
				tanX * (2*(float64(i)+0.5)/float64(w) - 1),
				tanY * (2*(float64(j)+0.5)/float64(h) - 1),
				1,
			}
			worldDir := depthToWorld.Rotate(dir)
			denom := worldDir.Dot(wallNormal)
			depth := 0.0
			if denom > 1e-9 {
				depth = (s.cfg.WallDistance - origin.Dot(wallNormal)) / denom
			}
			ok := depth > 0 && depth <= s.cfg.MaxRange && rng.Float64() >= s.cfg.DropoutFraction
			if ok {
				if rng.Float64() < s.cfg.OutlierFraction {
					depth *= 0.5 + rng.Float64()
				} else {
					depth += rng.NormFloat64() * s.cfg.Noise
				}
			}
			p := dir.Mul(depth)
			pts = append(pts, transform.ToR3(p))
			valid = append(valid, ok)
		}
	}
	return pointcloud.NewFrame(ts, pts, valid)
}

// Step emits the pose and, when emitFrame is set, the frame for ts.
func (s *Synthetic) Step(cb Callbacks, ts int64, emitFrame bool) {
	if cb.OnPose != nil {
		cb.OnPose(s.PoseAt(ts))
	}
	if emitFrame && cb.OnFrame != nil {
		cb.OnFrame(s.FrameAt(ts))
	}
}

// Connect starts a goroutine emitting poses at PoseRate and frames at
// FrameRate until ctx is cancelled or Disconnect is called.
func (s *Synthetic) Connect(ctx context.Context, cb Callbacks) error {
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyConnected
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	period := time.Duration(float64(time.Second) / s.cfg.PoseRate)
	every := int(math.Round(s.cfg.PoseRate / s.cfg.FrameRate))
	ticker := s.clock.NewTicker(period)
	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for n := 0; ; n++ {
			s.Step(cb, timeutil.NowNanos(s.clock), n%every == 0)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
			}
		}
	}(s.done)

	s.logf("[Synthetic] Connected (pose %.0f Hz, frame %.0f Hz)", s.cfg.PoseRate, s.cfg.FrameRate)
	return nil
}

// Disconnect stops the emitter and waits for it to exit.
func (s *Synthetic) Disconnect() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	s.logf("[Synthetic] Disconnected")
	return nil
}
