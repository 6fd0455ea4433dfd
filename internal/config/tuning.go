package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/planefit/internal/controller"
	"github.com/banshee-data/planefit/internal/placement"
	"github.com/banshee-data/planefit/internal/planefit"
	"github.com/banshee-data/planefit/internal/transform"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// Grid bounds. Each radius query visits (2*radius/cell_size+1)^3 cells.
const (
	MinCellSize       = 0.005
	MaxCellsPerRadius = 10
)

// TuningConfig holds every tunable of the fitting pipeline. Fields are
// pointers so a partial file only overrides what it names; the Get*
// methods fall back to the defaults for anything left nil.
type TuningConfig struct {
	// Plane fitter
	CellSize           *float64 `json:"cell_size,omitempty" yaml:"cell_size,omitempty"`
	MinRange           *float64 `json:"min_range,omitempty" yaml:"min_range,omitempty"`
	MaxSearchDistance  *float64 `json:"max_search_distance,omitempty" yaml:"max_search_distance,omitempty"`
	RayRadius          *float64 `json:"ray_radius,omitempty" yaml:"ray_radius,omitempty"`
	NeighborhoodRadius *float64 `json:"neighborhood_radius,omitempty" yaml:"neighborhood_radius,omitempty"`
	MinInliers         *int     `json:"min_inliers,omitempty" yaml:"min_inliers,omitempty"`
	InlierThreshold    *float64 `json:"inlier_threshold,omitempty" yaml:"inlier_threshold,omitempty"`
	RansacIterations   *int     `json:"ransac_iterations,omitempty" yaml:"ransac_iterations,omitempty"`
	RandomSeed         *int64   `json:"random_seed,omitempty" yaml:"random_seed,omitempty"`
	CollinearEpsilon   *float64 `json:"collinear_epsilon,omitempty" yaml:"collinear_epsilon,omitempty"`

	// Transform resolver
	PoseTolerance   *string `json:"pose_tolerance,omitempty" yaml:"pose_tolerance,omitempty"`       // duration string like "50ms"
	PoseWaitTimeout *string `json:"pose_wait_timeout,omitempty" yaml:"pose_wait_timeout,omitempty"` // "0s" fails fast
	PoseHistorySize *int    `json:"pose_history_size,omitempty" yaml:"pose_history_size,omitempty"`

	// Placement
	ObjectHalfHeight *float64 `json:"object_half_height,omitempty" yaml:"object_half_height,omitempty"`
	ObjectScale      *float64 `json:"object_scale,omitempty" yaml:"object_scale,omitempty"`

	// Controller
	EventQueueSize        *int    `json:"event_queue_size,omitempty" yaml:"event_queue_size,omitempty"`
	MinSensorVersion      *int    `json:"min_sensor_version,omitempty" yaml:"min_sensor_version,omitempty"`
	RenderDebugPointCloud *bool   `json:"render_debug_point_cloud,omitempty" yaml:"render_debug_point_cloud,omitempty"`
	RenderInterval        *string `json:"render_interval,omitempty" yaml:"render_interval,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a fully populated config. It must stay in
// step with config/tuning.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	fit := planefit.DefaultConfig()
	res := transform.DefaultResolverConfig()
	place := placement.DefaultConfig()
	ctl := controller.DefaultConfig()
	return &TuningConfig{
		CellSize:           ptrFloat64(fit.CellSize),
		MinRange:           ptrFloat64(fit.MinRange),
		MaxSearchDistance:  ptrFloat64(fit.MaxSearchDistance),
		RayRadius:          ptrFloat64(fit.RayRadius),
		NeighborhoodRadius: ptrFloat64(fit.NeighborhoodRadius),
		MinInliers:         ptrInt(fit.MinInliers),
		InlierThreshold:    ptrFloat64(fit.InlierThreshold),
		RansacIterations:   ptrInt(fit.Iterations),
		RandomSeed:         ptrInt64(fit.RandomSeed),
		CollinearEpsilon:   ptrFloat64(fit.CollinearEpsilon),

		PoseTolerance:   ptrString(res.Tolerance.String()),
		PoseWaitTimeout: ptrString(res.WaitTimeout.String()),
		PoseHistorySize: ptrInt(res.HistorySize),

		ObjectHalfHeight: ptrFloat64(place.ObjectHalfHeight),
		ObjectScale:      ptrFloat64(place.ObjectScale),

		EventQueueSize:        ptrInt(ctl.QueueSize),
		MinSensorVersion:      ptrInt(ctl.MinSensorVersion),
		RenderDebugPointCloud: ptrBool(ctl.RenderDebugPointCloud),
		RenderInterval:        ptrString(defaultRenderInterval.String()),
	}
}

const defaultRenderInterval = 33 * time.Millisecond

// LoadTuningConfig loads a TuningConfig from a .json, .yaml or .yml file.
// Fields omitted from the file retain their default values, so partial
// configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/<pkg>/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	positive := []struct {
		name string
		v    *float64
	}{
		{"cell_size", c.CellSize},
		{"max_search_distance", c.MaxSearchDistance},
		{"ray_radius", c.RayRadius},
		{"neighborhood_radius", c.NeighborhoodRadius},
		{"inlier_threshold", c.InlierThreshold},
		{"object_scale", c.ObjectScale},
	}
	for _, p := range positive {
		if p.v != nil && *p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", p.name, *p.v)
		}
	}

	if c.MinRange != nil && *c.MinRange < 0 {
		return fmt.Errorf("min_range must be non-negative, got %f", *c.MinRange)
	}
	if minR, maxD := c.GetMinRange(), c.GetMaxSearchDistance(); minR >= maxD {
		return fmt.Errorf("min_range %f must be below max_search_distance %f", minR, maxD)
	}
	cell := c.GetCellSize()
	if cell < MinCellSize {
		return fmt.Errorf("cell_size must be at least %f, got %f", MinCellSize, cell)
	}
	for _, r := range []struct {
		name string
		v    float64
	}{
		{"ray_radius", c.GetRayRadius()},
		{"neighborhood_radius", c.GetNeighborhoodRadius()},
	} {
		if r.v/cell > MaxCellsPerRadius {
			return fmt.Errorf("%s %f spans more than %d cells of cell_size %f", r.name, r.v, MaxCellsPerRadius, cell)
		}
	}
	if c.MinInliers != nil && *c.MinInliers < 3 {
		return fmt.Errorf("min_inliers must be at least 3, got %d", *c.MinInliers)
	}
	if c.RansacIterations != nil && *c.RansacIterations <= 0 {
		return fmt.Errorf("ransac_iterations must be positive, got %d", *c.RansacIterations)
	}
	if c.CollinearEpsilon != nil && (*c.CollinearEpsilon <= 0 || *c.CollinearEpsilon >= 1) {
		return fmt.Errorf("collinear_epsilon must be between 0 and 1, got %f", *c.CollinearEpsilon)
	}
	if c.ObjectHalfHeight != nil && *c.ObjectHalfHeight < 0 {
		return fmt.Errorf("object_half_height must be non-negative, got %f", *c.ObjectHalfHeight)
	}
	if c.PoseHistorySize != nil && *c.PoseHistorySize <= 0 {
		return fmt.Errorf("pose_history_size must be positive, got %d", *c.PoseHistorySize)
	}
	if c.EventQueueSize != nil && *c.EventQueueSize <= 0 {
		return fmt.Errorf("event_queue_size must be positive, got %d", *c.EventQueueSize)
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"pose_tolerance", c.PoseTolerance},
		{"pose_wait_timeout", c.PoseWaitTimeout},
		{"render_interval", c.RenderInterval},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, parsed)
		}
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func float64Or(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetCellSize returns the cell_size value or the default.
func (c *TuningConfig) GetCellSize() float64 {
	return float64Or(c.CellSize, planefit.DefaultConfig().CellSize)
}

// GetMinRange returns the min_range value or the default.
func (c *TuningConfig) GetMinRange() float64 {
	return float64Or(c.MinRange, planefit.DefaultConfig().MinRange)
}

// GetMaxSearchDistance returns the max_search_distance value or the default.
func (c *TuningConfig) GetMaxSearchDistance() float64 {
	return float64Or(c.MaxSearchDistance, planefit.DefaultConfig().MaxSearchDistance)
}

// GetRayRadius returns the ray_radius value or the default.
func (c *TuningConfig) GetRayRadius() float64 {
	return float64Or(c.RayRadius, planefit.DefaultConfig().RayRadius)
}

// GetNeighborhoodRadius returns the neighborhood_radius value or the default.
func (c *TuningConfig) GetNeighborhoodRadius() float64 {
	return float64Or(c.NeighborhoodRadius, planefit.DefaultConfig().NeighborhoodRadius)
}

// GetMinInliers returns the min_inliers value or the default.
func (c *TuningConfig) GetMinInliers() int {
	return intOr(c.MinInliers, planefit.DefaultConfig().MinInliers)
}

// GetInlierThreshold returns the inlier_threshold value or the default.
func (c *TuningConfig) GetInlierThreshold() float64 {
	return float64Or(c.InlierThreshold, planefit.DefaultConfig().InlierThreshold)
}

// GetRansacIterations returns the ransac_iterations value or the default.
func (c *TuningConfig) GetRansacIterations() int {
	return intOr(c.RansacIterations, planefit.DefaultConfig().Iterations)
}

// GetRandomSeed returns the random_seed value or the default.
func (c *TuningConfig) GetRandomSeed() int64 {
	if c.RandomSeed == nil {
		return planefit.DefaultConfig().RandomSeed
	}
	return *c.RandomSeed
}

// GetCollinearEpsilon returns the collinear_epsilon value or the default.
func (c *TuningConfig) GetCollinearEpsilon() float64 {
	return float64Or(c.CollinearEpsilon, planefit.DefaultConfig().CollinearEpsilon)
}

// GetPoseTolerance parses and returns PoseTolerance as a time.Duration.
func (c *TuningConfig) GetPoseTolerance() time.Duration {
	return durationOr(c.PoseTolerance, transform.DefaultResolverConfig().Tolerance)
}

// GetPoseWaitTimeout parses and returns PoseWaitTimeout as a time.Duration.
func (c *TuningConfig) GetPoseWaitTimeout() time.Duration {
	return durationOr(c.PoseWaitTimeout, transform.DefaultResolverConfig().WaitTimeout)
}

// GetPoseHistorySize returns the pose_history_size value or the default.
func (c *TuningConfig) GetPoseHistorySize() int {
	return intOr(c.PoseHistorySize, transform.DefaultResolverConfig().HistorySize)
}

// GetObjectHalfHeight returns the object_half_height value or the default.
func (c *TuningConfig) GetObjectHalfHeight() float64 {
	return float64Or(c.ObjectHalfHeight, placement.DefaultConfig().ObjectHalfHeight)
}

// GetObjectScale returns the object_scale value or the default.
func (c *TuningConfig) GetObjectScale() float64 {
	return float64Or(c.ObjectScale, placement.DefaultConfig().ObjectScale)
}

// GetEventQueueSize returns the event_queue_size value or the default.
func (c *TuningConfig) GetEventQueueSize() int {
	return intOr(c.EventQueueSize, controller.DefaultConfig().QueueSize)
}

// GetMinSensorVersion returns the min_sensor_version value or the default.
func (c *TuningConfig) GetMinSensorVersion() int {
	return intOr(c.MinSensorVersion, controller.DefaultConfig().MinSensorVersion)
}

// GetRenderDebugPointCloud returns the render_debug_point_cloud value or the default.
func (c *TuningConfig) GetRenderDebugPointCloud() bool {
	if c.RenderDebugPointCloud == nil {
		return false // default: debug rendering off
	}
	return *c.RenderDebugPointCloud
}

// GetRenderInterval parses and returns RenderInterval as a time.Duration.
func (c *TuningConfig) GetRenderInterval() time.Duration {
	return durationOr(c.RenderInterval, defaultRenderInterval)
}

// FitterConfig converts the fitter fields into a planefit.Config.
func (c *TuningConfig) FitterConfig() planefit.Config {
	return planefit.Config{
		CellSize:           c.GetCellSize(),
		MinRange:           c.GetMinRange(),
		MaxSearchDistance:  c.GetMaxSearchDistance(),
		RayRadius:          c.GetRayRadius(),
		NeighborhoodRadius: c.GetNeighborhoodRadius(),
		MinInliers:         c.GetMinInliers(),
		InlierThreshold:    c.GetInlierThreshold(),
		Iterations:         c.GetRansacIterations(),
		RandomSeed:         c.GetRandomSeed(),
		CollinearEpsilon:   c.GetCollinearEpsilon(),
	}
}

// ResolverConfig converts the pose fields into a transform.ResolverConfig.
func (c *TuningConfig) ResolverConfig() transform.ResolverConfig {
	return transform.ResolverConfig{
		Tolerance:   c.GetPoseTolerance(),
		WaitTimeout: c.GetPoseWaitTimeout(),
		HistorySize: c.GetPoseHistorySize(),
	}
}

// PlacementConfig converts the object fields into a placement.Config.
func (c *TuningConfig) PlacementConfig() placement.Config {
	return placement.Config{
		ObjectHalfHeight: c.GetObjectHalfHeight(),
		ObjectScale:      c.GetObjectScale(),
	}
}

// ControllerConfig assembles the full controller configuration.
func (c *TuningConfig) ControllerConfig() controller.Config {
	return controller.Config{
		QueueSize:             c.GetEventQueueSize(),
		MinSensorVersion:      c.GetMinSensorVersion(),
		RenderDebugPointCloud: c.GetRenderDebugPointCloud(),
		Fitter:                c.FitterConfig(),
		Resolver:              c.ResolverConfig(),
		Placement:             c.PlacementConfig(),
	}
}
