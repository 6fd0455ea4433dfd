package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/planefit/internal/planefit"
	"github.com/banshee-data/planefit/internal/transform"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	if cfg.InlierThreshold == nil || *cfg.InlierThreshold != 0.015 {
		t.Errorf("Expected InlierThreshold 0.015, got %v", cfg.InlierThreshold)
	}
	if cfg.PoseTolerance == nil || *cfg.PoseTolerance != "50ms" {
		t.Errorf("Expected PoseTolerance '50ms', got %v", cfg.PoseTolerance)
	}
	if cfg.RenderInterval == nil || *cfg.RenderInterval != "33ms" {
		t.Errorf("Expected RenderInterval '33ms', got %v", cfg.RenderInterval)
	}
	require.NoError(t, cfg.Validate())

	if diff := cmp.Diff(planefit.DefaultConfig(), cfg.FitterConfig()); diff != "" {
		t.Errorf("FitterConfig() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(transform.DefaultResolverConfig(), cfg.ResolverConfig()); diff != "" {
		t.Errorf("ResolverConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDefaultConfigFile(t *testing.T) {
	loaded := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultTuningConfig(), loaded); diff != "" {
		t.Errorf("%s drifted from DefaultTuningConfig (-code +file):\n%s", DefaultConfigPath, diff)
	}
}

func TestLoadExampleYAML(t *testing.T) {
	cfg, err := LoadTuningConfig("../../config/tuning.example.yaml")
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.GetRansacIterations())
	assert.Equal(t, time.Duration(0), cfg.GetPoseWaitTimeout())
	assert.True(t, cfg.GetRenderDebugPointCloud())
}

func TestLoadTuningConfig_JSON(t *testing.T) {
	path := writeConfig(t, "tuning.json", `{
  "inlier_threshold": 0.02,
  "ransac_iterations": 150,
  "random_seed": 7,
  "pose_tolerance": "20ms",
  "object_scale": 0.5
}`)
	cfg, err := LoadTuningConfig(path)
	require.NoError(t, err)

	fit := cfg.FitterConfig()
	assert.Equal(t, 0.02, fit.InlierThreshold)
	assert.Equal(t, 150, fit.Iterations)
	assert.Equal(t, int64(7), fit.RandomSeed)
	// Unset fields keep their defaults.
	assert.Equal(t, planefit.DefaultConfig().NeighborhoodRadius, fit.NeighborhoodRadius)

	assert.Equal(t, 20*time.Millisecond, cfg.ResolverConfig().Tolerance)
	assert.Equal(t, 0.5, cfg.PlacementConfig().ObjectScale)
}

func TestLoadTuningConfig_YAML(t *testing.T) {
	for _, name := range []string{"tuning.yaml", "tuning.yml"} {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, name, "min_inliers: 12\nevent_queue_size: 4\npose_wait_timeout: 5ms\n")
			cfg, err := LoadTuningConfig(path)
			require.NoError(t, err)

			ctl := cfg.ControllerConfig()
			assert.Equal(t, 12, ctl.Fitter.MinInliers)
			assert.Equal(t, 4, ctl.QueueSize)
			assert.Equal(t, 5*time.Millisecond, ctl.Resolver.WaitTimeout)
		})
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadTuningConfigRejectsExtension(t *testing.T) {
	path := writeConfig(t, "tuning.toml", "cell_size = 0.1\n")
	_, err := LoadTuningConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extension")
}

func TestLoadTuningConfigRejectsLargeFile(t *testing.T) {
	path := writeConfig(t, "big.json", `{"cell_size": 0.05, "pad": "`+strings.Repeat("x", 1024*1024)+`"}`)
	_, err := LoadTuningConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"malformed json", "bad.json", `{"cell_size": `},
		{"malformed yaml", "bad.yaml", "cell_size: [1, 2\n"},
		{"fails validation", "neg.json", `{"ray_radius": -1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTuningConfig(writeConfig(t, tt.file, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr string
	}{
		{"empty is valid", &TuningConfig{}, ""},
		{"zero cell size", &TuningConfig{CellSize: ptrFloat64(0)}, "cell_size"},
		{"negative min range", &TuningConfig{MinRange: ptrFloat64(-0.1)}, "min_range"},
		{"range inverted", &TuningConfig{MinRange: ptrFloat64(2), MaxSearchDistance: ptrFloat64(1)}, "below max_search_distance"},
		{"min range past default search distance", &TuningConfig{MinRange: ptrFloat64(100)}, "below max_search_distance"},
		{"search distance under default min range", &TuningConfig{MaxSearchDistance: ptrFloat64(0.01)}, "below max_search_distance"},
		{"tiny cell size", &TuningConfig{CellSize: ptrFloat64(1e-6)}, "cell_size must be at least"},
		{"ray radius too wide for cells", &TuningConfig{RayRadius: ptrFloat64(5)}, "ray_radius"},
		{"neighborhood too wide for cells", &TuningConfig{CellSize: ptrFloat64(0.01), NeighborhoodRadius: ptrFloat64(0.5)}, "neighborhood_radius"},
		{"coarse cells with wide radii", &TuningConfig{CellSize: ptrFloat64(0.1), NeighborhoodRadius: ptrFloat64(0.5)}, ""},
		{"too few inliers", &TuningConfig{MinInliers: ptrInt(2)}, "min_inliers"},
		{"no iterations", &TuningConfig{RansacIterations: ptrInt(0)}, "ransac_iterations"},
		{"collinear epsilon out of range", &TuningConfig{CollinearEpsilon: ptrFloat64(1)}, "collinear_epsilon"},
		{"negative half height", &TuningConfig{ObjectHalfHeight: ptrFloat64(-1)}, "object_half_height"},
		{"zero history", &TuningConfig{PoseHistorySize: ptrInt(0)}, "pose_history_size"},
		{"zero queue", &TuningConfig{EventQueueSize: ptrInt(0)}, "event_queue_size"},
		{"bad duration", &TuningConfig{PoseTolerance: ptrString("soon")}, "pose_tolerance"},
		{"negative duration", &TuningConfig{RenderInterval: ptrString("-1s")}, "render_interval"},
		{"empty duration ignored", &TuningConfig{PoseWaitTimeout: ptrString("")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetPoseTolerance(t *testing.T) {
	tests := []struct {
		name string
		cfg  *TuningConfig
		want time.Duration
	}{
		{"20 milliseconds", &TuningConfig{PoseTolerance: ptrString("20ms")}, 20 * time.Millisecond},
		{"nil pointer returns default", &TuningConfig{}, 50 * time.Millisecond},
		{"empty string returns default", &TuningConfig{PoseTolerance: ptrString("")}, 50 * time.Millisecond},
		{"invalid duration returns default", &TuningConfig{PoseTolerance: ptrString("invalid")}, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetPoseTolerance(); got != tt.want {
				t.Errorf("GetPoseTolerance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetterDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()
	if diff := cmp.Diff(DefaultTuningConfig().ControllerConfig(), cfg.ControllerConfig()); diff != "" {
		t.Errorf("empty config should resolve to defaults (-want +got):\n%s", diff)
	}
	assert.Equal(t, 33*time.Millisecond, cfg.GetRenderInterval())
	assert.False(t, cfg.GetRenderDebugPointCloud())
}
