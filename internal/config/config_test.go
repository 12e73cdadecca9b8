package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
mode: video
weather: rain
test_videos:
  cam1: "videos/{weather}/cam1.mp4"
  cam2: "videos/{weather}/cam2.mp4"
model:
  path: models/yolov8s.onnx
  conf_threshold: 0.4
logic:
  iou_threshold: 0.6
  filter:
    window_seconds: 1.5
    min_confirmations: 4
server:
  status_interval: 10s
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ModeVideo, cfg.Mode)
	assert.Equal(t, "videos/rain/cam1.mp4", cfg.TestVideos["cam1"])
	assert.Equal(t, "videos/rain/cam2.mp4", cfg.TestVideos["cam2"])
	assert.Equal(t, 0.4, cfg.Model.ConfThreshold)
	assert.Equal(t, 0.6, cfg.Logic.IoUThreshold)
	assert.Equal(t, 1500*time.Millisecond, cfg.Logic.Filter.Window())
	assert.Equal(t, 4, cfg.Logic.Filter.MinConfirmations)
	assert.Equal(t, 10*time.Second, cfg.Server.StatusInterval.Duration())

	// untouched sections take defaults
	assert.Equal(t, []int{2, 3, 5, 7}, cfg.Model.Classes)
	assert.Equal(t, "config/zones", cfg.Zones.Dir)
	assert.Equal(t, ZoneBackendFile, cfg.Zones.Backend)
	assert.Equal(t, "logs/events", cfg.Evidence.Dir)
	assert.Equal(t, time.Second, cfg.Server.BroadcastInterval.Duration())

	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"cam1", "cam2"}, cfg.CameraIDs())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ModeLive, cfg.Mode)
	assert.Equal(t, 0.5, cfg.Logic.IoUThreshold)
	assert.Equal(t, 2*time.Second, cfg.Logic.Filter.Window())
	assert.Equal(t, 3, cfg.Logic.Filter.MinConfirmations)
	assert.Equal(t, 5*time.Second, cfg.Server.StatusInterval.Duration())

	// live mode without cameras cannot run
	assert.Error(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "replay" }},
		{"iou above one", func(c *Config) { c.Logic.IoUThreshold = 1.2 }},
		{"negative iou", func(c *Config) { c.Logic.IoUThreshold = -0.1 }},
		{"zero confirmations", func(c *Config) { c.Logic.Filter.MinConfirmations = 0 }},
		{"sqlite without path", func(c *Config) { c.Zones.Backend = ZoneBackendSQLite }},
		{"bad backend", func(c *Config) { c.Zones.Backend = "etcd" }},
		{"jpeg quality", func(c *Config) { c.Evidence.JPEGQuality = 101 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Cameras = map[string]CameraConfig{"cam1": {FramesDir: "frames"}}
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseIoUThresholdZeroIsKept(t *testing.T) {
	cfg, err := Parse([]byte("mode: live\ncameras:\n  cam1: {frames_dir: f}\nlogic:\n  iou_threshold: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Logic.IoUThreshold)
	require.NoError(t, cfg.Validate())

	cfg, err = Parse([]byte("logic:\n  filter: {min_confirmations: 2}\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Logic.IoUThreshold, "absent key takes the default")
}

func TestSetWeatherReexpands(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	cfg.SetWeather("fog")
	assert.Equal(t, "videos/fog/cam1.mp4", cfg.TestVideos["cam1"])
	assert.Equal(t, "videos/fog/cam2.mp4", cfg.TestVideos["cam2"])
}

func TestParseBadDuration(t *testing.T) {
	_, err := Parse([]byte("server:\n  status_interval: soon\n"))
	assert.Error(t, err)
}

func TestSourcesVideoMode(t *testing.T) {
	dir := t.TempDir()
	framesDir := filepath.Join(dir, "cam1")
	require.NoError(t, os.Mkdir(framesDir, 0755))

	cfg := DefaultConfig()
	cfg.Mode = ModeVideo
	cfg.Cameras = map[string]CameraConfig{"cam1": {Detections: "cam1.jsonl"}}
	cfg.TestVideos = map[string]string{
		"cam1": framesDir,
		"cam2": filepath.Join(dir, "cam2.mp4"),
	}

	src := cfg.Sources()
	assert.Equal(t, framesDir, src["cam1"].FramesDir)
	assert.Equal(t, "cam1.jsonl", src["cam1"].Detections, "per-camera settings carry over")
	assert.Equal(t, filepath.Join(dir, "cam2.mp4"), src["cam2"].URL)
	assert.True(t, src["cam2"].EnhanceEnabled())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")
	cfg := DefaultConfig()
	cfg.Cameras = map[string]CameraConfig{"cam1": {URL: "rtsp://cam1", Interval: Duration(200 * time.Millisecond)}}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rtsp://cam1", loaded.Cameras["cam1"].URL)
	assert.Equal(t, 200*time.Millisecond, loaded.Cameras["cam1"].Interval.Duration())
	assert.Equal(t, cfg.Server, loaded.Server)
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join("..", "..", "config", "config.example.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeVideo, cfg.Mode)
	assert.Equal(t, "tests/videos/sunny/cam1.mp4", cfg.TestVideos["cam1"])
	assert.Equal(t, []string{"cam1", "cam2"}, cfg.CameraIDs())
	assert.Equal(t, ZoneBackendFile, cfg.Zones.Backend)
}
