// Package config loads the parking-fusion YAML configuration.
//
// The file layout follows config/config.yaml of the deployment:
//
//	mode: video            # live | video
//	weather: rain          # substituted into test_videos templates
//	cameras:
//	  cam1: {url: "rtsp://10.0.0.5/stream"}
//	test_videos:
//	  cam1: "tests/videos/{weather}/cam1.mp4"
//	model: {path: models/yolov8s.onnx, conf_threshold: 0.3}
//	logic:
//	  iou_threshold: 0.5
//	  filter: {window_seconds: 2.0, min_confirmations: 3}
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects where camera frames come from
type Mode string

const (
	ModeLive  Mode = "live"
	ModeVideo Mode = "video"
)

// ZoneBackend selects zone persistence
type ZoneBackend string

const (
	ZoneBackendFile   ZoneBackend = "file"
	ZoneBackendSQLite ZoneBackend = "sqlite"
)

// DefaultPath is the config file used when none is given
const DefaultPath = "config/config.yaml"

// Config is the full application configuration
type Config struct {
	Mode       Mode                    `yaml:"mode"`
	Weather    string                  `yaml:"weather,omitempty"`
	Cameras    map[string]CameraConfig `yaml:"cameras,omitempty"`
	TestVideos map[string]string       `yaml:"test_videos,omitempty"`
	Model      ModelConfig             `yaml:"model"`
	Logic      LogicConfig             `yaml:"logic"`
	Zones      ZonesConfig             `yaml:"zones"`
	Storage    StorageConfig           `yaml:"storage"`
	Evidence   EvidenceConfig          `yaml:"evidence"`
	Server     ServerConfig            `yaml:"server"`
	Log        LogConfig               `yaml:"log"`

	// test_videos as written, before {weather} substitution
	videoTemplates map[string]string
}

// CameraConfig describes one live camera
type CameraConfig struct {
	URL            string   `yaml:"url,omitempty"`        // Capture device or stream URL (gocv builds)
	FramesDir      string   `yaml:"frames_dir,omitempty"` // Directory of still frames
	Detections     string   `yaml:"detections,omitempty"` // JSON-lines detection replay
	Interval       Duration `yaml:"interval,omitempty"`   // Pacing between frames
	Loop           bool     `yaml:"loop,omitempty"`
	Enhance        *bool    `yaml:"enhance,omitempty"` // Contrast enhancement, default on
	ReconnectDelay Duration `yaml:"reconnect_delay,omitempty"`
}

// EnhanceEnabled reports whether contrast enhancement applies to this camera
func (c CameraConfig) EnhanceEnabled() bool {
	return c.Enhance == nil || *c.Enhance
}

// ModelConfig configures the detector
type ModelConfig struct {
	Path          string  `yaml:"path,omitempty"`
	ConfThreshold float64 `yaml:"conf_threshold"`
	NMSThreshold  float64 `yaml:"nms_threshold"`
	InputSize     int     `yaml:"input_size"`
	Classes       []int   `yaml:"classes,omitempty"`
}

// LogicConfig holds the occupancy parameters
type LogicConfig struct {
	IoUThreshold float64      `yaml:"iou_threshold"`
	Filter       FilterConfig `yaml:"filter"`
}

// FilterConfig holds the temporal debounce parameters
type FilterConfig struct {
	WindowSeconds    float64 `yaml:"window_seconds"`
	MinConfirmations int     `yaml:"min_confirmations"`
}

// Window returns the debounce window as a duration
func (f FilterConfig) Window() time.Duration {
	return time.Duration(f.WindowSeconds * float64(time.Second))
}

// ZonesConfig configures zone storage
type ZonesConfig struct {
	Dir     string      `yaml:"dir"`
	Backend ZoneBackend `yaml:"backend"`
	Watch   bool        `yaml:"watch"`
}

// StorageConfig configures the SQLite database
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path,omitempty"` // Empty disables the database
}

// EvidenceConfig configures transition evidence
type EvidenceConfig struct {
	Dir             string `yaml:"dir"`
	Journal         string `yaml:"journal"`
	JournalMaxBytes int64  `yaml:"journal_max_bytes"`
	JournalBackups  int    `yaml:"journal_backups"`
	JPEGQuality     int    `yaml:"jpeg_quality"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr              string   `yaml:"addr"`
	StatusInterval    Duration `yaml:"status_interval"`    // Periodic aggregated status log
	BroadcastInterval Duration `yaml:"broadcast_interval"` // SSE and WebRTC push period
	MaxWebRTCClients  int      `yaml:"max_webrtc_clients"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	cfg := newConfig()
	cfg.applyDefaults()
	return cfg
}

// newConfig presets the fields whose zero value is a valid setting, so
// that only keys absent from the file take the default.
func newConfig() *Config {
	return &Config{
		Logic: LogicConfig{IoUThreshold: 0.5},
	}
}

// Load reads path, or returns defaults if path does not exist and is the default path
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && path == DefaultPath {
		return DefaultConfig(), nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults, and expands templates
func Parse(data []byte) (*Config, error) {
	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.expandTemplates()
	return cfg, nil
}

// Save writes config to path
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeLive
	}
	if c.Model.ConfThreshold == 0 {
		c.Model.ConfThreshold = 0.3
	}
	if c.Model.NMSThreshold == 0 {
		c.Model.NMSThreshold = 0.45
	}
	if c.Model.InputSize == 0 {
		c.Model.InputSize = 640
	}
	if len(c.Model.Classes) == 0 {
		c.Model.Classes = []int{2, 3, 5, 7}
	}
	if c.Logic.Filter.WindowSeconds == 0 {
		c.Logic.Filter.WindowSeconds = 2.0
	}
	if c.Logic.Filter.MinConfirmations == 0 {
		c.Logic.Filter.MinConfirmations = 3
	}
	if c.Zones.Dir == "" {
		c.Zones.Dir = "config/zones"
	}
	if c.Zones.Backend == "" {
		c.Zones.Backend = ZoneBackendFile
	}
	if c.Evidence.Dir == "" {
		c.Evidence.Dir = "logs/events"
	}
	if c.Evidence.Journal == "" {
		c.Evidence.Journal = "logs/slot_events.log"
	}
	if c.Evidence.JournalMaxBytes == 0 {
		c.Evidence.JournalMaxBytes = 1_000_000
	}
	if c.Evidence.JournalBackups == 0 {
		c.Evidence.JournalBackups = 5
	}
	if c.Evidence.JPEGQuality == 0 {
		c.Evidence.JPEGQuality = 95
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.StatusInterval == 0 {
		c.Server.StatusInterval = Duration(5 * time.Second)
	}
	if c.Server.BroadcastInterval == 0 {
		c.Server.BroadcastInterval = Duration(time.Second)
	}
	if c.Server.MaxWebRTCClients == 0 {
		c.Server.MaxWebRTCClients = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// expandTemplates substitutes {weather} into test video paths
func (c *Config) expandTemplates() {
	if c.videoTemplates == nil {
		c.videoTemplates = make(map[string]string, len(c.TestVideos))
		for cam, tmpl := range c.TestVideos {
			c.videoTemplates[cam] = tmpl
		}
	}
	if c.Weather == "" {
		return
	}
	for cam, tmpl := range c.videoTemplates {
		c.TestVideos[cam] = strings.ReplaceAll(tmpl, "{weather}", c.Weather)
	}
}

// SetWeather changes the weather condition and re-expands test video paths
func (c *Config) SetWeather(weather string) {
	c.Weather = weather
	c.expandTemplates()
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLive:
		if len(c.Cameras) == 0 {
			return fmt.Errorf("mode live: no cameras configured")
		}
	case ModeVideo:
		if len(c.TestVideos) == 0 {
			return fmt.Errorf("mode video: no test_videos configured")
		}
	default:
		return fmt.Errorf("invalid mode %q (want live or video)", c.Mode)
	}
	if c.Logic.IoUThreshold < 0 || c.Logic.IoUThreshold > 1 {
		return fmt.Errorf("logic.iou_threshold %.3f outside [0, 1]", c.Logic.IoUThreshold)
	}
	if c.Logic.Filter.WindowSeconds < 0 {
		return fmt.Errorf("logic.filter.window_seconds must be positive")
	}
	if c.Logic.Filter.MinConfirmations < 1 {
		return fmt.Errorf("logic.filter.min_confirmations must be at least 1")
	}
	switch c.Zones.Backend {
	case ZoneBackendFile:
	case ZoneBackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("zones.backend sqlite requires storage.sqlite_path")
		}
	default:
		return fmt.Errorf("invalid zones.backend %q", c.Zones.Backend)
	}
	if c.Evidence.JPEGQuality < 1 || c.Evidence.JPEGQuality > 100 {
		return fmt.Errorf("evidence.jpeg_quality %d outside [1, 100]", c.Evidence.JPEGQuality)
	}
	return nil
}

// Sources returns the per-camera source settings for the active mode, keyed
// by camera id. In video mode each test video path becomes the camera's
// source: a directory is read as still frames, anything else as a video file.
func (c *Config) Sources() map[string]CameraConfig {
	out := make(map[string]CameraConfig)
	if c.Mode == ModeVideo {
		for cam, path := range c.TestVideos {
			cc := c.Cameras[cam]
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				cc.FramesDir = path
				cc.URL = ""
			} else {
				cc.URL = path
				cc.FramesDir = ""
			}
			out[cam] = cc
		}
		return out
	}
	for cam, cc := range c.Cameras {
		out[cam] = cc
	}
	return out
}

// CameraIDs returns the camera ids of the active mode in sorted order
func (c *Config) CameraIDs() []string {
	src := c.Sources()
	ids := make([]string, 0, len(src))
	for id := range src {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
