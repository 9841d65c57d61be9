// Package config loads the framecap configuration file and applies
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-capture/pkg/camera"
)

// Environment variables that override the file.
const (
	EnvConfig    = "FRAMECAP_CONFIG"
	EnvLogLevel  = "FRAMECAP_LOG_LEVEL"
	EnvWebAddr   = "FRAMECAP_WEB_ADDR"
	EnvUploadURL = "FRAMECAP_UPLOAD_URL"
)

// Defaults
const (
	DefaultLogLevel          = "info"
	DefaultWebAddr           = ":8080"
	DefaultStatsInterval     = time.Second
	DefaultBroadcastInterval = 100 * time.Millisecond
	DefaultQuality           = 80
	DefaultUploadQueue       = 4
)

// Config is the whole application configuration.
type Config struct {
	LogLevel string    `yaml:"log_level"`
	Web      WebConfig `yaml:"web"`

	// Display selects the consumers every camera gets.
	Display DisplayConfig `yaml:"display"`

	Upload UploadConfig `yaml:"upload"`

	Cameras []CameraConfig `yaml:"cameras"`
}

// WebConfig configures the dashboard.
type WebConfig struct {
	// Addr is the listen address. Empty disables the dashboard.
	Addr          string        `yaml:"addr"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// DisplayConfig configures local display and dashboard streaming.
type DisplayConfig struct {
	// Window opens an OpenCV window per camera.
	Window bool `yaml:"window"`

	// BroadcastInterval limits frames sent to dashboard viewers.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	// Quality is the JPEG quality for dashboard frames and uploads.
	Quality int `yaml:"quality"`
}

// UploadConfig configures the remote websocket sink.
type UploadConfig struct {
	// URL is the ws:// or wss:// endpoint. Empty disables uploading.
	URL   string `yaml:"url"`
	Queue int    `yaml:"queue"`

	// Raw sends the frame bytes as captured instead of JPEG.
	Raw bool `yaml:"raw"`

	// Envelope wraps each frame in a JSON message with its metadata.
	Envelope bool `yaml:"envelope"`
}

// CameraConfig is one camera entry. Preset fills every format field the
// entry leaves at zero.
type CameraConfig struct {
	Preset        string `yaml:"preset"`
	camera.Config `yaml:",inline"`
}

// Default returns the configuration used when no file is given: one
// camera on /dev/video0.
func Default() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Web: WebConfig{
			Addr:          DefaultWebAddr,
			StatsInterval: DefaultStatsInterval,
		},
		Display: DisplayConfig{
			BroadcastInterval: DefaultBroadcastInterval,
			Quality:           DefaultQuality,
		},
		Upload: UploadConfig{
			Queue: DefaultUploadQueue,
		},
		Cameras: []CameraConfig{{Config: camera.DefaultConfig()}},
	}
}

// Load reads the YAML file at path over the defaults and applies env
// overrides. An empty path uses $FRAMECAP_CONFIG, and if that is unset
// too, only defaults and env are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// Parse decodes YAML data into cfg. A cameras list in data replaces the
// default camera.
func Parse(data []byte, cfg *Config) error {
	defaults := cfg.Cameras
	cfg.Cameras = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	if len(cfg.Cameras) == 0 {
		cfg.Cameras = defaults
	}
	return nil
}

// ApplyEnv applies FRAMECAP_* overrides.
func (c *Config) ApplyEnv() {
	c.LogLevel = envOr(EnvLogLevel, c.LogLevel)
	c.Web.Addr = envOr(EnvWebAddr, c.Web.Addr)
	c.Upload.URL = envOr(EnvUploadURL, c.Upload.URL)
}

// Resolve returns the final per-camera configs with presets applied and
// zero values defaulted.
func (c *Config) Resolve() ([]camera.Config, error) {
	out := make([]camera.Config, 0, len(c.Cameras))
	seen := make(map[string]bool)

	for i, entry := range c.Cameras {
		cam, err := entry.resolve()
		if err != nil {
			return nil, fmt.Errorf("config: camera %d: %w", i, err)
		}
		if err := cam.Err(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		name := cam.DisplayName()
		if seen[name] {
			return nil, fmt.Errorf("config: duplicate camera %q", name)
		}
		seen[name] = true
		out = append(out, cam)
	}
	return out, nil
}

func (e CameraConfig) resolve() (camera.Config, error) {
	cam := e.Config
	if e.Preset != "" {
		preset := camera.GetPreset(e.Preset)
		if preset == nil {
			return camera.Config{}, fmt.Errorf("unknown preset %q (have %s)", e.Preset, strings.Join(camera.PresetNames(), ", "))
		}
		base := *preset
		overlay(&base, e.Config)
		cam = base
	}
	cam.Normalize()
	return cam, nil
}

// overlay copies the non-zero fields of src onto dst.
func overlay(dst *camera.Config, src camera.Config) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Device != "" {
		dst.Device = src.Device
	}
	if src.Backend != "" {
		dst.Backend = src.Backend
	}
	if src.PixelFormat != "" {
		dst.PixelFormat = src.PixelFormat
	}
	if src.Width != 0 {
		dst.Width = src.Width
	}
	if src.Height != 0 {
		dst.Height = src.Height
	}
	if src.Framerate != 0 {
		dst.Framerate = src.Framerate
	}
	if src.Buffers != 0 {
		dst.Buffers = src.Buffers
	}
	if src.Timeout != 0 {
		dst.Timeout = src.Timeout
	}
}

// Validate checks the non-camera settings. Cameras are checked by Resolve.
func (c *Config) Validate() []string {
	var errors []string

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("log_level %q must be debug, info, warn or error", c.LogLevel))
	}
	if c.Display.Quality < 1 || c.Display.Quality > 100 {
		errors = append(errors, "display.quality must be between 1 and 100")
	}
	if c.Display.BroadcastInterval < 0 {
		errors = append(errors, "display.broadcast_interval must not be negative")
	}
	if c.Upload.URL != "" && !strings.HasPrefix(c.Upload.URL, "ws://") && !strings.HasPrefix(c.Upload.URL, "wss://") {
		errors = append(errors, "upload.url must start with ws:// or wss://")
	}
	if len(c.Cameras) == 0 {
		errors = append(errors, "at least one camera is required")
	}
	return errors
}

// Err returns Validate's result as a single error, or nil.
func (c *Config) Err() error {
	if errs := c.Validate(); len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// envOr returns the value of key, or def if it is unset.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
