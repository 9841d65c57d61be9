// Package camera holds the per-device capture settings.
// Values come from the YAML config file and can be overridden by presets.
package camera

import (
	"fmt"
	"strings"
	"time"
)

// Backends understood by device.Open.
const (
	BackendAuto = "auto"
	BackendV4L2 = "v4l2"
	BackendMock = "mock"
)

// Config holds the configuration for a single capture device.
type Config struct {
	// Name identifies the pipeline in logs and on the dashboard.
	// Defaults to the device path.
	Name string `yaml:"name" json:"name"`

	// Device is the device node, e.g. "/dev/video0".
	Device string `yaml:"device" json:"device"`

	// Backend selects the device implementation: "auto", "v4l2" or "mock".
	Backend string `yaml:"backend" json:"backend"`

	// === Format ===
	// PixelFormat is the FourCC requested from the driver.
	// Values: "YUYV", "MJPG", "BGR3", "RGB3", "GREY"
	PixelFormat string `yaml:"pixel_format" json:"pixel_format"`
	Width       int    `yaml:"width" json:"width"`         // Frame width in pixels
	Height      int    `yaml:"height" json:"height"`       // Frame height in pixels
	Framerate   int    `yaml:"framerate" json:"framerate"` // Target FPS, 0 keeps the driver default

	// === Buffering ===
	// Buffers is the number of driver buffers requested. The driver may
	// grant fewer; the granted count is capped at MaxBuffers.
	Buffers int `yaml:"buffers" json:"buffers"`

	// Timeout bounds each wait for a captured buffer.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Limits
const (
	MaxBuffers     = 5
	MaxWidth       = 4096
	MaxHeight      = 2160
	MaxFramerate   = 240
	DefaultTimeout = 2 * time.Second
)

// PixelFormats lists the FourCCs the renderers understand.
var PixelFormats = []string{"YUYV", "MJPG", "BGR3", "RGB3", "GREY"}

// DefaultConfig returns a VGA YUYV configuration on /dev/video0.
func DefaultConfig() Config {
	return Config{
		Device:      "/dev/video0",
		Backend:     BackendAuto,
		PixelFormat: "YUYV",
		Width:       640,
		Height:      480,
		Framerate:   30,
		Buffers:     4,
		Timeout:     DefaultTimeout,
	}
}

// DisplayName returns Name, or Device when Name is empty.
func (c *Config) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Device
}

// Normalize fills zero values from DefaultConfig and upper-cases the FourCC.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.PixelFormat == "" {
		c.PixelFormat = def.PixelFormat
	}
	c.PixelFormat = strings.ToUpper(c.PixelFormat)
	if c.Width == 0 {
		c.Width = def.Width
	}
	if c.Height == 0 {
		c.Height = def.Height
	}
	if c.Buffers == 0 {
		c.Buffers = def.Buffers
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device == "" && c.Backend != BackendMock {
		errors = append(errors, "device is required")
	}

	validBackends := map[string]bool{BackendAuto: true, BackendV4L2: true, BackendMock: true}
	if !validBackends[c.Backend] {
		errors = append(errors, "backend must be auto, v4l2, or mock")
	}

	if len(c.PixelFormat) != 4 {
		errors = append(errors, "pixel_format must be a four character code")
	}

	// Resolution
	if c.Width < 16 || c.Width > MaxWidth {
		errors = append(errors, fmt.Sprintf("width must be between 16 and %d", MaxWidth))
	}
	if c.Height < 16 || c.Height > MaxHeight {
		errors = append(errors, fmt.Sprintf("height must be between 16 and %d", MaxHeight))
	}
	if c.Framerate < 0 || c.Framerate > MaxFramerate {
		errors = append(errors, fmt.Sprintf("framerate must be between 0 and %d", MaxFramerate))
	}

	if c.Buffers < 1 {
		errors = append(errors, "buffers must be at least 1")
	}
	if c.Timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}

	return errors
}

// Err returns Validate's result as a single error, or nil.
func (c *Config) Err() error {
	if errs := c.Validate(); len(errs) > 0 {
		return fmt.Errorf("camera %s: invalid config: %s", c.DisplayName(), strings.Join(errs, "; "))
	}
	return nil
}
