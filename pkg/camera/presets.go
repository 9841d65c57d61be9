package camera

// Preset names for common configurations
const (
	PresetDefault  = "default"
	PresetQVGA     = "qvga"
	PresetFastQVGA = "fast-qvga"
	PresetVGA      = "vga"
	Preset720p     = "720p"
	Preset1080p    = "1080p"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault:  DefaultConfig(),
		PresetQVGA:     QVGAConfig(),
		PresetFastQVGA: FastQVGAConfig(),
		PresetVGA:      VGAConfig(),
		Preset720p:     HD720Config(),
		Preset1080p:    HD1080Config(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetQVGA,
		PresetFastQVGA,
		PresetVGA,
		Preset720p,
		Preset1080p,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	presets := Presets()
	if cfg, ok := presets[name]; ok {
		return &cfg
	}
	return nil
}

// Apply copies the preset's format fields onto c, keeping identity fields
// (Name, Device, Backend).
func (c *Config) Apply(preset Config) {
	c.PixelFormat = preset.PixelFormat
	c.Width = preset.Width
	c.Height = preset.Height
	c.Framerate = preset.Framerate
	c.Buffers = preset.Buffers
	c.Timeout = preset.Timeout
}

// QVGAConfig returns 320x240 at 30 FPS.
// Two such cameras share one USB 2.0 bus comfortably.
func QVGAConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 320
	cfg.Height = 240
	return cfg
}

// FastQVGAConfig returns 320x240 at 60 FPS with the full buffer pool.
// A single camera in this mode has been observed to sustain well over 100 FPS.
func FastQVGAConfig() Config {
	cfg := QVGAConfig()
	cfg.Framerate = 60
	cfg.Buffers = MaxBuffers
	return cfg
}

// VGAConfig returns 640x480 at 30 FPS.
func VGAConfig() Config {
	return DefaultConfig()
}

// HD720Config returns 1280x720 MJPEG at 30 FPS.
// Raw YUYV at this size exceeds USB 2.0 bandwidth on most webcams.
func HD720Config() Config {
	cfg := DefaultConfig()
	cfg.PixelFormat = "MJPG"
	cfg.Width = 1280
	cfg.Height = 720
	return cfg
}

// HD1080Config returns 1920x1080 MJPEG at 30 FPS.
func HD1080Config() Config {
	cfg := HD720Config()
	cfg.Width = 1920
	cfg.Height = 1080
	return cfg
}
