// Package device provides video capture devices with driver-owned buffers.
//
// This package supports multiple backends:
//   - V4L2 (Linux) - USB and CSI cameras via memory-mapped driver buffers
//   - Mock - simulated sensor for CI/Testing without hardware
//
// The backend is selected from camera.Config.Backend, with "auto" picking
// V4L2 on Linux and the mock elsewhere.
package device

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/teslashibe/go-capture/pkg/camera"
)

// Open opens the device described by cfg. The device is not configured yet;
// call Configure and AllocateBuffers before streaming.
func Open(cfg camera.Config, logger *slog.Logger) (Device, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == "" || backend == camera.BackendAuto {
		backend = detectBestBackend()
	}

	logger.Info("opening capture device",
		"backend", backend,
		"device", cfg.Device,
		"format", cfg.PixelFormat,
		"width", cfg.Width,
		"height", cfg.Height,
	)

	switch backend {
	case camera.BackendMock:
		return NewMock(cfg.DisplayName(), logger), nil
	case camera.BackendV4L2:
		return openV4L2(cfg.DisplayName(), cfg.Device, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// ListFormats reports the pixel formats and frame sizes the device supports.
func ListFormats(cfg camera.Config) ([]FormatInfo, error) {
	backend := cfg.Backend
	if backend == "" || backend == camera.BackendAuto {
		backend = detectBestBackend()
	}

	switch backend {
	case camera.BackendMock:
		return mockFormats(), nil
	case camera.BackendV4L2:
		return listV4L2Formats(cfg.Device)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// detectBestBackend returns the best available backend for the current platform.
func detectBestBackend() string {
	if runtime.GOOS == "linux" {
		return camera.BackendV4L2
	}
	return camera.BackendMock
}
