//go:build !linux

package device

import (
	"errors"
	"log/slog"
)

var errNoV4L2 = errors.New("device: V4L2 is only available on Linux")

// openV4L2 returns an error on non-Linux platforms.
func openV4L2(name, path string, logger *slog.Logger) (Device, error) {
	return nil, errNoV4L2
}

// listV4L2Formats returns an error on non-Linux platforms.
func listV4L2Formats(path string) ([]FormatInfo, error) {
	return nil, errNoV4L2
}
