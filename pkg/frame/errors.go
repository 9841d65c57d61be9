package frame

import "errors"

var (
	// ErrFull is returned by a non-blocking Push on a full channel.
	// The caller still owns the frame.
	ErrFull = errors.New("frame: channel full")

	// ErrNilFrame is returned when pushing a nil frame.
	ErrNilFrame = errors.New("frame: nil frame")
)
