package capture

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrDevice matches every *DeviceError.
	ErrDevice = errors.New("capture: device failure")

	// ErrInvariant matches every *InvariantError.
	ErrInvariant = errors.New("capture: invariant violated")

	// ErrEmptyFreeList is reported when the device delivers a buffer while
	// no frame is recorded as queued.
	ErrEmptyFreeList = errors.New("capture: device ready with empty free list")

	// ErrOutOfOrder is reported when the device completes buffers in a
	// different order than they were submitted.
	ErrOutOfOrder = errors.New("capture: device completed buffers out of order")

	// ErrFreeListFull is reported when more frames are returned than the
	// source ever handed out.
	ErrFreeListFull = errors.New("capture: free list full")

	// ErrForeignFrame is reported when a frame from another pool is returned.
	ErrForeignFrame = errors.New("capture: frame not owned by this source")

	// ErrRunning is returned when a pipeline is run twice concurrently.
	ErrRunning = errors.New("capture: pipeline already running")
)

// DeviceError reports a fatal failure of the hardware source.
type DeviceError struct {
	// Device is the device path or name.
	Device string

	// Op is the device operation that failed.
	Op string

	Err error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture [%s]: %s: %v", e.Device, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDevice.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDevice
}

// InvariantError reports that the frame bookkeeping no longer matches the
// device. The pipeline cannot continue safely.
type InvariantError struct {
	Device string
	Err    error

	// Expected and Got are buffer indexes, or -1 when not applicable.
	Expected int
	Got      int
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.Expected >= 0 || e.Got >= 0 {
		return fmt.Sprintf("capture [%s]: %v (expected buffer %d, got %d)", e.Device, e.Err, e.Expected, e.Got)
	}
	return fmt.Sprintf("capture [%s]: %v", e.Device, e.Err)
}

// Unwrap returns the underlying error.
func (e *InvariantError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrInvariant.
func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariant
}

// IsFatal reports whether err must stop the pipeline.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDevice) || errors.Is(err, ErrInvariant)
}

func deviceErr(name, op string, err error) error {
	return &DeviceError{Device: name, Op: op, Err: err}
}

func invariantErr(name string, err error, expected, got int) error {
	return &InvariantError{Device: name, Err: err, Expected: expected, Got: got}
}
