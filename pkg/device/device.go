package device

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrClosed is returned by any operation on a closed device.
	ErrClosed = errors.New("device: closed")

	// ErrNoBuffers is returned when streaming starts before AllocateBuffers.
	ErrNoBuffers = errors.New("device: no buffers allocated")

	// ErrNotReady is returned by Retrieve when no buffer has completed.
	ErrNotReady = errors.New("device: no buffer ready")

	// ErrBadIndex is returned when submitting an unknown buffer slot.
	ErrBadIndex = errors.New("device: buffer index out of range")
)

// MaxBuffers caps the number of driver buffers a device will allocate.
const MaxBuffers = 5

// Format describes the image format negotiated with the driver.
type Format struct {
	PixelFormat string `json:"pixel_format"` // FourCC
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	FPS         int    `json:"fps"`
}

// String formats f as "YUYV 640x480@30".
func (f Format) String() string {
	return fmt.Sprintf("%s %dx%d@%d", f.PixelFormat, f.Width, f.Height, f.FPS)
}

// FrameBytes returns the size of one uncompressed frame, or a worst-case
// bound for compressed formats.
func (f Format) FrameBytes() int {
	px := f.Width * f.Height
	switch f.PixelFormat {
	case "GREY":
		return px
	case "YUYV", "UYVY":
		return px * 2
	default:
		return px * 3
	}
}

// Buffer is a completed capture handed back by Retrieve.
type Buffer struct {
	// Index is the driver buffer slot.
	Index int

	// Data is the mapped buffer memory, trimmed to the bytes used.
	Data []byte

	Timestamp time.Time
	Sequence  uint64
}

// Device is a video capture device with a fixed set of driver buffers.
//
// Buffers cycle between the application and the driver: Submit queues a
// slot for capture, WaitReady blocks until at least one queued slot has
// been filled, and Retrieve dequeues it. A slot must not be touched by the
// application while it is submitted.
type Device interface {
	// Name returns the device path or a descriptive name.
	Name() string

	// Configure negotiates the image format. The driver may adjust the
	// requested size; the returned Format is what will be delivered.
	Configure(f Format) (Format, error)

	// AllocateBuffers asks the driver for n buffers and returns the count
	// granted, at most MaxBuffers. Buffer indexes are 0..count-1.
	AllocateBuffers(n int) (int, error)

	// Submit hands buffer index to the driver for capture.
	Submit(index int) error

	// WaitReady waits up to timeout for a completed buffer.
	// It returns false, nil on timeout.
	WaitReady(timeout time.Duration) (bool, error)

	// Retrieve dequeues the next completed buffer.
	Retrieve() (Buffer, error)

	// StartStream turns capture on. Submitted buffers, including filled
	// ones not yet retrieved, are queued again in index order.
	StartStream() error
	StopStream() error

	// Close releases the device. It is safe to call Close multiple times.
	Close() error
}

// FormatInfo describes a pixel format the device supports.
type FormatInfo struct {
	FourCC      string   `json:"fourcc"`
	Description string   `json:"description"`
	Sizes       []string `json:"sizes"`
}
