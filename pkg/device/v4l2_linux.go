//go:build linux

package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/blackjack/webcam"
	"golang.org/x/sys/unix"
)

// V4L2 captures from a Video4Linux2 device using memory-mapped buffers.
//
// webcam.StartStreaming queues every buffer itself, so Submit calls made
// before streaming starts only record intent. Once streaming, Submit
// re-queues the buffer with ReleaseFrame and Retrieve dequeues with GetFrame.
type V4L2 struct {
	name   string
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	cam       *webcam.Webcam
	format    Format
	buffers   int
	streaming bool
	closed    bool
	sequence  uint64
}

func openV4L2(name, path string, logger *slog.Logger) (Device, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &V4L2{name: name, path: path, logger: logger, cam: cam}, nil
}

// Name returns the configured camera name, which defaults to the path.
func (d *V4L2) Name() string {
	return d.name
}

// Configure sets the pixel format, frame size and, if f.FPS > 0, the frame rate.
func (d *V4L2) Configure(f Format) (Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Format{}, ErrClosed
	}

	code, err := FourCC(f.PixelFormat)
	if err != nil {
		return Format{}, err
	}
	if _, ok := d.cam.GetSupportedFormats()[webcam.PixelFormat(code)]; !ok {
		return Format{}, fmt.Errorf("%s: pixel format %s not supported", d.path, f.PixelFormat)
	}

	got, w, h, err := d.cam.SetImageFormat(webcam.PixelFormat(code), uint32(f.Width), uint32(f.Height))
	if err != nil {
		return Format{}, fmt.Errorf("%s: set format: %w", d.path, err)
	}

	actual := Format{
		PixelFormat: FourCCString(uint32(got)),
		Width:       int(w),
		Height:      int(h),
		FPS:         f.FPS,
	}

	if f.FPS > 0 {
		if err := d.cam.SetFramerate(float32(f.FPS)); err != nil {
			// Many UVC devices reject S_PARM; they keep their default rate.
			d.logger.Warn("frame rate not applied", "device", d.path, "fps", f.FPS, "error", err)
			actual.FPS = 0
		}
	}

	d.format = actual
	d.logger.Info("device configured", "device", d.path, "format", actual.String())
	return actual, nil
}

// AllocateBuffers negotiates min(n, MaxBuffers) buffers with the driver and
// returns the count it grants, which may be more or fewer than requested.
// The buffers themselves are mapped and queued by StartStream.
func (d *V4L2) AllocateBuffers(n int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}
	if n < 1 {
		n = 1
	}
	if n > MaxBuffers {
		n = MaxBuffers
	}

	granted, err := negotiateBuffers(d.path, n)
	if err != nil {
		return 0, err
	}
	if err := checkGranted(d.path, n, granted); err != nil {
		return 0, err
	}
	if err := d.cam.SetBufferCount(uint32(granted)); err != nil {
		return 0, fmt.Errorf("%s: set buffer count: %w", d.path, err)
	}
	if granted != n {
		d.logger.Info("driver adjusted buffer count", "device", d.path, "requested", n, "granted", granted)
	}
	d.buffers = granted
	return granted, nil
}

// Submit queues buffer index for capture.
func (d *V4L2) Submit(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if index < 0 || index >= d.buffers {
		return ErrBadIndex
	}
	if !d.streaming {
		return nil
	}
	if err := d.cam.ReleaseFrame(uint32(index)); err != nil {
		return fmt.Errorf("%s: queue buffer %d: %w", d.path, index, err)
	}
	return nil
}

// WaitReady waits for a filled buffer. The driver's wait has one second
// resolution, so timeout is rounded up to whole seconds.
func (d *V4L2) WaitReady(timeout time.Duration) (bool, error) {
	d.mu.Lock()
	cam, closed := d.cam, d.closed
	d.mu.Unlock()

	if closed {
		return false, ErrClosed
	}

	secs := uint32((timeout + time.Second - 1) / time.Second)
	if secs == 0 {
		secs = 1
	}

	err := cam.WaitForFrame(secs)
	var timeoutErr *webcam.Timeout
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &timeoutErr):
		return false, nil
	default:
		return false, fmt.Errorf("%s: wait: %w", d.path, err)
	}
}

// Retrieve dequeues the next filled buffer.
//
// webcam does not expose the driver's v4l2_buffer sequence or timestamp, so
// Sequence counts dequeues and Timestamp is the dequeue time. Frames the
// driver drops therefore leave no sequence gap on this backend.
func (d *V4L2) Retrieve() (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Buffer{}, ErrClosed
	}

	data, index, err := d.cam.GetFrame()
	if errors.Is(err, unix.EAGAIN) {
		return Buffer{}, ErrNotReady
	}
	if err != nil {
		return Buffer{}, fmt.Errorf("%s: dequeue buffer: %w", d.path, err)
	}
	if len(data) == 0 {
		return Buffer{}, ErrNotReady
	}
	if int(index) >= d.buffers {
		return Buffer{}, fmt.Errorf("%s: driver returned buffer %d of %d negotiated", d.path, index, d.buffers)
	}

	d.sequence++
	return Buffer{
		Index:     int(index),
		Data:      data,
		Timestamp: time.Now(),
		Sequence:  d.sequence,
	}, nil
}

// StartStream maps and queues all buffers and turns the stream on.
func (d *V4L2) StartStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.buffers == 0 {
		return ErrNoBuffers
	}
	if d.streaming {
		return nil
	}
	if err := d.cam.StartStreaming(); err != nil {
		return fmt.Errorf("%s: stream on: %w", d.path, err)
	}
	d.streaming = true
	d.logger.Info("stream started", "device", d.path, "buffers", d.buffers)
	return nil
}

// StopStream turns the stream off and unmaps the buffers.
func (d *V4L2) StopStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.streaming {
		return nil
	}
	d.streaming = false
	if err := d.cam.StopStreaming(); err != nil {
		return fmt.Errorf("%s: stream off: %w", d.path, err)
	}
	d.logger.Info("stream stopped", "device", d.path)
	return nil
}

// Close stops streaming and closes the device node.
func (d *V4L2) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	streaming := d.streaming
	d.streaming = false
	d.closed = true
	d.mu.Unlock()

	if streaming {
		if err := d.cam.StopStreaming(); err != nil {
			d.logger.Warn("stream off failed", "device", d.path, "error", err)
		}
	}
	return d.cam.Close()
}

func listV4L2Formats(path string) ([]FormatInfo, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer cam.Close()

	var infos []FormatInfo
	for code, desc := range cam.GetSupportedFormats() {
		info := FormatInfo{
			FourCC:      FourCCString(uint32(code)),
			Description: desc,
		}
		for _, size := range cam.GetSupportedFrameSizes(code) {
			info.Sizes = append(info.Sizes, size.GetString())
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].FourCC < infos[j].FourCC })
	return infos, nil
}

var _ Device = (*V4L2)(nil)
