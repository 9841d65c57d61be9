package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/teslashibe/go-capture/pkg/camera"
	"github.com/teslashibe/go-capture/pkg/device"
	"github.com/teslashibe/go-capture/pkg/frame"
)

// SourceConfig configures a Source.
type SourceConfig struct {
	// Buffers is the number of driver buffers to request.
	// The device may grant fewer, never more than device.MaxBuffers.
	Buffers int

	// Timeout bounds each wait for a filled buffer.
	Timeout time.Duration

	// Format is the format the device was configured with. It is stamped
	// on every frame.
	Format device.Format
}

// Source is a frame channel backed by a capture device.
//
// Every frame of the pool is bound to one driver buffer. Frames that are
// queued at the device are tracked in a free list in submission order, so
// Pop expects the device to complete buffers in that same order.
//
// Pop blocks for at most the configured timeout and never waits on the free
// list. Push never blocks.
type Source struct {
	dev     device.Device
	name    string
	format  device.Format
	timeout time.Duration
	logger  *slog.Logger

	// mu pairs each device dequeue/enqueue with the matching free list update.
	mu   sync.Mutex
	pool *frame.Pool
	free *frame.Ring
}

// NewSource allocates the device buffers and submits all of them.
// The stream is not started; call Start.
func NewSource(dev device.Device, cfg SourceConfig, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = camera.DefaultTimeout
	}

	s := &Source{
		dev:     dev,
		name:    dev.Name(),
		format:  cfg.Format,
		timeout: cfg.Timeout,
		logger:  logger.With("device", dev.Name()),
	}

	n, err := dev.AllocateBuffers(cfg.Buffers)
	if err != nil {
		return nil, deviceErr(s.name, "allocate", err)
	}
	if n < cfg.Buffers {
		s.logger.Warn("device granted fewer buffers", "requested", cfg.Buffers, "granted", n)
	}

	s.pool = frame.NewPool(n)
	s.free = frame.NewRing(n, frame.WithBlockOnEmpty(false), frame.WithBlockOnFull(false))

	for i := 0; i < s.pool.Len(); i++ {
		f := s.pool.Get(i)
		f.Rows = cfg.Format.Height
		f.Cols = cfg.Format.Width
		f.Format = cfg.Format.PixelFormat
		if _, err := s.Push(context.Background(), f); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("source ready", "buffers", n, "format", cfg.Format.String())
	return s, nil
}

// Setup opens and configures the device described by cfg and wraps it in
// a Source. The device is closed again if any step fails.
func Setup(cfg camera.Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Normalize()
	if err := cfg.Err(); err != nil {
		return nil, err
	}

	dev, err := device.Open(cfg, logger)
	if err != nil {
		return nil, deviceErr(cfg.DisplayName(), "open", err)
	}

	format, err := dev.Configure(device.Format{
		PixelFormat: cfg.PixelFormat,
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.Framerate,
	})
	if err != nil {
		dev.Close()
		return nil, deviceErr(dev.Name(), "configure", err)
	}

	src, err := NewSource(dev, SourceConfig{
		Buffers: cfg.Buffers,
		Timeout: cfg.Timeout,
		Format:  format,
	}, logger)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return src, nil
}

// Pop waits for the device to fill the oldest submitted buffer and returns
// its frame with the number of buffers still queued at the device.
// On timeout it returns (nil, 0, nil) and nothing changes.
func (s *Source) Pop(ctx context.Context) (*frame.Frame, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	ready, err := s.dev.WaitReady(s.timeout)
	if err != nil {
		return nil, 0, deviceErr(s.name, "wait", err)
	}
	if !ready {
		return nil, 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := s.dev.Retrieve()
	if errors.Is(err, device.ErrNotReady) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, deviceErr(s.name, "retrieve", err)
	}

	f, n, _ := s.free.Pop(ctx)
	if f == nil {
		return nil, 0, invariantErr(s.name, ErrEmptyFreeList, -1, buf.Index)
	}
	if f.Index != buf.Index {
		return nil, 0, invariantErr(s.name, ErrOutOfOrder, f.Index, buf.Index)
	}

	f.Data = buf.Data
	f.Timestamp = buf.Timestamp
	f.Sequence = buf.Sequence
	return f, n, nil
}

// Push submits f's buffer to the device and returns the number of buffers
// queued at the device afterwards.
func (s *Source) Push(ctx context.Context, f *frame.Frame) (int, error) {
	if f == nil {
		return -1, frame.ErrNilFrame
	}
	if !s.pool.Owns(f) {
		return -1, invariantErr(s.name, ErrForeignFrame, -1, f.Index)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.dev.Submit(f.Index); err != nil {
		return -1, deviceErr(s.name, "submit", err)
	}
	n, err := s.free.Push(ctx, f)
	if errors.Is(err, frame.ErrFull) {
		return -1, invariantErr(s.name, ErrFreeListFull, -1, f.Index)
	}
	return n, err
}

// Start turns the device stream on. Turning a stream on re-queues the
// device's buffers in index order, so the free list is put in the same order
// first.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sortFree()
	if err := s.dev.StartStream(); err != nil {
		return deviceErr(s.name, "start", err)
	}
	return nil
}

// sortFree reorders the free list by buffer index. Callers hold s.mu.
func (s *Source) sortFree() {
	ctx := context.Background()
	held := make([]*frame.Frame, 0, s.free.Len())
	for {
		f, _, _ := s.free.Pop(ctx)
		if f == nil {
			break
		}
		held = append(held, f)
	}
	slices.SortFunc(held, func(a, b *frame.Frame) int { return a.Index - b.Index })
	for _, f := range held {
		s.free.Push(ctx, f)
	}
}

// Stop turns the device stream off.
func (s *Source) Stop() error {
	if err := s.dev.StopStream(); err != nil {
		return deviceErr(s.name, "stop", err)
	}
	return nil
}

// Close releases the device.
func (s *Source) Close() error {
	return s.dev.Close()
}

// Name returns the device name.
func (s *Source) Name() string {
	return s.name
}

// Format returns the negotiated image format.
func (s *Source) Format() device.Format {
	return s.format
}

// Buffers returns the pool size.
func (s *Source) Buffers() int {
	return s.pool.Len()
}

// Free returns how many frames are currently queued at the device.
func (s *Source) Free() int {
	return s.free.Len()
}

// String implements fmt.Stringer.
func (s *Source) String() string {
	return fmt.Sprintf("%s (%s, %d buffers)", s.name, s.format, s.pool.Len())
}

var _ frame.Channel = (*Source)(nil)
