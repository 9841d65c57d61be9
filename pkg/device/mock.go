package device

import (
	"bytes"
	"image"
	"image/jpeg"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Mock is a simulated capture device for testing.
// A sensor goroutine fills submitted buffers with a moving test pattern at
// the configured frame rate. When no buffer is queued the sensor drops the
// frame, like a real driver does.
type Mock struct {
	name   string
	logger *slog.Logger

	mu        sync.Mutex
	format    Format
	buffers   [][]byte
	used      []int // bytes written into each buffer
	stamps    []time.Time
	seqs      []uint64
	queued    []int
	ready     []int
	done      chan int
	stopCh    chan struct{}
	wg        sync.WaitGroup
	streaming bool
	closed    bool
	sequence  uint64

	// Fault injection
	stalled     bool
	outOfOrder  bool
	submitErr   error
	retrieveErr error
	granted     int

	// Stats
	captured  atomic.Int64
	overruns  atomic.Int64
	submitted atomic.Int64
	retrieved atomic.Int64
}

// MockOption configures a Mock.
type MockOption func(*Mock)

// WithStall starts the mock with its sensor producing nothing.
func WithStall() MockOption {
	return func(m *Mock) {
		m.stalled = true
	}
}

// WithOutOfOrder makes the sensor fill the most recently queued buffer
// instead of the oldest one.
func WithOutOfOrder() MockOption {
	return func(m *Mock) {
		m.outOfOrder = true
	}
}

// WithGrantedBuffers makes AllocateBuffers grant n buffers whatever the
// request, like a driver that enforces its own minimum or maximum.
func WithGrantedBuffers(n int) MockOption {
	return func(m *Mock) {
		m.granted = n
	}
}

// NewMock creates a mock device. It starts at 320x240 YUYV, 100 FPS.
func NewMock(name string, logger *slog.Logger, opts ...MockOption) *Mock {
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = "mock"
	}

	m := &Mock{
		name:   name,
		logger: logger,
		format: Format{PixelFormat: "YUYV", Width: 320, Height: 240, FPS: 100},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the mock's name.
func (m *Mock) Name() string {
	return m.name
}

// Configure accepts any of the mock's formats. FPS 0 keeps the current rate.
func (m *Mock) Configure(f Format) (Format, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Format{}, ErrClosed
	}
	if !mockSupports(f.PixelFormat) {
		return Format{}, &unsupportedFormatError{f.PixelFormat}
	}
	if f.FPS == 0 {
		f.FPS = m.format.FPS
	}
	m.format = f
	return f, nil
}

// AllocateBuffers allocates min(n, MaxBuffers) frame-sized buffers.
func (m *Mock) AllocateBuffers(n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	if n < 1 {
		n = 1
	}
	if n > MaxBuffers {
		n = MaxBuffers
	}
	if m.granted > 0 {
		n = m.granted
	}

	size := m.format.FrameBytes()
	m.buffers = make([][]byte, n)
	for i := range m.buffers {
		m.buffers[i] = make([]byte, size)
	}
	m.used = make([]int, n)
	m.stamps = make([]time.Time, n)
	m.seqs = make([]uint64, n)
	m.queued = m.queued[:0]
	m.ready = m.ready[:0]
	m.done = make(chan int, n)
	return n, nil
}

// Submit queues buffer index for the sensor.
func (m *Mock) Submit(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.submitErr != nil {
		return m.submitErr
	}
	if index < 0 || index >= len(m.buffers) {
		return ErrBadIndex
	}
	m.queued = append(m.queued, index)
	m.submitted.Add(1)
	return nil
}

// WaitReady waits up to timeout for the sensor to fill a buffer.
func (m *Mock) WaitReady(timeout time.Duration) (bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, ErrClosed
	}
	if len(m.ready) > 0 {
		m.mu.Unlock()
		return true, nil
	}
	done := m.done
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case idx := <-done:
		m.mu.Lock()
		m.ready = append(m.ready, idx)
		m.mu.Unlock()
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

// Retrieve dequeues the oldest filled buffer.
func (m *Mock) Retrieve() (Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Buffer{}, ErrClosed
	}
	if m.retrieveErr != nil {
		return Buffer{}, m.retrieveErr
	}
	if len(m.ready) == 0 {
		select {
		case idx := <-m.done:
			m.ready = append(m.ready, idx)
		default:
			return Buffer{}, ErrNotReady
		}
	}

	idx := m.ready[0]
	m.ready = m.ready[1:]
	m.retrieved.Add(1)
	return Buffer{
		Index:     idx,
		Data:      m.buffers[idx][:m.used[idx]],
		Timestamp: m.stamps[idx],
		Sequence:  m.seqs[idx],
	}, nil
}

// StartStream starts the sensor goroutine.
func (m *Mock) StartStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if len(m.buffers) == 0 {
		return ErrNoBuffers
	}
	if m.streaming {
		return nil
	}

	m.requeueAll()
	m.streaming = true
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.sensorLoop(m.stopCh, m.format.FPS)

	m.logger.Info("mock stream started", "device", m.name, "format", m.format.String(), "buffers", len(m.buffers))
	return nil
}

// requeueAll puts every submitted buffer, filled or not, back in the sensor
// queue in index order, the way a driver does when streaming is turned on.
func (m *Mock) requeueAll() {
	pending := append([]int(nil), m.queued...)
	pending = append(pending, m.ready...)
	for len(m.done) > 0 {
		pending = append(pending, <-m.done)
	}
	slices.Sort(pending)
	m.queued = pending
	m.ready = m.ready[:0]
}

// StopStream stops the sensor goroutine. Filled buffers stay ready until
// the stream is started again.
func (m *Mock) StopStream() error {
	m.mu.Lock()
	if !m.streaming {
		m.mu.Unlock()
		return nil
	}
	m.streaming = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("mock stream stopped", "device", m.name)
	return nil
}

// Close stops the stream and marks the device closed.
func (m *Mock) Close() error {
	m.StopStream()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Mock) sensorLoop(stop <-chan struct{}, fps int) {
	defer m.wg.Done()

	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.capture()
		}
	}
}

// capture fills one queued buffer, or counts an overrun.
func (m *Mock) capture() {
	m.mu.Lock()
	m.sequence++
	if m.stalled {
		m.mu.Unlock()
		return
	}
	if len(m.queued) == 0 {
		m.mu.Unlock()
		m.overruns.Add(1)
		return
	}

	var idx int
	if m.outOfOrder {
		idx = m.queued[len(m.queued)-1]
		m.queued = m.queued[:len(m.queued)-1]
	} else {
		idx = m.queued[0]
		m.queued = m.queued[1:]
	}
	m.used[idx] = fillPattern(m.buffers[idx], m.format, m.sequence)
	m.stamps[idx] = time.Now()
	m.seqs[idx] = m.sequence
	done := m.done
	m.mu.Unlock()

	m.captured.Add(1)
	// Never blocks: done has room for every buffer.
	done <- idx
}

// SetStall pauses or resumes the sensor.
func (m *Mock) SetStall(stalled bool) {
	m.mu.Lock()
	m.stalled = stalled
	m.mu.Unlock()
}

// SetSubmitError makes every following Submit fail with err (nil clears it).
func (m *Mock) SetSubmitError(err error) {
	m.mu.Lock()
	m.submitErr = err
	m.mu.Unlock()
}

// SetRetrieveError makes every following Retrieve fail with err (nil clears it).
func (m *Mock) SetRetrieveError(err error) {
	m.mu.Lock()
	m.retrieveErr = err
	m.mu.Unlock()
}

// Queued returns how many buffers are submitted and not yet retrieved.
func (m *Mock) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued) + len(m.ready) + len(m.done)
}

// MockStats contains statistics about the mock sensor.
type MockStats struct {
	Captured  int64 `json:"captured"`
	Overruns  int64 `json:"overruns"`
	Submitted int64 `json:"submitted"`
	Retrieved int64 `json:"retrieved"`
}

// Stats returns sensor statistics.
func (m *Mock) Stats() MockStats {
	return MockStats{
		Captured:  m.captured.Load(),
		Overruns:  m.overruns.Load(),
		Submitted: m.submitted.Load(),
		Retrieved: m.retrieved.Load(),
	}
}

var _ Device = (*Mock)(nil)

type unsupportedFormatError struct {
	fourcc string
}

func (e *unsupportedFormatError) Error() string {
	return "device: mock does not support pixel format " + e.fourcc
}

var mockFourCCs = []string{"YUYV", "MJPG", "BGR3", "RGB3", "GREY"}

func mockSupports(fourcc string) bool {
	for _, f := range mockFourCCs {
		if f == fourcc {
			return true
		}
	}
	return false
}

func mockFormats() []FormatInfo {
	sizes := []string{"320x240", "640x480", "1280x720"}
	return []FormatInfo{
		{FourCC: "BGR3", Description: "24-bit BGR 8-8-8", Sizes: sizes},
		{FourCC: "GREY", Description: "8-bit Greyscale", Sizes: sizes},
		{FourCC: "MJPG", Description: "Motion-JPEG", Sizes: sizes},
		{FourCC: "RGB3", Description: "24-bit RGB 8-8-8", Sizes: sizes},
		{FourCC: "YUYV", Description: "YUYV 4:2:2", Sizes: sizes},
	}
}

// fillPattern writes a diagonal gradient shifted by seq into buf and
// returns the number of bytes used.
func fillPattern(buf []byte, f Format, seq uint64) int {
	shift := byte(seq)

	if f.PixelFormat == "MJPG" {
		img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
		for y := 0; y < f.Height; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+f.Width]
			for x := range row {
				row[x] = byte(x+y) + shift
			}
		}
		var out bytes.Buffer
		if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: 75}); err != nil {
			return 0
		}
		return copy(buf, out.Bytes())
	}

	bpp := f.FrameBytes() / (f.Width * f.Height)
	n := f.Width * f.Height * bpp
	if n > len(buf) {
		n = len(buf)
	}
	for y := 0; y < f.Height; y++ {
		base := y * f.Width * bpp
		for x := 0; x < f.Width; x++ {
			v := byte(x+y) + shift
			for c := 0; c < bpp; c++ {
				i := base + x*bpp + c
				if i >= n {
					return n
				}
				if bpp == 2 && c == 1 {
					buf[i] = 128 // neutral chroma
				} else {
					buf[i] = v
				}
			}
		}
	}
	return n
}

