package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-capture/pkg/camera"
	"github.com/teslashibe/go-capture/pkg/device"
	"github.com/teslashibe/go-capture/pkg/frame"
)

var testFormat = device.Format{PixelFormat: "GREY", Width: 16, Height: 8, FPS: 200}

func newMockSource(t *testing.T, name string, n int, opts ...device.MockOption) (*device.Mock, *Source) {
	t.Helper()

	m := device.NewMock(name, nil, opts...)
	format, err := m.Configure(testFormat)
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	src, err := NewSource(m, SourceConfig{Buffers: n, Timeout: 50 * time.Millisecond, Format: format}, nil)
	if err != nil {
		t.Fatalf("NewSource failed: %v", err)
	}
	t.Cleanup(func() { src.Close() })
	return m, src
}

func TestNewSource(t *testing.T) {
	m, src := newMockSource(t, "cam0", 3)

	if src.Buffers() != 3 {
		t.Errorf("Buffers = %d, want 3", src.Buffers())
	}
	if src.Free() != 3 {
		t.Errorf("Free = %d, want 3", src.Free())
	}
	if src.Name() != "cam0" {
		t.Errorf("Name = %q, want cam0", src.Name())
	}
	if got := m.Stats().Submitted; got != 3 {
		t.Errorf("Submitted = %d, want 3", got)
	}
}

func TestNewSource_GrantedFewer(t *testing.T) {
	_, src := newMockSource(t, "cam0", 5, device.WithGrantedBuffers(2))

	if src.Buffers() != 2 {
		t.Errorf("Buffers = %d, want 2", src.Buffers())
	}
	if src.Free() != 2 {
		t.Errorf("Free = %d, want 2", src.Free())
	}
}

func TestNewSource_GrantedMore(t *testing.T) {
	_, src := newMockSource(t, "cam0", 1, device.WithGrantedBuffers(3))
	if src.Buffers() != 3 {
		t.Fatalf("Buffers = %d, want 3", src.Buffers())
	}
	if err := src.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	// Every granted buffer is cycled without an ordering failure.
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		f, _, err := src.Pop(ctx)
		if err != nil {
			t.Fatalf("cycle %d: Pop failed: %v", i, err)
		}
		if f == nil {
			t.Fatalf("cycle %d: Pop timed out", i)
		}
		if f.Index != i%3 {
			t.Errorf("cycle %d: Index = %d, want %d", i, f.Index, i%3)
		}
		if _, err := src.Push(ctx, f); err != nil {
			t.Fatalf("cycle %d: Push failed: %v", i, err)
		}
	}
}

func TestSource_PopPush(t *testing.T) {
	_, src := newMockSource(t, "cam0", 3)
	if err := src.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	ctx := context.Background()

	f, n, err := src.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop failed: %v", err)
	}
	if f == nil {
		t.Fatal("Pop timed out")
	}
	if f.Index != 0 {
		t.Errorf("Index = %d, want 0", f.Index)
	}
	if n != 2 {
		t.Errorf("Pop occupancy = %d, want 2", n)
	}
	if len(f.Data) != 16*8 {
		t.Errorf("len(Data) = %d, want %d", len(f.Data), 16*8)
	}
	if f.Rows != 8 || f.Cols != 16 || f.Format != "GREY" {
		t.Errorf("frame geometry = %dx%d %s", f.Cols, f.Rows, f.Format)
	}
	if f.Sequence == 0 || f.Timestamp.IsZero() {
		t.Errorf("frame not stamped: seq=%d ts=%v", f.Sequence, f.Timestamp)
	}

	n, err = src.Push(ctx, f)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Push occupancy = %d, want 3", n)
	}
}

func TestSource_TimeoutLeavesFreeListUnchanged(t *testing.T) {
	_, src := newMockSource(t, "cam0", 4, device.WithStall())
	if err := src.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	for i := 0; i < 3; i++ {
		f, n, err := src.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop failed: %v", err)
		}
		if f != nil || n != 0 {
			t.Fatalf("Pop = (%v, %d), want (nil, 0)", f, n)
		}
		if src.Free() != 4 {
			t.Fatalf("Free = %d after timeout, want 4", src.Free())
		}
	}
}

func TestSource_FIFOAcrossCycles(t *testing.T) {
	_, src := newMockSource(t, "cam0", 3)
	if err := src.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	ctx := context.Background()
	var lastSeq uint64
	for i := 0; i < 20; i++ {
		f, _, err := src.Pop(ctx)
		if err != nil {
			t.Fatalf("cycle %d: Pop failed: %v", i, err)
		}
		if f == nil {
			t.Fatalf("cycle %d: Pop timed out", i)
		}
		if f.Index != i%3 {
			t.Errorf("cycle %d: Index = %d, want %d", i, f.Index, i%3)
		}
		if f.Sequence <= lastSeq {
			t.Errorf("cycle %d: sequence %d not after %d", i, f.Sequence, lastSeq)
		}
		lastSeq = f.Sequence
		if _, err := src.Push(ctx, f); err != nil {
			t.Fatalf("cycle %d: Push failed: %v", i, err)
		}
	}
	if src.Free() != 3 {
		t.Errorf("Free = %d, want 3", src.Free())
	}
}

func TestSource_RestartRequeuesInIndexOrder(t *testing.T) {
	_, src := newMockSource(t, "cam0", 3)
	if err := src.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx := context.Background()

	var held []*frame.Frame
	for i := 0; i < 2; i++ {
		f, _, err := src.Pop(ctx)
		if err != nil || f == nil {
			t.Fatalf("Pop = %v, %v", f, err)
		}
		held = append(held, f)
	}
	// Hand them back in reverse so the free list is no longer in index order.
	for i := len(held) - 1; i >= 0; i-- {
		if _, err := src.Push(ctx, held[i]); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := src.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer src.Stop()

	for want := 0; want < 3; want++ {
		f, _, err := src.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop after restart: %v", err)
		}
		if f == nil {
			t.Fatal("Pop after restart timed out")
		}
		if f.Index != want {
			t.Errorf("Index = %d, want %d", f.Index, want)
		}
		if _, err := src.Push(ctx, f); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
}

func TestSource_OutOfOrder(t *testing.T) {
	_, src := newMockSource(t, "cam0", 3, device.WithOutOfOrder())
	if err := src.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	_, _, err := src.Pop(context.Background())
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("Pop error = %v, want ErrInvariant", err)
	}
	if !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("Pop error = %v, want ErrOutOfOrder", err)
	}

	var invErr *InvariantError
	if !errors.As(err, &invErr) {
		t.Fatalf("Expected *InvariantError, got %T", err)
	}
	if invErr.Expected != 0 || invErr.Got != 2 {
		t.Errorf("Expected/Got = %d/%d, want 0/2", invErr.Expected, invErr.Got)
	}
	if !IsFatal(err) {
		t.Error("Invariant errors must be fatal")
	}
}

// readyDevice claims a filled buffer on every wait and hands out indexes
// in order, even for buffers it was never given back.
type readyDevice struct {
	n    int
	next int
	seq  uint64
}

func (d *readyDevice) Name() string { return "ready" }
func (d *readyDevice) Configure(f device.Format) (device.Format, error) { return f, nil }
func (d *readyDevice) Submit(int) error { return nil }
func (d *readyDevice) WaitReady(time.Duration) (bool, error) { return true, nil }
func (d *readyDevice) StartStream() error { return nil }
func (d *readyDevice) StopStream() error { return nil }
func (d *readyDevice) Close() error { return nil }

func (d *readyDevice) AllocateBuffers(n int) (int, error) {
	d.n = n
	return n, nil
}

func (d *readyDevice) Retrieve() (device.Buffer, error) {
	idx := d.next % d.n
	d.next++
	d.seq++
	return device.Buffer{Index: idx, Timestamp: time.Now(), Sequence: d.seq}, nil
}

func TestSource_EmptyFreeList(t *testing.T) {
	src, err := NewSource(&readyDevice{}, SourceConfig{Buffers: 3, Format: testFormat}, nil)
	if err != nil {
		t.Fatalf("NewSource failed: %v", err)
	}
	ctx := context.Background()

	// Take every frame without returning any.
	for i := 0; i < 3; i++ {
		f, _, err := src.Pop(ctx)
		if err != nil || f == nil {
			t.Fatalf("Pop %d = %v, %v", i, f, err)
		}
	}

	_, _, err = src.Pop(ctx)
	if !errors.Is(err, ErrEmptyFreeList) {
		t.Fatalf("Pop error = %v, want ErrEmptyFreeList", err)
	}
	if !errors.Is(err, ErrInvariant) {
		t.Errorf("Pop error = %v, want ErrInvariant", err)
	}
	if errors.Is(err, ErrDevice) {
		t.Errorf("Pop error = %v must not be a device error", err)
	}
	if !IsFatal(err) {
		t.Error("Empty free list must be fatal")
	}
}

func TestSource_DeviceErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("retrieve", func(t *testing.T) {
		m, src := newMockSource(t, "cam0", 2)
		if err := src.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer src.Stop()

		m.SetRetrieveError(boom)
		_, _, err := src.Pop(context.Background())

		var devErr *DeviceError
		if !errors.As(err, &devErr) {
			t.Fatalf("Expected *DeviceError, got %v", err)
		}
		if devErr.Op != "retrieve" || devErr.Device != "cam0" {
			t.Errorf("DeviceError = %+v", devErr)
		}
		if !errors.Is(err, ErrDevice) || !errors.Is(err, boom) {
			t.Errorf("error chain broken: %v", err)
		}
		if src.Free() != 2 {
			t.Errorf("Free = %d after failed retrieve, want 2", src.Free())
		}
	})

	t.Run("submit", func(t *testing.T) {
		m, src := newMockSource(t, "cam1", 2)
		if err := src.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer src.Stop()

		f, _, err := src.Pop(context.Background())
		if err != nil || f == nil {
			t.Fatalf("Pop = %v, %v", f, err)
		}

		m.SetSubmitError(boom)
		n, err := src.Push(context.Background(), f)
		if n != -1 {
			t.Errorf("Push occupancy = %d, want -1", n)
		}
		if !errors.Is(err, ErrDevice) {
			t.Errorf("Push error = %v, want ErrDevice", err)
		}
	})

	t.Run("closed", func(t *testing.T) {
		m, src := newMockSource(t, "cam2", 2)
		m.Close()

		if _, _, err := src.Pop(context.Background()); !errors.Is(err, device.ErrClosed) {
			t.Errorf("Pop error = %v, want ErrClosed", err)
		}
	})
}

func TestSource_PushRejects(t *testing.T) {
	_, src := newMockSource(t, "cam0", 2)
	ctx := context.Background()

	if _, err := src.Push(ctx, nil); !errors.Is(err, frame.ErrNilFrame) {
		t.Errorf("Push(nil) error = %v, want ErrNilFrame", err)
	}

	foreign := &frame.Frame{Index: 0}
	if _, err := src.Push(ctx, foreign); !errors.Is(err, ErrForeignFrame) {
		t.Errorf("Push(foreign) error = %v, want ErrForeignFrame", err)
	}

	// Every frame is queued at the device, so one more overflows the free list.
	owned := src.pool.Get(0)
	if _, err := src.Push(ctx, owned); !errors.Is(err, ErrFreeListFull) {
		t.Errorf("duplicate Push error = %v, want ErrFreeListFull", err)
	}
}

func TestSource_CancelledContext(t *testing.T) {
	_, src := newMockSource(t, "cam0", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := src.Pop(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Pop error = %v, want context.Canceled", err)
	}
	if src.Free() != 2 {
		t.Errorf("Free = %d, want 2", src.Free())
	}
}

func TestSetup(t *testing.T) {
	cfg := camera.DefaultConfig()
	cfg.Name = "setup"
	cfg.Backend = camera.BackendMock
	cfg.PixelFormat = "GREY"
	cfg.Width = 32
	cfg.Height = 24
	cfg.Buffers = 3

	src, err := Setup(cfg, nil)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer src.Close()

	if src.Buffers() != 3 {
		t.Errorf("Buffers = %d, want 3", src.Buffers())
	}
	if got := src.Format(); got.Width != 32 || got.Height != 24 || got.PixelFormat != "GREY" {
		t.Errorf("Format = %v", got)
	}

	cfg.PixelFormat = "NV12"
	if _, err := Setup(cfg, nil); err == nil {
		t.Error("Expected error for unsupported pixel format")
	}
}
