package cv

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-capture/pkg/frame"
)

// HighGUI window creation is not thread-safe across windows.
var displayMu sync.Mutex

// Window shows frames in an OpenCV window named after the device.
//
// The window is created by the first Consume call so that it belongs to
// the pipeline's consumption thread, which every later call runs on too.
type Window struct {
	title  string
	logger *slog.Logger

	win    *gocv.Window
	failed atomic.Uint64
	shown  atomic.Uint64
	closed atomic.Bool
}

// NewWindow creates a window consumer. Nothing is displayed until the
// first frame arrives.
func NewWindow(title string, logger *slog.Logger) *Window {
	if logger == nil {
		logger = slog.Default()
	}
	return &Window{title: title, logger: logger.With("window", title)}
}

// Consume implements capture.Consumer.
func (w *Window) Consume(f *frame.Frame) {
	if w.closed.Load() {
		return
	}
	if w.win == nil {
		displayMu.Lock()
		w.win = gocv.NewWindow(w.title)
		displayMu.Unlock()
	}

	img, err := ToMat(f)
	if err != nil {
		if w.failed.Add(1) == 1 {
			w.logger.Warn("cannot display frame", "format", f.Format, "error", err)
		}
		return
	}
	defer img.Close()

	displayMu.Lock()
	w.win.IMShow(img)
	w.win.WaitKey(1)
	displayMu.Unlock()
	w.shown.Add(1)
}

// Shown returns the number of frames displayed.
func (w *Window) Shown() uint64 {
	return w.shown.Load()
}

// Close destroys the window. Call it after the pipeline has stopped.
func (w *Window) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	if w.win == nil {
		return nil
	}
	displayMu.Lock()
	defer displayMu.Unlock()
	return w.win.Close()
}
