// Package render provides frame consumers: fan-out, counting, live
// broadcast to dashboard viewers and upload to a remote websocket sink.
//
// Consumers run on the pipeline's consumption thread and must return
// quickly. Anything that outlives Consume works on a copy of the frame.
//
// Pixel conversion that needs OpenCV lives in the cv subpackage.
package render

import (
	"errors"

	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/frame"
)

// ErrUnsupportedFormat is returned by encoders for pixel formats they
// cannot convert.
var ErrUnsupportedFormat = errors.New("render: unsupported pixel format")

// Encoder turns a frame into a self-contained image (e.g. JPEG).
// The returned slice must not alias f.Data.
type Encoder interface {
	Encode(f *frame.Frame) ([]byte, error)
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(f *frame.Frame) ([]byte, error)

// Encode calls fn(f).
func (fn EncoderFunc) Encode(f *frame.Frame) ([]byte, error) {
	return fn(f)
}

// Raw copies the frame's bytes unchanged.
var Raw Encoder = EncoderFunc(func(f *frame.Frame) ([]byte, error) {
	out := make([]byte, len(f.Data))
	copy(out, f.Data)
	return out, nil
})

// Passthrough copies frames that are already JPEG (MJPG) and rejects
// everything else.
var Passthrough Encoder = EncoderFunc(func(f *frame.Frame) ([]byte, error) {
	if f.Format != "MJPG" {
		return nil, ErrUnsupportedFormat
	}
	out := make([]byte, len(f.Data))
	copy(out, f.Data)
	return out, nil
})

// Multi hands each frame to several consumers in order.
type Multi []capture.Consumer

// Consume implements capture.Consumer.
func (m Multi) Consume(f *frame.Frame) {
	for _, c := range m {
		c.Consume(f)
	}
}
