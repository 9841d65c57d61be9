package capture

import "github.com/teslashibe/go-capture/pkg/frame"

// Consumer processes captured frames.
//
// Consume is called once per frame from the pipeline's consumption
// thread. The frame is returned to the device as soon as Consume returns,
// so implementations must not keep f or f.Data afterwards.
type Consumer interface {
	Consume(f *frame.Frame)
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(f *frame.Frame)

// Consume calls fn(f).
func (fn ConsumerFunc) Consume(f *frame.Frame) {
	fn(f)
}

// Discard drops every frame.
var Discard Consumer = ConsumerFunc(func(*frame.Frame) {})
