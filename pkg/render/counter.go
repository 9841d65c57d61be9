package render

import (
	"sync/atomic"

	"github.com/teslashibe/go-capture/pkg/frame"
)

// Counter counts frames. Useful for headless runs and tests.
type Counter struct {
	frames  atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint64
}

// Consume implements capture.Consumer.
func (c *Counter) Consume(f *frame.Frame) {
	c.frames.Add(1)
	c.bytes.Add(uint64(len(f.Data)))
	c.lastSeq.Store(f.Sequence)
}

// Frames returns the number of frames seen.
func (c *Counter) Frames() uint64 { return c.frames.Load() }

// Bytes returns the total payload size seen.
func (c *Counter) Bytes() uint64 { return c.bytes.Load() }

// LastSequence returns the sequence number of the latest frame.
func (c *Counter) LastSequence() uint64 { return c.lastSeq.Load() }
