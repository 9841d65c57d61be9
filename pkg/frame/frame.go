// Package frame provides the fixed-slot frame type and the bounded channels
// that move frame ownership between capture stages.
//
// A *Frame is a handle: whoever holds the pointer owns the buffer behind it.
// Ownership changes only through Channel.Push and Channel.Pop. After a
// successful Push the caller must not touch the frame again.
package frame

import (
	"context"
	"time"
)

// MaxCapacity is the largest number of frames any channel or pool can hold.
const MaxCapacity = 32

// Frame is one fixed hardware image buffer plus its capture metadata.
type Frame struct {
	// Index identifies the buffer slot. It never changes.
	Index int

	// Data is the raw pixel storage. Once bound by the source it stays
	// the same backing array for the lifetime of the process.
	Data []byte

	Rows int
	Cols int

	// Format is the FourCC of Data (e.g. "YUYV"). Informational only.
	Format string

	// Timestamp is when the buffer was captured.
	Timestamp time.Time

	// Sequence increments once per captured frame. Gaps mean the
	// device skipped frames.
	Sequence uint64
}

// Channel hands frame ownership between actors.
type Channel interface {
	// Push inserts a frame the caller owns and returns the occupancy after
	// the insert. If the channel is full and does not block, Push returns
	// -1 and ErrFull and the caller keeps the frame.
	Push(ctx context.Context, f *Frame) (int, error)

	// Pop removes the frame at the front and returns it together with the
	// occupancy after removal. If the channel is empty and does not block,
	// Pop returns (nil, 0, nil) and leaves the channel unchanged.
	Pop(ctx context.Context) (*Frame, int, error)
}

// Pool is the fixed arena of frames. It is allocated once and never resized.
type Pool struct {
	frames []*Frame
}

// NewPool allocates n frames with indexes 0..n-1.
// n is clamped to [1, MaxCapacity].
func NewPool(n int) *Pool {
	n = clamp(n)
	p := &Pool{frames: make([]*Frame, n)}
	for i := range p.frames {
		p.frames[i] = &Frame{Index: i}
	}
	return p
}

// Len returns the number of frames in the pool.
func (p *Pool) Len() int {
	return len(p.frames)
}

// Get returns the frame bound to slot i, or nil if i is out of range.
func (p *Pool) Get(i int) *Frame {
	if i < 0 || i >= len(p.frames) {
		return nil
	}
	return p.frames[i]
}

// Owns reports whether f is one of the pool's frames.
func (p *Pool) Owns(f *Frame) bool {
	return f != nil && p.Get(f.Index) == f
}

func clamp(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxCapacity {
		return MaxCapacity
	}
	return n
}
