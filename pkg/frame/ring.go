package frame

import (
	"context"
	"sync"
)

// Ring is a fixed-capacity FIFO of frames guarded by a single mutex.
//
// It keeps capacity+1 slots so that head == tail always means empty and
// next(tail) == head always means full, without a separate counter.
// Any number of goroutines may call Push and Pop concurrently; wakeups are
// broadcast so several waiters on the same side are safe.
type Ring struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	slots []*Frame
	head  int
	tail  int

	blockOnEmpty bool
	blockOnFull  bool
}

// RingOption configures a Ring.
type RingOption func(*Ring)

// WithBlockOnEmpty sets whether Pop waits on an empty ring.
func WithBlockOnEmpty(block bool) RingOption {
	return func(r *Ring) {
		r.blockOnEmpty = block
	}
}

// WithBlockOnFull sets whether Push waits on a full ring.
func WithBlockOnFull(block bool) RingOption {
	return func(r *Ring) {
		r.blockOnFull = block
	}
}

// NewRing creates a ring holding up to capacity frames.
// capacity is clamped to [1, MaxCapacity]. By default the ring blocks on
// both empty and full.
func NewRing(capacity int, opts ...RingOption) *Ring {
	r := &Ring{
		slots:        make([]*Frame, clamp(capacity)+1),
		blockOnEmpty: true,
		blockOnFull:  true,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)
	return r
}

// Push appends f at the tail. See Channel.
func (r *Ring) Push(ctx context.Context, f *Frame) (int, error) {
	if f == nil {
		return -1, ErrNilFrame
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.next(r.tail) == r.head {
		if !r.blockOnFull {
			return -1, ErrFull
		}
		if err := r.wait(ctx, r.notFull); err != nil {
			return -1, err
		}
	}

	wasEmpty := r.head == r.tail
	r.slots[r.tail] = f
	r.tail = r.next(r.tail)
	if wasEmpty {
		r.notEmpty.Broadcast()
	}
	return r.count(), nil
}

// Pop removes the frame at the head. See Channel.
func (r *Ring) Pop(ctx context.Context) (*Frame, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.head == r.tail {
		if !r.blockOnEmpty {
			return nil, 0, nil
		}
		if err := r.wait(ctx, r.notEmpty); err != nil {
			return nil, 0, err
		}
	}

	if r.count() == r.capacity() {
		r.notFull.Broadcast()
	}
	f := r.slots[r.head]
	r.slots[r.head] = nil
	r.head = r.next(r.head)
	return f, r.count(), nil
}

// Len returns the current occupancy.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count()
}

// Cap returns the capacity after clamping.
func (r *Ring) Cap() int {
	return r.capacity()
}

// BlockOnEmpty reports the ring's empty policy.
func (r *Ring) BlockOnEmpty() bool {
	return r.blockOnEmpty
}

// BlockOnFull reports the ring's full policy.
func (r *Ring) BlockOnFull() bool {
	return r.blockOnFull
}

// wait blocks on c until woken or ctx is done. Must be called with r.mu held.
// The caller re-checks its condition after every return.
func (r *Ring) wait(ctx context.Context, c *sync.Cond) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, r.wakeAll)
	c.Wait()
	stop()
	return ctx.Err()
}

func (r *Ring) wakeAll() {
	r.mu.Lock()
	r.notEmpty.Broadcast()
	r.notFull.Broadcast()
	r.mu.Unlock()
}

func (r *Ring) capacity() int {
	return len(r.slots) - 1
}

func (r *Ring) count() int {
	n := r.tail - r.head
	if n < 0 {
		n += len(r.slots)
	}
	return n
}

func (r *Ring) next(i int) int {
	i++
	if i == len(r.slots) {
		return 0
	}
	return i
}

var _ Channel = (*Ring)(nil)
