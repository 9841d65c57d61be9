// Package capture moves frames from a capture device to a consumer and back.
//
// A Pipeline runs two loops, each on its own locked OS thread:
//
//	Source --Pop--> acquisition --Push--> queue --Pop--> consumption --Consume--> --Push--> Source
//
// The frames are allocated once when the Source is created. Memory stays
// bounded because a frame is always owned by exactly one of: the device, the
// queue, or one of the loops.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-capture/internal/cputime"
	"github.com/teslashibe/go-capture/pkg/frame"
)

// Pipeline connects a Source to a Consumer through a bounded queue.
type Pipeline struct {
	id       string
	src      *Source
	consumer Consumer
	queue    *frame.Ring
	logger   *slog.Logger

	running atomic.Bool

	acquired   atomic.Uint64
	consumed   atomic.Uint64
	timeouts   atomic.Uint64
	dropped    atomic.Uint64
	lastSeq    atomic.Uint64
	acquireCPU atomic.Int64
	consumeCPU atomic.Int64

	mu      sync.Mutex
	started time.Time
	stopped time.Time
	lastErr error
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the pipeline's logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithID overrides the generated pipeline id.
func WithID(id string) PipelineOption {
	return func(p *Pipeline) {
		if id != "" {
			p.id = id
		}
	}
}

// NewPipeline creates a pipeline. The queue holds as many frames as the
// source's pool, so the acquisition loop never waits on it for long.
func NewPipeline(src *Source, consumer Consumer, opts ...PipelineOption) *Pipeline {
	if consumer == nil {
		consumer = Discard
	}

	p := &Pipeline{
		id:       uuid.New().String(),
		src:      src,
		consumer: consumer,
		queue:    frame.NewRing(src.Buffers()),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("device", src.Name(), "pipeline", p.id)
	return p
}

// ID returns the pipeline id.
func (p *Pipeline) ID() string {
	return p.id
}

// Name returns the source's device name.
func (p *Pipeline) Name() string {
	return p.src.Name()
}

// Source returns the pipeline's source.
func (p *Pipeline) Source() *Source {
	return p.src
}

// Running reports whether Run is in progress.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Run streams frames until ctx is cancelled or a fatal error occurs.
//
// It returns nil after cancellation and the first fatal error otherwise.
// Either way every frame is handed back to the source before Run returns,
// and the device stream is stopped.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer p.running.Store(false)

	p.mu.Lock()
	p.started = time.Now()
	p.stopped = time.Time{}
	p.lastErr = nil
	p.mu.Unlock()

	if err := p.src.Start(); err != nil {
		p.finish(err)
		return err
	}
	p.logger.Info("pipeline started", "buffers", p.src.Buffers(), "format", p.src.Format().String())

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		wg       sync.WaitGroup
		leftover [2]*frame.Frame
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		f, err := p.acquire(runCtx)
		leftover[0] = f
		if err != nil {
			cancel(err)
		}
	}()
	go func() {
		defer wg.Done()
		f, err := p.consume(runCtx)
		leftover[1] = f
		if err != nil {
			cancel(err)
		}
	}()
	wg.Wait()
	cancel(nil)

	var runErr error
	if cause := context.Cause(runCtx); cause != nil && !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		runErr = cause
	}

	p.drain(runCtx, leftover[:])

	if err := p.src.Stop(); err != nil && runErr == nil {
		runErr = err
	}

	p.finish(runErr)
	if runErr != nil {
		p.logger.Error("pipeline failed", "error", runErr)
	} else {
		p.logger.Info("pipeline stopped", "acquired", p.acquired.Load(), "consumed", p.consumed.Load())
	}
	return runErr
}

// acquire moves frames from the source into the queue. It returns the frame
// it still holds when it stops.
func (p *Pipeline) acquire(ctx context.Context) (*frame.Frame, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cpu0 := cputime.Thread()
	start := time.Now()

	for {
		f, in, err := p.src.Pop(ctx)
		if err != nil {
			if IsFatal(err) {
				return nil, err
			}
			return nil, nil
		}
		if f == nil {
			p.timeouts.Add(1)
			p.logger.Warn("capture timeout", "timeout", p.src.timeout)
			continue
		}
		p.noteSequence(f.Sequence)
		seq, ts := f.Sequence, f.Timestamp

		out, err := p.queue.Push(ctx, f)
		if err != nil {
			return f, nil
		}
		p.acquired.Add(1)

		cpu := cputime.Thread() - cpu0
		p.acquireCPU.Store(int64(cpu))
		p.logFrame(ctx, "capture", in, out, seq, ts, cpu, time.Since(start))
	}
}

// consume hands queued frames to the consumer and returns them to the source.
func (p *Pipeline) consume(ctx context.Context) (*frame.Frame, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cpu0 := cputime.Thread()
	start := time.Now()

	for {
		if ctx.Err() != nil {
			return nil, nil
		}
		f, in, err := p.queue.Pop(ctx)
		if err != nil {
			return nil, nil
		}

		p.consumer.Consume(f)
		p.consumed.Add(1)
		seq, ts := f.Sequence, f.Timestamp

		out, err := p.src.Push(ctx, f)
		if err != nil {
			return f, err
		}

		cpu := cputime.Thread() - cpu0
		p.consumeCPU.Store(int64(cpu))
		p.logFrame(ctx, "consume", in, out, seq, ts, cpu, time.Since(start))
	}
}

// drain returns every frame still held by the loops or the queue to the
// source. ctx is already done, so queue pops never block here.
func (p *Pipeline) drain(ctx context.Context, held []*frame.Frame) {
	for {
		f, _, _ := p.queue.Pop(ctx)
		if f == nil {
			break
		}
		held = append(held, f)
	}

	returned := 0
	for _, f := range held {
		if f == nil {
			continue
		}
		if _, err := p.src.Push(context.Background(), f); err != nil {
			p.logger.Warn("frame not returned to device", "index", f.Index, "error", err)
			continue
		}
		returned++
	}
	if returned > 0 {
		p.logger.Debug("drained frames", "count", returned, "free", p.src.Free())
	}
}

// noteSequence records the latest sequence number and counts gaps.
func (p *Pipeline) noteSequence(seq uint64) {
	prev := p.lastSeq.Swap(seq)
	if prev != 0 && seq > prev+1 {
		p.dropped.Add(seq - prev - 1)
	}
}

// logFrame emits the per-frame trace. The frame itself is no longer owned
// by the caller at this point, so its fields are passed by value.
func (p *Pipeline) logFrame(ctx context.Context, stage string, in, out int, seq uint64, ts time.Time, cpu, wall time.Duration) {
	if !p.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	p.logger.Debug("frame",
		"stage", stage,
		"in", in,
		"out", out,
		"seq", seq,
		"timestamp", ts.Format("15:04:05.000000"),
		"cpu_s", cpu.Seconds(),
		"cpu_pct", cputime.Percent(cpu, wall),
	)
}

func (p *Pipeline) finish(err error) {
	p.mu.Lock()
	p.stopped = time.Now()
	p.lastErr = err
	p.mu.Unlock()
}

// Err returns the fatal error of the last run, or nil.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Stats returns a snapshot of the pipeline's counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	started, stopped, lastErr := p.started, p.stopped, p.lastErr
	p.mu.Unlock()

	s := Stats{
		ID:           p.id,
		Name:         p.src.Name(),
		Format:       p.src.Format().String(),
		Buffers:      p.src.Buffers(),
		Acquired:     p.acquired.Load(),
		Consumed:     p.consumed.Load(),
		Timeouts:     p.timeouts.Load(),
		Dropped:      p.dropped.Load(),
		LastSequence: p.lastSeq.Load(),
		QueueLen:     p.queue.Len(),
		FreeLen:      p.src.Free(),
		AcquireCPU:   time.Duration(p.acquireCPU.Load()),
		ConsumeCPU:   time.Duration(p.consumeCPU.Load()),
		Running:      p.running.Load(),
	}

	switch {
	case started.IsZero():
	case stopped.IsZero():
		s.Uptime = time.Since(started)
	default:
		s.Uptime = stopped.Sub(started)
	}
	if lastErr != nil {
		s.Err = lastErr.Error()
	}
	return s
}
