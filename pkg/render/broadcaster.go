package render

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-capture/pkg/frame"
)

// Hub is the subset of hub.Hub a Broadcaster needs.
type Hub interface {
	ClientCount() int
	BroadcastBinary(data []byte)
}

// Broadcaster encodes frames and sends them to dashboard viewers.
// Nothing is encoded while no viewer is connected.
type Broadcaster struct {
	hub      Hub
	encoder  Encoder
	interval time.Duration
	logger   *slog.Logger

	last    time.Time
	sent    atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

// NewBroadcaster creates a broadcaster that sends at most one frame per
// interval. interval 0 sends every frame.
func NewBroadcaster(hub Hub, encoder Encoder, interval time.Duration, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		hub:      hub,
		encoder:  encoder,
		interval: interval,
		logger:   logger,
	}
}

// Consume implements capture.Consumer.
func (b *Broadcaster) Consume(f *frame.Frame) {
	if b.hub.ClientCount() == 0 {
		return
	}

	now := time.Now()
	if b.interval > 0 && now.Sub(b.last) < b.interval {
		b.skipped.Add(1)
		return
	}

	data, err := b.encoder.Encode(f)
	if err != nil {
		// Logged once; the error repeats for every frame.
		if b.failed.Add(1) == 1 {
			b.logger.Warn("frame encode failed", "format", f.Format, "error", err)
		}
		return
	}

	b.last = now
	b.hub.BroadcastBinary(data)
	b.sent.Add(1)
}

// Sent returns the number of frames broadcast.
func (b *Broadcaster) Sent() uint64 { return b.sent.Load() }

// Skipped returns the number of frames skipped by the rate limit.
func (b *Broadcaster) Skipped() uint64 { return b.skipped.Load() }
