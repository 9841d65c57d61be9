package render

import (
	"errors"
	"sync"

	"github.com/teslashibe/go-capture/pkg/frame"
)

// ErrNoFrame is returned by Snapshot.CaptureFrame before the first frame.
var ErrNoFrame = errors.New("render: no frame captured yet")

// Snapshot keeps a copy of the latest frame and encodes it on request.
// Encoding happens on the caller's goroutine, not on the pipeline thread.
type Snapshot struct {
	encoder Encoder

	mu   sync.Mutex
	last frame.Frame
	have bool
}

// NewSnapshot creates a snapshot consumer. A nil encoder means Raw.
func NewSnapshot(encoder Encoder) *Snapshot {
	if encoder == nil {
		encoder = Raw
	}
	return &Snapshot{encoder: encoder}
}

// Consume implements capture.Consumer.
func (s *Snapshot) Consume(f *frame.Frame) {
	s.mu.Lock()
	data := append(s.last.Data[:0], f.Data...)
	s.last = *f
	s.last.Data = data
	s.have = true
	s.mu.Unlock()
}

// CaptureFrame encodes the latest frame.
func (s *Snapshot) CaptureFrame() ([]byte, error) {
	f, ok := s.Latest()
	if !ok {
		return nil, ErrNoFrame
	}
	return s.encoder.Encode(&f)
}

// Latest returns a copy of the latest frame.
func (s *Snapshot) Latest() (frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.have {
		return frame.Frame{}, false
	}
	f := s.last
	f.Data = append([]byte(nil), s.last.Data...)
	return f, true
}
