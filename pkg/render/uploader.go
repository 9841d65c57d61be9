package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-capture/pkg/frame"
	"github.com/teslashibe/go-capture/pkg/protocol"
)

const (
	uploadWriteWait     = 5 * time.Second
	reconnectBaseDelay  = 500 * time.Millisecond
	reconnectMaxDelay   = 30 * time.Second
	defaultUploadQueue  = 4
	defaultUploadDialTO = 5 * time.Second
)

var errUploadClosed = errors.New("render: upload connection closed by peer")

// UploaderConfig configures an Uploader.
type UploaderConfig struct {
	// URL is the ws:// or wss:// endpoint receiving binary frame messages.
	URL string

	// Encoder converts frames before upload. Defaults to Raw.
	Encoder Encoder

	// QueueSize bounds the number of encoded frames waiting to be sent.
	// Frames arriving while the queue is full are dropped.
	QueueSize int

	DialTimeout time.Duration

	// ReconnectBase and ReconnectMax bound the exponential reconnect delay.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// Stream is announced in a hello message after every connect.
	// It is skipped when Stream.Device is empty.
	Stream protocol.StreamInfo

	// Envelope sends each frame as a JSON frame message with its sequence
	// number and capture time instead of a bare binary message.
	Envelope bool
}

type outgoing struct {
	kind int
	data []byte
}

// UploaderStats holds uploader counters.
type UploaderStats struct {
	URL        string `json:"url"`
	Connected  bool   `json:"connected"`
	Sent       uint64 `json:"sent"`
	Dropped    uint64 `json:"dropped"`
	Failed     uint64 `json:"failed"`
	Reconnects uint64 `json:"reconnects"`
}

// Uploader streams frames to a remote websocket endpoint.
//
// Consume never blocks: it copies the frame into a bounded queue that Run
// drains on its own goroutine. Run keeps reconnecting with exponential
// backoff until its context is cancelled.
type Uploader struct {
	cfg    UploaderConfig
	dialer websocket.Dialer
	queue  chan outgoing
	logger *slog.Logger

	connected  atomic.Bool
	sent       atomic.Uint64
	dropped    atomic.Uint64
	failed     atomic.Uint64
	reconnects atomic.Uint64
}

// NewUploader validates cfg and creates an uploader. Call Run to connect.
func NewUploader(cfg UploaderConfig, logger *slog.Logger) (*Uploader, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("render: upload url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("render: upload url %q must use ws or wss", cfg.URL)
	}

	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Encoder == nil {
		cfg.Encoder = Raw
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultUploadQueue
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultUploadDialTO
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = reconnectBaseDelay
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		cfg.ReconnectMax = reconnectMaxDelay
	}

	return &Uploader{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		queue:  make(chan outgoing, cfg.QueueSize),
		logger: logger.With("upload", cfg.URL),
	}, nil
}

// Consume implements capture.Consumer.
func (u *Uploader) Consume(f *frame.Frame) {
	if !u.connected.Load() {
		u.dropped.Add(1)
		return
	}

	data, err := u.cfg.Encoder.Encode(f)
	if err != nil {
		u.failed.Add(1)
		return
	}

	msg := outgoing{kind: websocket.BinaryMessage, data: data}
	if u.cfg.Envelope {
		env, err := protocol.NewFrameMessage(u.cfg.Stream.Device, f.Sequence, f.Timestamp, f.Cols, f.Rows, u.cfg.Stream.Encoding, data)
		if err == nil {
			msg.data, err = env.Bytes()
		}
		if err != nil {
			u.failed.Add(1)
			return
		}
		msg.kind = websocket.TextMessage
	}

	select {
	case u.queue <- msg:
	default:
		u.dropped.Add(1)
	}
}

// Run connects and sends queued frames until ctx is cancelled.
func (u *Uploader) Run(ctx context.Context) error {
	delay := u.cfg.ReconnectBase

	for {
		conn, _, err := u.dialer.DialContext(ctx, u.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			u.logger.Warn("upload connect failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay *= 2
			if delay > u.cfg.ReconnectMax {
				delay = u.cfg.ReconnectMax
			}
			continue
		}

		delay = u.cfg.ReconnectBase
		u.logger.Info("upload connected")
		u.connected.Store(true)
		err = u.pump(ctx, conn)
		u.connected.Store(false)
		conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		u.reconnects.Add(1)
		u.logger.Warn("upload connection lost", "error", err)
	}
}

// pump writes queued frames to conn until ctx ends or the connection fails.
// Pings from the sink are answered between frames.
func (u *Uploader) pump(ctx context.Context, conn *websocket.Conn) error {
	if u.cfg.Stream.Device != "" {
		hello, err := protocol.NewHelloMessage(u.cfg.Stream)
		if err != nil {
			return err
		}
		data, err := hello.Bytes()
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(uploadWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}

	closed := make(chan struct{})
	pongs := make(chan []byte, 1)
	go func() {
		defer close(closed)
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			if pong := pongFor(data); pong != nil {
				select {
				case pongs <- pong:
				default:
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(uploadWriteWait))
			return nil

		case <-closed:
			return errUploadClosed

		case pong := <-pongs:
			conn.SetWriteDeadline(time.Now().Add(uploadWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				return err
			}

		case msg := <-u.queue:
			conn.SetWriteDeadline(time.Now().Add(uploadWriteWait))
			if err := conn.WriteMessage(msg.kind, msg.data); err != nil {
				return err
			}
			u.sent.Add(1)
		}
	}
}

// pongFor returns the encoded pong answering a ping message, or nil.
func pongFor(data []byte) []byte {
	msg, err := protocol.ParseMessage(data)
	if err != nil || msg.Type != protocol.TypePing {
		return nil
	}
	ping, err := msg.GetPingData()
	if err != nil {
		return nil
	}
	pong, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return nil
	}
	out, err := pong.Bytes()
	if err != nil {
		return nil
	}
	return out
}

// Connected reports whether the uploader currently has a connection.
func (u *Uploader) Connected() bool {
	return u.connected.Load()
}

// Stats returns a snapshot of the uploader counters.
func (u *Uploader) Stats() UploaderStats {
	return UploaderStats{
		URL:        u.cfg.URL,
		Connected:  u.connected.Load(),
		Sent:       u.sent.Load(),
		Dropped:    u.dropped.Load(),
		Failed:     u.failed.Load(),
		Reconnects: u.reconnects.Load(),
	}
}
