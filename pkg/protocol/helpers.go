package protocol

import (
	"encoding/base64"
	"time"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewHelloMessage creates a hello message for a stream
func NewHelloMessage(info StreamInfo) (*Message, error) {
	return NewMessage(TypeHello, info)
}

// NewFrameMessage creates a frame message from encoded frame bytes
func NewFrameMessage(device string, seq uint64, captured time.Time, width, height int, encoding string, payload []byte) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Device:   device,
		Sequence: seq,
		Captured: captured.UnixMicro(),
		Width:    width,
		Height:   height,
		Encoding: encoding,
		Data:     base64.StdEncoding.EncodeToString(payload),
	})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetStreamInfo extracts the stream description from a hello message
func (m *Message) GetStreamInfo() (*StreamInfo, error) {
	var data StreamInfo
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeFrameData decodes the base64 image data
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Data)
}

// CapturedAt returns the capture time.
func (f *FrameData) CapturedAt() time.Time {
	return time.UnixMicro(f.Captured)
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
