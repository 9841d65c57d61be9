package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
		wantErr bool
	}{
		{
			name:    "hello message",
			msgType: TypeHello,
			data:    StreamInfo{Device: "cam0", PixelFormat: "YUYV", Width: 640, Height: 480, Encoding: "jpeg"},
			wantErr: false,
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
			wantErr: false,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeFrame,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestHelloMessage(t *testing.T) {
	info := StreamInfo{Device: "front", PixelFormat: "MJPG", Width: 1280, Height: 720, FPS: 30, Encoding: "jpeg"}

	msg, err := NewHelloMessage(info)
	if err != nil {
		t.Fatalf("NewHelloMessage() error = %v", err)
	}
	data, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	parsed, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Type != TypeHello {
		t.Errorf("Type = %v, want %v", parsed.Type, TypeHello)
	}

	got, err := parsed.GetStreamInfo()
	if err != nil {
		t.Fatalf("GetStreamInfo() error = %v", err)
	}
	if *got != info {
		t.Errorf("StreamInfo = %+v, want %+v", *got, info)
	}
}

func TestFrameMessage(t *testing.T) {
	jpegData := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10} // Fake JPEG header
	captured := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)

	msg, err := NewFrameMessage("cam0", 42, captured, 640, 480, "jpeg", jpegData)
	if err != nil {
		t.Fatalf("NewFrameMessage() error = %v", err)
	}

	if msg.Type != TypeFrame {
		t.Errorf("Type = %v, want %v", msg.Type, TypeFrame)
	}

	frameData, err := msg.GetFrameData()
	if err != nil {
		t.Fatalf("GetFrameData() error = %v", err)
	}

	if frameData.Device != "cam0" || frameData.Sequence != 42 {
		t.Errorf("Device/Sequence = %v/%v", frameData.Device, frameData.Sequence)
	}
	if frameData.Width != 640 || frameData.Height != 480 {
		t.Errorf("Size = %vx%v, want 640x480", frameData.Width, frameData.Height)
	}
	if !frameData.CapturedAt().Equal(captured) {
		t.Errorf("CapturedAt = %v, want %v", frameData.CapturedAt(), captured)
	}

	decoded, err := frameData.DecodeFrameData()
	if err != nil {
		t.Fatalf("DecodeFrameData() error = %v", err)
	}
	if !bytes.Equal(decoded, jpegData) {
		t.Errorf("Decoded = %x, want %x", decoded, jpegData)
	}
}

func TestPingPongMessage(t *testing.T) {
	pingMsg, err := NewPingMessage("test-123")
	if err != nil {
		t.Fatalf("NewPingMessage() error = %v", err)
	}

	pingData, err := pingMsg.GetPingData()
	if err != nil {
		t.Fatalf("GetPingData() error = %v", err)
	}
	if pingData.ID != "test-123" {
		t.Errorf("ID = %v, want test-123", pingData.ID)
	}

	now := time.Now().UnixMilli()
	pongMsg, err := NewPongMessage("test-123", pingData.Timestamp, now)
	if err != nil {
		t.Fatalf("NewPongMessage() error = %v", err)
	}

	pongData, err := pongMsg.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if pongData.ID != "test-123" {
		t.Errorf("ID = %v, want test-123", pongData.ID)
	}
	if pongData.LatencyMs < 0 {
		t.Errorf("LatencyMs = %v, should be >= 0", pongData.LatencyMs)
	}
}

func TestParseInvalidMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"invalid json", "not json", true},
		{"empty json", "{}", false},
		{"valid message", `{"type":"ping","ts":1234567890}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageJSON(t *testing.T) {
	msg, _ := NewFrameMessage("cam0", 1, time.Now(), 16, 8, "raw", []byte{1, 2, 3})
	data, _ := msg.Bytes()

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Failed to unmarshal as map: %v", err)
	}

	if parsed["type"] != "frame" {
		t.Errorf("type = %v, want frame", parsed["type"])
	}
	if _, ok := parsed["ts"]; !ok {
		t.Error("ts field should be present")
	}
	inner, ok := parsed["data"].(map[string]any)
	if !ok {
		t.Fatal("data field should be an object")
	}
	for _, key := range []string{"device", "seq", "captured_us", "encoding", "data"} {
		if _, ok := inner[key]; !ok {
			t.Errorf("data.%s missing", key)
		}
	}
}

func BenchmarkNewFrameMessage(b *testing.B) {
	jpegData := make([]byte, 100*1024) // 100KB fake JPEG
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewFrameMessage("cam0", uint64(i), now, 1920, 1080, "jpeg", jpegData)
	}
}
