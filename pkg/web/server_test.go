package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/device"
	"github.com/teslashibe/go-capture/pkg/frame"
	"github.com/teslashibe/go-capture/pkg/render"
)

func newTestGroup(t *testing.T, names ...string) *capture.Group {
	t.Helper()

	g := capture.NewGroup(nil)
	for _, name := range names {
		m := device.NewMock(name, nil)
		format, err := m.Configure(device.Format{PixelFormat: "GREY", Width: 16, Height: 16, FPS: 100})
		if err != nil {
			t.Fatalf("Configure failed: %v", err)
		}
		src, err := capture.NewSource(m, capture.SourceConfig{Buffers: 2, Timeout: 50 * time.Millisecond, Format: format}, nil)
		if err != nil {
			t.Fatalf("NewSource failed: %v", err)
		}
		t.Cleanup(func() { src.Close() })
		if err := g.Add(capture.NewPipeline(src, nil)); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	return g
}

func TestHealth(t *testing.T) {
	s := NewServer(":0", newTestGroup(t, "cam0", "cam1"), nil)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/health", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if health.Status != "ok" || health.Pipelines != 2 || health.Running != 0 {
		t.Errorf("health = %+v", health)
	}
}

func TestListPipelines(t *testing.T) {
	s := NewServer(":0", newTestGroup(t, "cam0", "cam1"), nil)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/pipelines", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}

	var body struct {
		Pipelines []PipelineResponse `json:"pipelines"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(body.Pipelines) != 2 {
		t.Fatalf("got %d pipelines, want 2", len(body.Pipelines))
	}
	if body.Pipelines[0].Name != "cam0" || body.Pipelines[0].Buffers != 2 {
		t.Errorf("pipeline[0] = %+v", body.Pipelines[0])
	}
	if body.Pipelines[1].FreeLen != 2 {
		t.Errorf("FreeLen = %d, want 2", body.Pipelines[1].FreeLen)
	}
}

func TestGetPipeline(t *testing.T) {
	g := newTestGroup(t, "cam0")
	s := NewServer(":0", g, nil)

	t.Run("by name", func(t *testing.T) {
		resp, err := s.App().Test(httptest.NewRequest("GET", "/api/pipelines/cam0", nil))
		if err != nil {
			t.Fatalf("Request error: %v", err)
		}
		if resp.StatusCode != 200 {
			t.Errorf("Status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("by id", func(t *testing.T) {
		id := g.Pipelines()[0].ID()
		resp, err := s.App().Test(httptest.NewRequest("GET", "/api/pipelines/"+id, nil))
		if err != nil {
			t.Fatalf("Request error: %v", err)
		}
		var p PipelineResponse
		json.NewDecoder(resp.Body).Decode(&p)
		if p.ID != id {
			t.Errorf("ID = %q, want %q", p.ID, id)
		}
	})

	t.Run("missing", func(t *testing.T) {
		resp, err := s.App().Test(httptest.NewRequest("GET", "/api/pipelines/nope", nil))
		if err != nil {
			t.Fatalf("Request error: %v", err)
		}
		if resp.StatusCode != 404 {
			t.Errorf("Status = %d, want 404", resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		if len(body) == 0 {
			t.Error("expected an error body")
		}
	})
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := NewServer(":0", newTestGroup(t, "cam0"), nil)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/ws/frames/cam0", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 426 {
		t.Errorf("Status = %d, want 426", resp.StatusCode)
	}
}

func TestFrameStream(t *testing.T) {
	g := newTestGroup(t, "cam0")
	s := NewServer(":18095", g, nil)
	s.StartAsync()
	defer s.Shutdown()
	time.Sleep(100 * time.Millisecond)

	// Rebuild the pipeline with a broadcaster wired to the server's hub.
	src := g.Pipelines()[0].Source()
	p := capture.NewPipeline(src, render.NewBroadcaster(s.Hub("cam0"), render.Raw, 0, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	ws, _, err := gorilla.DefaultDialer.Dial("ws://localhost:18095/ws/frames/cam0", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	mt, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if mt != gorilla.BinaryMessage {
		t.Errorf("message type = %d, want binary", mt)
	}
	if len(data) != 16*16 {
		t.Errorf("frame size = %d, want %d", len(data), 16*16)
	}

	if _, _, err := gorilla.DefaultDialer.Dial("ws://localhost:18095/ws/frames/nope", nil); err == nil {
		t.Error("Expected dial to unknown pipeline to fail")
	}
}

func TestStatsStream(t *testing.T) {
	s := NewServer(":18096", newTestGroup(t, "cam0"), nil)
	s.StartAsync()
	defer s.Shutdown()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.StatsLoop(ctx, 20*time.Millisecond)

	ws, _, err := gorilla.DefaultDialer.Dial("ws://localhost:18096/ws/stats", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}

	var stats []capture.Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(stats) != 1 || stats[0].Name != "cam0" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSnapshot(t *testing.T) {
	s := NewServer(":0", newTestGroup(t, "cam0", "cam1"), nil)
	snap := render.NewSnapshot(render.Raw)
	s.SetSnapshot("cam0", snap)

	get := func(path string) (int, []byte) {
		t.Helper()
		resp, err := s.App().Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatalf("Request error: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, body
	}

	if code, _ := get("/api/pipelines/cam0/snapshot"); code != 503 {
		t.Errorf("before first frame: status = %d, want 503", code)
	}
	if code, _ := get("/api/pipelines/cam1/snapshot"); code != 404 {
		t.Errorf("no provider: status = %d, want 404", code)
	}
	if code, _ := get("/api/pipelines/nope/snapshot"); code != 404 {
		t.Errorf("unknown pipeline: status = %d, want 404", code)
	}

	snap.Consume(&frame.Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}})
	code, body := get("/api/pipelines/cam0/snapshot")
	if code != 200 {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(body) != 4 || body[0] != 0xFF || body[3] != 0xD9 {
		t.Errorf("body = %x", body)
	}
}
