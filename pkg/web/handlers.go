package web

import (
	"sort"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/hub"
)

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status    string  `json:"status"`
	Uptime    float64 `json:"uptime_seconds"`
	Pipelines int     `json:"pipelines"`
	Running   int     `json:"running"`
	Failed    int     `json:"failed"`
}

// PipelineResponse is one pipeline's stats plus its viewer count.
type PipelineResponse struct {
	capture.Stats
	FPS     float64 `json:"fps"`
	Viewers int     `json:"viewers"`
}

// handleHealth reports "ok" unless a pipeline has failed.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Seconds(),
	}
	for _, st := range s.group.Stats() {
		resp.Pipelines++
		if st.Running {
			resp.Running++
		}
		if st.Err != "" {
			resp.Failed++
		}
	}
	if resp.Failed > 0 {
		resp.Status = "degraded"
	}
	return c.JSON(resp)
}

// handleListPipelines returns every pipeline's stats.
func (s *Server) handleListPipelines(c *fiber.Ctx) error {
	stats := s.group.Stats()
	out := make([]PipelineResponse, 0, len(stats))
	for _, st := range stats {
		out = append(out, s.pipelineResponse(st))
	}
	return c.JSON(fiber.Map{"pipelines": out})
}

// handleGetPipeline returns one pipeline by name or id.
func (s *Server) handleGetPipeline(c *fiber.Ctx) error {
	p, ok := s.group.Get(c.Params("name"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "pipeline not found",
		})
	}
	return c.JSON(s.pipelineResponse(p.Stats()))
}

// handleSnapshot returns the latest frame of a pipeline as image/jpeg.
func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	p, ok := s.group.Get(c.Params("name"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "pipeline not found",
		})
	}

	s.mu.Lock()
	provider := s.snapshots[p.Name()]
	s.mu.Unlock()
	if provider == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "snapshots not enabled for " + p.Name(),
		})
	}

	img, err := provider.CaptureFrame()
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(img)
}

// handleHubs returns websocket hub counters.
func (s *Server) handleHubs(c *fiber.Ctx) error {
	s.mu.Lock()
	stats := []hub.Stats{s.statsHub.Stats()}
	for _, h := range s.frameHubs {
		stats = append(stats, h.Stats())
	}
	s.mu.Unlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return c.JSON(stats)
}

func (s *Server) pipelineResponse(st capture.Stats) PipelineResponse {
	resp := PipelineResponse{Stats: st, FPS: st.FPS()}
	s.mu.Lock()
	if h, ok := s.frameHubs[st.Name]; ok {
		resp.Viewers = h.ClientCount()
	}
	s.mu.Unlock()
	return resp
}

// requirePipeline rejects frame streams for unknown pipelines before the
// websocket upgrade.
func (s *Server) requirePipeline(c *fiber.Ctx) error {
	p, ok := s.group.Get(c.Params("name"))
	if !ok {
		return fiber.ErrNotFound
	}
	c.Locals("pipeline", p.Name())
	return c.Next()
}

// handleFramesWS streams JPEG frames of one pipeline.
func (s *Server) handleFramesWS(c *websocket.Conn) {
	name, _ := c.Locals("pipeline").(string)
	if client := hub.NewClient(s.Hub(name), c); client != nil {
		client.Run()
	}
}

// handleStatsWS streams pipeline stats as JSON.
func (s *Server) handleStatsWS(c *websocket.Conn) {
	if client := hub.NewClient(s.statsHub, c); client != nil {
		client.Run()
	}
}
