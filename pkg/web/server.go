// Package web serves the capture dashboard: pipeline stats over REST and
// live frames and stats over websockets.
package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/hub"
)

// DefaultStatsInterval is how often stats are pushed to /ws/stats viewers.
const DefaultStatsInterval = time.Second

// SnapshotProvider returns the latest frame of a pipeline as a JPEG.
type SnapshotProvider interface {
	CaptureFrame() ([]byte, error)
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	addr   string
	group  *capture.Group
	logger *slog.Logger

	started time.Time

	// One frame hub per pipeline, plus one for stats.
	mu        sync.Mutex
	frameHubs map[string]*hub.Hub
	statsHub  *hub.Hub
	hubsUp    bool
	snapshots map[string]SnapshotProvider
}

// NewServer creates a dashboard for the pipelines in group.
func NewServer(addr string, group *capture.Group, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	s := &Server{
		addr:      addr,
		group:     group,
		logger:    logger,
		started:   time.Now(),
		frameHubs: make(map[string]*hub.Hub),
		statsHub:  hub.New("stats", logger),
		snapshots: make(map[string]SnapshotProvider),
	}

	app := fiber.New(fiber.Config{
		AppName:               "framecap",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/pipelines", s.handleListPipelines)
	api.Get("/pipelines/:name", s.handleGetPipeline)
	api.Get("/pipelines/:name/snapshot", s.handleSnapshot)
	api.Get("/hubs", s.handleHubs)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/stats", websocket.New(s.handleStatsWS))
	app.Get("/ws/frames/:name", s.requirePipeline, websocket.New(s.handleFramesWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the frame hub for the named pipeline, creating it on first
// use. Hubs created after Start are started immediately.
func (s *Server) Hub(name string) *hub.Hub {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.frameHubs[name]
	if !ok {
		h = hub.New("frames:"+name, s.logger)
		s.frameHubs[name] = h
		if s.hubsUp {
			go h.Run()
		}
	}
	return h
}

// SetSnapshot registers the snapshot provider for the named pipeline.
func (s *Server) SetSnapshot(name string, p SnapshotProvider) {
	s.mu.Lock()
	s.snapshots[name] = p
	s.mu.Unlock()
}

// Start starts the hubs and serves until Shutdown.
func (s *Server) Start() error {
	s.startHubs()
	s.logger.Info("web dashboard listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server error", "error", err)
		}
	}()
}

func (s *Server) startHubs() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hubsUp {
		return
	}
	s.hubsUp = true
	go s.statsHub.Run()
	for _, h := range s.frameHubs {
		go h.Run()
	}
}

// StatsLoop pushes pipeline stats to /ws/stats viewers every interval
// until ctx is cancelled.
func (s *Server) StatsLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.statsHub.ClientCount() == 0 {
				continue
			}
			if err := s.statsHub.BroadcastJSON(s.group.Stats()); err != nil {
				s.logger.Warn("stats broadcast failed", "error", err)
			}
		}
	}
}

// Shutdown gracefully stops the web server and disconnects all viewers.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	s.statsHub.Stop()
	for _, h := range s.frameHubs {
		h.Stop()
	}
	s.mu.Unlock()

	return s.app.Shutdown()
}
