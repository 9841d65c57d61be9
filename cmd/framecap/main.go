// framecap - Multi-camera capture with a fixed frame pool
//
// Streams every configured camera through a capture pipeline and hands the
// frames to the dashboard, an optional OpenCV window and an optional
// websocket uploader.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/teslashibe/go-capture/internal/config"
	"github.com/teslashibe/go-capture/internal/httpc"
	"github.com/teslashibe/go-capture/internal/log"
	"github.com/teslashibe/go-capture/pkg/camera"
	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/device"
	"github.com/teslashibe/go-capture/pkg/protocol"
	"github.com/teslashibe/go-capture/pkg/render"
	"github.com/teslashibe/go-capture/pkg/render/cv"
	"github.com/teslashibe/go-capture/pkg/web"
)

type options struct {
	configPath  string
	device      string
	backend     string
	preset      string
	listFormats bool
	logLevel    string
	webAddr     string
	uploadURL   string
	window      bool
	debug       bool
	status      string
}

func main() {
	opts := parseFlags()

	if opts.status != "" {
		if err := printStatus(opts.status); err != nil {
			stdlog.Fatalf("❌ %v", err)
		}
		return
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		stdlog.Fatalf("❌ Configuration error: %v", err)
	}
	opts.apply(cfg)

	if err := cfg.Err(); err != nil {
		stdlog.Fatalf("❌ Configuration error: %v", err)
	}
	log.Init(cfg.LogLevel)

	cams, err := cfg.Resolve()
	if err != nil {
		stdlog.Fatalf("❌ Configuration error: %v", err)
	}

	if opts.listFormats {
		if err := listFormats(cams); err != nil {
			stdlog.Fatalf("❌ %v", err)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, cams); err != nil {
		log.Error("framecap failed", "error", err)
		os.Exit(1)
	}
}

// parseFlags parses command line flags.
func parseFlags() options {
	var o options
	flag.StringVar(&o.configPath, "config", "", "YAML config file (or set "+config.EnvConfig+")")
	flag.StringVar(&o.device, "device", "", "Capture a single device instead of the configured cameras, e.g. /dev/video0")
	flag.StringVar(&o.backend, "backend", "", "Device backend for -device: auto, v4l2, mock")
	flag.StringVar(&o.preset, "preset", "", "Format preset for -device: "+strings.Join(camera.PresetNames(), ", "))
	flag.BoolVar(&o.listFormats, "list-formats", false, "List the pixel formats and frame sizes of each camera and exit")
	flag.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&o.debug, "debug", false, "Shorthand for -log-level debug (logs every frame)")
	flag.StringVar(&o.webAddr, "web", "", "Dashboard listen address, \"off\" disables it")
	flag.StringVar(&o.uploadURL, "upload", "", "Stream frames to this ws:// or wss:// URL")
	flag.BoolVar(&o.window, "window", false, "Show each camera in an OpenCV window")
	flag.StringVar(&o.status, "status", "", "Print the pipelines of the framecap dashboard at this URL and exit, e.g. http://localhost:8080")
	flag.Parse()
	return o
}

// apply overlays the flags on cfg. Flags win over the file and env.
func (o options) apply(cfg *config.Config) {
	if o.device != "" || o.backend != "" || o.preset != "" {
		cam := config.CameraConfig{Preset: o.preset}
		cam.Device = o.device
		cam.Backend = o.backend
		if cam.Device == "" && cam.Backend != camera.BackendMock {
			cam.Device = camera.DefaultConfig().Device
		}
		cfg.Cameras = []config.CameraConfig{cam}
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.debug {
		cfg.LogLevel = "debug"
	}
	switch o.webAddr {
	case "":
	case "off":
		cfg.Web.Addr = ""
	default:
		cfg.Web.Addr = o.webAddr
	}
	if o.uploadURL != "" {
		cfg.Upload.URL = o.uploadURL
	}
	if o.window {
		cfg.Display.Window = true
	}
}

func listFormats(cams []camera.Config) error {
	for _, cam := range cams {
		formats, err := device.ListFormats(cam)
		if err != nil {
			return fmt.Errorf("%s: %w", cam.DisplayName(), err)
		}
		fmt.Printf("📷 %s\n", cam.DisplayName())
		for _, f := range formats {
			fmt.Printf("  %s  %-24s %s\n", f.FourCC, f.Description, strings.Join(f.Sizes, " "))
		}
	}
	return nil
}

// printStatus queries a running dashboard.
func printStatus(baseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), httpc.DefaultTimeout)
	defer cancel()

	var resp struct {
		Pipelines []web.PipelineResponse `json:"pipelines"`
	}
	if err := httpc.GetJSON(ctx, strings.TrimRight(baseURL, "/")+"/api/pipelines", &resp); err != nil {
		return err
	}

	for _, p := range resp.Pipelines {
		state := "stopped"
		if p.Running {
			state = "running"
		}
		fmt.Printf("📷 %-16s %-8s %s  fps=%.1f acquired=%d consumed=%d dropped=%d viewers=%d\n",
			p.Name, state, p.Format, p.FPS, p.Acquired, p.Consumed, p.Dropped, p.Viewers)
		if p.Err != "" {
			fmt.Printf("   ❌ %s\n", p.Err)
		}
	}
	return nil
}

// run opens every camera, streams until ctx is cancelled and tears
// everything down again.
func run(ctx context.Context, cfg *config.Config, cams []camera.Config) error {
	logger := log.L()
	group := capture.NewGroup(logger)
	defer group.Close()

	var server *web.Server
	if cfg.Web.Addr != "" {
		server = web.NewServer(cfg.Web.Addr, group, logger)
	}

	var (
		uploaders []*render.Uploader
		windows   []*cv.Window
	)
	encoder := cv.JPEG{Quality: cfg.Display.Quality}

	for _, cam := range cams {
		src, err := capture.Setup(cam, logger)
		if err != nil {
			return err
		}

		name := src.Name()
		consumers := render.Multi{&render.Counter{}}

		if server != nil {
			snap := render.NewSnapshot(encoder)
			server.SetSnapshot(name, snap)
			consumers = append(consumers,
				render.NewBroadcaster(server.Hub(name), encoder, cfg.Display.BroadcastInterval, logger),
				snap,
			)
		}
		if cfg.Display.Window {
			w := cv.NewWindow(name, logger)
			windows = append(windows, w)
			consumers = append(consumers, w)
		}
		if cfg.Upload.URL != "" {
			var enc render.Encoder = encoder
			encoding := "jpeg"
			if cfg.Upload.Raw {
				enc, encoding = render.Raw, "raw"
			}
			format := src.Format()
			u, err := render.NewUploader(render.UploaderConfig{
				URL:       cfg.Upload.URL,
				Encoder:   enc,
				QueueSize: cfg.Upload.Queue,
				Stream: protocol.StreamInfo{
					Device:      name,
					PixelFormat: format.PixelFormat,
					Width:       format.Width,
					Height:      format.Height,
					FPS:         format.FPS,
					Encoding:    encoding,
				},
				Envelope: cfg.Upload.Envelope,
			}, logger.With("device", name))
			if err != nil {
				src.Close()
				return err
			}
			uploaders = append(uploaders, u)
			consumers = append(consumers, u)
		}

		if err := group.Add(capture.NewPipeline(src, consumers, capture.WithLogger(logger))); err != nil {
			src.Close()
			return err
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	if server != nil {
		server.StartAsync()
		wg.Add(1)
		go func() {
			defer wg.Done()
			server.StatsLoop(runCtx, cfg.Web.StatsInterval)
		}()
	}
	for _, u := range uploaders {
		wg.Add(1)
		go func(u *render.Uploader) {
			defer wg.Done()
			if err := u.Run(runCtx); err != nil {
				logger.Error("uploader stopped", "error", err)
			}
		}(u)
	}

	logger.Info("framecap running", "cameras", len(cams), "web", cfg.Web.Addr, "upload", cfg.Upload.URL)
	start := time.Now()
	errs := group.Run(runCtx)

	// Every pipeline has stopped, possibly on its own. Stop the rest.
	stop()
	wg.Wait()
	if server != nil {
		if err := server.Shutdown(); err != nil {
			logger.Warn("web shutdown failed", "error", err)
		}
	}
	for _, w := range windows {
		w.Close()
	}

	summarize(group, time.Since(start))
	return joinErrors(errs)
}

// summarize prints the final per-pipeline counters.
func summarize(group *capture.Group, elapsed time.Duration) {
	fmt.Printf("\n📊 Stats after %s\n", elapsed.Round(time.Millisecond))
	for _, st := range group.Stats() {
		fmt.Printf("  %-16s acquired=%d consumed=%d timeouts=%d dropped=%d fps=%.1f\n",
			st.Name, st.Acquired, st.Consumed, st.Timeouts, st.Dropped, st.FPS())
		if st.Err != "" {
			fmt.Printf("  %-16s ❌ %s\n", "", st.Err)
		}
	}
}

// joinErrors combines the pipeline errors in name order.
func joinErrors(errs map[string]error) error {
	names := make([]string, 0, len(errs))
	for name, err := range errs {
		if err != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	joined := make([]error, 0, len(names))
	for _, name := range names {
		joined = append(joined, fmt.Errorf("%s: %w", name, errs[name]))
	}
	return errors.Join(joined...)
}
