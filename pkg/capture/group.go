package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Group runs several pipelines side by side, one per camera.
// A failing pipeline stops alone; the others keep running.
type Group struct {
	mu        sync.RWMutex
	pipelines []*Pipeline
	logger    *slog.Logger
}

// NewGroup creates an empty group.
func NewGroup(logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{logger: logger}
}

// Add registers p. Names must be unique within the group.
func (g *Group) Add(p *Pipeline) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, existing := range g.pipelines {
		if existing.Name() == p.Name() {
			return fmt.Errorf("capture: duplicate pipeline %q", p.Name())
		}
	}
	g.pipelines = append(g.pipelines, p)
	return nil
}

// Pipelines returns the registered pipelines in the order they were added.
func (g *Group) Pipelines() []*Pipeline {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Pipeline, len(g.pipelines))
	copy(out, g.pipelines)
	return out
}

// Get returns the pipeline with the given name or id.
func (g *Group) Get(name string) (*Pipeline, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, p := range g.pipelines {
		if p.Name() == name || p.ID() == name {
			return p, true
		}
	}
	return nil, false
}

// Stats returns a snapshot of every pipeline.
func (g *Group) Stats() []Stats {
	pipelines := g.Pipelines()
	stats := make([]Stats, len(pipelines))
	for i, p := range pipelines {
		stats[i] = p.Stats()
	}
	return stats
}

// Run runs all pipelines until ctx is cancelled and every pipeline has
// returned. The result maps pipeline names to their fatal errors; healthy
// pipelines are absent.
func (g *Group) Run(ctx context.Context) map[string]error {
	pipelines := g.Pipelines()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	for _, p := range pipelines {
		wg.Add(1)
		go func(p *Pipeline) {
			defer wg.Done()
			if err := p.Run(ctx); err != nil {
				g.logger.Error("pipeline stopped with error", "device", p.Name(), "error", err)
				mu.Lock()
				errs[p.Name()] = err
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return errs
}

// Close closes every pipeline's source.
func (g *Group) Close() error {
	var first error
	for _, p := range g.Pipelines() {
		if err := p.Source().Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
