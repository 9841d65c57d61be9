package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-capture/pkg/frame"
)

func TestGroup_FailureIsIsolated(t *testing.T) {
	failing, srcA := newMockSource(t, "front", 3)
	_, srcB := newMockSource(t, "rear", 3)
	boom := errors.New("front camera unplugged")

	var consumedA, consumedB atomic.Int64
	a := NewPipeline(srcA, ConsumerFunc(func(*frame.Frame) {
		if consumedA.Add(1) == 3 {
			failing.SetRetrieveError(boom)
		}
	}))
	b := NewPipeline(srcB, ConsumerFunc(func(*frame.Frame) {
		consumedB.Add(1)
	}))

	g := NewGroup(nil)
	if err := g.Add(a); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := g.Add(b); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan map[string]error, 1)
	go func() { done <- g.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool { return a.Err() != nil && !a.Running() })

	// The healthy pipeline keeps running after the other one failed.
	after := consumedB.Load()
	waitFor(t, 5*time.Second, func() bool { return consumedB.Load() >= after+10 })
	if !b.Running() {
		t.Error("healthy pipeline stopped")
	}

	cancel()
	var errs map[string]error
	select {
	case errs = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Group.Run did not return")
	}

	if len(errs) != 1 {
		t.Fatalf("errs = %v, want exactly one entry", errs)
	}
	if !errors.Is(errs["front"], boom) {
		t.Errorf("errs[front] = %v, want %v", errs["front"], boom)
	}
	if srcB.Free() != 3 {
		t.Errorf("rear Free = %d, want 3", srcB.Free())
	}
}

func TestGroup_Lookup(t *testing.T) {
	_, srcA := newMockSource(t, "front", 2)
	_, srcB := newMockSource(t, "rear", 2)

	g := NewGroup(nil)
	a := NewPipeline(srcA, nil)
	g.Add(a)
	g.Add(NewPipeline(srcB, nil))

	if err := g.Add(NewPipeline(srcA, nil)); err == nil {
		t.Error("Expected error for duplicate pipeline name")
	}

	if got, ok := g.Get("front"); !ok || got != a {
		t.Error("Get by name failed")
	}
	if got, ok := g.Get(a.ID()); !ok || got != a {
		t.Error("Get by id failed")
	}
	if _, ok := g.Get("side"); ok {
		t.Error("Get found unknown pipeline")
	}

	stats := g.Stats()
	if len(stats) != 2 || stats[0].Name != "front" || stats[1].Name != "rear" {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestGroup_RunEmpty(t *testing.T) {
	g := NewGroup(nil)
	if errs := g.Run(context.Background()); len(errs) != 0 {
		t.Errorf("errs = %v, want none", errs)
	}
}
