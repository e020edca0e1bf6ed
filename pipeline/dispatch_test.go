package pipeline

import (
	"context"
	"testing"
	"time"
)

func TestDispatcher_TickWithoutFrame(t *testing.T) {
	p, _, _ := newTestPipeline(t, newFakeEngine(), Config{})
	d := NewDispatcher(p, 0, nil)

	if d.interval != DefaultDispatchInterval {
		t.Errorf("expected default interval, got %v", d.interval)
	}
	if d.Tick() {
		t.Error("Tick should report no frame")
	}
}

func TestDispatcher_TickProcessesLatestFrame(t *testing.T) {
	engine := newFakeEngine()
	p, _, _ := newTestPipeline(t, engine, Config{})
	d := NewDispatcher(p, time.Millisecond, nil)

	p.OnFrame(testFrame(8, 8))
	p.OnFrame(testFrame(10, 10))

	if !d.Tick() {
		t.Fatal("Tick should dispatch the pending frame")
	}
	d.Wait()

	if engine.runs.Load() != 1 {
		t.Errorf("expected 1 inference, got %d", engine.runs.Load())
	}
	if got := p.Result(); got.FrameWidth != 10 {
		t.Errorf("expected the latest frame to be processed, got width %d", got.FrameWidth)
	}
	if d.Tick() {
		t.Error("slot should be empty after dispatch")
	}
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	engine := newFakeEngine()
	p, _, _ := newTestPipeline(t, engine, Config{})
	d := NewDispatcher(p, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(stopped)
	}()

	p.OnFrame(testFrame(8, 8))
	deadline := time.After(2 * time.Second)
	for p.Stats().Inferences == 0 {
		select {
		case <-deadline:
			t.Fatal("frame was never processed")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
