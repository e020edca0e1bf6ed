package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Tutortoise/facial-attribute-service/detections"
	"github.com/Tutortoise/facial-attribute-service/models"
)

// EngineLoader creates the inference engine. It is called at most once per
// successful load, on the first admitted frame.
type EngineLoader func() (detections.Engine, error)

// engineHandle owns the engine. mu covers the engine pointer and the closed
// flag, and is held across Run so Destroy cannot overlap an inference.
type engineHandle struct {
	mu     sync.Mutex
	engine detections.Engine
	load   EngineLoader
	closed bool

	// mirrors engine != nil for readers that must not wait on an inference
	isLoaded atomic.Bool
}

func newEngineHandle(load EngineLoader) *engineHandle {
	return &engineHandle{load: load}
}

func (h *engineHandle) acquireLocked() (detections.Engine, error) {
	if h.closed {
		return nil, detections.ErrEngineClosed
	}
	if h.engine != nil {
		return h.engine, nil
	}
	engine, err := h.load()
	if err != nil {
		return nil, fmt.Errorf("load engine: %w", err)
	}
	if engine == nil {
		return nil, fmt.Errorf("load engine: loader returned no engine")
	}
	h.engine = engine
	h.isLoaded.Store(true)
	return engine, nil
}

func (h *engineHandle) inputShape() ([]int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	engine, err := h.acquireLocked()
	if err != nil {
		return nil, err
	}
	return engine.InputShape(), nil
}

func (h *engineHandle) run(input *models.Tensor) (map[string]*models.Tensor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Teardown may have run between inputShape and here.
	engine, err := h.acquireLocked()
	if err != nil {
		return nil, err
	}
	return engine.Run(input)
}

func (h *engineHandle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	if h.engine == nil {
		return nil
	}
	err := h.engine.Destroy()
	h.engine = nil
	h.isLoaded.Store(false)
	return err
}

func (h *engineHandle) loaded() bool {
	return h.isLoaded.Load()
}
