package pipeline

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tutortoise/facial-attribute-service/detections"
	"github.com/Tutortoise/facial-attribute-service/models"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeEngine struct {
	mu      sync.Mutex
	shape   []int64
	outputs map[string]*models.Tensor
	err     error
	panics  bool

	lastInput *models.Tensor

	// block, when set, holds Run until closed or sent to.
	block   chan struct{}
	started chan struct{}

	running    atomic.Int32
	maxRunning atomic.Int32
	runs       atomic.Int32
	destroyed  atomic.Bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		shape: []int64{1, 3, 8, 8},
		outputs: map[string]*models.Tensor{
			"a":          {Shape: []int64{1, 2}, Data: []float32{0.2, 0.8}},
			"id_feature": {Shape: []int64{1, 4}, Data: []float32{0.1, 0.2, 0.3, 0.4}},
		},
	}
}

func (f *fakeEngine) InputShape() []int64 {
	return f.shape
}

func (f *fakeEngine) Run(input *models.Tensor) (map[string]*models.Tensor, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		peak := f.maxRunning.Load()
		if n <= peak || f.maxRunning.CompareAndSwap(peak, n) {
			break
		}
	}
	f.runs.Add(1)

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}

	if f.destroyed.Load() {
		return nil, detections.ErrEngineClosed
	}
	if int64(len(input.Data)) != input.Elements() {
		return nil, errors.New("input size does not match shape")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastInput = input
	if f.panics {
		panic("runtime exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.outputs, nil
}

func (f *fakeEngine) Destroy() error {
	f.destroyed.Store(true)
	return nil
}

func (f *fakeEngine) setOutputs(outputs map[string]*models.Tensor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs = outputs
}

func (f *fakeEngine) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type countingLoader struct {
	engine detections.Engine
	err    error
	calls  atomic.Int32
}

func (l *countingLoader) load() (detections.Engine, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.engine, nil
}

func newTestPipeline(t *testing.T, engine *fakeEngine, cfg Config) (*Pipeline, *countingLoader, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	loader := &countingLoader{engine: engine}
	return New(loader.load, cfg), loader, hook
}

func testFrame(w, h int) *models.Frame {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 90, A: 255})
		}
	}
	return models.NewFrame(img, 0)
}

func waitStarted(t *testing.T, started <-chan struct{}) {
	t.Helper()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("inference did not start")
	}
}

func (f *fakeEngine) input() *models.Tensor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastInput
}
